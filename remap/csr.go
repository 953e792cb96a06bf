package remap

import (
	"slices"

	"github.com/james-bowman/sparse"
)

// Matrix returns the resolved operator as a CSR matrix with one row per local
// target position and one column per unique source. Repeated sources within
// a segment are summed into a single entry.
func (m *GSMap) Matrix() (*sparse.CSR, error) {
	if err := m.ready("Matrix"); err != nil {
		return nil, err
	}
	l := m.layout

	type entry struct {
		col int
		val float64
	}
	rows := make([][]entry, l.NumTargets)
	for r := 0; r < l.NumRows(); r++ {
		row := make([]entry, 0, l.RowPtr[r+1]-l.RowPtr[r])
		for j := l.RowPtr[r]; j < l.RowPtr[r+1]; j++ {
			row = append(row, entry{col: int(l.SourceIdx[j]), val: l.Weights[j]})
		}
		slices.SortFunc(row, func(a, b entry) int { return a.col - b.col })
		merged := row[:0]
		for _, e := range row {
			if n := len(merged); n > 0 && merged[n-1].col == e.col {
				merged[n-1].val += e.val
				continue
			}
			merged = append(merged, e)
		}
		rows[l.TargetIdx[r]] = merged
	}

	ia := make([]int, l.NumTargets+1)
	ja := make([]int, 0, l.NNZ())
	data := make([]float64, 0, l.NNZ())
	for i, row := range rows {
		for _, e := range row {
			ja = append(ja, e.col)
			data = append(data, e.val)
		}
		ia[i+1] = len(ja)
	}
	return sparse.NewCSR(l.NumTargets, l.NumSources, ia, ja, data), nil
}
