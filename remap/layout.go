package remap

import "fmt"

// Layout is the flattened apply operator: a CSR-like triple of row offsets,
// compacted source indices and weights. Row r, in ascending target DOF order,
// writes target buffer position TargetIdx[r] from contributions
// [RowPtr[r], RowPtr[r+1]).
type Layout struct {
	RowPtr    []int
	SourceIdx []CompactIndex
	Weights   []float64
	TargetIdx []LocalIndex

	NumSources int // length of the compacted source buffer
	NumTargets int // length of the target buffer
}

// NumRows returns the number of segments in the layout
func (l *Layout) NumRows() int { return len(l.TargetIdx) }

// NNZ returns the number of contributions
func (l *Layout) NNZ() int { return len(l.Weights) }

// MaxRowLength returns the length of the longest segment
func (l *Layout) MaxRowLength() int {
	longest := 0
	for r := 0; r < l.NumRows(); r++ {
		longest = max(longest, l.RowPtr[r+1]-l.RowPtr[r])
	}
	return longest
}

func (m *GSMap) buildLayout(segs []*Segment, numSources int) (*Layout, error) {
	local := make(map[GlobalDOF]LocalIndex, len(segs))
	if m.targetDOFs != nil {
		for i, d := range m.targetDOFs {
			local[d] = LocalIndex(i)
		}
	} else {
		for i, seg := range segs {
			local[seg.DOF] = LocalIndex(i)
		}
	}

	l := &Layout{
		RowPtr:     make([]int, len(segs)+1),
		TargetIdx:  make([]LocalIndex, len(segs)),
		NumSources: numSources,
		NumTargets: m.NumTargets(),
	}
	nnz := 0
	for r, seg := range segs {
		li, ok := local[seg.DOF]
		if !ok {
			return nil, fmt.Errorf("%w: target %d is not in the local target set", ErrInvalidMap, seg.DOF)
		}
		l.TargetIdx[r] = li
		nnz += seg.Length
		l.RowPtr[r+1] = nnz
	}
	l.SourceIdx = make([]CompactIndex, 0, nnz)
	l.Weights = make([]float64, 0, nnz)
	for _, seg := range segs {
		l.SourceIdx = append(l.SourceIdx, seg.SourceIdx[:seg.Length]...)
		l.Weights = append(l.Weights, seg.Weights[:seg.Length]...)
	}
	return l, nil
}

// Layout returns the flattened operator, nil before SetUniqueSourceDOFs
func (m *GSMap) Layout() *Layout {
	return m.layout
}

// WeightRefresher is implemented by executors that keep their own copy of a
// layout's weights
type WeightRefresher interface {
	RefreshWeights(l *Layout) error
}

// RefreshWeights re-validates the segments and copies their current weights
// into the layout without redoing index resolution. Only weight values may
// have changed since SetUniqueSourceDOFs.
func (m *GSMap) RefreshWeights() error {
	if m.layout == nil {
		return fmt.Errorf("%w: RefreshWeights requires SetUniqueSourceDOFs", ErrPrecondition)
	}
	layout := m.layout
	if err := m.Check(); err != nil {
		return err
	}
	for r, seg := range m.Segments() {
		lo, hi := layout.RowPtr[r], layout.RowPtr[r+1]
		if hi-lo != seg.Length {
			m.checked = false
			return fmt.Errorf("%w: target %d changed length from %d to %d, resolve indices again",
				ErrPrecondition, seg.DOF, hi-lo, seg.Length)
		}
		copy(layout.Weights[lo:hi], seg.Weights[:seg.Length])
	}
	if wr, ok := m.exec.(WeightRefresher); ok {
		return wr.RefreshWeights(layout)
	}
	return nil
}
