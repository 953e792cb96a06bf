package remap

import (
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// Executor runs the apply kernel for a layout:
//
//	tgt[TargetIdx[r]] = sum_j Weights[j] * src[SourceIdx[j]],  j in row r
//
// Target entries not covered by any row are left untouched.
type Executor interface {
	Apply(l *Layout, src, tgt []float64) error
}

// ParallelExecutor applies a layout on the CPU, splitting rows into
// contiguous chunks processed by a bounded set of goroutines
type ParallelExecutor struct {
	Workers      int // defaults to GOMAXPROCS
	MinChunkRows int // defaults to 64
}

// Apply implements Executor
func (pe ParallelExecutor) Apply(l *Layout, src, tgt []float64) error {
	if err := checkBuffers(l, src, tgt); err != nil {
		return err
	}
	rows := l.NumRows()
	workers := pe.Workers
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	minChunk := pe.MinChunkRows
	if minChunk < 1 {
		minChunk = 64
	}
	chunk := max((rows+workers-1)/workers, minChunk)
	if chunk >= rows {
		applyRows(l, src, tgt, 0, rows)
		return nil
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for lo := 0; lo < rows; lo += chunk {
		hi := min(lo+chunk, rows)
		g.Go(func() error {
			applyRows(l, src, tgt, lo, hi)
			return nil
		})
	}
	return g.Wait()
}

func applyRows(l *Layout, src, tgt []float64, lo, hi int) {
	for r := lo; r < hi; r++ {
		var sum float64
		for j := l.RowPtr[r]; j < l.RowPtr[r+1]; j++ {
			sum += l.Weights[j] * src[l.SourceIdx[j]]
		}
		tgt[l.TargetIdx[r]] = sum
	}
}

func checkBuffers(l *Layout, src, tgt []float64) error {
	if len(src) != l.NumSources {
		return fmt.Errorf("%w: source buffer has %d values, map references %d unique sources",
			ErrPrecondition, len(src), l.NumSources)
	}
	if len(tgt) != l.NumTargets {
		return fmt.Errorf("%w: target buffer has %d values, map owns %d targets",
			ErrPrecondition, len(tgt), l.NumTargets)
	}
	return nil
}

func (m *GSMap) executor() Executor {
	if m.exec == nil {
		return ParallelExecutor{}
	}
	return m.exec
}

// ApplyRemap computes every owned target value as the weighted sum of its
// sources. src is the compacted source buffer ordered like UniqueDOFs; tgt is
// indexed by local target position. Weights are used as stored.
func (m *GSMap) ApplyRemap(src, tgt []float64) error {
	if err := m.ready("ApplyRemap"); err != nil {
		return err
	}
	if err := checkBuffers(m.layout, src, tgt); err != nil {
		return err
	}
	return m.executor().Apply(m.layout, src, tgt)
}

// ApplyRemapLevels applies the map to every column of a multi-level field.
// Rows of src follow UniqueDOFs, rows of tgt follow the local target order,
// and both have one column per level.
func (m *GSMap) ApplyRemapLevels(src, tgt *mat.Dense) error {
	if err := m.ready("ApplyRemapLevels"); err != nil {
		return err
	}
	sr, sc := src.Dims()
	tr, tc := tgt.Dims()
	if sc != tc {
		return fmt.Errorf("%w: source has %d levels, target has %d", ErrPrecondition, sc, tc)
	}
	if sr != m.layout.NumSources || tr != m.layout.NumTargets {
		return fmt.Errorf("%w: field rows %dx%d do not match map %dx%d",
			ErrPrecondition, sr, tr, m.layout.NumSources, m.layout.NumTargets)
	}
	srcCol := make([]float64, sr)
	tgtCol := make([]float64, tr)
	for lev := 0; lev < sc; lev++ {
		mat.Col(srcCol, lev, src)
		mat.Col(tgtCol, lev, tgt)
		if err := m.executor().Apply(m.layout, srcCol, tgtCol); err != nil {
			return fmt.Errorf("level %d: %w", lev, err)
		}
		tgt.SetCol(lev, tgtCol)
	}
	return nil
}
