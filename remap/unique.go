package remap

import (
	"fmt"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"
)

// SetUniqueSourceDOFs builds the ascending, duplicate-free list of source
// DOFs referenced by any segment, resolves every segment's SourceIdx into
// that list and flattens the map into its apply Layout. The map must have
// passed Check.
func (m *GSMap) SetUniqueSourceDOFs() error {
	if !m.checked {
		return fmt.Errorf("%w: SetUniqueSourceDOFs requires a passed Check", ErrPrecondition)
	}
	segs := m.Segments()

	total := 0
	for _, seg := range segs {
		total += seg.Length
	}
	unique := make([]GlobalDOF, 0, total)
	for _, seg := range segs {
		unique = append(unique, seg.SourceDOFs[:seg.Length]...)
	}
	slices.Sort(unique)
	unique = slices.Clip(slices.Compact(unique))

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, seg := range segs {
		g.Go(func() error {
			if len(seg.SourceIdx) != seg.Length {
				seg.SourceIdx = make([]CompactIndex, seg.Length)
			}
			for i, d := range seg.SourceDOFs[:seg.Length] {
				pos, found := slices.BinarySearch(unique, d)
				if !found {
					return fmt.Errorf("source %d of target %d missing from unique set", d, seg.DOF)
				}
				seg.SourceIdx[i] = CompactIndex(pos)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	layout, err := m.buildLayout(segs, len(unique))
	if err != nil {
		return err
	}
	m.uniqueDOFs = unique
	m.layout = layout
	tracer().Infof("resolved %d segments: %d contributions over %d unique sources",
		len(segs), total, len(unique))
	return nil
}

// UniqueDOFs returns the sorted unique source DOFs. The result is shared with
// the map and must not be modified; it is nil until SetUniqueSourceDOFs
// succeeds.
func (m *GSMap) UniqueDOFs() []GlobalDOF {
	return m.uniqueDOFs
}

// SourceOffsets returns, for every unique source DOF, its 0-based position in
// a source array that starts at SourceMinDOF. This is the index list used to
// gather the compacted source buffer.
func (m *GSMap) SourceOffsets() []int {
	offsets := make([]int, len(m.uniqueDOFs))
	for i, d := range m.uniqueDOFs {
		offsets[i] = int(d - m.SourceMinDOF)
	}
	return offsets
}

// Gather fills the compacted source buffer from a full source field whose
// first element is SourceMinDOF
func (m *GSMap) Gather(field []float64) ([]float64, error) {
	if err := m.ready("Gather"); err != nil {
		return nil, err
	}
	out := make([]float64, len(m.uniqueDOFs))
	for i, off := range m.SourceOffsets() {
		if off < 0 || off >= len(field) {
			return nil, fmt.Errorf("%w: source %d outside field of length %d based at %d",
				ErrPrecondition, m.uniqueDOFs[i], len(field), m.SourceMinDOF)
		}
		out[i] = field[off]
	}
	return out, nil
}
