package remap

import (
	"fmt"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"
)

// GSMap is the rank-local sparse remap: one segment per target DOF, the
// sorted unique source DOFs they reference, and the flattened operator used
// by ApplyRemap.
type GSMap struct {
	SourceMinDOF GlobalDOF
	TargetMinDOF GlobalDOF

	segments map[GlobalDOF]*Segment
	// targetDOFs fixes the local target ordering; nil means ascending DOF
	targetDOFs []GlobalDOF

	checked    bool
	uniqueDOFs []GlobalDOF
	layout     *Layout

	exec Executor
}

// NewGSMap creates an empty map with the given base offsets
func NewGSMap(sourceMinDOF, targetMinDOF GlobalDOF) *GSMap {
	return &GSMap{
		SourceMinDOF: sourceMinDOF,
		TargetMinDOF: targetMinDOF,
		segments:     make(map[GlobalDOF]*Segment),
	}
}

// SetExecutor selects the backend used by ApplyRemap. nil restores the
// default CPU executor.
func (m *GSMap) SetExecutor(e Executor) {
	m.exec = e
}

// SetTargetDOFs fixes the rank-local target ordering: target buffers passed
// to ApplyRemap are indexed by position in dofs. Every segment must belong
// to this set.
func (m *GSMap) SetTargetDOFs(dofs []GlobalDOF) {
	m.targetDOFs = append([]GlobalDOF(nil), dofs...)
	m.invalidate()
}

// TargetDOFs returns the local target ordering
func (m *GSMap) TargetDOFs() []GlobalDOF {
	if m.targetDOFs != nil {
		return m.targetDOFs
	}
	return m.sortedDOFs()
}

// NumTargets returns the length of the rank-local target buffer
func (m *GSMap) NumTargets() int {
	if m.targetDOFs != nil {
		return len(m.targetDOFs)
	}
	return len(m.segments)
}

// AddSegment adds the contributions of seg to the map. A segment whose target
// DOF is already present is appended to the existing one rather than stored
// twice. The map keeps its own copy of seg.
func (m *GSMap) AddSegment(seg *Segment) {
	if m.segments == nil {
		m.segments = make(map[GlobalDOF]*Segment)
	}
	if cur, ok := m.segments[seg.DOF]; ok {
		cur.merge(seg)
	} else {
		m.segments[seg.DOF] = seg.clone()
	}
	m.invalidate()
}

func (m *GSMap) invalidate() {
	m.checked = false
	m.uniqueDOFs = nil
	m.layout = nil
}

// NumSegments returns the number of distinct target DOFs
func (m *GSMap) NumSegments() int {
	return len(m.segments)
}

// Segment returns the segment owning target dof. The segment is shared with
// the map; Check must be run again after modifying it.
func (m *GSMap) Segment(dof GlobalDOF) (*Segment, error) {
	seg, ok := m.segments[dof]
	if !ok {
		return nil, fmt.Errorf("%w: target %d", ErrSegmentNotFound, dof)
	}
	return seg, nil
}

// Segments returns all segments in ascending target DOF order
func (m *GSMap) Segments() []*Segment {
	dofs := m.sortedDOFs()
	segs := make([]*Segment, len(dofs))
	for i, d := range dofs {
		segs[i] = m.segments[d]
	}
	return segs
}

func (m *GSMap) sortedDOFs() []GlobalDOF {
	dofs := make([]GlobalDOF, 0, len(m.segments))
	for d := range m.segments {
		dofs = append(dofs, d)
	}
	slices.Sort(dofs)
	return dofs
}

// Check validates every segment and the one-segment-per-target invariant.
// Segments are checked in parallel; the failure reported is the one with the
// lowest target DOF.
func (m *GSMap) Check() error {
	m.checked = false
	segs := m.Segments()

	owned := make(map[GlobalDOF]struct{}, len(m.targetDOFs))
	for _, d := range m.targetDOFs {
		if _, dup := owned[d]; dup {
			return &MapError{DOF: d, Err: fmt.Errorf("target %d listed twice in the local target set", d)}
		}
		owned[d] = struct{}{}
	}

	errs := make([]error, len(segs))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, seg := range segs {
		g.Go(func() error {
			errs[i] = seg.Check()
			return nil
		})
	}
	_ = g.Wait()

	keys := m.sortedDOFs()
	for i, seg := range segs {
		key := keys[i]
		if seg.DOF != key {
			return &MapError{DOF: key, Err: fmt.Errorf("segment stored under target %d claims target %d", key, seg.DOF)}
		}
		if errs[i] != nil {
			tracer().Errorf("check failed: %v", errs[i])
			return &MapError{DOF: key, Err: errs[i]}
		}
		if m.targetDOFs != nil {
			if _, ok := owned[key]; !ok {
				return &MapError{DOF: key, Err: fmt.Errorf("target %d is not in the local target set", key)}
			}
		}
	}
	m.checked = true
	tracer().Debugf("checked %d segments", len(segs))
	return nil
}

// ready fails with ErrPrecondition unless the last Check passed and the
// layout is resolved
func (m *GSMap) ready(op string) error {
	if !m.checked || m.layout == nil {
		return fmt.Errorf("%w: %s requires a passed Check and SetUniqueSourceDOFs", ErrPrecondition, op)
	}
	return nil
}

// Checked reports whether the last Check passed and nothing was added since
func (m *GSMap) Checked() bool {
	return m.checked
}
