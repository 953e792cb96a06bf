package remap

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"
)

// Segment holds every source contribution to a single target DOF
type Segment struct {
	DOF    GlobalDOF
	Length int

	SourceDOFs []GlobalDOF
	Weights    []float64
	// SourceIdx is resolved by GSMap.SetUniqueSourceDOFs
	SourceIdx []CompactIndex
}

// NewSegment allocates a segment with room for length contributions
func NewSegment(dof GlobalDOF, length int) *Segment {
	return &Segment{
		DOF:        dof,
		Length:     length,
		SourceDOFs: make([]GlobalDOF, length),
		Weights:    make([]float64, length),
		SourceIdx:  make([]CompactIndex, length),
	}
}

// Check validates the segment: the declared length must match the weight
// and source arrays, and the weights must sum to one within WeightTolerance.
func (s *Segment) Check() error {
	if len(s.Weights) != s.Length {
		return &SegmentError{DOF: s.DOF, Invariant: InvariantLength, Field: "weights",
			Expected: float64(s.Length), Actual: float64(len(s.Weights))}
	}
	if len(s.SourceDOFs) != s.Length {
		return &SegmentError{DOF: s.DOF, Invariant: InvariantLength, Field: "source_dofs",
			Expected: float64(s.Length), Actual: float64(len(s.SourceDOFs))}
	}
	if s.SourceIdx != nil && len(s.SourceIdx) != s.Length {
		return &SegmentError{DOF: s.DOF, Invariant: InvariantIndexLength, Field: "source_idx",
			Expected: float64(s.Length), Actual: float64(len(s.SourceIdx))}
	}
	sum := floats.Sum(s.Weights[:s.Length])
	if !scalar.EqualWithinRel(sum, 1, WeightTolerance) {
		return &SegmentError{DOF: s.DOF, Invariant: InvariantWeightSum,
			Expected: 1, Actual: sum}
	}
	return nil
}

// clone returns a deep copy
func (s *Segment) clone() *Segment {
	c := &Segment{
		DOF:        s.DOF,
		Length:     s.Length,
		SourceDOFs: append([]GlobalDOF(nil), s.SourceDOFs...),
		Weights:    append([]float64(nil), s.Weights...),
	}
	if s.SourceIdx != nil {
		c.SourceIdx = make([]CompactIndex, len(s.SourceIdx))
	}
	return c
}

// merge appends o's contributions. Resolved indices are reset because they
// refer to a unique source set that no longer matches.
func (s *Segment) merge(o *Segment) {
	s.SourceDOFs = append(s.SourceDOFs, o.SourceDOFs...)
	s.Weights = append(s.Weights, o.Weights...)
	s.Length += o.Length
	if s.SourceIdx != nil || o.SourceIdx != nil {
		s.SourceIdx = make([]CompactIndex, len(s.SourceDOFs))
	}
}
