package remap

import (
	"errors"
	"fmt"

	"github.com/notargets/hremap/mapfile"
)

var (
	// ErrInvalidSegment marks a segment that violates its invariants
	ErrInvalidSegment = errors.New("invalid remap segment")
	// ErrInvalidMap marks a map holding an invalid segment or a broken key
	ErrInvalidMap = errors.New("invalid remap map")
	// ErrSegmentNotFound is returned by lookups of target DOFs the map does not own
	ErrSegmentNotFound = errors.New("remap segment not found")
	// ErrMalformedRemapFile is wrapped by every map file error
	ErrMalformedRemapFile = mapfile.ErrMalformed
	// ErrPrecondition marks a call made out of phase, e.g. applying an
	// unchecked map
	ErrPrecondition = errors.New("remap precondition violated")
)

// Invariant names the rule a segment broke
type Invariant string

const (
	InvariantLength      Invariant = "length"
	InvariantWeightSum   Invariant = "weight sum"
	InvariantIndexLength Invariant = "source index length"
)

// SegmentError describes a failed segment check
type SegmentError struct {
	DOF       GlobalDOF
	Invariant Invariant
	Field     string // array the invariant was checked against
	Expected  float64
	Actual    float64
}

func (e *SegmentError) Error() string {
	switch e.Invariant {
	case InvariantWeightSum:
		return fmt.Sprintf("segment %d: weights sum to %.17g, expected %g (relative tolerance %g)",
			e.DOF, e.Actual, e.Expected, WeightTolerance)
	default:
		return fmt.Sprintf("segment %d: %s has length %d, expected %d",
			e.DOF, e.Field, int(e.Actual), int(e.Expected))
	}
}

func (e *SegmentError) Unwrap() error { return ErrInvalidSegment }

// MapError wraps the first failure found by GSMap.Check
type MapError struct {
	DOF GlobalDOF
	Err error
}

func (e *MapError) Error() string {
	return fmt.Sprintf("%v: target %d: %v", ErrInvalidMap, e.DOF, e.Err)
}

func (e *MapError) Unwrap() []error { return []error{ErrInvalidMap, e.Err} }
