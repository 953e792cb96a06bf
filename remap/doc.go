/*
Package remap implements the global sparse map (GSMap) used to interpolate
horizontal fields between unstructured grids of differing resolution and
decomposition.

A map is a rank-local block-row slice of a sparse interpolation matrix. Each
row is a Segment: all weighted source contributions feeding one target DOF.
A map goes through explicit phases:

	m := remap.NewGSMap(srcMin, tgtMin)
	m.AddSegment(seg)            // merges segments that share a target DOF
	err := m.Check()             // weights sum to one, lengths agree
	err = m.SetUniqueSourceDOFs() // sorted unique sources, resolved indices
	err = m.ApplyRemap(src, tgt) // every timestep

The compacted source buffer handed to ApplyRemap is ordered like
UniqueDOFs(). Gathering it from wherever the source field lives is the
caller's job.

Three integer spaces are kept apart by type: GlobalDOF identifies grid
columns, LocalIndex addresses the rank-local target buffer and CompactIndex
addresses the compacted source buffer.
*/
package remap

import (
	"github.com/npillmayer/schuko/tracing"
)

// tracer writes to trace with key 'remap'
func tracer() tracing.Trace {
	return tracing.Select("remap")
}

// GlobalDOF is a global grid column identifier
type GlobalDOF int64

// LocalIndex is a 0-based offset into a rank-local target buffer
type LocalIndex int

// CompactIndex is a 0-based offset into the compacted source buffer, whose
// ordering is the map's sorted unique source DOFs
type CompactIndex int

// WeightTolerance is the relative tolerance on the sum of a segment's weights
const WeightTolerance = 1e-10
