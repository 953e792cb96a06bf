package remap

import (
	"fmt"

	"github.com/notargets/hremap/comm"
	"github.com/notargets/hremap/mapfile"
)

// SetSegmentsFromTriplets adds one segment per target DOF found in t that
// belongs to targetDOFs. Row and column indices in t follow fileMinDOF; the
// target DOF of a row is row - fileMinDOF + minDOF while source DOFs keep the
// file convention. Triplets sharing a target are grouped in encounter order
// and their weights are taken verbatim. The map's base offsets and local
// target ordering are set from the arguments.
func (m *GSMap) SetSegmentsFromTriplets(t mapfile.Triplets, fileMinDOF GlobalDOF,
	targetDOFs []GlobalDOF, minDOF GlobalDOF) error {
	if err := t.Validate(); err != nil {
		return err
	}
	m.SourceMinDOF = fileMinDOF
	m.TargetMinDOF = minDOF
	m.SetTargetDOFs(targetDOFs)

	owned := make(map[GlobalDOF]int, len(targetDOFs))
	for _, d := range targetDOFs {
		owned[d] = -1
	}

	var groups []*Segment
	for i := 0; i < t.Len(); i++ {
		target := GlobalDOF(t.Rows[i]) - fileMinDOF + minDOF
		g, ok := owned[target]
		if !ok {
			continue
		}
		if g < 0 {
			g = len(groups)
			owned[target] = g
			groups = append(groups, &Segment{DOF: target})
		}
		seg := groups[g]
		seg.SourceDOFs = append(seg.SourceDOFs, GlobalDOF(t.Cols[i]))
		seg.Weights = append(seg.Weights, t.Weights[i])
		seg.Length++
	}
	for _, seg := range groups {
		m.AddSegment(seg)
	}
	tracer().Debugf("built %d segments from %d triplets for %d owned targets",
		len(groups), t.Len(), len(targetDOFs))
	return nil
}

// SetSegmentsFromFile populates the map from a persisted map file, keeping
// only the rows whose target DOF is in targetDOFs (this rank's ownership).
// minDOF is the target base offset of the caller's DOFs.
//
// Every rank of c must call it collectively. Rank r reads the r-th contiguous
// chunk of the triplet arrays, the ranks agree on read failures, and triplets
// are routed to the ranks owning their targets. A nil c reads serially.
func (m *GSMap) SetSegmentsFromFile(path string, c comm.Comm, targetDOFs []GlobalDOF, minDOF GlobalDOF) error {
	if c == nil {
		c = comm.Serial()
	}
	hdr, chunk, readErr := readChunk(path, c.Rank(), c.Size())

	// nobody proceeds to the exchange unless every rank read its chunk
	status := ""
	if readErr != nil {
		status = readErr.Error()
	}
	for rank, msg := range comm.AllGather(c, status) {
		if msg == "" {
			continue
		}
		if rank == c.Rank() {
			return readErr
		}
		return fmt.Errorf("%w: rank %d: %s", ErrMalformedRemapFile, rank, msg)
	}

	fileMin := GlobalDOF(hdr.MinDOF)
	owners := make(map[GlobalDOF][]int)
	for rank, dofs := range comm.AllGather(c, targetDOFs) {
		for _, d := range dofs {
			owners[d] = append(owners[d], rank)
		}
	}
	send := make([]mapfile.Triplets, c.Size())
	for i := 0; i < chunk.Len(); i++ {
		target := GlobalDOF(chunk.Rows[i]) - fileMin + minDOF
		for _, rank := range owners[target] {
			send[rank].Append(chunk.Rows[i], chunk.Cols[i], chunk.Weights[i])
		}
	}
	var mine mapfile.Triplets
	for _, t := range comm.AllToAll(c, send) {
		mine.Concat(t)
	}
	if c.Rank() == 0 {
		tracer().Infof("distributed %d triplets of %s over %d ranks", hdr.NumTriplets, path, c.Size())
	}
	return m.SetSegmentsFromTriplets(mine, fileMin, targetDOFs, minDOF)
}

func readChunk(path string, rank, size int) (mapfile.Header, mapfile.Triplets, error) {
	f, err := mapfile.Open(path)
	if err != nil {
		return mapfile.Header{}, mapfile.Triplets{}, err
	}
	defer f.Close()
	hdr := f.Header()
	begin, end := chunkRange(hdr.NumTriplets, rank, size)
	t, err := f.ReadTriplets(begin, end)
	if err != nil {
		return hdr, t, fmt.Errorf("%s: %w", path, err)
	}
	return hdr, t, nil
}

// chunkRange splits n items into size contiguous chunks whose lengths differ
// by at most one
func chunkRange(n, rank, size int) (begin, end int) {
	return n * rank / size, n * (rank + 1) / size
}

// ReadSourceData reads the compacted source buffer for this map from a
// one-dimensional variable of a NetCDF file whose first element is
// SourceMinDOF. The map must have resolved its unique source DOFs.
func (m *GSMap) ReadSourceData(path, variable string) ([]float64, error) {
	if err := m.ready("ReadSourceData"); err != nil {
		return nil, err
	}
	return mapfile.ReadFieldAt(path, variable, m.SourceOffsets())
}
