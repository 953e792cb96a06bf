package remap

import (
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/notargets/hremap/comm"
	"github.com/notargets/hremap/mapfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSynthetic(t *testing.T, fileMin int64, seed uint64) (string, *mapfile.Synthetic) {
	t.Helper()
	s, err := mapfile.Generate(rand.New(rand.NewPCG(seed, uint64(fileMin))), mapfile.GenerateOptions{
		NumSource: 86, NumTarget: 21, MinContrib: 2, MaxContrib: 10, MinDOF: fileMin,
	})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "map.nc")
	require.NoError(t, mapfile.Create(path, s.Header, s.Triplets, s.SourceData))
	return path, s
}

// blockTargets returns rank's contiguous share of numTarget DOFs based at minDOF
func blockTargets(numTarget, rank, size int, minDOF GlobalDOF) []GlobalDOF {
	lo, hi := chunkRange(numTarget, rank, size)
	dofs := make([]GlobalDOF, 0, hi-lo)
	for i := lo; i < hi; i++ {
		dofs = append(dofs, minDOF+GlobalDOF(i))
	}
	return dofs
}

func TestSetSegmentsFromTriplets(t *testing.T) {
	var tr mapfile.Triplets
	// file based at 1, caller based at 0
	tr.Append(2, 5, 0.25)
	tr.Append(1, 3, 1)
	tr.Append(2, 1, 0.75)
	tr.Append(3, 2, 1)

	m := NewGSMap(0, 0)
	require.NoError(t, m.SetSegmentsFromTriplets(tr, 1, []GlobalDOF{1, 0}, 0))
	assert.Equal(t, GlobalDOF(1), m.SourceMinDOF)
	assert.Equal(t, GlobalDOF(0), m.TargetMinDOF)
	assert.Equal(t, 2, m.NumSegments())

	seg, err := m.Segment(1)
	require.NoError(t, err)
	assert.Equal(t, []GlobalDOF{5, 1}, seg.SourceDOFs)
	assert.Equal(t, []float64{0.25, 0.75}, seg.Weights)
	_, err = m.Segment(2)
	assert.ErrorIs(t, err, ErrSegmentNotFound)

	require.NoError(t, m.Check())
	require.NoError(t, m.SetUniqueSourceDOFs())
	assert.Equal(t, []GlobalDOF{1, 3, 5}, m.UniqueDOFs())

	tr.Weights = tr.Weights[:3]
	assert.ErrorIs(t, m.SetSegmentsFromTriplets(tr, 1, nil, 0), ErrMalformedRemapFile)
}

func TestSetSegmentsFromFile_Serial(t *testing.T) {
	path, s := writeSynthetic(t, 1, 3)
	m := NewGSMap(0, 0)
	targets := blockTargets(21, 0, 1, 1)
	require.NoError(t, m.SetSegmentsFromFile(path, nil, targets, 1))
	assert.Equal(t, 21, m.NumSegments())
	require.NoError(t, m.Check())
	require.NoError(t, m.SetUniqueSourceDOFs())

	src, err := m.ReadSourceData(path, mapfile.VarSourceData)
	require.NoError(t, err)
	tgt := make([]float64, m.NumTargets())
	require.NoError(t, m.ApplyRemap(src, tgt))
	for i := range tgt {
		assert.InDelta(t, s.Baseline[i], tgt[i], 1e-12)
	}
}

// Every combination of file and caller base offsets over 1 to 4 ranks must
// reproduce the baseline field.
func TestSetSegmentsFromFile_Distributed(t *testing.T) {
	for _, fileMin := range []int64{0, 1} {
		for _, minDOF := range []GlobalDOF{0, 1} {
			for ranks := 1; ranks <= 4; ranks++ {
				name := fmt.Sprintf("file%d_dof%d_ranks%d", fileMin, minDOF, ranks)
				t.Run(name, func(t *testing.T) {
					path, s := writeSynthetic(t, fileMin, 7)

					var mu sync.Mutex
					maxDiff := 0.0
					owned := 0
					w := comm.NewWorld(ranks)
					err := w.Run(func(c comm.Comm) error {
						targets := blockTargets(21, c.Rank(), c.Size(), minDOF)
						m := NewGSMap(0, 0)
						if err := m.SetSegmentsFromFile(path, c, targets, minDOF); err != nil {
							return err
						}
						if err := m.Check(); err != nil {
							return err
						}
						if err := m.SetUniqueSourceDOFs(); err != nil {
							return err
						}
						src, err := m.ReadSourceData(path, mapfile.VarSourceData)
						if err != nil {
							return err
						}
						tgt := make([]float64, len(targets))
						if err := m.ApplyRemap(src, tgt); err != nil {
							return err
						}
						mu.Lock()
						defer mu.Unlock()
						owned += m.NumSegments()
						for i, dof := range targets {
							maxDiff = math.Max(maxDiff, math.Abs(tgt[i]-s.Baseline[dof-minDOF]))
						}
						return nil
					})
					require.NoError(t, err)
					assert.Equal(t, 21, owned)
					assert.Less(t, maxDiff, 1e-12)
				})
			}
		}
	}
}

func TestSetSegmentsFromFile_Malformed(t *testing.T) {
	garbage := filepath.Join(t.TempDir(), "garbage.nc")
	require.NoError(t, os.WriteFile(garbage, []byte("not a netcdf file"), 0o644))

	for _, path := range []string{filepath.Join(t.TempDir(), "missing.nc"), garbage} {
		m := NewGSMap(0, 0)
		err := m.SetSegmentsFromFile(path, nil, []GlobalDOF{1}, 1)
		assert.ErrorIs(t, err, ErrMalformedRemapFile, path)

		// every rank fails together instead of hanging in the exchange
		err = comm.NewWorld(3).Run(func(c comm.Comm) error {
			return NewGSMap(0, 0).SetSegmentsFromFile(path, c, []GlobalDOF{GlobalDOF(c.Rank() + 1)}, 1)
		})
		assert.ErrorIs(t, err, ErrMalformedRemapFile, path)
	}
}

func TestReadSourceData_Precondition(t *testing.T) {
	path, _ := writeSynthetic(t, 1, 5)
	_, err := NewGSMap(1, 1).ReadSourceData(path, mapfile.VarSourceData)
	assert.ErrorIs(t, err, ErrPrecondition)
}
