package runner

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/notargets/hremap/partitions"
	"github.com/notargets/hremap/remap"
	"github.com/notargets/hremap/runner/builder"
	"github.com/notargets/hremap/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// randomMap builds a checked map with numTargets rows over numSources
// sources, leaving every fifth target without contributions
func randomMap(t *testing.T, numSources, numTargets int) *remap.GSMap {
	t.Helper()
	rng := rand.New(rand.NewPCG(5, 9))
	m := remap.NewGSMap(1, 1)
	targets := make([]remap.GlobalDOF, numTargets)
	for i := range targets {
		targets[i] = remap.GlobalDOF(i + 1)
	}
	// reversed local order exercises tgtIdx
	for i, j := 0, len(targets)-1; i < j; i, j = i+1, j-1 {
		targets[i], targets[j] = targets[j], targets[i]
	}
	m.SetTargetDOFs(targets)
	for dof := 1; dof <= numTargets; dof++ {
		if dof%5 == 0 {
			continue
		}
		n := 1 + rng.IntN(12)
		seg := remap.NewSegment(remap.GlobalDOF(dof), n)
		var sum float64
		for i := 0; i < n; i++ {
			seg.SourceDOFs[i] = remap.GlobalDOF(1 + rng.IntN(numSources))
			seg.Weights[i] = 0.1 + rng.Float64()
			sum += seg.Weights[i]
		}
		for i := range seg.Weights {
			seg.Weights[i] /= sum
		}
		m.AddSegment(seg)
	}
	require.NoError(t, m.Check())
	require.NoError(t, m.SetUniqueSourceDOFs())
	return m
}

func testField(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = float64(i%13) - 6.5
	}
	return v
}

func TestRunner_MatchesCPU(t *testing.T) {
	device := utils.CreateTestDevice()
	defer device.Free()

	testCases := []struct {
		name string
		opts Options
		tol  float64
	}{
		{"float64_int64_block", Options{PartitionSize: 16}, 1e-14},
		{"float64_int32_weighted", Options{PartitionSize: 32, Strategy: partitions.WeightedPartition, IntType: builder.INT32}, 1e-14},
		{"float32_roundrobin", Options{PartitionSize: 7, Strategy: partitions.RoundRobin, FloatType: builder.Float32}, 1e-4},
		{"single_partition", Options{PartitionSize: 1000}, 1e-14},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := randomMap(t, 300, 200)
			l := m.Layout()
			src := testField(l.NumSources)

			want := make([]float64, l.NumTargets)
			for i := range want {
				want[i] = -99
			}
			got := append([]float64(nil), want...)
			require.NoError(t, remap.ParallelExecutor{}.Apply(l, src, want))

			kr, err := NewRunner(device, tc.opts)
			require.NoError(t, err)
			defer kr.Free()
			m.SetExecutor(kr)
			require.NoError(t, m.ApplyRemap(src, got))
			assert.InDeltaSlice(t, want, got, tc.tol)

			// untouched targets keep their values
			for i, dof := range m.TargetDOFs() {
				if dof%5 == 0 {
					assert.Equal(t, -99.0, got[i])
				}
			}
			require.NotNil(t, kr.Partitions())
			require.NoError(t, kr.Partitions().ValidateLayout())
			assert.Equal(t, l.NumRows(), kr.Partitions().TotalItems)
		})
	}
}

func TestRunner_ReusesLayout(t *testing.T) {
	device := utils.CreateTestDevice()
	defer device.Free()

	m := randomMap(t, 50, 40)
	kr, err := NewRunner(device, Options{PartitionSize: 8})
	require.NoError(t, err)
	defer kr.Free()
	m.SetExecutor(kr)

	l := m.Layout()
	tgt := make([]float64, l.NumTargets)
	require.NoError(t, m.ApplyRemap(testField(l.NumSources), tgt))
	parts := kr.Partitions()
	require.NoError(t, m.ApplyRemap(testField(l.NumSources), tgt))
	assert.Same(t, parts, kr.Partitions())

	// weight changes reach the device copy
	seg, err := m.Segment(1)
	require.NoError(t, err)
	for i := range seg.Weights {
		seg.Weights[i] = 0
	}
	seg.Weights[0] = 1
	require.NoError(t, m.RefreshWeights())

	src := testField(l.NumSources)
	want := make([]float64, l.NumTargets)
	copy(want, tgt)
	got := append([]float64(nil), tgt...)
	require.NoError(t, remap.ParallelExecutor{}.Apply(l, src, want))
	require.NoError(t, m.ApplyRemap(src, got))
	assert.InDeltaSlice(t, want, got, 1e-14)
	assert.Same(t, parts, kr.Partitions())
}

func TestRunner_Errors(t *testing.T) {
	_, err := NewRunner(nil, Options{})
	assert.Error(t, err)

	device := utils.CreateTestDevice()
	defer device.Free()
	kr, err := NewRunner(device, Options{})
	require.NoError(t, err)
	defer kr.Free()

	m := randomMap(t, 10, 10)
	l := m.Layout()
	err = kr.Apply(l, make([]float64, l.NumSources+1), make([]float64, l.NumTargets))
	assert.ErrorIs(t, err, remap.ErrPrecondition)

	// an empty layout is a no-op
	assert.NoError(t, kr.Apply(&remap.Layout{RowPtr: []int{0}}, nil, nil))
}

func TestPartitionRows_InnerLimit(t *testing.T) {
	assert.Equal(t, cudaInnerLimit, innerLimit("CUDA"))
	assert.Equal(t, maxKpart, innerLimit("Serial"))

	uniform := make([]int, 5000)
	for i := range uniform {
		uniform[i] = 3
	}
	// a skewed map: one wide row, thousands of single-weight rows
	skewed := make([]int, 5000)
	skewed[0] = 100000
	for i := 1; i < len(skewed); i++ {
		skewed[i] = 1
	}
	cases := []struct {
		name string
		rows []int
		opts Options
	}{
		{"block_oversized", uniform, Options{PartitionSize: 4096}},
		{"roundrobin_oversized", uniform, Options{PartitionSize: 2048, Strategy: partitions.RoundRobin}},
		{"weighted_skewed", skewed, Options{PartitionSize: 2500, Strategy: partitions.WeightedPartition}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			parts, err := partitionRows(tc.rows, tc.opts, cudaInnerLimit)
			require.NoError(t, err)
			assert.LessOrEqual(t, parts.KpartMax, cudaInnerLimit)
			assert.Equal(t, len(tc.rows), parts.TotalItems)

			// without a limit the requested size is kept
			loose, err := partitionRows(tc.rows, tc.opts, maxKpart)
			require.NoError(t, err)
			assert.Greater(t, loose.KpartMax, cudaInnerLimit)
		})
	}

	_, err := partitionRows([]int{1, 1, 1}, Options{PartitionSize: 3}, 0)
	assert.Error(t, err)
}

func TestRunner_Int32Overflow(t *testing.T) {
	device := utils.CreateTestDevice()
	defer device.Free()
	kr, err := NewRunner(device, Options{IntType: builder.INT32})
	require.NoError(t, err)
	defer kr.Free()

	l := randomMap(t, 10, 10).Layout()
	require.NoError(t, kr.Setup(l))
	assert.NoError(t, kr.mallocInts("fits", []int{math.MaxInt32, math.MinInt32}))
	assert.ErrorContains(t, kr.mallocInts("wide", []int{0, math.MaxInt32 + 1}), "overflows INT32")
}
