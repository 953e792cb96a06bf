package mapfile

import (
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/ctessum/cdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSynthetic(t *testing.T, minDOF int64) *Synthetic {
	t.Helper()
	rng := rand.New(rand.NewPCG(11, uint64(minDOF)))
	s, err := Generate(rng, GenerateOptions{
		NumSource: 86, NumTarget: 21, MinContrib: 2, MaxContrib: 10, MinDOF: minDOF,
	})
	require.NoError(t, err)
	return s
}

func TestGenerate(t *testing.T) {
	s := testSynthetic(t, 1)
	require.NoError(t, s.Triplets.Validate())
	assert.Equal(t, s.Triplets.Len(), s.Header.NumTriplets)

	sums := make(map[int64]float64)
	counts := make(map[int64]int)
	for i := 0; i < s.Triplets.Len(); i++ {
		row, col := s.Triplets.Rows[i], s.Triplets.Cols[i]
		assert.GreaterOrEqual(t, col, int64(1))
		assert.LessOrEqual(t, col, int64(86))
		sums[row] += s.Triplets.Weights[i]
		counts[row]++
	}
	assert.Len(t, sums, 21)
	for row, sum := range sums {
		assert.InDelta(t, 1.0, sum, 1e-12, "row %d", row)
		assert.GreaterOrEqual(t, counts[row], 2)
		assert.LessOrEqual(t, counts[row], 10)
	}

	_, err := Generate(rand.New(rand.NewPCG(1, 1)), GenerateOptions{NumSource: 4, NumTarget: 2, MinContrib: 3, MaxContrib: 2})
	assert.Error(t, err)
}

func TestCreateOpen_RoundTrip(t *testing.T) {
	for _, minDOF := range []int64{0, 1} {
		s := testSynthetic(t, minDOF)
		path := filepath.Join(t.TempDir(), "map.nc")
		require.NoError(t, Create(path, s.Header, s.Triplets, s.SourceData))

		f, err := Open(path)
		require.NoError(t, err)
		hdr := f.Header()
		assert.Equal(t, s.Header, hdr)

		all, err := f.ReadTriplets(0, hdr.NumTriplets)
		require.NoError(t, err)
		assert.Equal(t, s.Triplets.Rows, all.Rows)
		assert.Equal(t, s.Triplets.Cols, all.Cols)
		assert.Equal(t, s.Triplets.Weights, all.Weights)

		// chunks concatenate to the whole
		var joined Triplets
		for _, r := range [][2]int{{0, 7}, {7, 7}, {7, hdr.NumTriplets}} {
			part, err := f.ReadTriplets(r[0], r[1])
			require.NoError(t, err)
			joined.Concat(part)
		}
		assert.Equal(t, all, joined)

		_, err = f.ReadTriplets(3, hdr.NumTriplets+1)
		assert.Error(t, err)

		offsets := []int{0, 1, 2, 10, 11, 40, 85}
		vals, err := f.ReadSourceData(VarSourceData, offsets)
		require.NoError(t, err)
		for i, off := range offsets {
			assert.Equal(t, s.SourceData[off], vals[i])
		}
		_, err = f.ReadSourceData(VarSourceData, []int{86})
		assert.Error(t, err)
		_, err = f.ReadSourceData("missing", []int{0})
		assert.ErrorIs(t, err, ErrMalformed)

		require.NoError(t, f.Close())
	}
}

func TestOpen_Malformed(t *testing.T) {
	dir := t.TempDir()

	_, err := Open(filepath.Join(dir, "does-not-exist.nc"))
	assert.ErrorIs(t, err, ErrMalformed)

	garbage := filepath.Join(dir, "garbage.nc")
	require.NoError(t, os.WriteFile(garbage, []byte("not a netcdf file"), 0o644))
	_, err = Open(garbage)
	assert.ErrorIs(t, err, ErrMalformed)

	// missing the weight variable
	noWeights := filepath.Join(dir, "no-weights.nc")
	writeRaw(t, noWeights, []string{DimTriplets, DimSource, DimTarget}, []int{2, 3, 2},
		map[string][]string{VarRow: {DimTriplets}, VarCol: {DimTriplets}})
	_, err = Open(noWeights)
	assert.ErrorIs(t, err, ErrMalformed)
	assert.Contains(t, err.Error(), VarWeight)

	// missing n_b
	noTarget := filepath.Join(dir, "no-target.nc")
	writeRaw(t, noTarget, []string{DimTriplets, DimSource}, []int{2, 3},
		map[string][]string{VarRow: {DimTriplets}, VarCol: {DimTriplets}, VarWeight: {DimTriplets}})
	_, err = Open(noTarget)
	assert.ErrorIs(t, err, ErrMalformed)
	assert.Contains(t, err.Error(), DimTarget)

	// weights over the wrong dimension
	wrongDim := filepath.Join(dir, "wrong-dim.nc")
	writeRaw(t, wrongDim, []string{DimTriplets, DimSource, DimTarget}, []int{2, 3, 4},
		map[string][]string{VarRow: {DimTriplets}, VarCol: {DimTriplets}, VarWeight: {DimTarget}})
	_, err = Open(wrongDim)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestReadTriplets_OutOfRange(t *testing.T) {
	var trip Triplets
	trip.Append(1, 1, 0.5)
	trip.Append(1, 9, 0.5) // only 3 source columns
	path := filepath.Join(t.TempDir(), "range.nc")
	require.NoError(t, Create(path, Header{NumSource: 3, NumTarget: 1, MinDOF: 1}, trip, nil))

	f, err := Open(path)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, 0, f.Header().NumColumns)
	_, err = f.ReadTriplets(0, 2)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestCreate_Rejects(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.nc")
	assert.Error(t, Create(path, Header{NumSource: 1, NumTarget: 1}, Triplets{}, nil))
	assert.Error(t, Create(path, Header{NumSource: 1, NumTarget: 1},
		Triplets{Rows: []int64{1}, Cols: []int64{1}}, nil))
	var one Triplets
	one.Append(1, 1, 1)
	assert.Error(t, Create(path, Header{NumSource: 0, NumTarget: 1}, one, nil))

	var wide Triplets
	wide.Append(1, math.MaxInt32+1, 1)
	err := Create(path, Header{NumSource: 1, NumTarget: 1}, wide, nil)
	assert.ErrorContains(t, err, "does not fit a 32-bit index")
	assert.NoFileExists(t, path)
}

// writeRaw writes a map file skeleton with the given variables, all int32
// except S which is double.
func writeRaw(t *testing.T, path string, dims []string, lengths []int, vars map[string][]string) {
	t.Helper()
	h := cdf.NewHeader(dims, lengths)
	for _, name := range []string{VarRow, VarCol, VarWeight} {
		vd, ok := vars[name]
		if !ok {
			continue
		}
		if name == VarWeight {
			h.AddVariable(name, vd, []float64{0})
		} else {
			h.AddVariable(name, vd, []int32{0})
		}
	}
	h.Define()
	osf, err := os.Create(path)
	require.NoError(t, err)
	defer osf.Close()
	_, err = cdf.Create(osf, h)
	require.NoError(t, err)
}

func TestWriteReadField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "field.nc")
	data := []float64{0.5, -1, 3.25, 8}
	require.NoError(t, WriteField(path, DimTarget, "dst_data", 1, data))

	got, err := ReadField(path, "dst_data")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = ReadField(path, "missing")
	assert.Error(t, err)
	assert.Error(t, WriteField(path, DimTarget, "dst_data", 1, nil))

	// a map file's source data is readable as a plain field
	s := testSynthetic(t, 1)
	mapPath := filepath.Join(t.TempDir(), "map.nc")
	require.NoError(t, Create(mapPath, s.Header, s.Triplets, s.SourceData))
	src, err := ReadField(mapPath, VarSourceData)
	require.NoError(t, err)
	assert.Equal(t, s.SourceData, src)
}
