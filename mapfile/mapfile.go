// Package mapfile reads and writes persisted sparse remap files.
//
// A map file is NetCDF classic and stores a coordinate-format sparse matrix
// as three parallel arrays over the triplet dimension n_s: the target index
// "row", the source index "col" and the weight "S". The source and target
// grid sizes are the dimensions n_a and n_b. An optional source-data variable
// over the ncol dimension carries a field to be remapped. Indices use the
// file's minimum-DOF convention, recorded in the global attribute "min_dof";
// files without it are 1-based.
package mapfile

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/ctessum/cdf"
	"github.com/npillmayer/schuko/tracing"
)

// tracer writes to trace with key 'mapfile'
func tracer() tracing.Trace {
	return tracing.Select("mapfile")
}

// Schema names. These are a compatibility contract with other remap tools.
const (
	DimTriplets = "n_s"
	DimSource   = "n_a"
	DimTarget   = "n_b"
	DimColumns  = "ncol"

	VarRow        = "row"
	VarCol        = "col"
	VarWeight     = "S"
	VarSourceData = "src_data"

	AttrMinDOF = "min_dof"

	// DefaultMinDOF applies to files that carry no min_dof attribute
	DefaultMinDOF = 1
)

// ErrMalformed is wrapped by every error that stems from an unreadable or
// inconsistent map file.
var ErrMalformed = errors.New("malformed remap file")

// Header describes the sizes of a map file
type Header struct {
	NumTriplets int   // n_s
	NumSource   int   // n_a
	NumTarget   int   // n_b
	NumColumns  int   // ncol, zero when the file has no source data
	MinDOF      int64 // index of the first row/column in the file
}

// Triplets is a coordinate-format sparse matrix stored as parallel arrays
type Triplets struct {
	Rows    []int64
	Cols    []int64
	Weights []float64
}

// Len returns the number of triplets
func (t Triplets) Len() int { return len(t.Rows) }

// Append adds one (row, col, weight) entry
func (t *Triplets) Append(row, col int64, weight float64) {
	t.Rows = append(t.Rows, row)
	t.Cols = append(t.Cols, col)
	t.Weights = append(t.Weights, weight)
}

// Concat appends every entry of o
func (t *Triplets) Concat(o Triplets) {
	t.Rows = append(t.Rows, o.Rows...)
	t.Cols = append(t.Cols, o.Cols...)
	t.Weights = append(t.Weights, o.Weights...)
}

// Validate checks that the three arrays have the same length
func (t Triplets) Validate() error {
	if len(t.Cols) != len(t.Rows) || len(t.Weights) != len(t.Rows) {
		return fmt.Errorf("%w: triplet arrays have lengths row=%d col=%d S=%d",
			ErrMalformed, len(t.Rows), len(t.Cols), len(t.Weights))
	}
	return nil
}

// File is an open map file
type File struct {
	path string
	osf  *os.File
	cf   *cdf.File
	hdr  Header
}

// Open opens a map file and validates its schema
func Open(path string) (*File, error) {
	f, err := openData(path)
	if err != nil {
		return nil, err
	}
	if f.hdr, err = parseHeader(f.cf.Header); err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	tracer().Debugf("opened %s: n_s=%d n_a=%d n_b=%d min_dof=%d",
		path, f.hdr.NumTriplets, f.hdr.NumSource, f.hdr.NumTarget, f.hdr.MinDOF)
	return f, nil
}

// Header returns the sizes of the file
func (f *File) Header() Header { return f.hdr }

// Path returns the name the file was opened with
func (f *File) Path() string { return f.path }

// Close releases the underlying file
func (f *File) Close() error {
	return f.osf.Close()
}

func parseHeader(h *cdf.Header) (Header, error) {
	var hdr Header
	names, lengths := h.Dimensions(""), h.Lengths("")
	dims := make(map[string]int, len(names))
	for i, name := range names {
		if i < len(lengths) {
			dims[name] = lengths[i]
		}
	}
	for _, d := range []struct {
		name string
		dst  *int
	}{
		{DimTriplets, &hdr.NumTriplets},
		{DimSource, &hdr.NumSource},
		{DimTarget, &hdr.NumTarget},
	} {
		n, ok := dims[d.name]
		if !ok {
			return hdr, fmt.Errorf("%w: missing dimension %s", ErrMalformed, d.name)
		}
		*d.dst = n
	}
	hdr.NumColumns = dims[DimColumns]

	vars := h.Variables()
	for _, v := range []string{VarRow, VarCol, VarWeight} {
		if !slices.Contains(vars, v) {
			return hdr, fmt.Errorf("%w: missing variable %s", ErrMalformed, v)
		}
		if vd := h.Dimensions(v); len(vd) != 1 || vd[0] != DimTriplets {
			return hdr, fmt.Errorf("%w: variable %s has dimensions %v, want [%s]",
				ErrMalformed, v, vd, DimTriplets)
		}
		if vl := h.Lengths(v); len(vl) != 1 || vl[0] != hdr.NumTriplets {
			return hdr, fmt.Errorf("%w: variable %s has length %v, want %d",
				ErrMalformed, v, vl, hdr.NumTriplets)
		}
	}

	hdr.MinDOF = DefaultMinDOF
	if a := h.GetAttribute("", AttrMinDOF); a != nil {
		v, err := toInt64(a)
		if err != nil || len(v) != 1 {
			return hdr, fmt.Errorf("%w: attribute %s must be a single integer, got %v",
				ErrMalformed, AttrMinDOF, a)
		}
		hdr.MinDOF = v[0]
	}
	return hdr, nil
}

// ReadTriplets reads the entries [begin, end) of the triplet arrays. Rows and
// columns outside the grid sizes declared by the header are rejected.
func (f *File) ReadTriplets(begin, end int) (Triplets, error) {
	var t Triplets
	if begin < 0 || end > f.hdr.NumTriplets || begin > end {
		return t, fmt.Errorf("triplet range [%d,%d) outside [0,%d)", begin, end, f.hdr.NumTriplets)
	}
	if begin == end {
		return t, nil
	}
	var err error
	if t.Rows, err = f.readInts(VarRow, begin, end); err != nil {
		return t, err
	}
	if t.Cols, err = f.readInts(VarCol, begin, end); err != nil {
		return t, err
	}
	if t.Weights, err = f.readFloats(VarWeight, begin, end); err != nil {
		return t, err
	}
	if err = t.Validate(); err != nil {
		return t, err
	}
	lo := f.hdr.MinDOF
	for i := range t.Rows {
		if r := t.Rows[i]; r < lo || r >= lo+int64(f.hdr.NumTarget) {
			return t, fmt.Errorf("%w: %s[%d]=%d outside [%d,%d)",
				ErrMalformed, VarRow, begin+i, r, lo, lo+int64(f.hdr.NumTarget))
		}
		if c := t.Cols[i]; c < lo || c >= lo+int64(f.hdr.NumSource) {
			return t, fmt.Errorf("%w: %s[%d]=%d outside [%d,%d)",
				ErrMalformed, VarCol, begin+i, c, lo, lo+int64(f.hdr.NumSource))
		}
	}
	return t, nil
}

// ReadSourceData reads the values of a one-dimensional variable at the
// given 0-based offsets. Consecutive ascending offsets are fetched with a
// single ranged read.
func (f *File) ReadSourceData(variable string, offsets []int) ([]float64, error) {
	lengths := f.cf.Header.Lengths(variable)
	if len(lengths) != 1 {
		return nil, fmt.Errorf("%w: variable %s must exist and be one-dimensional, has lengths %v",
			ErrMalformed, variable, lengths)
	}
	n := lengths[0]
	out := make([]float64, len(offsets))
	reads := 0
	for i := 0; i < len(offsets); {
		j := i + 1
		for j < len(offsets) && offsets[j] == offsets[j-1]+1 {
			j++
		}
		lo, hi := offsets[i], offsets[j-1]+1
		if lo < 0 || hi > n {
			return nil, fmt.Errorf("offset run [%d,%d) of %s outside [0,%d)", lo, hi, variable, n)
		}
		vals, err := f.readFloats(variable, lo, hi)
		if err != nil {
			return nil, err
		}
		copy(out[i:j], vals)
		reads++
		i = j
	}
	tracer().Debugf("read %d values of %s in %d ranged reads", len(offsets), variable, reads)
	return out, nil
}

func (f *File) readInts(variable string, begin, end int) ([]int64, error) {
	r := f.cf.Reader(variable, []int{begin}, []int{end})
	buf := r.Zero(end - begin)
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrMalformed, variable, err)
	}
	v, err := toInt64(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: variable %s: %w", ErrMalformed, variable, err)
	}
	return v, nil
}

func (f *File) readFloats(variable string, begin, end int) ([]float64, error) {
	r := f.cf.Reader(variable, []int{begin}, []int{end})
	buf := r.Zero(end - begin)
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrMalformed, variable, err)
	}
	switch b := buf.(type) {
	case []float64:
		return b, nil
	case []float32:
		out := make([]float64, len(b))
		for i, v := range b {
			out[i] = float64(v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: variable %s has non-real type %T", ErrMalformed, variable, buf)
	}
}

func toInt64(buf interface{}) ([]int64, error) {
	switch b := buf.(type) {
	case []int32:
		out := make([]int64, len(b))
		for i, v := range b {
			out[i] = int64(v)
		}
		return out, nil
	case []int16:
		out := make([]int64, len(b))
		for i, v := range b {
			out[i] = int64(v)
		}
		return out, nil
	case []int8:
		out := make([]int64, len(b))
		for i, v := range b {
			out[i] = int64(v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("non-integer type %T", buf)
	}
}
