package mapfile

import (
	"fmt"
	"os"

	"github.com/ctessum/cdf"
)

// WriteField stores a one-dimensional field over dimension dim. minDOF is
// recorded as the global DOF of the first value.
func WriteField(path, dim, variable string, minDOF int64, data []float64) (err error) {
	if len(data) == 0 {
		return fmt.Errorf("refusing to write empty field %s", variable)
	}
	h := cdf.NewHeader([]string{dim}, []int{len(data)})
	h.AddAttribute("", AttrMinDOF, []int32{int32(minDOF)})
	h.AddVariable(variable, []string{dim}, []float64{0})
	h.Define()

	osf, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := osf.Close(); err == nil {
			err = cerr
		}
	}()
	cf, err := cdf.Create(osf, h)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err = writeVar(cf, variable, data); err != nil {
		return err
	}
	if err = cdf.UpdateNumRecs(osf); err != nil {
		return err
	}
	tracer().Infof("wrote %s: %s(%s=%d)", path, variable, dim, len(data))
	return nil
}

// ReadField reads a whole one-dimensional real variable from any NetCDF file
func ReadField(path, variable string) ([]float64, error) {
	f, err := openData(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	lengths := f.cf.Header.Lengths(variable)
	if len(lengths) != 1 {
		return nil, fmt.Errorf("%w: %s: variable %s must exist and be one-dimensional, has lengths %v",
			ErrMalformed, path, variable, lengths)
	}
	return f.readFloats(variable, 0, lengths[0])
}

// ReadFieldAt reads the values of a one-dimensional variable at the given
// 0-based offsets from any NetCDF file. The file need not be a map file.
func ReadFieldAt(path, variable string, offsets []int) ([]float64, error) {
	f, err := openData(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.ReadSourceData(variable, offsets)
}

// openData opens a NetCDF file without checking the map schema
func openData(path string) (*File, error) {
	osf, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	cf, err := cdf.Open(osf)
	if err != nil {
		osf.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformed, path, err)
	}
	return &File{path: path, osf: osf, cf: cf}, nil
}
