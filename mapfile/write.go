package mapfile

import (
	"fmt"
	"math"
	"os"

	"github.com/ctessum/cdf"
)

// Create writes a map file. srcData is optional; when present it is stored
// as src_data over an ncol dimension of len(srcData).
func Create(path string, hdr Header, t Triplets, srcData []float64) (err error) {
	if err = t.Validate(); err != nil {
		return err
	}
	if hdr.NumTriplets == 0 {
		hdr.NumTriplets = t.Len()
	}
	switch {
	case hdr.NumTriplets != t.Len():
		return fmt.Errorf("header declares %d triplets, have %d", hdr.NumTriplets, t.Len())
	case t.Len() == 0:
		// a zero length dimension would turn n_s into the record dimension
		return fmt.Errorf("refusing to write a map without triplets")
	case hdr.NumSource < 1 || hdr.NumTarget < 1:
		return fmt.Errorf("grid sizes must be positive, have n_a=%d n_b=%d", hdr.NumSource, hdr.NumTarget)
	}

	cols, err := toInt32(VarCol, t.Cols)
	if err != nil {
		return err
	}
	rows, err := toInt32(VarRow, t.Rows)
	if err != nil {
		return err
	}
	if _, err = toInt32(AttrMinDOF, []int64{hdr.MinDOF}); err != nil {
		return err
	}

	dimNames := []string{DimTriplets, DimSource, DimTarget}
	dimLengths := []int{hdr.NumTriplets, hdr.NumSource, hdr.NumTarget}
	if len(srcData) > 0 {
		dimNames = append(dimNames, DimColumns)
		dimLengths = append(dimLengths, len(srcData))
	}
	h := cdf.NewHeader(dimNames, dimLengths)
	h.AddAttribute("", "title", "sparse horizontal remap")
	h.AddAttribute("", AttrMinDOF, []int32{int32(hdr.MinDOF)})
	h.AddVariable(VarCol, []string{DimTriplets}, []int32{0})
	h.AddAttribute(VarCol, "long_name", "source index")
	h.AddVariable(VarRow, []string{DimTriplets}, []int32{0})
	h.AddAttribute(VarRow, "long_name", "target index")
	h.AddVariable(VarWeight, []string{DimTriplets}, []float64{0})
	h.AddAttribute(VarWeight, "units", "unitless")
	if len(srcData) > 0 {
		h.AddVariable(VarSourceData, []string{DimColumns}, []float64{0})
	}
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

	if err = writeVar(cf, VarCol, cols); err != nil {
		return err
	}
	if err = writeVar(cf, VarRow, rows); err != nil {
		return err
	}
	if err = writeVar(cf, VarWeight, t.Weights); err != nil {
		return err
	}
	if len(srcData) > 0 {
		if err = writeVar(cf, VarSourceData, srcData); err != nil {
			return err
		}
	}
	if err = cdf.UpdateNumRecs(osf); err != nil {
		return err
	}
	tracer().Infof("wrote %s: %d triplets, n_a=%d n_b=%d", path, t.Len(), hdr.NumSource, hdr.NumTarget)
	return nil
}

func writeVar(cf *cdf.File, variable string, data interface{}) error {
	end := cf.Header.Lengths(variable)
	start := make([]int, len(end))
	w := cf.Writer(variable, start, end)
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing variable %s: %w", variable, err)
	}
	return nil
}

// toInt32 narrows indices to the NetCDF classic int type
func toInt32(variable string, v []int64) ([]int32, error) {
	out := make([]int32, len(v))
	for i, x := range v {
		if x < math.MinInt32 || x > math.MaxInt32 {
			return nil, fmt.Errorf("%s[%d]=%d does not fit a 32-bit index", variable, i, x)
		}
		out[i] = int32(x)
	}
	return out, nil
}
