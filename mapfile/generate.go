package mapfile

import (
	"fmt"
	"math/rand/v2"
)

// GenerateOptions configures a synthetic map
type GenerateOptions struct {
	NumSource  int
	NumTarget  int
	MinContrib int // contributions per target, inclusive bounds
	MaxContrib int
	MinDOF     int64
}

// Synthetic is a random row-normalized map together with a source field and
// the remapped field it produces, indexed by 0-based target column.
type Synthetic struct {
	Header     Header
	Triplets   Triplets
	SourceData []float64
	Baseline   []float64
}

// Generate builds a random map. Every target column draws between
// MinContrib and MaxContrib source columns with random weights that are
// normalized to sum to one. The triplets are shuffled so that consumers
// cannot rely on any ordering.
func Generate(rng *rand.Rand, opt GenerateOptions) (*Synthetic, error) {
	switch {
	case opt.NumSource < 1 || opt.NumTarget < 1:
		return nil, fmt.Errorf("grid sizes must be positive, have %d source and %d target", opt.NumSource, opt.NumTarget)
	case opt.MinContrib < 1 || opt.MaxContrib < opt.MinContrib:
		return nil, fmt.Errorf("invalid contribution range [%d,%d]", opt.MinContrib, opt.MaxContrib)
	}

	s := &Synthetic{
		SourceData: make([]float64, opt.NumSource),
		Baseline:   make([]float64, opt.NumTarget),
	}
	for i := range s.SourceData {
		s.SourceData[i] = 2*rng.Float64() - 1
	}

	for tcol := 0; tcol < opt.NumTarget; tcol++ {
		n := opt.MinContrib + rng.IntN(opt.MaxContrib-opt.MinContrib+1)
		cols := make([]int, n)
		wgts := make([]float64, n)
		var wsum float64
		for i := range cols {
			cols[i] = rng.IntN(opt.NumSource)
			// keep weights away from zero so normalization is well conditioned
			wgts[i] = 0.05 + rng.Float64()
			wsum += wgts[i]
		}
		var y float64
		for i := range cols {
			wgts[i] /= wsum
			y += wgts[i] * s.SourceData[cols[i]]
			s.Triplets.Append(int64(tcol)+opt.MinDOF, int64(cols[i])+opt.MinDOF, wgts[i])
		}
		s.Baseline[tcol] = y
	}

	t := &s.Triplets
	rng.Shuffle(t.Len(), func(i, j int) {
		t.Rows[i], t.Rows[j] = t.Rows[j], t.Rows[i]
		t.Cols[i], t.Cols[j] = t.Cols[j], t.Cols[i]
		t.Weights[i], t.Weights[j] = t.Weights[j], t.Weights[i]
	})

	s.Header = Header{
		NumTriplets: t.Len(),
		NumSource:   opt.NumSource,
		NumTarget:   opt.NumTarget,
		NumColumns:  opt.NumSource,
		MinDOF:      opt.MinDOF,
	}
	return s, nil
}
