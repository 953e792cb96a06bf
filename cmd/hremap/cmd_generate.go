package main

import (
	"fmt"
	"io"
	"math/rand/v2"

	"github.com/notargets/hremap/config"
	"github.com/notargets/hremap/mapfile"
)

type generateOptions struct {
	Path       string
	NumSource  int
	NumTarget  int
	MinContrib int
	MaxContrib int
	MinDOF     int64
	Seed       uint64
	Baseline   string
	Config     string
}

func runGenerate(out io.Writer, opts generateOptions) error {
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	s, err := mapfile.Generate(rng, mapfile.GenerateOptions{
		NumSource:  opts.NumSource,
		NumTarget:  opts.NumTarget,
		MinContrib: opts.MinContrib,
		MaxContrib: opts.MaxContrib,
		MinDOF:     opts.MinDOF,
	})
	if err != nil {
		return err
	}
	if err := mapfile.Create(opts.Path, s.Header, s.Triplets, s.SourceData); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %s: %d triplets, n_a=%d n_b=%d, min_dof=%d\n",
		opts.Path, s.Header.NumTriplets, s.Header.NumSource, s.Header.NumTarget, s.Header.MinDOF)

	if opts.Baseline != "" {
		if err := mapfile.WriteField(opts.Baseline, mapfile.DimTarget, resultVariable, opts.MinDOF, s.Baseline); err != nil {
			return err
		}
		fmt.Fprintf(out, "wrote baseline %s\n", opts.Baseline)
	}
	if opts.Config != "" {
		cfg := config.Default()
		cfg.RemapFile = opts.Path
		cfg.DataFile = opts.Path
		cfg.TargetMinDOF = opts.MinDOF
		if err := cfg.Write(opts.Config); err != nil {
			return err
		}
		fmt.Fprintf(out, "wrote control file %s\n", opts.Config)
	}
	return nil
}
