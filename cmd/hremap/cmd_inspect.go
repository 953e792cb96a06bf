package main

import (
	"fmt"
	"io"

	"github.com/notargets/hremap/mapfile"
	"github.com/notargets/hremap/remap"
)

func runInspect(out io.Writer, path string) error {
	f, err := mapfile.Open(path)
	if err != nil {
		return err
	}
	hdr := f.Header()
	f.Close()

	fmt.Fprintf(out, "file:      %s\n", path)
	fmt.Fprintf(out, "triplets:  %d (n_s)\n", hdr.NumTriplets)
	fmt.Fprintf(out, "source:    %d (n_a)\n", hdr.NumSource)
	fmt.Fprintf(out, "target:    %d (n_b)\n", hdr.NumTarget)
	fmt.Fprintf(out, "min_dof:   %d\n", hdr.MinDOF)
	if hdr.NumColumns > 0 {
		fmt.Fprintf(out, "src_data:  %d (ncol)\n", hdr.NumColumns)
	}

	minDOF := remap.GlobalDOF(hdr.MinDOF)
	targets := make([]remap.GlobalDOF, hdr.NumTarget)
	for i := range targets {
		targets[i] = minDOF + remap.GlobalDOF(i)
	}
	m := remap.NewGSMap(minDOF, minDOF)
	if err := m.SetSegmentsFromFile(path, nil, targets, minDOF); err != nil {
		return err
	}
	if err := m.Check(); err != nil {
		fmt.Fprintf(out, "status:    INVALID\n")
		return err
	}
	if err := m.SetUniqueSourceDOFs(); err != nil {
		return err
	}
	l := m.Layout()
	fmt.Fprintf(out, "segments:  %d of %d targets\n", m.NumSegments(), hdr.NumTarget)
	fmt.Fprintf(out, "unique:    %d sources referenced\n", len(m.UniqueDOFs()))
	fmt.Fprintf(out, "row len:   max %d, mean %.2f\n", l.MaxRowLength(), float64(l.NNZ())/float64(max(1, l.NumRows())))
	fmt.Fprintf(out, "status:    OK\n")
	return nil
}
