package main

import (
	"fmt"
	"io"
	"math"

	"github.com/notargets/hremap/comm"
	"github.com/notargets/hremap/config"
	"github.com/notargets/hremap/mapfile"
	"github.com/notargets/hremap/partitions"
	"github.com/notargets/hremap/remap"
	"github.com/notargets/hremap/runner"
	"github.com/notargets/hremap/utils"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"
)

// resultVariable names the remapped field in output files
const resultVariable = "dst_data"

func loadConfig(path string, cmd *cobra.Command, ranks int, backend, output string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("ranks") {
		cfg.Ranks = ranks
	}
	if backend != "" {
		cfg.Backend = backend
	}
	if output != "" {
		cfg.Output = output
	}
	return cfg, cfg.Validate()
}

type applyResult struct {
	// Field is indexed by target DOF - TargetMinDOF; NaN marks targets
	// without contributions
	Field []float64

	Segments      int
	Contributions int
	// UniqueSources is summed over ranks, so shared sources count once per rank
	UniqueSources int
	Ranks         *partitions.PartitionLayout
}

// runApply remaps the configured field. Ranks run as goroutines, each owning
// one partition of the target columns, and the result is gathered on rank 0.
func runApply(cfg *config.Config) (*applyResult, error) {
	f, err := mapfile.Open(cfg.RemapFile)
	if err != nil {
		return nil, err
	}
	hdr := f.Header()
	f.Close()

	numTarget := cfg.TargetColumns
	if numTarget == 0 {
		numTarget = hdr.NumTarget
	}
	pb := partitions.PartitionBuilder{NumItems: numTarget, NumPartitions: cfg.Ranks, Strategy: cfg.Strategy()}
	owners, err := pb.BuildPartitions()
	if err != nil {
		return nil, err
	}

	res := &applyResult{Field: make([]float64, numTarget), Ranks: owners}
	minDOF := remap.GlobalDOF(cfg.TargetMinDOF)

	world := comm.NewWorld(cfg.Ranks)
	err = world.Run(func(c comm.Comm) error {
		members := owners.Partitions[c.Rank()].Members
		targets := make([]remap.GlobalDOF, len(members))
		for i, item := range members {
			targets[i] = minDOF + remap.GlobalDOF(item)
		}

		m := remap.NewGSMap(minDOF, minDOF)
		if err := m.SetSegmentsFromFile(cfg.RemapFile, c, targets, minDOF); err != nil {
			return err
		}
		if err := m.Check(); err != nil {
			return fmt.Errorf("rank %d: %w", c.Rank(), err)
		}
		if err := m.SetUniqueSourceDOFs(); err != nil {
			return err
		}
		exec, release, err := newExecutor(cfg)
		if err != nil {
			return err
		}
		defer release()
		m.SetExecutor(exec)

		src, err := m.ReadSourceData(cfg.DataFile, cfg.DataVariable)
		if err != nil {
			return err
		}
		tgt := make([]float64, len(targets))
		for i := range tgt {
			tgt[i] = math.NaN()
		}
		if err := m.ApplyRemap(src, tgt); err != nil {
			return err
		}

		segments := comm.AllReduceSum(c, m.NumSegments())
		nnz := comm.AllReduceSum(c, m.Layout().NNZ())
		unique := comm.AllReduceSum(c, len(m.UniqueDOFs()))
		fields := comm.AllGather(c, tgt)
		if c.Rank() == 0 {
			for rank, vals := range fields {
				for i, item := range owners.Partitions[rank].Members {
					res.Field[item] = vals[i]
				}
			}
			res.Segments, res.Contributions, res.UniqueSources = segments, nnz, unique
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if cfg.Output != "" {
		if err := mapfile.WriteField(cfg.Output, mapfile.DimTarget, resultVariable, cfg.TargetMinDOF, res.Field); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func newExecutor(cfg *config.Config) (remap.Executor, func(), error) {
	if cfg.Backend != "occa" {
		return remap.ParallelExecutor{Workers: cfg.Workers}, func() {}, nil
	}
	device, err := utils.CreateDevice(cfg.Device.Modes)
	if err != nil {
		return nil, nil, err
	}
	kr, err := runner.NewRunner(device, runner.Options{
		PartitionSize: cfg.Device.PartitionSize,
		Strategy:      partitions.WeightedPartition,
		FloatType:     cfg.FloatType(),
	})
	if err != nil {
		device.Free()
		return nil, nil, err
	}
	return kr, func() {
		kr.Free()
		device.Free()
	}, nil
}

func (res *applyResult) report(out io.Writer, cfg *config.Config) error {
	covered := make([]float64, 0, len(res.Field))
	for _, v := range res.Field {
		if !math.IsNaN(v) {
			covered = append(covered, v)
		}
	}
	stats := res.Ranks.PartitionStatistics()
	fmt.Fprintf(out, "remapped %s:%s with %d ranks (%s backend)\n",
		cfg.DataFile, cfg.DataVariable, cfg.Ranks, cfg.Backend)
	fmt.Fprintf(out, "targets:   %d, %d with contributions, imbalance %.3f\n",
		len(res.Field), res.Segments, stats.Imbalance)
	fmt.Fprintf(out, "weights:   %d, unique sources per rank summed %d\n", res.Contributions, res.UniqueSources)
	if len(covered) > 0 {
		fmt.Fprintf(out, "field:     min %.6g, max %.6g, mean %.6g\n",
			floats.Min(covered), floats.Max(covered), floats.Sum(covered)/float64(len(covered)))
	}
	if cfg.Output != "" {
		fmt.Fprintf(out, "wrote %s:%s\n", cfg.Output, resultVariable)
	}
	return nil
}
