package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "hremap",
		Short: "Distributed sparse horizontal remapping",
		Long: `hremap interpolates horizontal fields between unstructured grids
using a precomputed sparse map stored as NetCDF triplets (row, col, S).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newGenerateCmd(), newInspectCmd(), newApplyCmd())
	return root
}

func newGenerateCmd() *cobra.Command {
	var opts generateOptions
	cmd := &cobra.Command{
		Use:   "generate <map.nc>",
		Short: "Write a random row-normalized map with source data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Path = args[0]
			return runGenerate(cmd.OutOrStdout(), opts)
		},
	}
	f := cmd.Flags()
	f.IntVar(&opts.NumSource, "source", 86, "source grid columns (n_a)")
	f.IntVar(&opts.NumTarget, "target", 21, "target grid columns (n_b)")
	f.IntVar(&opts.MinContrib, "min-contrib", 2, "minimum contributions per target")
	f.IntVar(&opts.MaxContrib, "max-contrib", 10, "maximum contributions per target")
	f.Int64Var(&opts.MinDOF, "min-dof", 1, "index of the first row and column")
	f.Uint64Var(&opts.Seed, "seed", 1, "random seed")
	f.StringVar(&opts.Baseline, "baseline", "", "also write the exact remapped field to this file")
	f.StringVar(&opts.Config, "config", "", "also write a control file for apply")
	return cmd
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <map.nc>",
		Short: "Validate a map file and print its statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd.OutOrStdout(), args[0])
		},
	}
}

func newApplyCmd() *cobra.Command {
	var (
		configPath string
		ranks      int
		backend    string
		output     string
	)
	cmd := &cobra.Command{
		Use:   "apply -c <hremap.yaml>",
		Short: "Remap a source field onto the target grid",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, cmd, ranks, backend, output)
			if err != nil {
				return err
			}
			res, err := runApply(cfg)
			if err != nil {
				return err
			}
			return res.report(cmd.OutOrStdout(), cfg)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&configPath, "config", "c", "hremap.yaml", "control file")
	f.IntVar(&ranks, "ranks", 0, "override the number of ranks")
	f.StringVar(&backend, "backend", "", "override the backend (cpu|occa)")
	f.StringVarP(&output, "output", "o", "", "override the output file")
	return cmd
}
