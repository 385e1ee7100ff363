package main

import (
	"fmt"
	"time"

	"github.com/basekick-labs/readbench/internal/bench"
	"github.com/basekick-labs/readbench/internal/dataset"
	"github.com/basekick-labs/readbench/internal/generate"
	"github.com/basekick-labs/readbench/internal/logger"
	"github.com/basekick-labs/readbench/internal/storage"
	"github.com/spf13/cobra"
)

func newGenerateCmd(a *app) *cobra.Command {
	var (
		sizeClass   string
		out         string
		seed        int64
		compression string
		force       bool
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write the synthetic parquet datasets",
		Long: `Writes every configured dataset to its location, or a single dataset of
--size-class to --out. Locations may be local paths, s3://bucket/prefix or
azure://container/prefix. Existing datasets are left alone unless --force
is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if cmd.Flags().Changed("seed") {
				cfg.Generate.Seed = seed
			}
			if cmd.Flags().Changed("compression") {
				cfg.Generate.Compression = compression
			}

			var targets []bench.DatasetSpec
			if out != "" {
				class, err := dataset.ParseSizeClass(sizeClass)
				if err != nil {
					return err
				}
				targets = append(targets, bench.DatasetSpec{
					Name:      class.String(),
					Location:  dataset.Location(out),
					SizeClass: class,
					Keys:      generate.DefaultSpec(class).Keys,
				})
			} else {
				bc, err := cfg.Bench()
				if err != nil {
					return fmt.Errorf("invalid configuration: %w", err)
				}
				for _, ds := range bc.Datasets {
					if cmd.Flags().Changed("size-class") && ds.SizeClass.String() != sizeClass {
						continue
					}
					targets = append(targets, ds)
				}
			}
			if len(targets) == 0 {
				return fmt.Errorf("no datasets to generate")
			}

			log := logger.Get("generate")
			for _, ds := range targets {
				spec := cfg.Generate.Spec(ds.SizeClass, ds.Keys, cfg.Benchmark.CountColumn)
				sum, err := writeDataset(cmd, cfg.StorageConfig(), cfg.Generate.Workers, force, ds.Location, spec)
				if err != nil {
					return fmt.Errorf("dataset %s: %w", ds.Name, err)
				}
				log.Info().Str("dataset", ds.Name).Str("location", ds.Location.String()).Msg("Dataset ready")
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d files\t%d rows\t%d bytes\t%s\n",
					ds.Name, ds.Location, sum.Files, sum.Rows, sum.Bytes, sum.Duration.Round(time.Millisecond))
			}
			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&sizeClass, "size-class", dataset.SizeSmall.String(), "size class: small, average or large")
	fl.StringVarP(&out, "out", "o", "", "write a single dataset to this location")
	fl.Int64Var(&seed, "seed", 0, "random seed")
	fl.StringVar(&compression, "compression", "", "parquet compression: snappy, zstd, gzip or none")
	fl.BoolVarP(&force, "force", "f", false, "replace an existing dataset")
	return cmd
}

func writeDataset(cmd *cobra.Command, scfg storage.Config, workers int, force bool, loc dataset.Location, spec generate.Spec) (generate.Summary, error) {
	ref, err := storage.ParseLocation(loc.String())
	if err != nil {
		return generate.Summary{}, err
	}
	backend, prefix, err := storage.Open(cmd.Context(), ref, scfg, logger.Get("storage"))
	if err != nil {
		return generate.Summary{}, err
	}
	defer backend.Close()

	return generate.NewWriter(backend, workers, logger.Get("generate")).
		Overwrite(force).
		Write(cmd.Context(), prefix, spec)
}
