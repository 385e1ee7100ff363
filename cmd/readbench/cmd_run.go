package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/basekick-labs/readbench/internal/bench"
	"github.com/basekick-labs/readbench/internal/config"
	"github.com/basekick-labs/readbench/internal/logger"
	"github.com/basekick-labs/readbench/internal/metrics"
	"github.com/basekick-labs/readbench/internal/report"
	"github.com/basekick-labs/readbench/internal/shutdown"
	"github.com/spf13/cobra"
)

type runFlags struct {
	engine      string
	repetitions int
	warmup      int
	parallel    bool
	timingMode  string
	timeout     time.Duration
	output      string
	format      string
}

func newRunCmd(a *app) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the benchmark once and write a report",
		Long: `Runs every configured (dataset, ordering, strategy) combination the configured
number of times, prints the comparison table and writes the JSON report.
Trial failures are recorded in the report, not returned.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.apply(cmd, a.cfg)
			if err := a.cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			coord := shutdown.New(30*time.Second, logger.Get("shutdown"))
			coord.Watch()
			ctx, cancel := coord.Context(cmd.Context())
			defer cancel()

			var rec *metrics.Recorder
			if a.cfg.Metrics.Enabled {
				rec = metrics.NewRecorder(logger.Get("metrics"))
			}
			_, err := executeRun(ctx, a.cfg, cmd.OutOrStdout(), rec)
			return err
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.engine, "engine", "", "engine: duckdb, clickhouse or memory")
	fl.IntVarP(&f.repetitions, "repetitions", "n", 0, "repetitions per strategy, ordering and size class")
	fl.IntVar(&f.warmup, "warmup", 0, "discarded warmup rounds per group")
	fl.BoolVar(&f.parallel, "parallel", false, "run independent groups on separate engines")
	fl.StringVar(&f.timingMode, "timing-mode", "", "exclude_resolution or include_resolution")
	fl.DurationVar(&f.timeout, "timeout", 0, "per-trial timeout")
	fl.StringVarP(&f.output, "output", "o", "", "report path template ({run_id} and {time} are expanded)")
	fl.StringVar(&f.format, "format", "", "table format: ascii, markdown or none")
	return cmd
}

// apply copies explicitly set flags over the loaded config.
func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	fl := cmd.Flags()
	if fl.Changed("engine") {
		cfg.Engine.Type = f.engine
	}
	if fl.Changed("repetitions") {
		cfg.Benchmark.Repetitions = f.repetitions
	}
	if fl.Changed("warmup") {
		cfg.Benchmark.Warmup = f.warmup
	}
	if fl.Changed("parallel") {
		cfg.Benchmark.Parallel = f.parallel
	}
	if fl.Changed("timing-mode") {
		cfg.Benchmark.TimingMode = f.timingMode
	}
	if fl.Changed("timeout") {
		cfg.Benchmark.TrialTimeout = f.timeout
	}
	if fl.Changed("output") {
		cfg.Report.Path = f.output
	}
	if fl.Changed("format") {
		cfg.Report.Format = f.format
	}
}

// executeRun performs one benchmark run, renders it to out and persists the
// report. A canceled run still produces a report, marked incomplete, and
// returns the cancellation error.
func executeRun(ctx context.Context, cfg *config.Config, out io.Writer, rec *metrics.Recorder) (*report.Report, error) {
	log := logger.Get("run")

	bc, err := cfg.Bench()
	if err != nil {
		return nil, err
	}
	factory, err := engineFactory(cfg, bc)
	if err != nil {
		return nil, err
	}

	var observers []bench.Observer
	if rec != nil {
		observers = append(observers, rec)
	}
	runner, err := bench.NewRunner(bc, factory, logger.Get("bench"), observers...)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	samples, runErr := runner.Run(ctx)
	finish := time.Now()
	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		// Engine start-up failed; there is nothing meaningful to report.
		return nil, runErr
	}

	r := report.New(samples, report.Settings{
		Engine:         cfg.Engine.Type,
		Repetitions:    bc.Repetitions,
		Warmup:         bc.Warmup,
		TimingMode:     bc.TimingMode,
		TrialTimeout:   bc.TrialTimeout.String(),
		Parallel:       bc.Parallel,
		NoiseThreshold: cfg.Benchmark.NoiseThreshold,
	}, start, finish)
	r.Incomplete = runErr != nil
	r.Warnings = logger.GetBuffer().Since(start, "warn")

	if cfg.Report.Format != "none" {
		if err := report.Render(out, r.Verdicts, report.RenderOptions{
			Format: cfg.Report.Format,
			Color:  cfg.Report.Color,
		}); err != nil {
			return r, fmt.Errorf("failed to render report: %w", err)
		}
	}

	if cfg.Report.Path != "" {
		path := report.Path(cfg.Report.Path, r)
		if err := report.Save(path, r); err != nil {
			return r, fmt.Errorf("failed to save report: %w", err)
		}
		log.Info().
			Str("run_id", r.RunID).
			Str("path", path).
			Int("samples", len(r.Samples)).
			Bool("incomplete", r.Incomplete).
			Msg("Report written")
	}

	if rec != nil {
		rec.RunFinished(start, finish)
		if err := rec.WriteTextfile(cfg.Metrics.TextfilePath); err != nil {
			log.Warn().Err(err).Msg("Metrics textfile not written")
		}
	}

	for _, gap := range reportGaps(r) {
		log.Warn().Str("group", gap).Msg("No successful trials; mean is undefined")
	}
	return r, runErr
}

func reportGaps(r *report.Report) []string {
	var out []string
	for _, v := range r.Verdicts {
		for _, s := range v.Gaps {
			out = append(out, fmt.Sprintf("%s/%s/%s/%s", v.SizeClass, v.Dataset, v.Order, s))
		}
	}
	return out
}
