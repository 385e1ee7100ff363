package main

import (
	"context"
	"fmt"
	"time"

	"github.com/basekick-labs/readbench/internal/logger"
	"github.com/basekick-labs/readbench/internal/metrics"
	"github.com/basekick-labs/readbench/internal/scheduler"
	"github.com/basekick-labs/readbench/internal/shutdown"
	"github.com/spf13/cobra"
)

func newScheduleCmd(a *app) *cobra.Command {
	var (
		schedule string
		timeout  time.Duration
		runNow   bool
	)
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Re-run the benchmark on a cron schedule until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if cmd.Flags().Changed("schedule") {
				cfg.Scheduler.Schedule = schedule
			}
			if cmd.Flags().Changed("run-on-start") {
				cfg.Scheduler.RunOnStart = runNow
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			log := logger.Get("schedule")

			// Recorder outlives single runs so the textfile counters accumulate.
			var rec *metrics.Recorder
			if cfg.Metrics.Enabled {
				rec = metrics.NewRecorder(logger.Get("metrics"))
			}

			s, err := scheduler.New(&scheduler.Config{
				Run: func(ctx context.Context) error {
					_, err := executeRun(ctx, cfg, cmd.OutOrStdout(), rec)
					return err
				},
				Schedule: cfg.Scheduler.Schedule,
				Timeout:  timeout,
				Logger:   logger.Get("scheduler"),
			})
			if err != nil {
				return fmt.Errorf("failed to create scheduler: %w", err)
			}

			coord := shutdown.New(30*time.Second, logger.Get("shutdown"))
			coord.Register("scheduler", s, shutdown.PriorityScheduler)
			if rec != nil {
				path := cfg.Metrics.TextfilePath
				coord.Register("metrics-textfile", shutdown.CloseFunc(func() error {
					return rec.WriteTextfile(path)
				}), shutdown.PriorityMetrics)
			}

			if err := s.Start(); err != nil {
				return fmt.Errorf("failed to start scheduler: %w", err)
			}
			log.Info().Str("schedule", s.GetSchedule()).Msg("Waiting for scheduled runs")
			if cfg.Scheduler.RunOnStart {
				// Stop cancels this run and waits for its report.
				go func() {
					if err := s.TriggerNow(cmd.Context()); err != nil {
						log.Warn().Err(err).Msg("Initial run failed")
					}
				}()
			}

			sig := coord.WaitForSignal()
			log.Info().Str("signal", sig.String()).Msg("Stopping scheduler")
			return coord.Shutdown()
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&schedule, "schedule", "", "cron expression (default from scheduler.schedule)")
	fl.DurationVar(&timeout, "run-timeout", 0, "bound on a single scheduled run, 0 for none")
	fl.BoolVar(&runNow, "run-on-start", false, "run once immediately after starting")
	return cmd
}
