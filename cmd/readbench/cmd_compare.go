package main

import (
	"fmt"

	"github.com/basekick-labs/readbench/internal/report"
	"github.com/spf13/cobra"
)

func newCompareCmd(a *app) *cobra.Command {
	var (
		threshold float64
		format    string
		save      string
	)
	cmd := &cobra.Command{
		Use:   "compare <report>",
		Short: "Re-render a saved report, optionally with a different noise threshold",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := report.Load(args[0])
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("threshold") {
				if threshold < 0 || threshold >= 1 {
					return fmt.Errorf("threshold must be in [0, 1), got %v", threshold)
				}
				r.Recompute(threshold)
			}
			if r.Incomplete {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning: report is from an interrupted run")
			}

			if !cmd.Flags().Changed("format") {
				format = a.cfg.Report.Format
			}
			if format != "none" {
				if err := report.Render(cmd.OutOrStdout(), r.Verdicts, report.RenderOptions{
					Format: format,
					Color:  a.cfg.Report.Color,
				}); err != nil {
					return err
				}
			}

			if save != "" {
				return report.Save(save, r)
			}
			return nil
		},
	}
	fl := cmd.Flags()
	fl.Float64Var(&threshold, "threshold", report.DefaultNoiseThreshold, "noise threshold as a fraction (0.05 is 5%)")
	fl.StringVar(&format, "format", "", "table format: ascii, markdown or none")
	fl.StringVar(&save, "save", "", "write the recomputed report to this path")
	return cmd
}
