package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
)

// Table formats.
const (
	FormatASCII    = "ascii"
	FormatMarkdown = "markdown"
)

// RenderOptions controls Render.
type RenderOptions struct {
	Format string
	Color  bool
}

var headers = []string{"size class", "dataset", "order", "strategy", "mean", "stddev", "vs baseline", "failures", "verdict"}

// Render writes the verdicts as one table. Failure rates are shown next to the
// mean of every strategy so partial means are never read on their own.
func Render(w io.Writer, verdicts []Verdict, opts RenderOptions) error {
	var rend tw.Renderer
	switch strings.ToLower(opts.Format) {
	case "", FormatASCII:
		rend = renderer.NewBlueprint()
	case FormatMarkdown:
		rend = renderer.NewMarkdown()
	default:
		return fmt.Errorf("unknown table format %q (use ascii or markdown)", opts.Format)
	}

	alignment := make([]tw.Align, len(headers))
	for i := range alignment {
		alignment[i] = tw.AlignNone
	}

	table := tablewriter.NewTable(w,
		tablewriter.WithRenderer(rend),
		tablewriter.WithAlignment(alignment),
		tablewriter.WithHeaderAutoFormat(tw.Off),
	)
	table.Header(headers)

	for _, v := range verdicts {
		for i, r := range v.Ranked {
			verdict := ""
			if i == 0 {
				verdict = verdictLabel(v, opts.Color)
			}
			strategy := r.Strategy.String()
			if r.Baseline {
				strategy += " (baseline)"
			}
			table.Append([]string{
				v.SizeClass.String(),
				v.Dataset,
				v.Order.String(),
				strategy,
				formatNanos(r.MeanNanos),
				formatNanos(r.StddevNanos),
				formatPct(r.ImprovementPct, r.Baseline),
				formatFailures(r, opts.Color),
				verdict,
			})
		}
	}

	return table.Render()
}

func verdictLabel(v Verdict, colored bool) string {
	var label string
	switch v.Winner {
	case WinnerNone:
		label = "no comparison"
	case WinnerTie:
		label = "tie"
	default:
		label = "winner: " + v.Winner
	}
	if v.MarginPct != nil {
		label += fmt.Sprintf(" (margin %.1f%%)", *v.MarginPct)
	}
	if v.HasFailures() {
		label += ", partial data"
	}
	if !colored {
		return label
	}
	switch v.Winner {
	case WinnerNone:
		return color.RedString(label)
	case WinnerTie:
		return color.YellowString(label)
	default:
		return color.GreenString(label)
	}
}

func formatNanos(ns *float64) string {
	if ns == nil {
		return "undefined"
	}
	return time.Duration(int64(*ns)).Round(time.Microsecond).String()
}

func formatPct(pct *float64, baseline bool) string {
	if baseline {
		return "-"
	}
	if pct == nil {
		return "n/a"
	}
	return fmt.Sprintf("%+.1f%%", *pct)
}

func formatFailures(r Ranked, colored bool) string {
	s := fmt.Sprintf("%d/%d (%.0f%%)", r.Failures, r.SampleCount, r.ErrorRate*100)
	if colored && r.Failures > 0 {
		return color.RedString(s)
	}
	return s
}
