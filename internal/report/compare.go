package report

import (
	"sort"

	"github.com/basekick-labs/readbench/internal/dataset"
	"github.com/basekick-labs/readbench/internal/pipeline"
	"github.com/basekick-labs/readbench/internal/stats"
)

const (
	// DefaultNoiseThreshold is the margin the best strategy must beat the
	// next-best by before it is declared the winner.
	DefaultNoiseThreshold = 0.05

	// WinnerTie is recorded when the best strategy does not clear the threshold.
	WinnerTie = "tie"
	// WinnerNone is recorded when fewer than two strategies have a defined mean.
	WinnerNone = "none"
)

// Options configures Compare.
type Options struct {
	NoiseThreshold float64
	Baseline       dataset.Strategy
}

// DefaultOptions returns a 5% threshold with Eager as the baseline.
func DefaultOptions() Options {
	return Options{NoiseThreshold: DefaultNoiseThreshold, Baseline: dataset.Eager}
}

// Ranked is one strategy's line in a verdict.
type Ranked struct {
	Strategy       dataset.Strategy `json:"strategy"`
	MeanNanos      *float64         `json:"mean_nanos"`
	StddevNanos    *float64         `json:"stddev_nanos"`
	ImprovementPct *float64         `json:"improvement_pct"`
	SampleCount    int              `json:"sample_count"`
	Failures       int              `json:"failures"`
	ErrorRate      float64          `json:"error_rate"`
	Baseline       bool             `json:"baseline"`
}

// Verdict is the comparison result of one (ordering, size class) group.
type Verdict struct {
	Dataset   string            `json:"dataset"`
	SizeClass dataset.SizeClass `json:"size_class"`
	Order     pipeline.Order    `json:"order"`
	Ranked    []Ranked          `json:"ranked"`
	Winner    string            `json:"winner"`
	MarginPct *float64          `json:"margin_pct"`
	// Gaps lists strategies with no successful sample.
	Gaps []dataset.Strategy `json:"gaps,omitempty"`
}

// HasFailures reports whether any ranked strategy recorded a failure.
func (v Verdict) HasFailures() bool {
	for _, r := range v.Ranked {
		if r.Failures > 0 {
			return true
		}
	}
	return false
}

type groupKey struct {
	sizeClass dataset.SizeClass
	dataset   string
	order     pipeline.Order
}

// Compare produces one verdict per (ordering, size class). The output only
// depends on the summaries, never on their input order.
func Compare(summaries []stats.Summary, opts Options) []Verdict {
	if opts.NoiseThreshold < 0 {
		opts.NoiseThreshold = 0
	}

	groups := make(map[groupKey][]stats.Summary)
	var keys []groupKey
	for _, s := range summaries {
		k := groupKey{sizeClass: s.SizeClass, dataset: s.Dataset, order: s.Order}
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], s)
	}

	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.sizeClass != b.sizeClass {
			return a.sizeClass < b.sizeClass
		}
		if a.dataset != b.dataset {
			return a.dataset < b.dataset
		}
		return a.order < b.order
	})

	verdicts := make([]Verdict, 0, len(keys))
	for _, k := range keys {
		verdicts = append(verdicts, compareGroup(k, groups[k], opts))
	}
	return verdicts
}

func compareGroup(k groupKey, group []stats.Summary, opts Options) Verdict {
	sorted := make([]stats.Summary, len(group))
	copy(sorted, group)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		switch {
		case a.Defined() && !b.Defined():
			return true
		case !a.Defined() && b.Defined():
			return false
		case a.Defined() && *a.MeanNanos != *b.MeanNanos:
			return *a.MeanNanos < *b.MeanNanos
		}
		return a.Strategy < b.Strategy
	})

	var baseline *float64
	for _, s := range sorted {
		if s.Strategy == opts.Baseline {
			baseline = s.MeanNanos
		}
	}

	v := Verdict{Dataset: k.dataset, SizeClass: k.sizeClass, Order: k.order, Winner: WinnerNone}
	defined := 0
	for _, s := range sorted {
		r := Ranked{
			Strategy:    s.Strategy,
			MeanNanos:   s.MeanNanos,
			StddevNanos: s.StddevNanos,
			SampleCount: s.SampleCount,
			Failures:    s.Failures,
			ErrorRate:   s.ErrorRate,
			Baseline:    s.Strategy == opts.Baseline,
		}
		if s.Defined() {
			defined++
			if baseline != nil && *baseline != 0 {
				imp := (*baseline - *s.MeanNanos) / *baseline * 100
				r.ImprovementPct = &imp
			}
		} else {
			v.Gaps = append(v.Gaps, s.Strategy)
		}
		v.Ranked = append(v.Ranked, r)
	}

	if defined < 2 {
		return v
	}

	best, next := *sorted[0].MeanNanos, *sorted[1].MeanNanos
	margin := 0.0
	if next > 0 {
		margin = (next - best) / next
	}
	marginPct := margin * 100
	v.MarginPct = &marginPct

	if margin > opts.NoiseThreshold {
		v.Winner = sorted[0].Strategy.String()
	} else {
		v.Winner = WinnerTie
	}
	return v
}
