// Package stats reduces trial samples into per-(strategy, ordering, size class)
// summaries. Failed samples are counted but never enter the timing statistics.
package stats

import (
	"math"
	"sort"
	"sync"

	"github.com/basekick-labs/readbench/internal/dataset"
	"github.com/basekick-labs/readbench/internal/pipeline"
	"github.com/basekick-labs/readbench/internal/trial"
)

// Key identifies one summary group.
type Key struct {
	Dataset   string            `json:"dataset"`
	SizeClass dataset.SizeClass `json:"size_class"`
	Order     pipeline.Order    `json:"order"`
	Strategy  dataset.Strategy  `json:"strategy"`
}

// KeyOf returns the group key of a sample.
func KeyOf(s trial.Sample) Key {
	return Key{Dataset: s.Dataset, SizeClass: s.SizeClass, Order: s.Order, Strategy: s.Strategy}
}

func (k Key) less(o Key) bool {
	if k.SizeClass != o.SizeClass {
		return k.SizeClass < o.SizeClass
	}
	if k.Dataset != o.Dataset {
		return k.Dataset < o.Dataset
	}
	if k.Order != o.Order {
		return k.Order < o.Order
	}
	return k.Strategy < o.Strategy
}

// Summary holds the statistics of one group. Timing fields are nil when the
// group has no successful sample.
type Summary struct {
	Key
	SampleCount    int                     `json:"sample_count"`
	Successes      int                     `json:"successes"`
	Failures       int                     `json:"failures"`
	FailuresByKind map[trial.ErrorKind]int `json:"failures_by_kind,omitempty"`
	ErrorRate      float64                 `json:"error_rate"`
	MeanNanos      *float64                `json:"mean_nanos"`
	StddevNanos    *float64                `json:"stddev_nanos"`
	MedianNanos    *float64                `json:"median_nanos"`
	MinNanos       *int64                  `json:"min_nanos"`
	MaxNanos       *int64                  `json:"max_nanos"`
}

// Defined reports whether the group has a mean.
func (s Summary) Defined() bool { return s.MeanNanos != nil }

// accumulator keeps running moments (Welford) plus the raw successful
// durations for the median.
type accumulator struct {
	key       Key
	n         int
	mean      float64
	m2        float64
	min, max  int64
	durations []int64
	failures  int
	byKind    map[trial.ErrorKind]int
}

func (a *accumulator) add(s trial.Sample) {
	if !s.Succeeded {
		a.failures++
		if a.byKind == nil {
			a.byKind = make(map[trial.ErrorKind]int)
		}
		a.byKind[s.ErrorKind]++
		return
	}

	d := s.DurationNanos
	a.n++
	delta := float64(d) - a.mean
	a.mean += delta / float64(a.n)
	a.m2 += delta * (float64(d) - a.mean)
	if a.n == 1 || d < a.min {
		a.min = d
	}
	if a.n == 1 || d > a.max {
		a.max = d
	}
	a.durations = append(a.durations, d)
}

func (a *accumulator) summary() Summary {
	total := a.n + a.failures
	out := Summary{
		Key:         a.key,
		SampleCount: total,
		Successes:   a.n,
		Failures:    a.failures,
	}
	if total > 0 {
		out.ErrorRate = float64(a.failures) / float64(total)
	}
	if len(a.byKind) > 0 {
		out.FailuresByKind = make(map[trial.ErrorKind]int, len(a.byKind))
		for k, v := range a.byKind {
			out.FailuresByKind[k] = v
		}
	}
	if a.n == 0 {
		return out
	}

	mean := a.mean
	stddev := 0.0
	if a.n > 1 {
		stddev = math.Sqrt(a.m2 / float64(a.n-1))
	}
	median := medianOf(a.durations)
	lo, hi := a.min, a.max
	out.MeanNanos = &mean
	out.StddevNanos = &stddev
	out.MedianNanos = &median
	out.MinNanos = &lo
	out.MaxNanos = &hi
	return out
}

func medianOf(values []int64) float64 {
	sorted := make([]int64, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return float64(sorted[mid])
	}
	return (float64(sorted[mid-1]) + float64(sorted[mid])) / 2
}

// Aggregator accumulates samples online. It is safe for concurrent use.
type Aggregator struct {
	mu     sync.Mutex
	groups map[Key]*accumulator
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{groups: make(map[Key]*accumulator)}
}

// Add records one sample.
func (a *Aggregator) Add(s trial.Sample) {
	key := KeyOf(s)

	a.mu.Lock()
	defer a.mu.Unlock()
	acc, ok := a.groups[key]
	if !ok {
		acc = &accumulator{key: key}
		a.groups[key] = acc
	}
	acc.add(s)
}

// Summaries returns the current summaries ordered by size class, dataset,
// ordering and strategy.
func (a *Aggregator) Summaries() []Summary {
	a.mu.Lock()
	out := make([]Summary, 0, len(a.groups))
	for _, acc := range a.groups {
		out = append(out, acc.summary())
	}
	a.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key.less(out[j].Key) })
	return out
}

// Summarize is the batch form of Aggregator.
func Summarize(samples []trial.Sample) []Summary {
	agg := NewAggregator()
	for _, s := range samples {
		agg.Add(s)
	}
	return agg.Summaries()
}

// Gaps returns the summaries that have no successful sample.
func Gaps(summaries []Summary) []Summary {
	var gaps []Summary
	for _, s := range summaries {
		if !s.Defined() {
			gaps = append(gaps, s)
		}
	}
	return gaps
}
