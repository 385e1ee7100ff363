package report

import (
	"math/rand"
	"testing"
	"time"

	"github.com/basekick-labs/readbench/internal/dataset"
	"github.com/basekick-labs/readbench/internal/pipeline"
	"github.com/basekick-labs/readbench/internal/stats"
	"github.com/basekick-labs/readbench/internal/trial"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(s dataset.Strategy, o pipeline.Order, d time.Duration) trial.Sample {
	return trial.Sample{
		Dataset:       "events",
		Strategy:      s,
		Order:         o,
		SizeClass:     dataset.SizeLarge,
		DurationNanos: d.Nanoseconds(),
		Succeeded:     true,
	}
}

func scenario(durations map[dataset.Strategy]time.Duration) []trial.Sample {
	var samples []trial.Sample
	for _, o := range pipeline.AllOrders {
		for _, s := range dataset.AllStrategies {
			samples = append(samples, sample(s, o, durations[s]))
		}
	}
	return samples
}

func TestCompare_ClearWinner(t *testing.T) {
	samples := scenario(map[dataset.Strategy]time.Duration{
		dataset.Eager:            100 * time.Millisecond,
		dataset.Deferred:         90 * time.Millisecond,
		dataset.DeferredFallible: 80 * time.Millisecond,
	})

	verdicts := Compare(stats.Summarize(samples), DefaultOptions())
	require.Len(t, verdicts, 2)

	for _, v := range verdicts {
		assert.Equal(t, "deferred_fallible", v.Winner, v.Order.String())
		require.Len(t, v.Ranked, 3)
		assert.Equal(t, dataset.DeferredFallible, v.Ranked[0].Strategy)
		assert.Equal(t, dataset.Deferred, v.Ranked[1].Strategy)
		assert.Equal(t, dataset.Eager, v.Ranked[2].Strategy)

		require.NotNil(t, v.Ranked[0].ImprovementPct)
		assert.InDelta(t, 20.0, *v.Ranked[0].ImprovementPct, 1e-9)
		assert.InDelta(t, 10.0, *v.Ranked[1].ImprovementPct, 1e-9)
		assert.InDelta(t, 0.0, *v.Ranked[2].ImprovementPct, 1e-9)
		assert.True(t, v.Ranked[2].Baseline)

		require.NotNil(t, v.MarginPct)
		assert.InDelta(t, 100.0/9.0, *v.MarginPct, 1e-9)
		assert.Empty(t, v.Gaps)
	}
}

func TestCompare_Tie(t *testing.T) {
	samples := scenario(map[dataset.Strategy]time.Duration{
		dataset.Eager:            100 * time.Millisecond,
		dataset.Deferred:         98 * time.Millisecond,
		dataset.DeferredFallible: 97 * time.Millisecond,
	})

	verdicts := Compare(stats.Summarize(samples), DefaultOptions())
	require.Len(t, verdicts, 2)
	for _, v := range verdicts {
		assert.Equal(t, WinnerTie, v.Winner)
		assert.Equal(t, dataset.DeferredFallible, v.Ranked[0].Strategy)
	}
}

func TestCompare_ThresholdIsConfigurable(t *testing.T) {
	samples := scenario(map[dataset.Strategy]time.Duration{
		dataset.Eager:            100 * time.Millisecond,
		dataset.Deferred:         98 * time.Millisecond,
		dataset.DeferredFallible: 97 * time.Millisecond,
	})

	opts := DefaultOptions()
	opts.NoiseThreshold = 0.005
	verdicts := Compare(stats.Summarize(samples), opts)
	assert.Equal(t, "deferred_fallible", verdicts[0].Winner)
}

func TestCompare_UndefinedMeans(t *testing.T) {
	samples := []trial.Sample{
		sample(dataset.Deferred, pipeline.TopSecond, 50*time.Millisecond),
		sample(dataset.DeferredFallible, pipeline.TopSecond, 60*time.Millisecond),
		{Dataset: "events", Strategy: dataset.Eager, Order: pipeline.TopSecond, SizeClass: dataset.SizeLarge, ErrorKind: trial.KindTimeout},
	}

	verdicts := Compare(stats.Summarize(samples), DefaultOptions())
	require.Len(t, verdicts, 1)
	v := verdicts[0]

	// Baseline has no mean, so improvements are undefined, but ranking still works.
	assert.Equal(t, "deferred", v.Winner)
	assert.Equal(t, []dataset.Strategy{dataset.Eager}, v.Gaps)
	require.Len(t, v.Ranked, 3)
	assert.Equal(t, dataset.Eager, v.Ranked[2].Strategy, "undefined means rank last")
	for _, r := range v.Ranked {
		assert.Nil(t, r.ImprovementPct)
	}
	assert.True(t, v.HasFailures())
}

func TestCompare_NoneWithSingleDefinedMean(t *testing.T) {
	samples := []trial.Sample{
		sample(dataset.Eager, pipeline.TopSecond, 50*time.Millisecond),
		{Dataset: "events", Strategy: dataset.Deferred, Order: pipeline.TopSecond, SizeClass: dataset.SizeLarge, ErrorKind: trial.KindResolution},
	}

	verdicts := Compare(stats.Summarize(samples), DefaultOptions())
	require.Len(t, verdicts, 1)
	assert.Equal(t, WinnerNone, verdicts[0].Winner)
	assert.Nil(t, verdicts[0].MarginPct)
}

func TestCompare_EqualMeansBreakByStrategyOrder(t *testing.T) {
	samples := scenario(map[dataset.Strategy]time.Duration{
		dataset.Eager:            10 * time.Millisecond,
		dataset.Deferred:         10 * time.Millisecond,
		dataset.DeferredFallible: 10 * time.Millisecond,
	})
	v := Compare(stats.Summarize(samples), DefaultOptions())[0]
	assert.Equal(t, WinnerTie, v.Winner)
	assert.Equal(t, dataset.Eager, v.Ranked[0].Strategy)
	assert.Equal(t, dataset.Deferred, v.Ranked[1].Strategy)
	assert.Equal(t, dataset.DeferredFallible, v.Ranked[2].Strategy)
}

// Shuffling the summaries must not change the verdicts.
func TestCompare_Deterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("compare is independent of input order", prop.ForAll(
		func(ms []int64, seed int64) bool {
			var samples []trial.Sample
			for i, m := range ms {
				s := dataset.AllStrategies[i%len(dataset.AllStrategies)]
				o := pipeline.AllOrders[(i/len(dataset.AllStrategies))%len(pipeline.AllOrders)]
				samples = append(samples, sample(s, o, time.Duration(m)*time.Millisecond))
			}
			sums := stats.Summarize(samples)
			want := Compare(sums, DefaultOptions())

			shuffled := make([]stats.Summary, len(sums))
			copy(shuffled, sums)
			rnd := rand.New(rand.NewSource(seed))
			rnd.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
			got := Compare(shuffled, DefaultOptions())

			if len(got) != len(want) {
				return false
			}
			for i := range got {
				if got[i].Winner != want[i].Winner || len(got[i].Ranked) != len(want[i].Ranked) {
					return false
				}
				for j := range got[i].Ranked {
					if got[i].Ranked[j].Strategy != want[i].Ranked[j].Strategy {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOf(gen.Int64Range(1, 1000)),
		gen.Int64(),
	))

	properties.TestingRun(t)
}
