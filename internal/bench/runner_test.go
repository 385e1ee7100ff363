package bench

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/basekick-labs/readbench/internal/dataset"
	"github.com/basekick-labs/readbench/internal/inmem"
	"github.com/basekick-labs/readbench/internal/pipeline"
	"github.com/basekick-labs/readbench/internal/stats"
	"github.com/basekick-labs/readbench/internal/trial"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keys = pipeline.KeyColumns{Top: "region", Second: "device"}

func table() *inmem.Table {
	return &inmem.Table{
		Columns: []string{"region", "device", "user_id"},
		Rows: [][]any{
			{"eu", "mobile", int64(1)},
			{"eu", "mobile", int64(2)},
			{"eu", "desktop", int64(3)},
			{"us", "mobile", int64(4)},
			{"us", "desktop", int64(5)},
			{"us", "desktop", int64(6)},
			{"us", "desktop", int64(7)},
		},
	}
}

func staticFactory(eng *inmem.Engine) EngineFactory {
	return func(context.Context) (Engine, error) { return eng, nil }
}

func testConfig(datasets ...DatasetSpec) Config {
	cfg := DefaultConfig()
	cfg.Datasets = datasets
	cfg.CountColumn = "user_id"
	cfg.Repetitions = 3
	cfg.Warmup = 0
	cfg.TrialTimeout = time.Second
	return cfg
}

func spec(name string, loc dataset.Location, class dataset.SizeClass) DatasetSpec {
	return DatasetSpec{Name: name, Location: loc, SizeClass: class, Keys: keys}
}

func TestConfigValidate(t *testing.T) {
	valid := testConfig(spec("a", "a", dataset.SizeSmall))
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no datasets", func(c *Config) { c.Datasets = nil }},
		{"no count column", func(c *Config) { c.CountColumn = "" }},
		{"no strategies", func(c *Config) { c.Strategies = nil }},
		{"no orders", func(c *Config) { c.Orders = nil }},
		{"zero repetitions", func(c *Config) { c.Repetitions = 0 }},
		{"negative warmup", func(c *Config) { c.Warmup = -1 }},
		{"duplicate strategy", func(c *Config) { c.Strategies = []dataset.Strategy{dataset.Eager, dataset.Eager} }},
		{"duplicate size class", func(c *Config) {
			c.Datasets = append(c.Datasets, spec("b", "b", dataset.SizeSmall))
		}},
		{"duplicate name", func(c *Config) {
			c.Datasets = append(c.Datasets, spec("a", "b", dataset.SizeLarge))
		}},
		{"equal key columns", func(c *Config) { c.Datasets[0].Keys = pipeline.KeyColumns{Top: "x", Second: "x"} }},
		{"count column is a key", func(c *Config) { c.CountColumn = "region" }},
		{"parallel without limit", func(c *Config) { c.Parallel = true; c.MaxParallelGroups = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(spec("a", "a", dataset.SizeSmall))
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestRun_CoversEveryCombination(t *testing.T) {
	eng := inmem.New()
	eng.Register("small", table())
	eng.Register("large", table())

	cfg := testConfig(spec("small", "small", dataset.SizeSmall), spec("large", "large", dataset.SizeLarge))
	runner, err := NewRunner(cfg, staticFactory(eng), zerolog.Nop())
	require.NoError(t, err)

	samples, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, samples, 2*2*3*3)

	counts := make(map[stats.Key]int)
	for _, s := range samples {
		assert.True(t, s.Succeeded, s.Error)
		counts[stats.KeyOf(s)]++
	}
	assert.Len(t, counts, 12)
	for k, n := range counts {
		assert.Equal(t, 3, n, "%+v", k)
	}

	// Every strategy sees the same scalar for a given ordering.
	results := make(map[pipeline.Order]map[int64]bool)
	for _, s := range samples {
		if results[s.Order] == nil {
			results[s.Order] = make(map[int64]bool)
		}
		results[s.Order][s.Result] = true
	}
	assert.Len(t, results[pipeline.TopSecond], 1)
	assert.Len(t, results[pipeline.SecondTop], 1)
}

func TestRun_RotatesStrategyOrder(t *testing.T) {
	eng := inmem.New()
	eng.Register("ds", table())

	cfg := testConfig(spec("ds", "ds", dataset.SizeAverage))
	cfg.Orders = []pipeline.Order{pipeline.TopSecond}
	runner, err := NewRunner(cfg, staticFactory(eng), zerolog.Nop())
	require.NoError(t, err)

	samples, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, samples, 9)

	firsts := []dataset.Strategy{samples[0].Strategy, samples[3].Strategy, samples[6].Strategy}
	assert.Equal(t, []dataset.Strategy{dataset.Eager, dataset.Deferred, dataset.DeferredFallible}, firsts)
}

func TestRun_WarmupDiscarded(t *testing.T) {
	eng := inmem.New()
	eng.Register("ds", table())

	cfg := testConfig(spec("ds", "ds", dataset.SizeAverage))
	cfg.Orders = []pipeline.Order{pipeline.TopSecond}
	cfg.Warmup = 2
	runner, err := NewRunner(cfg, staticFactory(eng), zerolog.Nop())
	require.NoError(t, err)

	samples, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, samples, 9)
	for _, s := range samples {
		assert.GreaterOrEqual(t, s.Repetition, 0)
	}

	opens, _ := eng.Stats()
	assert.Equal(t, 15, opens, "one fresh resolution per warmup and measured trial")
}

func TestRun_ResolutionFailureScenario(t *testing.T) {
	eng := inmem.New()
	eng.Register("good", table())

	cfg := testConfig(spec("good", "good", dataset.SizeSmall), spec("broken", "s3://missing/bucket", dataset.SizeLarge))
	runner, err := NewRunner(cfg, staticFactory(eng), zerolog.Nop())
	require.NoError(t, err)

	samples, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, samples, 36)

	for _, s := range samples {
		if s.Dataset == "broken" {
			assert.False(t, s.Succeeded)
			assert.Equal(t, trial.KindResolution, s.ErrorKind)
		} else {
			assert.True(t, s.Succeeded)
		}
	}

	for _, sum := range stats.Summarize(samples) {
		if sum.Dataset != "broken" {
			continue
		}
		assert.Nil(t, sum.MeanNanos)
		assert.Equal(t, cfg.Repetitions, sum.Failures)
		assert.Equal(t, cfg.Repetitions, sum.SampleCount)
	}
}

func TestRun_TimeoutScenario(t *testing.T) {
	eng := inmem.New()
	eng.Register("fast", table())
	eng.Register("slow", table())
	eng.SetFaults("slow", inmem.Faults{ExecuteDelay: 10 * time.Second})

	cfg := testConfig(spec("slow", "slow", dataset.SizeSmall), spec("fast", "fast", dataset.SizeLarge))
	cfg.Repetitions = 1
	cfg.TrialTimeout = 20 * time.Millisecond
	runner, err := NewRunner(cfg, staticFactory(eng), zerolog.Nop())
	require.NoError(t, err)

	start := time.Now()
	samples, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	require.Len(t, samples, 12)

	for _, s := range samples {
		if s.Dataset == "slow" {
			assert.Equal(t, trial.KindTimeout, s.ErrorKind)
		} else {
			assert.True(t, s.Succeeded)
		}
	}
}

func TestRun_Parallel(t *testing.T) {
	var created atomic.Int32
	factory := func(context.Context) (Engine, error) {
		created.Add(1)
		eng := inmem.New()
		eng.Register("small", table())
		eng.Register("large", table())
		return eng, nil
	}

	cfg := testConfig(spec("small", "small", dataset.SizeSmall), spec("large", "large", dataset.SizeLarge))
	cfg.Parallel = true
	cfg.MaxParallelGroups = 4

	var mu sync.Mutex
	observed := 0
	obs := ObserverFunc(func(trial.Sample) {
		mu.Lock()
		observed++
		mu.Unlock()
	})

	runner, err := NewRunner(cfg, factory, zerolog.Nop(), obs)
	require.NoError(t, err)

	samples, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, samples, 36)
	assert.Equal(t, 36, observed)
	assert.Equal(t, int32(4), created.Load(), "one engine per group")

	// Output order is deterministic: groups in config order.
	assert.Equal(t, "small", samples[0].Dataset)
	assert.Equal(t, pipeline.TopSecond, samples[0].Order)
	assert.Equal(t, "large", samples[35].Dataset)
	assert.Equal(t, pipeline.SecondTop, samples[35].Order)
}

func TestRun_CancelReturnsPartialSamples(t *testing.T) {
	eng := inmem.New()
	eng.Register("ds", table())
	eng.SetFaults("ds", inmem.Faults{ExecuteDelay: 20 * time.Millisecond})

	cfg := testConfig(spec("ds", "ds", dataset.SizeLarge))
	cfg.Repetitions = 100

	ctx, cancel := context.WithCancel(context.Background())
	var seen atomic.Int32
	obs := ObserverFunc(func(trial.Sample) {
		if seen.Add(1) == 3 {
			cancel()
		}
	})

	runner, err := NewRunner(cfg, staticFactory(eng), zerolog.Nop(), obs)
	require.NoError(t, err)

	samples, err := runner.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, samples, 3)
}

func TestNewRunner_RejectsInvalidConfig(t *testing.T) {
	_, err := NewRunner(Config{}, staticFactory(inmem.New()), zerolog.Nop())
	assert.Error(t, err)

	_, err = NewRunner(testConfig(spec("a", "a", dataset.SizeSmall)), nil, zerolog.Nop())
	assert.Error(t, err)
}
