// Package bench repeats trials across strategies, grouping orders and size
// classes and collects the raw samples.
package bench

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/basekick-labs/readbench/internal/dataset"
	"github.com/basekick-labs/readbench/internal/pipeline"
	"github.com/basekick-labs/readbench/internal/trial"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Engine is the query/storage engine a run talks to.
type Engine interface {
	dataset.Opener
	pipeline.Executor
	Close() error
}

// EngineFactory creates an engine. Parallel runs call it once per group so
// groups never share compute.
type EngineFactory func(ctx context.Context) (Engine, error)

// Observer receives every measured sample as soon as it is recorded. Observers
// of parallel runs are called from several goroutines, one at a time.
type Observer interface {
	Observe(trial.Sample)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(trial.Sample)

func (f ObserverFunc) Observe(s trial.Sample) { f(s) }

// group is one (size class, ordering) cell of the run.
type group struct {
	index int
	ds    DatasetSpec
	order pipeline.Order
}

func (g group) String() string {
	return fmt.Sprintf("%s/%s/%s", g.ds.SizeClass, g.ds.Name, g.order)
}

type indexed struct {
	group  int
	seq    int
	sample trial.Sample
}

// collector is the run's append-only sample store.
type collector struct {
	mu        sync.Mutex
	samples   []indexed
	observers []Observer
}

func (c *collector) add(group, seq int, s trial.Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = append(c.samples, indexed{group: group, seq: seq, sample: s})
	for _, o := range c.observers {
		o.Observe(s)
	}
}

func (c *collector) ordered() []trial.Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	sort.SliceStable(c.samples, func(i, j int) bool {
		if c.samples[i].group != c.samples[j].group {
			return c.samples[i].group < c.samples[j].group
		}
		return c.samples[i].seq < c.samples[j].seq
	})
	out := make([]trial.Sample, len(c.samples))
	for i, s := range c.samples {
		out[i] = s.sample
	}
	return out
}

// Runner drives a benchmark run.
type Runner struct {
	cfg       Config
	factory   EngineFactory
	observers []Observer
	logger    zerolog.Logger
}

// NewRunner validates cfg and creates a runner.
func NewRunner(cfg Config, factory EngineFactory, logger zerolog.Logger, observers ...Observer) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid benchmark config: %w", err)
	}
	if factory == nil {
		return nil, fmt.Errorf("engine factory is required")
	}
	return &Runner{
		cfg:       cfg,
		factory:   factory,
		observers: observers,
		logger:    logger.With().Str("component", "bench-runner").Logger(),
	}, nil
}

func (r *Runner) groups() []group {
	var groups []group
	for _, ds := range r.cfg.Datasets {
		for _, o := range r.cfg.Orders {
			groups = append(groups, group{index: len(groups), ds: ds, order: o})
		}
	}
	return groups
}

// Run executes every configured trial and returns the samples in group order.
// Trial failures are recorded in the samples; the only errors returned are
// engine start-up failures and context cancellation, in which case the
// samples gathered so far are returned as well.
func (r *Runner) Run(ctx context.Context) ([]trial.Sample, error) {
	groups := r.groups()
	col := &collector{observers: r.observers}
	start := time.Now()

	r.logger.Info().
		Int("groups", len(groups)).
		Int("strategies", len(r.cfg.Strategies)).
		Int("repetitions", r.cfg.Repetitions).
		Int("warmup", r.cfg.Warmup).
		Bool("parallel", r.cfg.Parallel).
		Str("timing_mode", r.cfg.TimingMode.String()).
		Msg("Starting benchmark run")

	var err error
	if r.cfg.Parallel {
		err = r.runParallel(ctx, groups, col)
	} else {
		err = r.runSequential(ctx, groups, col)
	}

	samples := col.ordered()
	ev := r.logger.Info()
	if err != nil {
		ev = r.logger.Warn().Err(err)
	}
	ev.Int("samples", len(samples)).
		Dur("elapsed", time.Since(start)).
		Msg("Benchmark run finished")
	return samples, err
}

func (r *Runner) runSequential(ctx context.Context, groups []group, col *collector) error {
	eng, err := r.factory(ctx)
	if err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	defer r.closeEngine(eng)

	for _, g := range groups {
		if err := r.runGroup(ctx, eng, g, col); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) runParallel(ctx context.Context, groups []group, col *collector) error {
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(r.cfg.MaxParallelGroups)

	for _, g := range groups {
		eg.Go(func() error {
			eng, err := r.factory(egCtx)
			if err != nil {
				return fmt.Errorf("failed to start engine for group %s: %w", g, err)
			}
			defer r.closeEngine(eng)
			return r.runGroup(egCtx, eng, g, col)
		})
	}

	err := eg.Wait()
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return err
}

// runGroup runs the trials of one group strictly one after another. Each
// repetition runs every strategy once, rotating which strategy goes first.
func (r *Runner) runGroup(ctx context.Context, eng Engine, g group, col *collector) error {
	tr := trial.New(eng, pipeline.New(eng, r.logger), trial.Config{
		Mode:    r.cfg.TimingMode,
		Timeout: r.cfg.TrialTimeout,
	}, r.logger)

	logger := r.logger.With().Str("group", g.String()).Logger()
	start := time.Now()
	n := len(r.cfg.Strategies)

	for w := 0; w < r.cfg.Warmup; w++ {
		for _, s := range r.cfg.Strategies {
			if err := ctx.Err(); err != nil {
				return err
			}
			sample := tr.Execute(ctx, r.input(g, s, -1))
			logger.Debug().
				Str("strategy", s.String()).
				Bool("succeeded", sample.Succeeded).
				Dur("duration", sample.Duration()).
				Msg("Warmup trial discarded")
		}
	}

	seq := 0
	failures := 0
	for rep := 0; rep < r.cfg.Repetitions; rep++ {
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			s := r.cfg.Strategies[(i+rep)%n]
			sample := tr.Execute(ctx, r.input(g, s, rep))
			if sample.ErrorKind == trial.KindCanceled {
				return ctx.Err()
			}
			if !sample.Succeeded {
				failures++
			}
			col.add(g.index, seq, sample)
			seq++
		}
	}

	logger.Info().
		Int("trials", seq).
		Int("failures", failures).
		Dur("elapsed", time.Since(start)).
		Msg("Group completed")
	return nil
}

func (r *Runner) input(g group, s dataset.Strategy, rep int) trial.Input {
	return trial.Input{
		Dataset:     g.ds.Name,
		Location:    g.ds.Location,
		SizeClass:   g.ds.SizeClass,
		Strategy:    s,
		Order:       g.order,
		Keys:        g.ds.Keys,
		CountColumn: r.cfg.CountColumn,
		Repetition:  rep,
	}
}

func (r *Runner) closeEngine(eng Engine) {
	if err := eng.Close(); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to close engine")
	}
}
