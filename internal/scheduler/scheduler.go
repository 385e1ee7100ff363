// Package scheduler re-runs the benchmark on a cron schedule so that verdicts
// are re-validated as engines and datasets evolve.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultSchedule is daily at 3am.
const DefaultSchedule = "0 3 * * *"

// ErrRunInProgress is returned by TriggerNow while another run is active.
var ErrRunInProgress = errors.New("benchmark run already in progress")

// RunFunc performs one complete benchmark run.
type RunFunc func(ctx context.Context) error

// Scheduler runs RunFunc on a cron schedule. Ticks that fire while a run is
// still in progress are skipped, never queued.
type Scheduler struct {
	run      RunFunc
	schedule string
	timeout  time.Duration
	cron     *cron.Cron
	running  bool
	mu       sync.Mutex
	logger   zerolog.Logger

	// ctx is canceled by Stop so in-flight runs end early.
	ctx    context.Context
	cancel context.CancelFunc
	// manual tracks TriggerNow runs started while the scheduler is running.
	manual sync.WaitGroup

	inflight atomic.Bool
	runs     atomic.Int64
	skipped  atomic.Int64
	failed   atomic.Int64

	lastMu  sync.Mutex
	lastRun time.Time
	lastErr error
}

// Config holds configuration for the scheduler
type Config struct {
	Run      RunFunc
	Schedule string        // Cron schedule string (e.g., "0 3 * * *")
	Timeout  time.Duration // bound on a single run, 0 for none
	Logger   zerolog.Logger
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// New creates a scheduler. It does not start it.
func New(cfg *Config) (*Scheduler, error) {
	if cfg.Run == nil {
		return nil, errors.New("scheduler requires a run function")
	}
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := parser.Parse(schedule); err != nil {
		return nil, err
	}

	s := &Scheduler{
		run:      cfg.Run,
		schedule: schedule,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger.With().Str("component", "bench-scheduler").Logger(),
	}

	s.logger.Info().
		Str("schedule", schedule).
		Msg("Benchmark scheduler initialized")

	return s, nil
}

// Start starts the cron loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Warn().Msg("Benchmark scheduler already running")
		return nil
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron = cron.New(cron.WithParser(parser))
	if _, err := s.cron.AddFunc(s.schedule, s.tick); err != nil {
		s.cancel()
		return err
	}
	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("schedule", s.schedule).
		Time("next_run", s.nextRun()).
		Msg("Benchmark scheduler started")

	return nil
}

// Stop cancels any in-flight run, scheduled or manual, and waits for it to
// return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	c := s.cron
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done() // Wait for running jobs to complete
	}
	s.manual.Wait()
	s.logger.Info().Msg("Benchmark scheduler stopped")
}

// Close implements shutdown.Shutdownable.
func (s *Scheduler) Close() error {
	s.Stop()
	return nil
}

func (s *Scheduler) tick() {
	if err := s.execute(s.ctx, "schedule"); errors.Is(err, ErrRunInProgress) {
		s.skipped.Add(1)
		s.logger.Warn().Msg("Previous benchmark run still in progress, skipping tick")
	}
}

// TriggerNow runs the benchmark immediately, outside the schedule. While the
// scheduler is running the run is also canceled by Stop, which waits for it.
func (s *Scheduler) TriggerNow(ctx context.Context) error {
	s.mu.Lock()
	tracked := s.running
	if tracked {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()
		defer context.AfterFunc(s.ctx, cancel)()
		s.manual.Add(1)
	}
	s.mu.Unlock()
	if tracked {
		defer s.manual.Done()
	}

	s.logger.Info().Msg("Manual benchmark trigger")
	return s.execute(ctx, "manual")
}

func (s *Scheduler) execute(ctx context.Context, trigger string) error {
	if !s.inflight.CompareAndSwap(false, true) {
		return ErrRunInProgress
	}
	defer s.inflight.Store(false)

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	s.logger.Info().Str("trigger", trigger).Msg("Starting benchmark run")

	err := s.run(ctx)
	s.runs.Add(1)

	s.lastMu.Lock()
	s.lastRun, s.lastErr = start, err
	s.lastMu.Unlock()

	if err != nil {
		s.failed.Add(1)
		s.logger.Error().
			Err(err).
			Str("trigger", trigger).
			Dur("duration", time.Since(start)).
			Msg("Benchmark run failed")
	} else {
		s.logger.Info().
			Str("trigger", trigger).
			Dur("duration", time.Since(start)).
			Msg("Benchmark run completed")
	}

	st := s.Status()
	s.logger.Info().
		Int64("runs", st.Runs).
		Int64("failed", st.Failed).
		Int64("skipped", st.Skipped).
		Time("next_run", st.NextRun).
		Msg("Scheduler status")
	return err
}

// nextRun returns the next scheduled run time
func (s *Scheduler) nextRun() time.Time {
	schedule, err := parser.Parse(s.schedule)
	if err != nil {
		return time.Time{}
	}
	return schedule.Next(time.Now())
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	Running    bool      `json:"running"`
	Schedule   string    `json:"schedule"`
	InProgress bool      `json:"in_progress"`
	Runs       int64     `json:"runs"`
	Failed     int64     `json:"failed"`
	Skipped    int64     `json:"skipped"`
	LastRun    time.Time `json:"last_run,omitzero"`
	LastError  string    `json:"last_error,omitempty"`
	NextRun    time.Time `json:"next_run,omitzero"`
}

// Status returns scheduler status
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	st := Status{
		Running:    running,
		Schedule:   s.schedule,
		InProgress: s.inflight.Load(),
		Runs:       s.runs.Load(),
		Failed:     s.failed.Load(),
		Skipped:    s.skipped.Load(),
	}
	s.lastMu.Lock()
	st.LastRun = s.lastRun
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	s.lastMu.Unlock()
	if running {
		st.NextRun = s.nextRun()
	}
	return st
}

// GetSchedule returns the cron schedule string
func (s *Scheduler) GetSchedule() string {
	return s.schedule
}
