package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context) error { return nil }

func TestNew(t *testing.T) {
	s, err := New(&Config{Run: noop, Schedule: "*/5 * * * *", Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.False(t, s.Status().Running)
	assert.Equal(t, "*/5 * * * *", s.GetSchedule())

	s, err = New(&Config{Run: noop, Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.Equal(t, DefaultSchedule, s.GetSchedule())

	_, err = New(&Config{Run: noop, Schedule: "invalid schedule", Logger: zerolog.Nop()})
	assert.Error(t, err)

	_, err = New(&Config{Logger: zerolog.Nop()})
	assert.Error(t, err)
}

func TestStartStop(t *testing.T) {
	s, err := New(&Config{Run: noop, Logger: zerolog.Nop()})
	require.NoError(t, err)

	// Stop before Start is a no-op.
	s.Stop()

	require.NoError(t, s.Start())
	require.NoError(t, s.Start())

	st := s.Status()
	assert.True(t, st.Running)
	assert.True(t, st.NextRun.After(time.Now()))

	require.NoError(t, s.Close())
	assert.False(t, s.Status().Running)
	assert.True(t, s.Status().NextRun.IsZero())
}

func TestTriggerNow(t *testing.T) {
	var calls atomic.Int32
	boom := errors.New("boom")
	s, err := New(&Config{
		Run: func(context.Context) error {
			if calls.Add(1) == 2 {
				return boom
			}
			return nil
		},
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)

	require.NoError(t, s.TriggerNow(context.Background()))
	assert.ErrorIs(t, s.TriggerNow(context.Background()), boom)

	st := s.Status()
	assert.Equal(t, int64(2), st.Runs)
	assert.Equal(t, int64(1), st.Failed)
	assert.Equal(t, "boom", st.LastError)
	assert.False(t, st.LastRun.IsZero())
	assert.False(t, st.InProgress)
}

func TestOverlappingRunsAreSkipped(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	s, err := New(&Config{
		Run: func(context.Context) error {
			close(started)
			<-release
			return nil
		},
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	require.NoError(t, s.Start())
	defer s.Stop()

	done := make(chan error, 1)
	go func() { done <- s.TriggerNow(context.Background()) }()
	<-started

	assert.True(t, s.Status().InProgress)
	assert.ErrorIs(t, s.TriggerNow(context.Background()), ErrRunInProgress)
	s.tick()
	assert.Equal(t, int64(1), s.Status().Skipped)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, int64(1), s.Status().Runs)
}

func TestStopCancelsScheduledRun(t *testing.T) {
	started := make(chan struct{})
	var sawCancel atomic.Bool
	s, err := New(&Config{
		Run: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			sawCancel.Store(true)
			return ctx.Err()
		},
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	require.NoError(t, s.Start())

	finished := make(chan struct{})
	go func() {
		s.tick()
		close(finished)
	}()
	<-started

	s.Stop()
	<-finished
	assert.True(t, sawCancel.Load())
	assert.Equal(t, context.Canceled.Error(), s.Status().LastError)
}

func TestStopCancelsAndWaitsForManualRun(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool
	s, err := New(&Config{
		Run: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			time.Sleep(20 * time.Millisecond) // report writing
			finished.Store(true)
			return ctx.Err()
		},
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	require.NoError(t, s.Start())

	done := make(chan error, 1)
	go func() { done <- s.TriggerNow(context.Background()) }()
	<-started

	s.Stop()
	assert.True(t, finished.Load(), "Stop returned before the manual run finished")
	assert.False(t, s.Status().InProgress)
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestTriggerNowAfterRestart(t *testing.T) {
	s, err := New(&Config{Run: func(ctx context.Context) error { return ctx.Err() }, Logger: zerolog.Nop()})
	require.NoError(t, err)

	require.NoError(t, s.Start())
	s.Stop()
	require.NoError(t, s.Start())
	defer s.Stop()
	assert.NoError(t, s.TriggerNow(context.Background()))
}

func TestRunTimeout(t *testing.T) {
	s, err := New(&Config{
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
		Timeout: 20 * time.Millisecond,
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)

	err = s.TriggerNow(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCronNextRun(t *testing.T) {
	schedule, err := parser.Parse("0 3 * * *")
	require.NoError(t, err)

	base := time.Date(2026, 3, 10, 4, 0, 0, 0, time.UTC)
	next := schedule.Next(base)
	assert.Equal(t, time.Date(2026, 3, 11, 3, 0, 0, 0, time.UTC), next)
}
