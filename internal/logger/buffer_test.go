package logger

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogBuffer_Since(t *testing.T) {
	b := NewLogBuffer(3)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	b.Add(LogEntry{Timestamp: base, Level: "WARN", Message: "old"})
	b.Add(LogEntry{Timestamp: base.Add(time.Second), Level: "INFO", Message: "info"})
	b.Add(LogEntry{Timestamp: base.Add(2 * time.Second), Level: "WARN", Message: "first"})
	b.Add(LogEntry{Timestamp: base.Add(3 * time.Second), Level: "ERROR", Message: "second"})

	assert.Equal(t, 3, b.Count())

	got := b.Since(base.Add(time.Second), "WARN")
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Message)
	assert.Equal(t, "second", got[1].Message)

	assert.Len(t, b.Since(time.Time{}, ""), 3)
}

func TestParseLogLine(t *testing.T) {
	entry, ok := parseLogLine([]byte(`{"level":"warn","component":"trial","error":"boom","time":"2026-01-01T00:00:00Z","message":"Trial failed"}`))
	require.True(t, ok)
	assert.Equal(t, "WARN", entry.Level)
	assert.Equal(t, "trial", entry.Component)
	assert.Equal(t, "boom", entry.Error)
	assert.Equal(t, "Trial failed", entry.Message)
	assert.Equal(t, 2026, entry.Timestamp.Year())

	_, ok = parseLogLine([]byte("not json"))
	assert.False(t, ok)
}

func TestLogBufferWriter(t *testing.T) {
	w := &LogBufferWriter{buffer: NewLogBuffer(10)}
	l := zerolog.New(w).With().Timestamp().Str("component", "bench").Logger()

	l.Warn().Msg("slow trial")
	l.Info().Msg("progress")

	got := w.buffer.Since(time.Time{}, "WARN")
	require.Len(t, got, 1)
	assert.Equal(t, "slow trial", got[0].Message)
	assert.Equal(t, "bench", got[0].Component)
}
