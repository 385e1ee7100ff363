// Package report compares strategy summaries and persists run reports.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/basekick-labs/readbench/internal/logger"
	"github.com/basekick-labs/readbench/internal/stats"
	"github.com/basekick-labs/readbench/internal/trial"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
)

// Settings records the run parameters a report was produced with.
type Settings struct {
	Engine         string           `json:"engine"`
	Repetitions    int              `json:"repetitions"`
	Warmup         int              `json:"warmup"`
	TimingMode     trial.TimingMode `json:"timing_mode"`
	TrialTimeout   string           `json:"trial_timeout,omitempty"`
	Parallel       bool             `json:"parallel"`
	NoiseThreshold float64          `json:"noise_threshold"`
}

// Report is the persisted output of one benchmark run. Samples are the source
// of truth; summaries and verdicts can always be recomputed from them.
type Report struct {
	RunID      string            `json:"run_id"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Settings   Settings          `json:"settings"`
	Verdicts   []Verdict         `json:"verdicts"`
	Summaries  []stats.Summary   `json:"summaries"`
	Samples    []trial.Sample    `json:"samples"`
	Warnings   []logger.LogEntry `json:"warnings,omitempty"`
	Incomplete bool              `json:"incomplete,omitempty"`
}

// New builds a report from raw samples.
func New(samples []trial.Sample, settings Settings, startedAt, finishedAt time.Time) *Report {
	r := &Report{
		RunID:      uuid.New().String(),
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Settings:   settings,
		Samples:    samples,
	}
	r.Recompute(settings.NoiseThreshold)
	return r
}

// Recompute derives summaries and verdicts from the samples with the given
// noise threshold.
func (r *Report) Recompute(threshold float64) {
	opts := DefaultOptions()
	opts.NoiseThreshold = threshold
	r.Settings.NoiseThreshold = threshold
	r.Summaries = stats.Summarize(r.Samples)
	r.Verdicts = Compare(r.Summaries, opts)
}

// Encode writes the report as indented JSON.
func Encode(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// Decode reads a JSON report.
func Decode(rd io.Reader) (*Report, error) {
	var r Report
	if err := json.NewDecoder(rd).Decode(&r); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return &r, nil
}

func compressed(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".gz")
}

// Save writes the report to path; a .gz suffix selects gzip compression.
func Save(path string, r *Report) (err error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close report file: %w", cerr)
		}
	}()

	if !compressed(path) {
		return Encode(f, r)
	}

	gz := gzip.NewWriter(f)
	if err := Encode(gz, r); err != nil {
		gz.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to finish gzip stream: %w", err)
	}
	return nil
}

// Load reads a report written by Save.
func Load(path string) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open report: %w", err)
	}
	defer f.Close()

	if !compressed(path) {
		return Decode(f)
	}

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer gz.Close()
	return Decode(gz)
}

// Path expands a report path template. "{run_id}" and "{time}" are replaced.
func Path(template string, r *Report) string {
	return strings.NewReplacer(
		"{run_id}", r.RunID,
		"{time}", r.StartedAt.UTC().Format("20060102T150405Z"),
	).Replace(template)
}
