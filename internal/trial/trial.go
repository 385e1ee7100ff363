package trial

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/basekick-labs/readbench/internal/dataset"
	"github.com/basekick-labs/readbench/internal/pipeline"
	"github.com/rs/zerolog"
)

// TimingMode selects where the timed window starts.
type TimingMode int

const (
	// ExcludeResolution starts the window after Resolve returns.
	ExcludeResolution TimingMode = iota
	// IncludeResolution starts the window before Resolve is called.
	IncludeResolution
)

func (m TimingMode) String() string {
	if m == IncludeResolution {
		return "include_resolution"
	}
	return "exclude_resolution"
}

// ParseTimingMode parses "exclude_resolution" or "include_resolution".
func ParseTimingMode(s string) (TimingMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "exclude_resolution", "exclude":
		return ExcludeResolution, nil
	case "include_resolution", "include":
		return IncludeResolution, nil
	}
	return 0, fmt.Errorf("unknown timing mode %q (use exclude_resolution or include_resolution)", s)
}

func (m TimingMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *TimingMode) UnmarshalText(b []byte) error {
	v, err := ParseTimingMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ErrorKind classifies a failed trial.
type ErrorKind string

const (
	KindNone       ErrorKind = ""
	KindResolution ErrorKind = "ResolutionError"
	KindPipeline   ErrorKind = "PipelineError"
	KindTimeout    ErrorKind = "TimeoutError"
	KindCanceled   ErrorKind = "Canceled"
)

// ErrTimeout is recorded when a trial exceeds its wall-clock budget.
var ErrTimeout = errors.New("trial timed out")

// Input describes one trial.
type Input struct {
	Dataset     string
	Location    dataset.Location
	SizeClass   dataset.SizeClass
	Strategy    dataset.Strategy
	Order       pipeline.Order
	Keys        pipeline.KeyColumns
	CountColumn string
	Repetition  int
}

// Sample is the immutable record of one trial execution.
type Sample struct {
	Dataset       string            `json:"dataset"`
	Strategy      dataset.Strategy  `json:"strategy"`
	Order         pipeline.Order    `json:"order"`
	SizeClass     dataset.SizeClass `json:"size_class"`
	Repetition    int               `json:"repetition"`
	StartedAt     time.Time         `json:"started_at"`
	DurationNanos int64             `json:"duration_nanos"`
	ResolveNanos  int64             `json:"resolve_nanos"`
	Succeeded     bool              `json:"succeeded"`
	ErrorKind     ErrorKind         `json:"error_kind,omitempty"`
	Error         string            `json:"error,omitempty"`
	Result        int64             `json:"result"`
}

// Duration returns the measured window as a time.Duration.
func (s Sample) Duration() time.Duration { return time.Duration(s.DurationNanos) }

// Runner runs the pipeline; *pipeline.Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, res dataset.Result, g pipeline.Grouping, countCol string) (int64, error)
}

// Trial executes single timed trials.
type Trial struct {
	opener   dataset.Opener
	pipeline Runner
	mode     TimingMode
	timeout  time.Duration
	logger   zerolog.Logger
}

// Config holds trial settings.
type Config struct {
	Mode    TimingMode
	Timeout time.Duration // zero disables the timeout
}

// New creates a trial executor.
func New(opener dataset.Opener, p Runner, cfg Config, logger zerolog.Logger) *Trial {
	return &Trial{
		opener:   opener,
		pipeline: p,
		mode:     cfg.Mode,
		timeout:  cfg.Timeout,
		logger:   logger.With().Str("component", "trial").Logger(),
	}
}

type outcome struct {
	windowStart time.Time
	end         time.Time
	resolve     time.Duration
	result      int64
	err         error
	kind        ErrorKind
}

// Execute runs one trial against a fresh handle and never returns an error:
// every failure is recorded in the Sample.
func (t *Trial) Execute(ctx context.Context, in Input) Sample {
	tctx := ctx
	cancel := context.CancelFunc(func() {})
	if t.timeout > 0 {
		tctx, cancel = context.WithTimeout(ctx, t.timeout)
	}
	defer cancel()

	begin := time.Now()
	done := make(chan outcome, 1)
	window := make(chan time.Time, 1)
	go func() {
		done <- t.run(tctx, in, window)
	}()

	sample := Sample{
		Dataset:    in.Dataset,
		Strategy:   in.Strategy,
		Order:      in.Order,
		SizeClass:  in.SizeClass,
		Repetition: in.Repetition,
		StartedAt:  begin,
	}

	var out outcome
	select {
	case out = <-done:
	case <-tctx.Done():
		select {
		case out = <-done:
		default:
			// The engine may ignore cancellation; do not wait for it.
			out = outcome{end: time.Now(), err: tctx.Err()}
			select {
			case out.windowStart = <-window:
			default:
				out.windowStart = out.end // window never opened
			}
		}
	}

	sample.DurationNanos = out.end.Sub(out.windowStart).Nanoseconds()
	sample.ResolveNanos = out.resolve.Nanoseconds()

	if out.err == nil {
		sample.Succeeded = true
		sample.Result = out.result
		return sample
	}

	sample.ErrorKind = t.classify(ctx, tctx, out)
	sample.Error = out.err.Error()
	if sample.ErrorKind == KindTimeout {
		sample.Error = fmt.Sprintf("%v after %s", ErrTimeout, t.timeout)
	}

	t.logger.Warn().
		Str("dataset", in.Dataset).
		Str("strategy", in.Strategy.String()).
		Str("order", in.Order.String()).
		Int("repetition", in.Repetition).
		Str("error_kind", string(sample.ErrorKind)).
		Dur("elapsed", sample.Duration()).
		Err(out.err).
		Msg("Trial failed")

	return sample
}

func (t *Trial) classify(parent, tctx context.Context, out outcome) ErrorKind {
	switch {
	case parent.Err() != nil:
		return KindCanceled
	case errors.Is(tctx.Err(), context.DeadlineExceeded):
		return KindTimeout
	case out.kind != KindNone:
		return out.kind
	}
	var resErr *dataset.ResolutionError
	if errors.As(out.err, &resErr) {
		return KindResolution
	}
	return KindPipeline
}

// run reports the start of the timed window on window as soon as it opens.
func (t *Trial) run(ctx context.Context, in Input, window chan<- time.Time) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			out.end = time.Now()
			if out.windowStart.IsZero() {
				out.windowStart = out.end
			}
			out.err = fmt.Errorf("pipeline panic: %v", r)
			out.kind = KindPipeline
		}
	}()

	// Eager handles resolve here, outside the timed window in both modes.
	h := dataset.NewHandle(ctx, in.Strategy, in.Location, t.opener)

	if t.mode == IncludeResolution {
		out.windowStart = time.Now()
		window <- out.windowStart
	}
	res, err := h.Resolve(ctx)
	if t.mode == ExcludeResolution {
		out.windowStart = time.Now()
		window <- out.windowStart
	}
	out.resolve = h.ResolveDuration()

	if err != nil {
		out.end = time.Now()
		out.err = err
		out.kind = KindResolution
		return out
	}

	value, err := t.pipeline.Run(ctx, res, in.Order.Grouping(in.Keys), in.CountColumn)
	out.end = time.Now()
	if err != nil {
		out.err = err
		return out
	}
	out.result = value
	return out
}
