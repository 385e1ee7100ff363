package dataset

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Strategy governs when resolution is forced and how a resolution failure is represented.
type Strategy int

const (
	// Eager resolves when the handle is constructed.
	Eager Strategy = iota
	// Deferred resolves on first use and memoizes the outcome.
	Deferred
	// DeferredFallible resolves on first use, memoizes, and carries a failure
	// as a value instead of returning it.
	DeferredFallible
)

var strategyNames = [...]string{"eager", "deferred", "deferred_fallible"}

// AllStrategies lists the strategies in their canonical order.
var AllStrategies = []Strategy{Eager, Deferred, DeferredFallible}

func (s Strategy) String() string {
	if s < 0 || int(s) >= len(strategyNames) {
		return "unknown"
	}
	return strategyNames[s]
}

// ParseStrategy accepts the canonical names, the CamelCase forms
// ("Eager", "Deferred", "DeferredFallible") and the aliases "lazy" for
// Deferred and "lazy_try" for DeferredFallible.
func ParseStrategy(s string) (Strategy, error) {
	norm := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	switch norm {
	case "eager":
		return Eager, nil
	case "deferred", "lazy":
		return Deferred, nil
	case "deferred_fallible", "deferredfallible", "lazy_try":
		return DeferredFallible, nil
	}
	return 0, fmt.Errorf("unknown read strategy %q (use eager, deferred or deferred_fallible)", s)
}

func (s Strategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Strategy) UnmarshalText(b []byte) error {
	v, err := ParseStrategy(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Result is the memoized outcome of a resolution: either a dataset or a failure.
type Result struct {
	dataset *Resolved
	err     error
}

// Dataset returns the resolved dataset, or the captured resolution failure.
// Pipelines must call it before doing any work.
func (r Result) Dataset() (*Resolved, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.dataset == nil {
		return nil, errors.New("dataset not resolved")
	}
	return r.dataset, nil
}

// Failed reports whether the resolution failed.
func (r Result) Failed() bool { return r.err != nil }

// Err returns the captured failure, if any.
func (r Result) Err() error { return r.err }

// Handle is a reference to a partitioned dataset at a location.
type Handle interface {
	Strategy() Strategy
	Location() Location

	// Resolve returns the resolved dataset. Eager and Deferred handles return a
	// resolution failure as an error; DeferredFallible handles return a nil error
	// and carry the failure inside the Result.
	Resolve(ctx context.Context) (Result, error)

	// Resolved reports whether resolution has already happened.
	Resolved() bool

	// ResolveDuration is the wall-clock cost of the one real resolution,
	// zero until it has happened.
	ResolveDuration() time.Duration
}

// NewHandle creates a handle with the given strategy. Eager handles resolve
// immediately, using ctx; the other strategies resolve on first Resolve.
func NewHandle(ctx context.Context, strategy Strategy, loc Location, opener Opener) Handle {
	switch strategy {
	case Eager:
		h := &eagerHandle{handleBase{loc: loc, opener: opener}}
		h.cell.force(ctx, loc, opener)
		return h
	case DeferredFallible:
		return &fallibleHandle{handleBase{loc: loc, opener: opener}}
	default:
		return &deferredHandle{handleBase{loc: loc, opener: opener}}
	}
}

// cell is a computation cell evaluated at most once.
type cell struct {
	once    sync.Once
	done    bool
	result  Result
	elapsed time.Duration
	mu      sync.RWMutex
}

func (c *cell) force(ctx context.Context, loc Location, opener Opener) Result {
	c.once.Do(func() {
		start := time.Now()
		ds, err := opener.Open(ctx, loc)
		elapsed := time.Since(start)
		if err != nil {
			var resErr *ResolutionError
			if !errors.As(err, &resErr) {
				err = &ResolutionError{Location: loc, Err: err}
			}
			ds = nil
		} else if ds == nil {
			err = &ResolutionError{Location: loc, Err: ErrSchema}
		}

		c.mu.Lock()
		c.result = Result{dataset: ds, err: err}
		c.elapsed = elapsed
		c.done = true
		c.mu.Unlock()
	})

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.result
}

func (c *cell) resolved() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.done
}

func (c *cell) duration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.elapsed
}

type handleBase struct {
	loc    Location
	opener Opener
	cell   cell
}

func (h *handleBase) Location() Location             { return h.loc }
func (h *handleBase) Resolved() bool                 { return h.cell.resolved() }
func (h *handleBase) ResolveDuration() time.Duration { return h.cell.duration() }

type eagerHandle struct{ handleBase }

func (h *eagerHandle) Strategy() Strategy { return Eager }

func (h *eagerHandle) Resolve(ctx context.Context) (Result, error) {
	// Already forced in NewHandle; force only reads the cached result.
	r := h.cell.force(ctx, h.loc, h.opener)
	return r, r.err
}

type deferredHandle struct{ handleBase }

func (h *deferredHandle) Strategy() Strategy { return Deferred }

func (h *deferredHandle) Resolve(ctx context.Context) (Result, error) {
	r := h.cell.force(ctx, h.loc, h.opener)
	return r, r.err
}

type fallibleHandle struct{ handleBase }

func (h *fallibleHandle) Strategy() Strategy { return DeferredFallible }

func (h *fallibleHandle) Resolve(ctx context.Context) (Result, error) {
	return h.cell.force(ctx, h.loc, h.opener), nil
}
