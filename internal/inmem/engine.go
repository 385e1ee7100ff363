// Package inmem is an in-process engine over in-memory tables. It implements
// the same resolution and execution contracts as the SQL engines and supports
// injected latency and failures, so the harness can run without a real dataset.
package inmem

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/basekick-labs/readbench/internal/dataset"
	"github.com/basekick-labs/readbench/internal/pipeline"
)

// Table is a row-oriented in-memory relation. Values must be comparable.
type Table struct {
	Columns []string
	Rows    [][]any
}

func (t *Table) index(col string) int {
	for i, c := range t.Columns {
		if c == col {
			return i
		}
	}
	return -1
}

// Faults injects latency or failures for one location.
type Faults struct {
	OpenDelay    time.Duration
	OpenErr      error
	ExecuteDelay time.Duration
	ExecuteErr   error
}

type entry struct {
	table  *Table
	faults Faults
}

// Engine serves registered tables by location.
type Engine struct {
	mu      sync.RWMutex
	entries map[dataset.Location]*entry
	opens   int
	execs   int
}

// New creates an empty engine.
func New() *Engine {
	return &Engine{entries: make(map[dataset.Location]*entry)}
}

// Register adds or replaces the table served at loc.
func (e *Engine) Register(loc dataset.Location, table *Table) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ent, ok := e.entries[loc]; ok {
		ent.table = table
		return
	}
	e.entries[loc] = &entry{table: table}
}

// SetFaults sets the injected faults for loc. The location does not need a table;
// opening an unregistered location without faults fails as unreachable.
func (e *Engine) SetFaults(loc dataset.Location, f Faults) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ent, ok := e.entries[loc]; ok {
		ent.faults = f
		return
	}
	e.entries[loc] = &entry{faults: f}
}

// lookup returns a copy of the entry at loc. Callers hold e.mu.
func (e *Engine) lookup(loc dataset.Location) (entry, bool) {
	ent, ok := e.entries[loc]
	if !ok {
		return entry{}, false
	}
	return *ent, true
}

// Stats returns the number of Open and Execute calls served so far.
func (e *Engine) Stats() (opens, execs int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.opens, e.execs
}

// Open resolves a registered table.
func (e *Engine) Open(ctx context.Context, loc dataset.Location) (*dataset.Resolved, error) {
	e.mu.Lock()
	e.opens++
	ent, ok := e.lookup(loc)
	e.mu.Unlock()

	if ok {
		if err := sleep(ctx, ent.faults.OpenDelay); err != nil {
			return nil, err
		}
		if ent.faults.OpenErr != nil {
			return nil, &dataset.ResolutionError{Location: loc, Err: ent.faults.OpenErr}
		}
	}
	if !ok || ent.table == nil {
		return nil, &dataset.ResolutionError{Location: loc, Err: dataset.ErrUnreachable}
	}

	cols := slices.Clone(ent.table.Columns)
	return &dataset.Resolved{
		Location:   loc,
		Columns:    cols,
		Partitions: 1,
		Relation:   loc.String(),
		ResolvedAt: time.Now(),
	}, nil
}

// Execute evaluates the plan over the table registered at ds.Location.
func (e *Engine) Execute(ctx context.Context, ds *dataset.Resolved, plan pipeline.Plan) (int64, error) {
	e.mu.Lock()
	e.execs++
	ent, ok := e.lookup(ds.Location)
	e.mu.Unlock()

	if !ok || ent.table == nil {
		return 0, fmt.Errorf("table %s not registered", ds.Location)
	}
	if err := sleep(ctx, ent.faults.ExecuteDelay); err != nil {
		return 0, err
	}
	if ent.faults.ExecuteErr != nil {
		return 0, ent.faults.ExecuteErr
	}
	return Evaluate(ent.table, plan)
}

// Close is a no-op.
func (e *Engine) Close() error { return nil }

// Evaluate runs the three plan stages over a table.
func Evaluate(t *Table, plan pipeline.Plan) (int64, error) {
	oi, ii, ci := t.index(plan.Outer), t.index(plan.Inner), t.index(plan.Count)
	if oi < 0 || ii < 0 || ci < 0 {
		return 0, fmt.Errorf("%w: plan reads %v", pipeline.ErrMissingColumn, plan.Columns())
	}

	// Stage 1: distinct count values per (outer, inner).
	type pair struct{ outer, inner any }
	distinct := make(map[pair]map[any]struct{})
	for _, row := range t.Rows {
		k := pair{row[oi], row[ii]}
		set, ok := distinct[k]
		if !ok {
			set = make(map[any]struct{})
			distinct[k] = set
		}
		if row[ci] != nil {
			set[row[ci]] = struct{}{}
		}
	}

	// Stage 2: max count per outer.
	maxPerOuter := make(map[any]int64)
	for k, set := range distinct {
		n := int64(len(set))
		if cur, ok := maxPerOuter[k.outer]; !ok || n > cur {
			maxPerOuter[k.outer] = n
		}
	}
	if len(maxPerOuter) == 0 {
		return 0, pipeline.ErrEmptyResult
	}

	// Stage 3: min over the maxima.
	first := true
	var result int64
	for _, n := range maxPerOuter {
		if first || n < result {
			result = n
			first = false
		}
	}
	return result, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
