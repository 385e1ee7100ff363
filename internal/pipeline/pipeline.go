package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/basekick-labs/readbench/internal/dataset"
	"github.com/rs/zerolog"
)

var (
	// ErrEmptyResult is returned when an intermediate grouping produced no groups.
	ErrEmptyResult = errors.New("aggregation produced no groups")

	// ErrMissingColumn is returned when a plan column is absent from the schema.
	ErrMissingColumn = errors.New("column not found in dataset schema")
)

// Stage names used in PipelineError.
const (
	StageValidate = "validate"
	StageExecute  = "execute"
)

// PipelineError reports a failure of the aggregation pipeline.
type PipelineError struct {
	Stage string
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline %s failed: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Executor evaluates a plan against a resolved dataset and returns the
// materialized scalar. It returns ErrEmptyResult when there are no groups.
type Executor interface {
	Execute(ctx context.Context, ds *dataset.Resolved, plan Plan) (int64, error)
}

// Pipeline runs the fixed distinct-count/max/min reduction.
type Pipeline struct {
	exec   Executor
	logger zerolog.Logger
}

// New creates a pipeline on top of an executor.
func New(exec Executor, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		exec:   exec,
		logger: logger.With().Str("component", "pipeline").Logger(),
	}
}

// Run checks the resolution outcome, validates the columns, and executes the
// plan. A captured resolution failure is returned unchanged.
func (p *Pipeline) Run(ctx context.Context, res dataset.Result, g Grouping, countCol string) (int64, error) {
	ds, err := res.Dataset()
	if err != nil {
		return 0, err
	}

	plan, err := NewPlan(g, countCol)
	if err != nil {
		return 0, &PipelineError{Stage: StageValidate, Err: err}
	}
	for _, col := range plan.Columns() {
		if !ds.HasColumn(col) {
			return 0, &PipelineError{Stage: StageValidate, Err: fmt.Errorf("%w: %q", ErrMissingColumn, col)}
		}
	}

	start := time.Now()
	value, err := p.exec.Execute(ctx, ds, plan)
	if err != nil {
		p.logger.Debug().
			Err(err).
			Str("location", ds.Location.String()).
			Dur("elapsed", time.Since(start)).
			Msg("Pipeline execution failed")
		return 0, &PipelineError{Stage: StageExecute, Err: err}
	}

	p.logger.Debug().
		Str("location", ds.Location.String()).
		Str("outer", plan.Outer).
		Str("inner", plan.Inner).
		Int64("result", value).
		Dur("elapsed", time.Since(start)).
		Msg("Pipeline executed")

	return value, nil
}
