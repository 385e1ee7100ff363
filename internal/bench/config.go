package bench

import (
	"errors"
	"fmt"
	"time"

	"github.com/basekick-labs/readbench/internal/dataset"
	"github.com/basekick-labs/readbench/internal/pipeline"
	"github.com/basekick-labs/readbench/internal/trial"
)

// DatasetSpec is one configured dataset: where it lives, its size class and
// its partition-key columns.
type DatasetSpec struct {
	Name      string
	Location  dataset.Location
	SizeClass dataset.SizeClass
	Keys      pipeline.KeyColumns
}

// Config enumerates what a run covers.
type Config struct {
	Datasets    []DatasetSpec
	CountColumn string
	Strategies  []dataset.Strategy
	Orders      []pipeline.Order

	// Repetitions per (strategy, ordering, size class). 8 to 10 is typical.
	Repetitions int
	// Warmup rounds run per group before measuring; their samples are discarded.
	Warmup int

	// Parallel runs independent groups on separate engines.
	Parallel          bool
	MaxParallelGroups int

	TimingMode   trial.TimingMode
	TrialTimeout time.Duration
}

// DefaultConfig returns a config with every strategy and ordering selected.
func DefaultConfig() Config {
	return Config{
		Strategies:        append([]dataset.Strategy(nil), dataset.AllStrategies...),
		Orders:            append([]pipeline.Order(nil), pipeline.AllOrders...),
		Repetitions:       8,
		Warmup:            1,
		MaxParallelGroups: 2,
		TimingMode:        trial.ExcludeResolution,
		TrialTimeout:      10 * time.Minute,
	}
}

// Validate checks the config is runnable.
func (c *Config) Validate() error {
	if len(c.Datasets) == 0 {
		return errors.New("at least one dataset is required")
	}
	if c.CountColumn == "" {
		return errors.New("count column is required")
	}
	if len(c.Strategies) == 0 {
		return errors.New("at least one strategy is required")
	}
	if len(c.Orders) == 0 {
		return errors.New("at least one grouping order is required")
	}
	if c.Repetitions < 1 {
		return fmt.Errorf("repetitions must be at least 1, got %d", c.Repetitions)
	}
	if c.Warmup < 0 {
		return fmt.Errorf("warmup must not be negative, got %d", c.Warmup)
	}
	if c.TrialTimeout < 0 {
		return fmt.Errorf("trial timeout must not be negative, got %s", c.TrialTimeout)
	}
	if c.Parallel && c.MaxParallelGroups < 1 {
		return fmt.Errorf("max parallel groups must be at least 1, got %d", c.MaxParallelGroups)
	}

	if err := noDuplicates("strategy", c.Strategies); err != nil {
		return err
	}
	if err := noDuplicates("grouping order", c.Orders); err != nil {
		return err
	}

	names := make(map[string]bool)
	classes := make(map[dataset.SizeClass]string)
	for i, ds := range c.Datasets {
		if ds.Name == "" {
			return fmt.Errorf("dataset %d: name is required", i)
		}
		if names[ds.Name] {
			return fmt.Errorf("dataset %q is configured twice", ds.Name)
		}
		names[ds.Name] = true

		if ds.Location == "" {
			return fmt.Errorf("dataset %q: location is required", ds.Name)
		}
		if other, ok := classes[ds.SizeClass]; ok {
			return fmt.Errorf("datasets %q and %q share size class %s", other, ds.Name, ds.SizeClass)
		}
		classes[ds.SizeClass] = ds.Name

		if err := ds.Keys.Validate(); err != nil {
			return fmt.Errorf("dataset %q: %w", ds.Name, err)
		}
		if ds.Keys.Top == c.CountColumn || ds.Keys.Second == c.CountColumn {
			return fmt.Errorf("dataset %q: count column %q must differ from the partition keys", ds.Name, c.CountColumn)
		}
	}
	return nil
}

func noDuplicates[T comparable](what string, values []T) error {
	seen := make(map[T]bool, len(values))
	for _, v := range values {
		if seen[v] {
			return fmt.Errorf("%s %v is listed twice", what, v)
		}
		seen[v] = true
	}
	return nil
}
