package dataset

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Location identifies a partitioned dataset: a local directory, an s3://bucket/prefix
// URI, an azure://container/prefix URI, or an engine-specific table name.
type Location string

func (l Location) String() string { return string(l) }

// SizeClass is the coarse scale bucket a dataset is tagged with in the descriptor.
// The harness never infers it.
type SizeClass int

const (
	SizeSmall   SizeClass = iota // below 1 unit, single unpartitioned file
	SizeAverage                  // below 100 units, partitioned
	SizeLarge                    // 500 units and above, partitioned
)

var sizeClassNames = [...]string{"small", "average", "large"}

func (s SizeClass) String() string {
	if s < 0 || int(s) >= len(sizeClassNames) {
		return "unknown"
	}
	return sizeClassNames[s]
}

// Partitioned reports whether datasets of this class are laid out in partitions.
func (s SizeClass) Partitioned() bool {
	return s != SizeSmall
}

// ParseSizeClass parses "small", "average" or "large" (case-insensitive).
func ParseSizeClass(s string) (SizeClass, error) {
	for i, name := range sizeClassNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return SizeClass(i), nil
		}
	}
	return 0, fmt.Errorf("unknown size class %q (use small, average or large)", s)
}

func (s SizeClass) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SizeClass) UnmarshalText(b []byte) error {
	v, err := ParseSizeClass(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Resolved is a usable handle to a dataset: its schema and partitions have been
// discovered, but no row data has been read.
type Resolved struct {
	Location        Location
	Columns         []string
	Files           []string // partition files, when the engine enumerates them
	Partitions      int
	HivePartitioned bool
	// Relation is the engine-specific relation expression executors query,
	// e.g. a read_parquet(...) call for DuckDB or a table name for ClickHouse.
	Relation   string
	ResolvedAt time.Time
}

// HasColumn reports whether the resolved schema contains the named column.
func (r *Resolved) HasColumn(name string) bool {
	for _, c := range r.Columns {
		if c == name {
			return true
		}
	}
	return false
}

var (
	// ErrUnreachable is returned when the location cannot be reached.
	ErrUnreachable = errors.New("dataset location unreachable")

	// ErrMalformed is returned when the location cannot be parsed.
	ErrMalformed = errors.New("malformed dataset location")

	// ErrNoPartitions is returned when the location holds no data files.
	ErrNoPartitions = errors.New("no partition files found")

	// ErrSchema is returned when the dataset schema cannot be discovered or is incompatible.
	ErrSchema = errors.New("incompatible dataset schema")
)

// ResolutionError reports a failure to resolve a dataset location.
type ResolutionError struct {
	Location Location
	Err      error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("failed to resolve %s: %v", e.Location, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Opener is the single point of contact with the query/storage engine.
type Opener interface {
	Open(ctx context.Context, loc Location) (*Resolved, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, loc Location) (*Resolved, error)

func (f OpenerFunc) Open(ctx context.Context, loc Location) (*Resolved, error) {
	return f(ctx, loc)
}
