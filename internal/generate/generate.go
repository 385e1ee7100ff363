// Package generate produces deterministic synthetic datasets for each size
// class, either as parquet files on a storage backend or as in-memory tables.
package generate

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/basekick-labs/readbench/internal/dataset"
	"github.com/basekick-labs/readbench/internal/inmem"
	"github.com/basekick-labs/readbench/internal/pipeline"
)

// Spec describes a synthetic dataset.
type Spec struct {
	SizeClass   dataset.SizeClass
	Keys        pipeline.KeyColumns
	CountColumn string

	TopValues    int // distinct values of the top key
	SecondValues int // distinct values of the second key

	// RowsPerFile rows are written to each file; partitioned classes write
	// FilesPerPartition files per (top, second) pair.
	RowsPerFile       int
	FilesPerPartition int

	// CountCardinality bounds the distinct values of the count column.
	CountCardinality int

	Seed        int64
	Compression string // snappy, zstd, gzip or none
}

// DefaultSpec returns the built-in shape for a size class.
func DefaultSpec(class dataset.SizeClass) Spec {
	s := Spec{
		SizeClass:         class,
		Keys:              pipeline.KeyColumns{Top: "region", Second: "device"},
		CountColumn:       "user_id",
		FilesPerPartition: 1,
		Seed:              1,
		Compression:       "snappy",
	}
	switch class {
	case dataset.SizeSmall:
		s.TopValues, s.SecondValues = 4, 3
		s.RowsPerFile = 20_000
		s.CountCardinality = 2_000
	case dataset.SizeAverage:
		s.TopValues, s.SecondValues = 8, 6
		s.RowsPerFile = 50_000
		s.FilesPerPartition = 2
		s.CountCardinality = 100_000
	default:
		s.TopValues, s.SecondValues = 16, 12
		s.RowsPerFile = 250_000
		s.FilesPerPartition = 4
		s.CountCardinality = 5_000_000
	}
	return s
}

// MaxTableRows bounds the rows of one in-memory table.
const MaxTableRows = 1_000_000

// TableSpec returns the shape the in-memory engine uses for a size class: the
// default partition layout with fewer rows per file, so every class stays
// within MaxTableRows.
func TableSpec(class dataset.SizeClass) Spec {
	s := DefaultSpec(class)
	switch class {
	case dataset.SizeSmall:
		s.RowsPerFile = 5_000
		s.CountCardinality = 1_000
	case dataset.SizeAverage:
		s.RowsPerFile = 2_000 // 192,000 rows
		s.CountCardinality = 20_000
	default:
		s.RowsPerFile = 1_000 // 768,000 rows
		s.CountCardinality = 100_000
	}
	return s
}

// Validate checks the spec can be generated.
func (s Spec) Validate() error {
	if err := s.Keys.Validate(); err != nil {
		return err
	}
	if s.CountColumn == "" || s.CountColumn == s.Keys.Top || s.CountColumn == s.Keys.Second {
		return errors.New("count column must be set and differ from the key columns")
	}
	if s.TopValues < 1 || s.SecondValues < 1 {
		return fmt.Errorf("key cardinalities must be at least 1, got %d and %d", s.TopValues, s.SecondValues)
	}
	if s.RowsPerFile < 1 || s.CountCardinality < 1 {
		return errors.New("rows per file and count cardinality must be at least 1")
	}
	if s.SizeClass.Partitioned() && s.FilesPerPartition < 1 {
		return errors.New("files per partition must be at least 1")
	}
	return nil
}

// TotalRows returns the number of rows the spec produces.
func (s Spec) TotalRows() int64 {
	return int64(len(s.Files())) * int64(s.RowsPerFile)
}

// File is one generated data file.
type File struct {
	Index int
	// Top and Second are the partition values; both empty for the single
	// unpartitioned file of the small class.
	Top    string
	Second string
	Part   int
}

// Path returns the file path relative to the dataset root. Partitioned files
// use the hive layout <top>=<v>/<second>=<v>/part-<n>.parquet.
func (f File) Path(keys pipeline.KeyColumns) string {
	if f.Top == "" {
		return "data.parquet"
	}
	return fmt.Sprintf("%s=%s/%s=%s/part-%d.parquet", keys.Top, f.Top, keys.Second, f.Second, f.Part)
}

func topValue(i int) string    { return fmt.Sprintf("t%02d", i) }
func secondValue(i int) string { return fmt.Sprintf("s%02d", i) }

// Files lists the files of the dataset in a fixed order.
func (s Spec) Files() []File {
	if !s.SizeClass.Partitioned() {
		return []File{{Index: 0}}
	}
	var files []File
	for t := 0; t < s.TopValues; t++ {
		for sec := 0; sec < s.SecondValues; sec++ {
			for p := 0; p < s.FilesPerPartition; p++ {
				files = append(files, File{Index: len(files), Top: topValue(t), Second: secondValue(sec), Part: p})
			}
		}
	}
	return files
}

// Batch holds the column data of one file.
type Batch struct {
	Top    []string
	Second []string
	Count  []int64
	Value  []float64
	TS     []int64 // microseconds since epoch
}

// baseTS is 2026-01-01T00:00:00Z in microseconds.
const baseTS int64 = 1767225600_000_000

// Rows generates the rows of one file. The output depends only on the spec
// and the file index.
func (s Spec) Rows(f File) Batch {
	rnd := rand.New(rand.NewSource(s.Seed*1_000_003 + int64(f.Index)))
	n := s.RowsPerFile
	b := Batch{
		Top:    make([]string, n),
		Second: make([]string, n),
		Count:  make([]int64, n),
		Value:  make([]float64, n),
		TS:     make([]int64, n),
	}
	for i := 0; i < n; i++ {
		if f.Top != "" {
			b.Top[i], b.Second[i] = f.Top, f.Second
		} else {
			b.Top[i] = topValue(rnd.Intn(s.TopValues))
			b.Second[i] = secondValue(rnd.Intn(s.SecondValues))
		}
		b.Count[i] = rnd.Int63n(int64(s.CountCardinality))
		b.Value[i] = rnd.Float64() * 100
		b.TS[i] = baseTS + int64(f.Index)*3_600_000_000 + int64(i)*1_000
	}
	return b
}

// Columns returns the logical column names of the dataset.
func (s Spec) Columns() []string {
	return []string{s.Keys.Top, s.Keys.Second, s.CountColumn, "value", "ts"}
}

// Table materializes the whole dataset in memory for the in-process engine.
func (s Spec) Table() (*inmem.Table, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if n := s.TotalRows(); n > MaxTableRows {
		return nil, fmt.Errorf("%s dataset has %d rows, above the in-memory limit of %d", s.SizeClass, n, MaxTableRows)
	}
	t := &inmem.Table{Columns: s.Columns()}
	for _, f := range s.Files() {
		b := s.Rows(f)
		for i := range b.Count {
			t.Rows = append(t.Rows, []any{b.Top[i], b.Second[i], b.Count[i], b.Value[i], b.TS[i]})
		}
	}
	return t, nil
}
