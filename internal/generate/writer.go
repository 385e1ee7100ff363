package generate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/basekick-labs/readbench/internal/storage"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Summary describes a written dataset.
type Summary struct {
	Files    int
	Rows     int64
	Bytes    int64
	Duration time.Duration
}

// ErrExists is returned when the target location already holds the dataset
// and overwriting was not requested.
var ErrExists = errors.New("dataset already exists")

// Writer writes synthetic datasets as parquet files.
type Writer struct {
	backend   storage.Backend
	workers   int
	overwrite bool
	mem       memory.Allocator
	logger    zerolog.Logger
}

// NewWriter creates a writer on backend. workers bounds concurrent file writes.
func NewWriter(backend storage.Backend, workers int, logger zerolog.Logger) *Writer {
	if workers < 1 {
		workers = 1
	}
	return &Writer{
		backend: backend,
		workers: workers,
		mem:     memory.NewGoAllocator(),
		logger:  logger.With().Str("component", "generator").Logger(),
	}
}

// Overwrite lets Write replace an existing dataset. Parquet files under the
// prefix that the new dataset does not produce are deleted first, so readers
// never see a mix of two shapes.
func (w *Writer) Overwrite(v bool) *Writer {
	w.overwrite = v
	return w
}

func codec(name string) (compress.Compression, error) {
	switch strings.ToLower(name) {
	case "", "snappy":
		return compress.Codecs.Snappy, nil
	case "zstd":
		return compress.Codecs.Zstd, nil
	case "gzip":
		return compress.Codecs.Gzip, nil
	case "none", "uncompressed":
		return compress.Codecs.Uncompressed, nil
	}
	return compress.Codecs.Uncompressed, fmt.Errorf("unknown parquet compression %q", name)
}

// schema returns the file schema. Partitioned files omit the key columns,
// which readers recover from the hive path.
func (s Spec) schema() *arrow.Schema {
	var fields []arrow.Field
	if !s.SizeClass.Partitioned() {
		fields = append(fields,
			arrow.Field{Name: s.Keys.Top, Type: arrow.BinaryTypes.String},
			arrow.Field{Name: s.Keys.Second, Type: arrow.BinaryTypes.String},
		)
	}
	fields = append(fields,
		arrow.Field{Name: s.CountColumn, Type: arrow.PrimitiveTypes.Int64},
		arrow.Field{Name: "value", Type: arrow.PrimitiveTypes.Float64},
		arrow.Field{Name: "ts", Type: arrow.FixedWidthTypes.Timestamp_us},
	)
	return arrow.NewSchema(fields, nil)
}

// Write generates every file of spec under prefix.
func (w *Writer) Write(ctx context.Context, prefix string, spec Spec) (Summary, error) {
	if err := spec.Validate(); err != nil {
		return Summary{}, fmt.Errorf("invalid dataset spec: %w", err)
	}
	comp, err := codec(spec.Compression)
	if err != nil {
		return Summary{}, err
	}

	start := time.Now()
	schema := spec.schema()
	files := spec.Files()
	if err := w.prepare(ctx, prefix, spec, files); err != nil {
		return Summary{}, err
	}
	var written atomic.Int64

	w.logger.Info().
		Str("size_class", spec.SizeClass.String()).
		Int("files", len(files)).
		Int64("rows", spec.TotalRows()).
		Str("storage", w.backend.Type()).
		Str("prefix", prefix).
		Msg("Generating dataset")

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(w.workers)
	for _, f := range files {
		eg.Go(func() error {
			data, err := w.encode(schema, spec, f, comp)
			if err != nil {
				return err
			}
			path := joinPath(prefix, f.Path(spec.Keys))
			if err := w.backend.WriteReader(egCtx, path, bytes.NewReader(data), int64(len(data))); err != nil {
				return fmt.Errorf("failed to write %s: %w", path, err)
			}
			written.Add(int64(len(data)))
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return Summary{}, err
	}

	sum := Summary{
		Files:    len(files),
		Rows:     spec.TotalRows(),
		Bytes:    written.Load(),
		Duration: time.Since(start),
	}
	w.logger.Info().
		Int("files", sum.Files).
		Int64("bytes", sum.Bytes).
		Dur("elapsed", sum.Duration).
		Msg("Dataset generated")
	return sum, nil
}

// prepare refuses to clobber an existing dataset unless overwriting, in which
// case stale parquet files are removed.
func (w *Writer) prepare(ctx context.Context, prefix string, spec Spec, files []File) error {
	first := joinPath(prefix, files[0].Path(spec.Keys))
	exists, err := w.backend.Exists(ctx, first)
	if err != nil {
		return fmt.Errorf("failed to check %s: %w", first, err)
	}
	if !exists && !w.overwrite {
		return nil
	}
	if !w.overwrite {
		return fmt.Errorf("%w: %s", ErrExists, w.backend.URI(first))
	}

	keep := make(map[string]bool, len(files))
	for _, f := range files {
		keep[joinPath(prefix, f.Path(spec.Keys))] = true
	}
	objects, err := w.backend.ListObjects(ctx, prefix)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", prefix, err)
	}
	removed := 0
	for _, o := range objects {
		if keep[o.Path] || !strings.HasSuffix(o.Path, ".parquet") {
			continue
		}
		if err := w.backend.Delete(ctx, o.Path); err != nil {
			return fmt.Errorf("failed to delete stale %s: %w", o.Path, err)
		}
		removed++
	}
	if removed > 0 {
		w.logger.Info().Int("files", removed).Str("prefix", prefix).Msg("Removed stale dataset files")
	}
	return nil
}

func joinPath(prefix, p string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return p
	}
	return prefix + "/" + p
}

// encode builds the record for one file and serializes it to parquet bytes.
func (w *Writer) encode(schema *arrow.Schema, spec Spec, f File, comp compress.Compression) ([]byte, error) {
	b := spec.Rows(f)

	var arrays []arrow.Array
	if !spec.SizeClass.Partitioned() {
		top := array.NewStringBuilder(w.mem)
		top.AppendValues(b.Top, nil)
		second := array.NewStringBuilder(w.mem)
		second.AppendValues(b.Second, nil)
		arrays = append(arrays, top.NewArray(), second.NewArray())
		top.Release()
		second.Release()
	}

	count := array.NewInt64Builder(w.mem)
	count.AppendValues(b.Count, nil)
	value := array.NewFloat64Builder(w.mem)
	value.AppendValues(b.Value, nil)
	ts := array.NewTimestampBuilder(w.mem, arrow.FixedWidthTypes.Timestamp_us.(*arrow.TimestampType))
	for _, v := range b.TS {
		ts.Append(arrow.Timestamp(v))
	}
	arrays = append(arrays, count.NewArray(), value.NewArray(), ts.NewArray())
	count.Release()
	value.Release()
	ts.Release()

	defer func() {
		for _, a := range arrays {
			a.Release()
		}
	}()

	record := array.NewRecord(schema, arrays, int64(len(b.Count)))
	defer record.Release()

	var buf bytes.Buffer
	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(comp),
		parquet.WithDictionaryDefault(true),
		parquet.WithStats(true),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	writer, err := pqarrow.NewFileWriter(schema, &buf, writerProps, arrowProps)
	if err != nil {
		return nil, fmt.Errorf("failed to create Parquet writer: %w", err)
	}
	if err := writer.Write(record); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to write record batch: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close Parquet writer: %w", err)
	}

	return buf.Bytes(), nil
}
