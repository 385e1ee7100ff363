package generate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/basekick-labs/readbench/internal/dataset"
	"github.com/basekick-labs/readbench/internal/inmem"
	"github.com/basekick-labs/readbench/internal/pipeline"
	"github.com/basekick-labs/readbench/internal/storage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tinySpec(class dataset.SizeClass) Spec {
	s := DefaultSpec(class)
	s.TopValues, s.SecondValues = 3, 2
	s.RowsPerFile = 200
	s.FilesPerPartition = 2
	s.CountCardinality = 50
	return s
}

func TestSpecFiles(t *testing.T) {
	small := tinySpec(dataset.SizeSmall)
	files := small.Files()
	require.Len(t, files, 1)
	assert.Equal(t, "data.parquet", files[0].Path(small.Keys))
	assert.Equal(t, int64(200), small.TotalRows())

	avg := tinySpec(dataset.SizeAverage)
	files = avg.Files()
	require.Len(t, files, 3*2*2)
	assert.Equal(t, "region=t00/device=s00/part-0.parquet", files[0].Path(avg.Keys))
	assert.Equal(t, "region=t02/device=s01/part-1.parquet", files[len(files)-1].Path(avg.Keys))
}

func TestSpecValidate(t *testing.T) {
	assert.NoError(t, DefaultSpec(dataset.SizeLarge).Validate())

	s := tinySpec(dataset.SizeSmall)
	s.CountColumn = "region"
	assert.Error(t, s.Validate())

	s = tinySpec(dataset.SizeAverage)
	s.FilesPerPartition = 0
	assert.Error(t, s.Validate())

	s = tinySpec(dataset.SizeAverage)
	s.TopValues = 0
	assert.Error(t, s.Validate())
}

func TestTableSpecWithinLimit(t *testing.T) {
	for _, class := range []dataset.SizeClass{dataset.SizeSmall, dataset.SizeAverage, dataset.SizeLarge} {
		s := TableSpec(class)
		require.NoError(t, s.Validate())
		assert.LessOrEqual(t, s.TotalRows(), int64(MaxTableRows), class)
	}
	assert.Greater(t, DefaultSpec(dataset.SizeLarge).TotalRows(), int64(MaxTableRows))
}

func TestTableRejectsOversizedSpec(t *testing.T) {
	_, err := DefaultSpec(dataset.SizeLarge).Table()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "in-memory limit")
}

func TestRowsDeterministic(t *testing.T) {
	s := tinySpec(dataset.SizeAverage)
	f := s.Files()[3]
	a, b := s.Rows(f), s.Rows(f)
	assert.Equal(t, a, b)
	for i := range a.Top {
		assert.Equal(t, f.Top, a.Top[i])
		assert.Equal(t, f.Second, a.Second[i])
		assert.Less(t, a.Count[i], int64(s.CountCardinality))
	}

	other := s
	other.Seed = 99
	assert.NotEqual(t, a.Count, other.Rows(f).Count)
}

func TestTable(t *testing.T) {
	s := tinySpec(dataset.SizeSmall)
	table, err := s.Table()
	require.NoError(t, err)
	assert.Len(t, table.Rows, 200)
	assert.Equal(t, []string{"region", "device", "user_id", "value", "ts"}, table.Columns)

	for _, o := range pipeline.AllOrders {
		plan, err := pipeline.NewPlan(o.Grouping(s.Keys), s.CountColumn)
		require.NoError(t, err)
		v, err := inmem.Evaluate(table, plan)
		require.NoError(t, err)
		assert.Greater(t, v, int64(0))
	}
}

func TestWriterLocal(t *testing.T) {
	for _, class := range []dataset.SizeClass{dataset.SizeSmall, dataset.SizeAverage} {
		t.Run(class.String(), func(t *testing.T) {
			root := t.TempDir()
			backend, err := storage.NewLocalBackend(root, zerolog.Nop())
			require.NoError(t, err)

			s := tinySpec(class)
			w := NewWriter(backend, 4, zerolog.Nop())
			sum, err := w.Write(context.Background(), "events", s)
			require.NoError(t, err)
			assert.Equal(t, len(s.Files()), sum.Files)
			assert.Greater(t, sum.Bytes, int64(0))

			objects, err := backend.ListObjects(context.Background(), "events")
			require.NoError(t, err)
			assert.Len(t, objects, len(s.Files()))
			assert.Equal(t, sum.Bytes, storage.TotalSize(objects))

			data, err := os.ReadFile(filepath.Join(root, "events", s.Files()[0].Path(s.Keys)))
			require.NoError(t, err)
			assert.Equal(t, "PAR1", string(data[:4]))
			assert.Equal(t, "PAR1", string(data[len(data)-4:]))
		})
	}
}

func TestWriterRejectsBadCompression(t *testing.T) {
	backend, err := storage.NewLocalBackend(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	s := tinySpec(dataset.SizeSmall)
	s.Compression = "lz5"
	_, err = NewWriter(backend, 1, zerolog.Nop()).Write(context.Background(), "", s)
	assert.Error(t, err)
}

func TestWriterRefusesExistingDataset(t *testing.T) {
	root := t.TempDir()
	backend, err := storage.NewLocalBackend(root, zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	s := tinySpec(dataset.SizeSmall)
	_, err = NewWriter(backend, 1, zerolog.Nop()).Write(ctx, "events", s)
	require.NoError(t, err)

	_, err = NewWriter(backend, 1, zerolog.Nop()).Write(ctx, "events", s)
	assert.True(t, errors.Is(err, ErrExists), "got %v", err)

	_, err = NewWriter(backend, 1, zerolog.Nop()).Overwrite(true).Write(ctx, "events", s)
	assert.NoError(t, err)
}

func TestWriterOverwriteRemovesStaleFiles(t *testing.T) {
	root := t.TempDir()
	backend, err := storage.NewLocalBackend(root, zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	wide := tinySpec(dataset.SizeAverage)
	_, err = NewWriter(backend, 2, zerolog.Nop()).Write(ctx, "events", wide)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "events", "README"), []byte("keep"), 0o644))

	narrow := wide
	narrow.TopValues = 1
	_, err = NewWriter(backend, 2, zerolog.Nop()).Overwrite(true).Write(ctx, "events", narrow)
	require.NoError(t, err)

	objects, err := backend.ListObjects(ctx, "events")
	require.NoError(t, err)
	var parquet []string
	for _, o := range objects {
		if filepath.Ext(o.Path) == ".parquet" {
			parquet = append(parquet, o.Path)
		}
	}
	assert.Len(t, parquet, len(narrow.Files()))
	assert.FileExists(t, filepath.Join(root, "events", "README"))
}
