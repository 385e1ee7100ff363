package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBackend_WriteList(t *testing.T) {
	base := filepath.Join(t.TempDir(), "dataset")
	backend, err := NewLocalBackend(base, zerolog.Nop())
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()

	_, err = os.Stat(base)
	assert.True(t, os.IsNotExist(err), "constructor must not create the root")

	objects, err := backend.ListObjects(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, objects)

	files := map[string]string{
		"region=eu/device=mobile/part-0.parquet": "aaaa",
		"region=us/device=mobile/part-0.parquet": "bb",
		"region=us/.hidden":                      "x",
	}
	for p, data := range files {
		require.NoError(t, backend.WriteReader(ctx, p, bytes.NewReader([]byte(data)), int64(len(data))))
	}

	objects, err = backend.ListObjects(ctx, "")
	require.NoError(t, err)
	require.Len(t, objects, 2)
	sort.Slice(objects, func(i, j int) bool { return objects[i].Path < objects[j].Path })
	assert.Equal(t, "region=eu/device=mobile/part-0.parquet", objects[0].Path)
	assert.Equal(t, int64(4), objects[0].Size)
	assert.Equal(t, int64(6), TotalSize(objects))

	objects, err = backend.ListObjects(ctx, "region=us")
	require.NoError(t, err)
	assert.Len(t, objects, 1)

	exists, err := backend.Exists(ctx, "region=eu/device=mobile/part-0.parquet")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, backend.Delete(ctx, "region=eu/device=mobile/part-0.parquet"))
	require.NoError(t, backend.Delete(ctx, "region=eu/device=mobile/part-0.parquet"))
	exists, err = backend.Exists(ctx, "region=eu/device=mobile/part-0.parquet")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLocalBackend_PathTraversal(t *testing.T) {
	base := t.TempDir()
	backend, err := NewLocalBackend(base, zerolog.Nop())
	require.NoError(t, err)

	uri := backend.URI("../../etc/passwd")
	rel, err := filepath.Rel(base, uri)
	require.NoError(t, err)
	assert.NotContains(t, rel, "..")
	assert.Equal(t, "local", backend.Type())
}

func TestParseLocation(t *testing.T) {
	tests := []struct {
		input    string
		expected Ref
	}{
		{"./data/events", Ref{Scheme: "local", Prefix: "./data/events"}},
		{"/srv/events", Ref{Scheme: "local", Prefix: "/srv/events"}},
		{"file:///srv/events", Ref{Scheme: "local", Prefix: "/srv/events"}},
		{"s3://bucket/events/large/", Ref{Scheme: "s3", Container: "bucket", Prefix: "events/large"}},
		{"s3a://bucket", Ref{Scheme: "s3", Container: "bucket"}},
		{"azure://container/events", Ref{Scheme: "azure", Container: "container", Prefix: "events"}},
		{"az://container/a//b", Ref{Scheme: "azure", Container: "container", Prefix: "a/b"}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			ref, err := ParseLocation(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ref)
		})
	}

	for _, bad := range []string{"", "  ", "gs://bucket/x", "s3://", "s3:///prefix", "file://"} {
		_, err := ParseLocation(bad)
		assert.True(t, errors.Is(err, ErrBadLocation), "%q: %v", bad, err)
	}
}

func TestOpenLocal(t *testing.T) {
	dir := t.TempDir()
	ref, err := ParseLocation(dir)
	require.NoError(t, err)

	backend, prefix, err := Open(context.Background(), ref, Config{}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "local", backend.Type())
	assert.Empty(t, prefix)
	assert.Equal(t, filepath.Join(dir, "x.parquet"), backend.URI("x.parquet"))
}

func TestS3ConfigEndpointURL(t *testing.T) {
	assert.Equal(t, "", S3Config{}.EndpointURL())
	assert.Equal(t, "http://localhost:9000", S3Config{Endpoint: "localhost:9000"}.EndpointURL())
	assert.Equal(t, "https://minio:9000", S3Config{Endpoint: "minio:9000", UseSSL: true}.EndpointURL())
	assert.Equal(t, "http://x", S3Config{Endpoint: "http://x", UseSSL: true}.EndpointURL())
}
