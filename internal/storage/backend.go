package storage

import (
	"context"
	"io"
	"time"
)

// Backend is the object store a dataset lives on. Benchmark runs only list;
// writes come from dataset generation.
type Backend interface {
	// WriteReader writes data from a reader to the specified path
	WriteReader(ctx context.Context, path string, reader io.Reader, size int64) error

	// ListObjects lists all objects under prefix with their metadata
	ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Exists checks if an object exists at the specified path
	Exists(ctx context.Context, path string) (bool, error)

	// Delete deletes the object at the specified path
	Delete(ctx context.Context, path string) error

	// URI returns the engine-readable address of path, e.g. s3://bucket/key
	URI(path string) string

	// Type returns the storage type identifier ("local", "s3", "azure")
	Type() string

	// Close closes any resources held by the backend
	Close() error
}

// ObjectInfo provides metadata about a storage object.
type ObjectInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// TotalSize sums the sizes of objects.
func TotalSize(objects []ObjectInfo) int64 {
	var total int64
	for _, o := range objects {
		total += o.Size
	}
	return total
}
