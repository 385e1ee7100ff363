package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/rs/zerolog"
)

// ErrBadLocation is returned for locations that cannot be parsed.
var ErrBadLocation = errors.New("bad storage location")

// Ref is a parsed dataset location: a storage scheme, a container (bucket or
// Azure container, empty for local paths) and a prefix inside it.
type Ref struct {
	Scheme    string
	Container string
	Prefix    string
}

func (r Ref) String() string {
	if r.Scheme == "local" {
		return r.Prefix
	}
	return fmt.Sprintf("%s://%s/%s", r.Scheme, r.Container, r.Prefix)
}

// ParseLocation parses s3://bucket/prefix, azure://container/prefix (az:// is
// accepted too), file:///path and plain filesystem paths.
func ParseLocation(loc string) (Ref, error) {
	loc = strings.TrimSpace(loc)
	if loc == "" {
		return Ref{}, fmt.Errorf("%w: empty location", ErrBadLocation)
	}

	scheme, rest, ok := strings.Cut(loc, "://")
	if !ok {
		return Ref{Scheme: "local", Prefix: loc}, nil
	}

	switch strings.ToLower(scheme) {
	case "file":
		if rest == "" {
			return Ref{}, fmt.Errorf("%w: %q has no path", ErrBadLocation, loc)
		}
		return Ref{Scheme: "local", Prefix: rest}, nil
	case "s3", "s3a":
		scheme = "s3"
	case "azure", "az":
		scheme = "azure"
	default:
		return Ref{}, fmt.Errorf("%w: unsupported scheme %q in %q", ErrBadLocation, scheme, loc)
	}

	container, prefix, _ := strings.Cut(rest, "/")
	if container == "" {
		return Ref{}, fmt.Errorf("%w: %q has no bucket or container", ErrBadLocation, loc)
	}
	prefix = strings.Trim(path.Clean("/"+prefix), "/")
	return Ref{Scheme: scheme, Container: container, Prefix: prefix}, nil
}

// Config carries the credentials for the cloud backends. The bucket and
// container always come from the location itself.
type Config struct {
	S3    S3Config
	Azure AzureBlobConfig
}

// Open returns a backend for ref and the prefix to list under. Local refs are
// rooted at the location itself, so their prefix is empty.
func Open(ctx context.Context, ref Ref, cfg Config, logger zerolog.Logger) (Backend, string, error) {
	switch ref.Scheme {
	case "local":
		b, err := NewLocalBackend(ref.Prefix, logger)
		return b, "", err
	case "s3":
		s3cfg := cfg.S3
		s3cfg.Bucket = ref.Container
		b, err := NewS3Backend(ctx, &s3cfg, logger)
		return b, ref.Prefix, err
	case "azure":
		azcfg := cfg.Azure
		azcfg.ContainerName = ref.Container
		b, err := NewAzureBlobBackend(&azcfg, logger)
		return b, ref.Prefix, err
	}
	return nil, "", fmt.Errorf("%w: unknown scheme %q", ErrBadLocation, ref.Scheme)
}
