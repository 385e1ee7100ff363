package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/basekick-labs/readbench/internal/dataset"
	"github.com/basekick-labs/readbench/internal/pipeline"
	"github.com/basekick-labs/readbench/internal/storage"
	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/rs/zerolog"
)

// DuckDB resolves parquet datasets through the storage backends and runs the
// aggregation pipeline as SQL over read_parquet.
//
// No mutex guards db: *sql.DB has its own pool and DuckDB handles concurrent
// queries internally. mu only protects the backend and secret caches.
type DuckDB struct {
	db     *sql.DB
	logger zerolog.Logger
	config *Config

	mu       sync.Mutex
	backends map[string]storage.Backend
	secrets  map[string]bool
	nsecret  int
}

// Config holds DuckDB configuration
type Config struct {
	MaxConnections int
	MemoryLimit    string
	ThreadCount    int

	// Storage carries the S3 and Azure credentials used both for listing
	// partitions and for the DuckDB secrets that let read_parquet reach them.
	Storage storage.Config
}

// New creates a new DuckDB instance
func New(cfg *Config, logger zerolog.Logger) (*DuckDB, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}

	if cfg.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.MaxConnections)
		db.SetMaxIdleConns(max(cfg.MaxConnections/2, 1))
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping duckdb: %w", err)
	}

	// Configure database settings (memory limit, threads)
	if err := configureDatabase(db, cfg); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure duckdb: %w", err)
	}

	logger.Info().
		Int("max_connections", cfg.MaxConnections).
		Str("memory_limit", cfg.MemoryLimit).
		Int("thread_count", cfg.ThreadCount).
		Msg("DuckDB initialized")

	return &DuckDB{
		db:       db,
		logger:   logger,
		config:   cfg,
		backends: make(map[string]storage.Backend),
		secrets:  make(map[string]bool),
	}, nil
}

// configureDatabase sets DuckDB configuration after connection
func configureDatabase(db *sql.DB, cfg *Config) error {
	// Set memory limit to prevent unbounded memory growth
	if cfg.MemoryLimit != "" {
		if _, err := db.Exec(fmt.Sprintf("SET memory_limit='%s'", escapeSQLString(cfg.MemoryLimit))); err != nil {
			return fmt.Errorf("failed to set memory_limit: %w", err)
		}
	}
	if cfg.ThreadCount > 0 {
		if _, err := db.Exec(fmt.Sprintf("SET threads=%d", cfg.ThreadCount)); err != nil {
			return fmt.Errorf("failed to set threads: %w", err)
		}
	}
	return nil
}

// escapeSQLString escapes single quotes for safe use in DuckDB SQL strings
func escapeSQLString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func resolutionErr(loc dataset.Location, sentinel, cause error) error {
	if cause == nil {
		return &dataset.ResolutionError{Location: loc, Err: sentinel}
	}
	return &dataset.ResolutionError{Location: loc, Err: fmt.Errorf("%w: %v", sentinel, cause)}
}

// Open enumerates the parquet files at loc and probes their schema. No row
// data is read.
func (d *DuckDB) Open(ctx context.Context, loc dataset.Location) (*dataset.Resolved, error) {
	start := time.Now()

	ref, err := storage.ParseLocation(loc.String())
	if err != nil {
		return nil, resolutionErr(loc, dataset.ErrMalformed, err)
	}
	if ref.Scheme == "local" {
		if _, err := os.Stat(ref.Prefix); err != nil {
			return nil, resolutionErr(loc, dataset.ErrUnreachable, err)
		}
	}

	backend, prefix, err := d.backend(ctx, ref)
	if err != nil {
		return nil, resolutionErr(loc, dataset.ErrUnreachable, err)
	}
	if err := d.ensureSecret(ctx, ref); err != nil {
		return nil, resolutionErr(loc, dataset.ErrUnreachable, err)
	}

	if prefix != "" {
		prefix += "/"
	}
	objects, err := backend.ListObjects(ctx, prefix)
	if err != nil {
		return nil, resolutionErr(loc, dataset.ErrUnreachable, err)
	}

	var files []string
	hive := false
	for _, obj := range objects {
		if !strings.HasSuffix(obj.Path, ".parquet") {
			continue
		}
		files = append(files, backend.URI(obj.Path))
		if isHivePath(strings.TrimPrefix(obj.Path, prefix)) {
			hive = true
		}
	}
	if len(files) == 0 {
		return nil, resolutionErr(loc, dataset.ErrNoPartitions, nil)
	}

	relation := readParquet(files, hive)
	cols, err := d.columns(ctx, relation)
	if err != nil {
		return nil, resolutionErr(loc, dataset.ErrSchema, err)
	}

	d.logger.Debug().
		Str("location", loc.String()).
		Int("files", len(files)).
		Bool("hive", hive).
		Dur("elapsed", time.Since(start)).
		Msg("Dataset resolved")

	return &dataset.Resolved{
		Location:        loc,
		Columns:         cols,
		Files:           files,
		Partitions:      len(files),
		HivePartitioned: hive,
		Relation:        relation,
		ResolvedAt:      time.Now(),
	}, nil
}

// isHivePath reports whether a relative object path has key=value directories.
func isHivePath(p string) bool {
	segs := strings.Split(p, "/")
	for _, s := range segs[:len(segs)-1] {
		if k, _, ok := strings.Cut(s, "="); ok && k != "" {
			return true
		}
	}
	return false
}

func readParquet(files []string, hive bool) string {
	quoted := make([]string, len(files))
	for i, f := range files {
		quoted[i] = "'" + escapeSQLString(f) + "'"
	}
	return fmt.Sprintf("read_parquet([%s], hive_partitioning = %t)", strings.Join(quoted, ", "), hive)
}

func (d *DuckDB) columns(ctx context.Context, relation string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT * FROM "+relation+" LIMIT 0")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return rows.Columns()
}

func backendKey(ref storage.Ref) string {
	if ref.Scheme == "local" {
		return "local:" + ref.Prefix
	}
	return ref.Scheme + "://" + ref.Container
}

// backend returns a cached backend for the location's bucket or directory.
func (d *DuckDB) backend(ctx context.Context, ref storage.Ref) (storage.Backend, string, error) {
	key := backendKey(ref)
	d.mu.Lock()
	b, ok := d.backends[key]
	d.mu.Unlock()
	prefix := ref.Prefix
	if ref.Scheme == "local" {
		prefix = ""
	}
	if ok {
		return b, prefix, nil
	}

	b, prefix, err := storage.Open(ctx, ref, d.config.Storage, d.logger)
	if err != nil {
		return nil, "", err
	}
	d.mu.Lock()
	d.backends[key] = b
	d.mu.Unlock()
	return b, prefix, nil
}

// ensureSecret creates the DuckDB secret scoped to the location's bucket or
// container, once per engine.
func (d *DuckDB) ensureSecret(ctx context.Context, ref storage.Ref) error {
	if ref.Scheme == "local" {
		return nil
	}
	key := backendKey(ref)
	d.mu.Lock()
	done, n := d.secrets[key], d.nsecret
	if !done {
		d.nsecret++
	}
	d.mu.Unlock()
	if done {
		return nil
	}

	var stmts []string
	switch ref.Scheme {
	case "s3":
		stmts = []string{"LOAD httpfs", s3Secret(n, ref.Container, d.config.Storage.S3)}
	case "azure":
		stmts = []string{"LOAD azure", azureSecret(n, ref.Container, d.config.Storage.Azure)}
	default:
		return fmt.Errorf("no secret support for scheme %q", ref.Scheme)
	}
	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to configure %s access: %w", ref.Scheme, err)
		}
	}

	d.mu.Lock()
	d.secrets[key] = true
	d.mu.Unlock()
	d.logger.Info().Str("scope", key).Msg("DuckDB secret configured")
	return nil
}

func s3Secret(n int, bucket string, cfg storage.S3Config) string {
	opts := []string{"TYPE s3"}
	access, secret := cfg.Credentials()
	if access != "" && secret != "" {
		opts = append(opts,
			fmt.Sprintf("KEY_ID '%s'", escapeSQLString(access)),
			fmt.Sprintf("SECRET '%s'", escapeSQLString(secret)))
	} else {
		opts = append(opts, "PROVIDER credential_chain")
	}
	if cfg.Region != "" {
		opts = append(opts, fmt.Sprintf("REGION '%s'", escapeSQLString(cfg.Region)))
	}
	if cfg.Endpoint != "" {
		// DuckDB wants host:port without a scheme.
		ep := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "https://"), "http://")
		opts = append(opts,
			fmt.Sprintf("ENDPOINT '%s'", escapeSQLString(ep)),
			fmt.Sprintf("USE_SSL %t", cfg.UseSSL || strings.HasPrefix(cfg.Endpoint, "https://")))
	}
	if cfg.PathStyle {
		opts = append(opts, "URL_STYLE 'path'")
	}
	opts = append(opts, fmt.Sprintf("SCOPE 's3://%s'", escapeSQLString(bucket)))
	return fmt.Sprintf("CREATE OR REPLACE SECRET readbench_s3_%d (%s)", n, strings.Join(opts, ", "))
}

func azureSecret(n int, container string, cfg storage.AzureBlobConfig) string {
	opts := []string{"TYPE azure"}
	switch {
	case cfg.ConnectionString != "":
		opts = append(opts, fmt.Sprintf("CONNECTION_STRING '%s'", escapeSQLString(cfg.ConnectionString)))
	case cfg.AccountName != "" && cfg.AccountKey != "":
		conn := fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s", cfg.AccountName, cfg.AccountKey)
		if cfg.Endpoint != "" {
			conn += ";BlobEndpoint=" + cfg.Endpoint
		}
		opts = append(opts, fmt.Sprintf("CONNECTION_STRING '%s'", escapeSQLString(conn)))
	default:
		opts = append(opts, "PROVIDER credential_chain",
			fmt.Sprintf("ACCOUNT_NAME '%s'", escapeSQLString(cfg.AccountName)))
	}
	opts = append(opts, fmt.Sprintf("SCOPE 'azure://%s'", escapeSQLString(container)))
	return fmt.Sprintf("CREATE OR REPLACE SECRET readbench_azure_%d (%s)", n, strings.Join(opts, ", "))
}

// Execute runs the plan over the resolved relation and returns the scalar.
func (d *DuckDB) Execute(ctx context.Context, ds *dataset.Resolved, plan pipeline.Plan) (int64, error) {
	query := pipeline.RenderSQL(plan, ds.Relation)
	start := time.Now()

	var result sql.NullInt64
	var groups int64
	err := d.db.QueryRowContext(ctx, query).Scan(&result, &groups)
	elapsed := time.Since(start)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		d.logger.Error().
			Err(err).
			Str("location", ds.Location.String()).
			Dur("elapsed", elapsed).
			Msg("Query failed")
		return 0, fmt.Errorf("query failed: %w", err)
	}

	d.logger.Debug().
		Str("location", ds.Location.String()).
		Dur("elapsed", elapsed).
		Msg("Query executed")

	if groups == 0 || !result.Valid {
		return 0, pipeline.ErrEmptyResult
	}
	return result.Int64, nil
}

// Close closes the database connection and every cached backend.
func (d *DuckDB) Close() error {
	d.mu.Lock()
	var errs []error
	for _, b := range d.backends {
		errs = append(errs, b.Close())
	}
	d.backends = make(map[string]storage.Backend)
	d.mu.Unlock()

	if err := d.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close database: %w", err))
	}
	d.logger.Info().Msg("DuckDB closed")
	return errors.Join(errs...)
}
