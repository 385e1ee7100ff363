package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/basekick-labs/readbench/internal/dataset"
	"github.com/basekick-labs/readbench/internal/pipeline"
	"github.com/rs/zerolog"
)

// ClickHouseConfig holds the native protocol connection settings.
type ClickHouseConfig struct {
	Addr             []string
	Database         string
	Username         string
	Password         string
	DialTimeout      time.Duration
	MaxOpenConns     int
	MaxExecutionTime int // seconds, 0 leaves the server default
}

// ClickHouse resolves datasets stored as MergeTree tables. Locations are
// table names, optionally qualified as database.table.
type ClickHouse struct {
	conn   driver.Conn
	cfg    *ClickHouseConfig
	logger zerolog.Logger
}

// NewClickHouse connects to the server and pings it.
func NewClickHouse(ctx context.Context, cfg *ClickHouseConfig, logger zerolog.Logger) (*ClickHouse, error) {
	if len(cfg.Addr) == 0 {
		return nil, fmt.Errorf("clickhouse address is required")
	}
	settings := clickhouse.Settings{}
	if cfg.MaxExecutionTime > 0 {
		settings["max_execution_time"] = cfg.MaxExecutionTime
	}
	dial := cfg.DialTimeout
	if dial <= 0 {
		dial = 10 * time.Second
	}
	conns := cfg.MaxOpenConns
	if conns <= 0 {
		conns = 4
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addr,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings:        settings,
		DialTimeout:     dial,
		MaxOpenConns:    conns,
		MaxIdleConns:    conns,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	logger.Info().
		Strs("addr", cfg.Addr).
		Str("database", cfg.Database).
		Msg("ClickHouse connected")

	return &ClickHouse{conn: conn, cfg: cfg, logger: logger}, nil
}

// parseTable splits a location into database and table.
func parseTable(loc dataset.Location, defaultDB string) (db, table string, err error) {
	s := strings.TrimSpace(loc.String())
	parts := strings.Split(s, ".")
	switch {
	case len(parts) == 1 && parts[0] != "":
		db, table = defaultDB, parts[0]
	case len(parts) == 2 && parts[0] != "" && parts[1] != "":
		db, table = parts[0], parts[1]
	default:
		return "", "", fmt.Errorf("%q is not a [database.]table name", s)
	}
	if db == "" {
		db = "default"
	}
	return db, table, nil
}

func quoteTable(db, table string) string {
	q := func(s string) string { return "`" + strings.ReplaceAll(s, "`", "\\`") + "`" }
	return q(db) + "." + q(table)
}

// Open checks the table exists, reads its columns and counts its active parts.
func (c *ClickHouse) Open(ctx context.Context, loc dataset.Location) (*dataset.Resolved, error) {
	db, table, err := parseTable(loc, c.cfg.Database)
	if err != nil {
		return nil, resolutionErr(loc, dataset.ErrMalformed, err)
	}

	var exists uint64
	if err := c.conn.QueryRow(ctx,
		"SELECT count() FROM system.tables WHERE database = ? AND name = ?", db, table,
	).Scan(&exists); err != nil {
		return nil, resolutionErr(loc, dataset.ErrUnreachable, err)
	}
	if exists == 0 {
		return nil, resolutionErr(loc, dataset.ErrUnreachable, fmt.Errorf("table %s.%s does not exist", db, table))
	}

	rows, err := c.conn.Query(ctx,
		"SELECT name FROM system.columns WHERE database = ? AND table = ? ORDER BY position", db, table)
	if err != nil {
		return nil, resolutionErr(loc, dataset.ErrSchema, err)
	}
	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, resolutionErr(loc, dataset.ErrSchema, err)
		}
		cols = append(cols, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, resolutionErr(loc, dataset.ErrSchema, err)
	}

	var parts uint64
	if err := c.conn.QueryRow(ctx,
		"SELECT count() FROM system.parts WHERE database = ? AND table = ? AND active", db, table,
	).Scan(&parts); err != nil {
		return nil, resolutionErr(loc, dataset.ErrUnreachable, err)
	}
	if parts == 0 {
		return nil, resolutionErr(loc, dataset.ErrNoPartitions, nil)
	}

	return &dataset.Resolved{
		Location:   loc,
		Columns:    cols,
		Partitions: int(parts),
		Relation:   quoteTable(db, table),
		ResolvedAt: time.Now(),
	}, nil
}

// Execute runs the plan as a single nested query. ClickHouse returns 0 rather
// than NULL for min over no rows, so emptiness comes from the group count.
func (c *ClickHouse) Execute(ctx context.Context, ds *dataset.Resolved, plan pipeline.Plan) (int64, error) {
	query := pipeline.RenderSQL(plan, ds.Relation)
	start := time.Now()

	var result, groups int64
	if err := c.conn.QueryRow(ctx, query).Scan(&result, &groups); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		c.logger.Error().Err(err).Str("location", ds.Location.String()).Msg("Query failed")
		return 0, fmt.Errorf("query failed: %w", err)
	}
	c.logger.Debug().
		Str("location", ds.Location.String()).
		Dur("elapsed", time.Since(start)).
		Msg("Query executed")

	if groups == 0 {
		return 0, pipeline.ErrEmptyResult
	}
	return result, nil
}

// Close closes the connection pool.
func (c *ClickHouse) Close() error {
	return c.conn.Close()
}
