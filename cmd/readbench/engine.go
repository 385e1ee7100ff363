package main

import (
	"context"
	"fmt"

	"github.com/basekick-labs/readbench/internal/bench"
	"github.com/basekick-labs/readbench/internal/config"
	"github.com/basekick-labs/readbench/internal/database"
	"github.com/basekick-labs/readbench/internal/inmem"
	"github.com/basekick-labs/readbench/internal/logger"
)

// engineFactory returns a factory for the configured engine. Parallel runs
// call it once per group.
func engineFactory(cfg *config.Config, bc bench.Config) (bench.EngineFactory, error) {
	switch cfg.Engine.Type {
	case "duckdb":
		dbCfg := &database.Config{
			MaxConnections: cfg.Database.MaxConnections,
			MemoryLimit:    cfg.Database.MemoryLimit,
			ThreadCount:    cfg.Database.ThreadCount,
			Storage:        cfg.StorageConfig(),
		}
		return func(ctx context.Context) (bench.Engine, error) {
			db, err := database.New(dbCfg, logger.Get("database"))
			if err != nil {
				return nil, err
			}
			return db, nil
		}, nil

	case "clickhouse":
		ch := cfg.ClickHouse
		chCfg := &database.ClickHouseConfig{
			Addr:             ch.Addr,
			Database:         ch.Database,
			Username:         ch.Username,
			Password:         ch.Password,
			DialTimeout:      ch.DialTimeout,
			MaxOpenConns:     ch.MaxOpenConns,
			MaxExecutionTime: ch.MaxExecutionTime,
		}
		return func(ctx context.Context) (bench.Engine, error) {
			conn, err := database.NewClickHouse(ctx, chCfg, logger.Get("clickhouse"))
			if err != nil {
				return nil, err
			}
			return conn, nil
		}, nil

	case "memory":
		return memoryFactory(cfg, bc)
	}
	return nil, fmt.Errorf("unknown engine %q", cfg.Engine.Type)
}

// memoryFactory generates every configured dataset in memory once, using the
// smaller in-memory shape. Engines share the tables, which are never mutated.
func memoryFactory(cfg *config.Config, bc bench.Config) (bench.EngineFactory, error) {
	tables := make(map[bench.DatasetSpec]*inmem.Table, len(bc.Datasets))
	for _, ds := range bc.Datasets {
		spec := cfg.Generate.TableSpec(ds.SizeClass, ds.Keys, bc.CountColumn)
		t, err := spec.Table()
		if err != nil {
			return nil, fmt.Errorf("dataset %s: %w", ds.Name, err)
		}
		tables[ds] = t
	}
	return func(ctx context.Context) (bench.Engine, error) {
		e := inmem.New()
		for ds, t := range tables {
			e.Register(ds.Location, t)
		}
		return e, nil
	}, nil
}
