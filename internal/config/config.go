package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/basekick-labs/readbench/internal/bench"
	"github.com/basekick-labs/readbench/internal/dataset"
	"github.com/basekick-labs/readbench/internal/generate"
	"github.com/basekick-labs/readbench/internal/pipeline"
	"github.com/basekick-labs/readbench/internal/report"
	"github.com/basekick-labs/readbench/internal/storage"
	"github.com/basekick-labs/readbench/internal/trial"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Config holds all configuration for readbench
type Config struct {
	Benchmark  BenchmarkConfig
	Datasets   []DatasetConfig
	Engine     EngineConfig
	Database   DatabaseConfig
	ClickHouse ClickHouseConfig
	Storage    StorageConfig
	Report     ReportConfig
	Metrics    MetricsConfig
	Scheduler  SchedulerConfig
	Generate   GenerateConfig
	Log        LogConfig
}

type BenchmarkConfig struct {
	Repetitions       int
	Warmup            int
	Strategies        []string
	Orders            []string
	CountColumn       string
	TimingMode        string // exclude_resolution or include_resolution
	TrialTimeout      time.Duration
	Parallel          bool
	MaxParallelGroups int
	NoiseThreshold    float64 // minimum relative margin for a winner (default: 0.05)
}

// DatasetConfig is one [[datasets]] entry.
type DatasetConfig struct {
	Name         string `mapstructure:"name"`
	Location     string `mapstructure:"location"`
	SizeClass    string `mapstructure:"size_class"`
	TopColumn    string `mapstructure:"top_column"`
	SecondColumn string `mapstructure:"second_column"`
}

type EngineConfig struct {
	Type string // duckdb, clickhouse or memory
}

type DatabaseConfig struct {
	MaxConnections int
	MemoryLimit    string
	ThreadCount    int
}

type ClickHouseConfig struct {
	Addr             []string
	Database         string
	Username         string
	Password         string
	DialTimeout      time.Duration
	MaxOpenConns     int
	MaxExecutionTime int // seconds
}

type StorageConfig struct {
	// S3/MinIO configuration
	S3Region    string
	S3Endpoint  string // Custom endpoint for MinIO (e.g., "http://localhost:9000")
	S3AccessKey string // AWS access key (or use AWS_ACCESS_KEY_ID env var)
	S3SecretKey string // AWS secret key (or use AWS_SECRET_ACCESS_KEY env var)
	S3UseSSL    bool   // Use HTTPS for S3 connections
	S3PathStyle bool   // Use path-style addressing (required for MinIO)
	// Azure Blob Storage configuration
	AzureConnectionString   string // Connection string (simplest auth method)
	AzureAccountName        string // Storage account name
	AzureAccountKey         string // Storage account key
	AzureSASToken           string // SAS token for scoped access
	AzureEndpoint           string // Custom endpoint (for Azurite testing)
	AzureUseManagedIdentity bool   // Use managed identity (Azure-hosted deployments)
}

type ReportConfig struct {
	Path   string // output template; {run_id} and {time} are expanded, .gz compresses
	Format string // ascii, markdown or none
	Color  bool
}

type MetricsConfig struct {
	Enabled      bool
	TextfilePath string // node exporter textfile written after each run
}

type SchedulerConfig struct {
	Schedule   string // cron expression for `readbench schedule` (default: "0 3 * * *")
	RunOnStart bool
}

// GenerateConfig overrides the built-in dataset shapes. Zero values keep the
// size class default.
type GenerateConfig struct {
	Seed              int64
	Compression       string
	Workers           int
	RowsPerFile       int
	FilesPerPartition int
	TopValues         int
	SecondValues      int
	CountCardinality  int
}

type LogConfig struct {
	Level  string
	Format string
}

// Load loads configuration from the environment and a config file. An empty
// path searches ./readbench.toml, /etc/readbench/ and $HOME/.readbench/.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Environment variables
	v.SetEnvPrefix("READBENCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("readbench")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/readbench/")
		v.AddConfigPath("$HOME/.readbench/")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	var datasets []DatasetConfig
	if err := v.UnmarshalKey("datasets", &datasets); err != nil {
		return nil, fmt.Errorf("invalid datasets: %w", err)
	}

	cfg := &Config{
		Benchmark: BenchmarkConfig{
			Repetitions:       v.GetInt("benchmark.repetitions"),
			Warmup:            v.GetInt("benchmark.warmup"),
			Strategies:        v.GetStringSlice("benchmark.strategies"),
			Orders:            v.GetStringSlice("benchmark.orders"),
			CountColumn:       v.GetString("benchmark.count_column"),
			TimingMode:        v.GetString("benchmark.timing_mode"),
			TrialTimeout:      v.GetDuration("benchmark.trial_timeout"),
			Parallel:          v.GetBool("benchmark.parallel"),
			MaxParallelGroups: v.GetInt("benchmark.max_parallel_groups"),
			NoiseThreshold:    v.GetFloat64("benchmark.noise_threshold"),
		},
		Datasets: datasets,
		Engine: EngineConfig{
			Type: v.GetString("engine.type"),
		},
		Database: DatabaseConfig{
			MaxConnections: v.GetInt("database.max_connections"),
			MemoryLimit:    v.GetString("database.memory_limit"),
			ThreadCount:    v.GetInt("database.thread_count"),
		},
		ClickHouse: ClickHouseConfig{
			Addr:             v.GetStringSlice("clickhouse.addr"),
			Database:         v.GetString("clickhouse.database"),
			Username:         v.GetString("clickhouse.username"),
			Password:         v.GetString("clickhouse.password"),
			DialTimeout:      v.GetDuration("clickhouse.dial_timeout"),
			MaxOpenConns:     v.GetInt("clickhouse.max_open_conns"),
			MaxExecutionTime: v.GetInt("clickhouse.max_execution_time"),
		},
		Storage: StorageConfig{
			S3Region:    v.GetString("storage.s3_region"),
			S3Endpoint:  v.GetString("storage.s3_endpoint"),
			S3AccessKey: v.GetString("storage.s3_access_key"),
			S3SecretKey: v.GetString("storage.s3_secret_key"),
			S3UseSSL:    v.GetBool("storage.s3_use_ssl"),
			S3PathStyle: v.GetBool("storage.s3_path_style"),
			// Azure Blob Storage
			AzureConnectionString:   v.GetString("storage.azure_connection_string"),
			AzureAccountName:        v.GetString("storage.azure_account_name"),
			AzureAccountKey:         v.GetString("storage.azure_account_key"),
			AzureSASToken:           v.GetString("storage.azure_sas_token"),
			AzureEndpoint:           v.GetString("storage.azure_endpoint"),
			AzureUseManagedIdentity: v.GetBool("storage.azure_use_managed_identity"),
		},
		Report: ReportConfig{
			Path:   v.GetString("report.path"),
			Format: v.GetString("report.format"),
			Color:  v.GetBool("report.color"),
		},
		Metrics: MetricsConfig{
			Enabled:      v.GetBool("metrics.enabled"),
			TextfilePath: v.GetString("metrics.textfile_path"),
		},
		Scheduler: SchedulerConfig{
			Schedule:   v.GetString("scheduler.schedule"),
			RunOnStart: v.GetBool("scheduler.run_on_start"),
		},
		Generate: GenerateConfig{
			Seed:              v.GetInt64("generate.seed"),
			Compression:       v.GetString("generate.compression"),
			Workers:           v.GetInt("generate.workers"),
			RowsPerFile:       v.GetInt("generate.rows_per_file"),
			FilesPerPartition: v.GetInt("generate.files_per_partition"),
			TopValues:         v.GetInt("generate.top_values"),
			SecondValues:      v.GetInt("generate.second_values"),
			CountCardinality:  v.GetInt("generate.count_cardinality"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := bench.DefaultConfig()

	// Benchmark defaults
	v.SetDefault("benchmark.repetitions", def.Repetitions)
	v.SetDefault("benchmark.warmup", def.Warmup)
	v.SetDefault("benchmark.strategies", []string{"eager", "deferred", "deferred_fallible"})
	v.SetDefault("benchmark.orders", []string{"top_second", "second_top"})
	v.SetDefault("benchmark.count_column", "user_id")
	v.SetDefault("benchmark.timing_mode", def.TimingMode.String())
	v.SetDefault("benchmark.trial_timeout", def.TrialTimeout)
	v.SetDefault("benchmark.parallel", false) // Sequential: groups never compete for compute
	v.SetDefault("benchmark.max_parallel_groups", def.MaxParallelGroups)
	v.SetDefault("benchmark.noise_threshold", report.DefaultNoiseThreshold)

	v.SetDefault("engine.type", "duckdb")

	// Database defaults - dynamically calculated based on system resources
	v.SetDefault("database.max_connections", getDefaultMaxConnections())
	v.SetDefault("database.memory_limit", getDefaultMemoryLimit())
	v.SetDefault("database.thread_count", getDefaultThreadCount())

	// ClickHouse defaults
	v.SetDefault("clickhouse.addr", []string{"localhost:9000"})
	v.SetDefault("clickhouse.database", "default")
	v.SetDefault("clickhouse.username", "default")
	v.SetDefault("clickhouse.dial_timeout", 10*time.Second)
	v.SetDefault("clickhouse.max_open_conns", 4)
	v.SetDefault("clickhouse.max_execution_time", 0)

	// Storage defaults
	v.SetDefault("storage.s3_region", "us-east-1")
	v.SetDefault("storage.s3_use_ssl", true)
	v.SetDefault("storage.s3_path_style", false) // Use virtual-hosted style by default (set true for MinIO)

	// Report defaults
	v.SetDefault("report.path", "./reports/readbench-{time}.json")
	v.SetDefault("report.format", "ascii")
	v.SetDefault("report.color", true)

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.textfile_path", "./reports/readbench.prom")

	// Scheduler defaults
	v.SetDefault("scheduler.schedule", "0 3 * * *") // 3am daily
	v.SetDefault("scheduler.run_on_start", false)

	// Generate defaults (zero values keep the size class shape)
	v.SetDefault("generate.seed", 1)
	v.SetDefault("generate.compression", "snappy")
	v.SetDefault("generate.workers", getDefaultThreadCount())

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

func getDefaultThreadCount() int {
	// Use number of CPU cores for optimal parallelism
	return runtime.NumCPU()
}

func getDefaultMaxConnections() int {
	// 2x CPU cores, bounded to [4, 64]
	cores := runtime.NumCPU()
	maxConns := cores * 2
	if maxConns < 4 {
		return 4 // Minimum 4 connections
	}
	if maxConns > 64 {
		return 64 // Cap at 64 to avoid excessive resource usage
	}
	return maxConns
}

func getDefaultMemoryLimit() string {
	// Heuristic: assume ~2GB per core and give DuckDB half of it.
	// Users can override via READBENCH_DATABASE_MEMORY_LIMIT or the config file
	targetMemGB := runtime.NumCPU()

	// Apply bounds
	if targetMemGB < 1 {
		return "1GB"
	}
	if targetMemGB > 32 {
		return "32GB" // Cap at 32GB by default
	}
	return fmt.Sprintf("%dGB", targetMemGB)
}

// Validate checks cross-field rules that Load cannot express as defaults.
func (c *Config) Validate() error {
	switch c.Engine.Type {
	case "duckdb", "clickhouse", "memory":
	default:
		return fmt.Errorf("unknown engine.type %q (use duckdb, clickhouse or memory)", c.Engine.Type)
	}
	if c.Engine.Type == "duckdb" && c.Database.MemoryLimit != "" {
		if _, err := ParseSize(c.Database.MemoryLimit); err != nil {
			return fmt.Errorf("invalid database.memory_limit: %w", err)
		}
	}
	if c.Engine.Type == "clickhouse" && len(c.ClickHouse.Addr) == 0 {
		return errors.New("clickhouse.addr is required for the clickhouse engine")
	}
	switch c.Report.Format {
	case "ascii", "markdown", "none":
	default:
		return fmt.Errorf("unknown report.format %q (use ascii, markdown or none)", c.Report.Format)
	}
	if c.Benchmark.NoiseThreshold < 0 || c.Benchmark.NoiseThreshold >= 1 {
		return fmt.Errorf("benchmark.noise_threshold must be in [0, 1), got %g", c.Benchmark.NoiseThreshold)
	}
	if c.Metrics.Enabled && c.Metrics.TextfilePath == "" {
		return errors.New("metrics.textfile_path is required when metrics are enabled")
	}
	if c.Scheduler.Schedule != "" {
		if _, err := cron.ParseStandard(c.Scheduler.Schedule); err != nil {
			return fmt.Errorf("invalid scheduler.schedule: %w", err)
		}
	}
	bc, err := c.Bench()
	if err != nil {
		return err
	}
	if c.Engine.Type == "memory" {
		for _, ds := range bc.Datasets {
			spec := c.Generate.TableSpec(ds.SizeClass, ds.Keys, bc.CountColumn)
			if n := spec.TotalRows(); n > generate.MaxTableRows {
				return fmt.Errorf("dataset %q: %d rows exceed the memory engine limit of %d; lower generate.rows_per_file or generate.files_per_partition",
					ds.Name, n, generate.MaxTableRows)
			}
		}
	}
	return nil
}

// Bench converts the benchmark and dataset sections into a validated run config.
func (c *Config) Bench() (bench.Config, error) {
	out := bench.Config{
		CountColumn:       c.Benchmark.CountColumn,
		Repetitions:       c.Benchmark.Repetitions,
		Warmup:            c.Benchmark.Warmup,
		Parallel:          c.Benchmark.Parallel,
		MaxParallelGroups: c.Benchmark.MaxParallelGroups,
		TrialTimeout:      c.Benchmark.TrialTimeout,
	}

	mode, err := trial.ParseTimingMode(c.Benchmark.TimingMode)
	if err != nil {
		return bench.Config{}, err
	}
	out.TimingMode = mode

	for _, s := range c.Benchmark.Strategies {
		st, err := dataset.ParseStrategy(s)
		if err != nil {
			return bench.Config{}, err
		}
		out.Strategies = append(out.Strategies, st)
	}
	for _, o := range c.Benchmark.Orders {
		ord, err := pipeline.ParseOrder(o)
		if err != nil {
			return bench.Config{}, err
		}
		out.Orders = append(out.Orders, ord)
	}

	for i, d := range c.Datasets {
		class, err := dataset.ParseSizeClass(d.SizeClass)
		if err != nil {
			return bench.Config{}, fmt.Errorf("datasets[%d]: %w", i, err)
		}
		name := d.Name
		if name == "" {
			name = class.String()
		}
		keys := pipeline.KeyColumns{Top: d.TopColumn, Second: d.SecondColumn}
		if keys.Top == "" && keys.Second == "" {
			keys = generate.DefaultSpec(class).Keys
		}
		out.Datasets = append(out.Datasets, bench.DatasetSpec{
			Name:      name,
			Location:  dataset.Location(d.Location),
			SizeClass: class,
			Keys:      keys,
		})
	}

	if err := out.Validate(); err != nil {
		return bench.Config{}, err
	}
	return out, nil
}

// StorageConfig converts the storage section for the storage backends.
func (c *Config) StorageConfig() storage.Config {
	s := c.Storage
	return storage.Config{
		S3: storage.S3Config{
			Region:    s.S3Region,
			Endpoint:  s.S3Endpoint,
			AccessKey: s.S3AccessKey,
			SecretKey: s.S3SecretKey,
			UseSSL:    s.S3UseSSL,
			PathStyle: s.S3PathStyle,
		},
		Azure: storage.AzureBlobConfig{
			ConnectionString:   s.AzureConnectionString,
			AccountName:        s.AzureAccountName,
			AccountKey:         s.AzureAccountKey,
			SASToken:           s.AzureSASToken,
			UseManagedIdentity: s.AzureUseManagedIdentity,
			Endpoint:           s.AzureEndpoint,
		},
	}
}

// Spec returns the generator shape for a size class with the overrides applied.
func (g GenerateConfig) Spec(class dataset.SizeClass, keys pipeline.KeyColumns, countCol string) generate.Spec {
	return g.apply(generate.DefaultSpec(class), keys, countCol)
}

// TableSpec is Spec for the in-memory engine, starting from its smaller shape.
func (g GenerateConfig) TableSpec(class dataset.SizeClass, keys pipeline.KeyColumns, countCol string) generate.Spec {
	return g.apply(generate.TableSpec(class), keys, countCol)
}

func (g GenerateConfig) apply(s generate.Spec, keys pipeline.KeyColumns, countCol string) generate.Spec {
	if keys.Top != "" || keys.Second != "" {
		s.Keys = keys
	}
	if countCol != "" {
		s.CountColumn = countCol
	}
	if g.Seed != 0 {
		s.Seed = g.Seed
	}
	if g.Compression != "" {
		s.Compression = g.Compression
	}
	if g.RowsPerFile > 0 {
		s.RowsPerFile = g.RowsPerFile
	}
	if g.FilesPerPartition > 0 {
		s.FilesPerPartition = g.FilesPerPartition
	}
	if g.TopValues > 0 {
		s.TopValues = g.TopValues
	}
	if g.SecondValues > 0 {
		s.SecondValues = g.SecondValues
	}
	if g.CountCardinality > 0 {
		s.CountCardinality = g.CountCardinality
	}
	return s
}

// ParseSize parses a human-readable size string (e.g., "1GB", "500MB", "100KB") to bytes.
// Supports: B, KB, MB, GB (case-insensitive).
// Returns the size in bytes or an error if the format is invalid.
func ParseSize(sizeStr string) (int64, error) {
	sizeStr = strings.TrimSpace(strings.ToUpper(sizeStr))
	if sizeStr == "" {
		return 0, fmt.Errorf("empty size string")
	}

	// Define multipliers (order matters: check longer suffixes first)
	type unitInfo struct {
		suffix     string
		multiplier int64
	}
	units := []unitInfo{
		{"GB", 1024 * 1024 * 1024},
		{"MB", 1024 * 1024},
		{"KB", 1024},
		{"B", 1},
	}

	for _, unit := range units {
		if strings.HasSuffix(sizeStr, unit.suffix) {
			numStr := strings.TrimSpace(strings.TrimSuffix(sizeStr, unit.suffix))

			// Ensure the remaining string is a valid number (no trailing non-numeric chars)
			var num float64
			var trailing string
			n, _ := fmt.Sscanf(numStr, "%f%s", &num, &trailing)
			if n == 0 {
				return 0, fmt.Errorf("invalid size number: %s", numStr)
			}
			if trailing != "" {
				return 0, fmt.Errorf("invalid size format: %s (use e.g., '1GB', '500MB', '100KB')", sizeStr)
			}
			if num < 0 {
				return 0, fmt.Errorf("size cannot be negative: %s", sizeStr)
			}
			return int64(num * float64(unit.multiplier)), nil
		}
	}

	// Try parsing as plain number (bytes)
	var num int64
	var trailing string
	n, _ := fmt.Sscanf(sizeStr, "%d%s", &num, &trailing)
	if n == 0 || trailing != "" {
		return 0, fmt.Errorf("invalid size format: %s (use e.g., '1GB', '500MB', '100KB')", sizeStr)
	}
	if num < 0 {
		return 0, fmt.Errorf("size cannot be negative: %s", sizeStr)
	}
	return num, nil
}
