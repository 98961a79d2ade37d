// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Index, Rebuild, Search, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Index     IndexConfig     `yaml:"index"`
	Rebuild   RebuildConfig   `yaml:"rebuild"`
	Search    SearchConfig    `yaml:"search"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	// AdminRateLimit is the per-client budget of rebuild and cache
	// requests per minute.
	AdminRateLimit int `yaml:"adminRateLimit"`

	// CORSOrigins may call the API from a browser; "*" allows any.
	CORSOrigins []string `yaml:"corsOrigins"`
}

// PostgresConfig holds PostgreSQL connection parameters for the food
// record data source.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
	RecordsQuery    string        `yaml:"recordsQuery"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	FoodDataChanged string `yaml:"foodDataChanged"`
	RebuildStatus   string `yaml:"rebuildStatus"`
	AnalyticsEvents string `yaml:"analyticsEvents"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// IndexConfig controls where locale definitions and index snapshots live
// and the record-skip policy for builds.
type IndexConfig struct {
	SnapshotDir       string   `yaml:"snapshotDir"`
	LocalesFile       string   `yaml:"localesFile"`
	Locales           []string `yaml:"locales"`
	RecordsFile       string   `yaml:"recordsFile"`
	SQLitePath        string   `yaml:"sqlitePath"`
	DegradedThreshold float64  `yaml:"degradedThreshold"`
	WarmOnStart       bool     `yaml:"warmOnStart"`
	WatchLocales      bool     `yaml:"watchLocales"`
}

// RebuildConfig controls retry, timeout and concurrency policy of the
// rebuild coordinator.
type RebuildConfig struct {
	MaxAttempts      int           `yaml:"maxAttempts"`
	InitialBackoff   time.Duration `yaml:"initialBackoff"`
	MaxBackoff       time.Duration `yaml:"maxBackoff"`
	BuildTimeout     time.Duration `yaml:"buildTimeout"`
	Workers          int           `yaml:"workers"`
	PeriodicInterval time.Duration `yaml:"periodicInterval"`
	CodeCacheSize    int           `yaml:"codeCacheSize"`
	BreakerThreshold int           `yaml:"breakerThreshold"`
	BreakerReset     time.Duration `yaml:"breakerReset"`
}

// SearchConfig controls result limits and scoring weights.
type SearchConfig struct {
	MaxResults   int           `yaml:"maxResults"`
	DefaultLimit int           `yaml:"defaultLimit"`
	Weights      ScoreWeights  `yaml:"weights"`
	Timeout      time.Duration `yaml:"timeout"`
}

// ScoreWeights are the tunable policy constants of the match scorer.
type ScoreWeights struct {
	Exact         float64 `yaml:"exact"`
	Synonym       float64 `yaml:"synonym"`
	Phonetic      float64 `yaml:"phonetic"`
	LengthPenalty float64 `yaml:"lengthPenalty"`
}

// DefaultScoreWeights returns the weights used when none are configured.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		Exact:         1.0,
		Synonym:       0.6,
		Phonetic:      0.3,
		LengthPenalty: 0.05,
	}
}

// AnalyticsConfig sizes the search event pipeline and controls how often
// the analytics service persists its aggregate.
type AnalyticsConfig struct {
	BufferSize       int           `yaml:"bufferSize"`
	BatchSize        int           `yaml:"batchSize"`
	FlushInterval    time.Duration `yaml:"flushInterval"`
	SnapshotInterval time.Duration `yaml:"snapshotInterval"`

	// SQLitePath holds analytics snapshots when Postgres is disabled.
	SQLitePath string `yaml:"sqlitePath"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the services cannot run with.
func (c *Config) Validate() error {
	if c.Index.DegradedThreshold < 0 || c.Index.DegradedThreshold > 1 {
		return fmt.Errorf("index.degradedThreshold must be within [0,1], got %v", c.Index.DegradedThreshold)
	}
	if c.Rebuild.MaxAttempts < 1 {
		return fmt.Errorf("rebuild.maxAttempts must be at least 1, got %d", c.Rebuild.MaxAttempts)
	}
	if c.Search.DefaultLimit < 1 || c.Search.MaxResults < c.Search.DefaultLimit {
		return fmt.Errorf("search limits invalid: defaultLimit=%d maxResults=%d", c.Search.DefaultLimit, c.Search.MaxResults)
	}
	w := c.Search.Weights
	if w.Exact < 0 || w.Synonym < 0 || w.Phonetic < 0 || w.LengthPenalty < 0 {
		return fmt.Errorf("search.weights must be non-negative")
	}
	return nil
}

// defaultConfig returns a Config with defaults suited to local development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			AdminRateLimit:  10,
			CORSOrigins:     []string{"*"},
		},
		Postgres: PostgresConfig{
			Enabled:         true,
			Host:            "localhost",
			Port:            5432,
			Database:        "foods",
			User:            "foodsearch",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Enabled:       false,
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "foodsearch-group",
			Topics: KafkaTopics{
				FoodDataChanged: "food-data-changed",
				RebuildStatus:   "index.rebuild-status",
				AnalyticsEvents: "search-analytics",
			},
		},
		Redis: RedisConfig{
			Enabled:  false,
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Index: IndexConfig{
			SnapshotDir:       "data/snapshots",
			LocalesFile:       "configs/locales.yaml",
			DegradedThreshold: 0.1,
			WarmOnStart:       true,
			WatchLocales:      true,
		},
		Rebuild: RebuildConfig{
			MaxAttempts:      3,
			InitialBackoff:   500 * time.Millisecond,
			MaxBackoff:       30 * time.Second,
			BuildTimeout:     10 * time.Minute,
			Workers:          4,
			CodeCacheSize:    50000,
			BreakerThreshold: 5,
			BreakerReset:     time.Minute,
		},
		Search: SearchConfig{
			MaxResults:   100,
			DefaultLimit: 20,
			Weights:      DefaultScoreWeights(),
			Timeout:      2 * time.Second,
		},
		Analytics: AnalyticsConfig{
			BufferSize:       10000,
			BatchSize:        100,
			FlushInterval:    time.Second,
			SnapshotInterval: 5 * time.Minute,
			SQLitePath:       "data/analytics.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads FS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FS_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("FS_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("FS_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("FS_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("FS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("FS_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("FS_POSTGRES_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Postgres.Enabled = enabled
		}
	}
	if v := os.Getenv("FS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("FS_KAFKA_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Kafka.Enabled = enabled
		}
	}
	if v := os.Getenv("FS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("FS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("FS_REDIS_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Redis.Enabled = enabled
		}
	}
	if v := os.Getenv("FS_INDEX_SNAPSHOT_DIR"); v != "" {
		cfg.Index.SnapshotDir = v
	}
	if v := os.Getenv("FS_INDEX_LOCALES_FILE"); v != "" {
		cfg.Index.LocalesFile = v
	}
	if v := os.Getenv("FS_INDEX_LOCALES"); v != "" {
		cfg.Index.Locales = strings.Split(v, ",")
	}
	if v := os.Getenv("FS_INDEX_RECORDS_FILE"); v != "" {
		cfg.Index.RecordsFile = v
	}
	if v := os.Getenv("FS_INDEX_SQLITE_PATH"); v != "" {
		cfg.Index.SQLitePath = v
	}
	if v := os.Getenv("FS_REBUILD_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Rebuild.MaxAttempts = n
		}
	}
	if v := os.Getenv("FS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
