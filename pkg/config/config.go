package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/ekaya-inc/fuzzy-index/pkg/models"
)

// Config holds all configuration for the fuzzy index.
// Configuration can come from a YAML file or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	Env     string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL source and index store)
	Database DatabaseConfig `yaml:"database"`

	// Redis is optional; when Host is empty builds are coordinated in-process only.
	Redis RedisConfig `yaml:"redis"`

	Store StoreConfig `yaml:"store"`
	Index IndexConfig `yaml:"index"`
	Query QueryConfig `yaml:"query"`
	Text  TextConfig  `yaml:"text"`
	Log   LogConfig   `yaml:"log"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"fuzzy"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"fuzzy_index"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds the optional Redis connection used for build leases.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	// LeaseTTL bounds how long a crashed builder can block others.
	LeaseTTL time.Duration `yaml:"lease_ttl" env:"REDIS_LEASE_TTL" env-default:"10m"`
}

// StoreConfig selects the index and source store backend.
type StoreConfig struct {
	// Backend is "postgres" or "sqlite".
	Backend    string `yaml:"backend" env:"STORE_BACKEND" env-default:"postgres"`
	SQLitePath string `yaml:"sqlite_path" env:"STORE_SQLITE_PATH" env-default:"fuzzy_index.db"`
	// IDColumn is the primary-key column of every source table.
	IDColumn string `yaml:"id_column" env:"STORE_ID_COLUMN" env-default:"id"`
	// RefKind is the primary-key type: text, int or uuid.
	RefKind string `yaml:"ref_kind" env:"STORE_REF_KIND" env-default:"text"`
	// MigrationsPath is the directory holding the build registry migrations.
	MigrationsPath string `yaml:"migrations_path" env:"STORE_MIGRATIONS_PATH" env-default:"migrations"`
}

// IndexConfig holds index build settings.
type IndexConfig struct {
	BatchSize  int `yaml:"batch_size" env:"INDEX_BATCH_SIZE" env-default:"1000"`
	SampleSize int `yaml:"sample_size" env:"INDEX_SAMPLE_SIZE" env-default:"100"`
	Workers    int `yaml:"workers" env:"INDEX_WORKERS" env-default:"4"`
	// TableFieldKeywordIndex adds the optional (source_table, field_name, keyword) index.
	TableFieldKeywordIndex bool `yaml:"table_field_keyword_index" env:"INDEX_TABLE_FIELD_KEYWORD_INDEX" env-default:"false"`
}

// QueryConfig holds query engine settings.
type QueryConfig struct {
	AutoBuild            bool          `yaml:"auto_build" env:"QUERY_AUTO_BUILD" env-default:"true"`
	Workers              int           `yaml:"workers" env:"QUERY_WORKERS" env-default:"8"`
	TaskTimeout          time.Duration `yaml:"task_timeout" env:"QUERY_TASK_TIMEOUT" env-default:"30s"`
	PlanCacheSize        int           `yaml:"plan_cache_size" env:"QUERY_PLAN_CACHE_SIZE" env-default:"256"`
	FieldTypeCacheSize   int           `yaml:"field_type_cache_size" env:"QUERY_FIELD_TYPE_CACHE_SIZE" env-default:"1024"`
	BatchCandidateFactor int           `yaml:"batch_candidate_factor" env:"QUERY_BATCH_CANDIDATE_FACTOR" env-default:"2"`
	DefaultMaxCandidates int           `yaml:"default_max_candidates" env:"QUERY_DEFAULT_MAX_CANDIDATES" env-default:"10"`
	MaxRetries           int           `yaml:"max_retries" env:"QUERY_MAX_RETRIES" env-default:"3"`
	RetryInitialDelay    time.Duration `yaml:"retry_initial_delay" env:"QUERY_RETRY_INITIAL_DELAY" env-default:"100ms"`
}

// TextConfig holds text processing settings.
type TextConfig struct {
	// Segmenter is "rule" or "gse".
	Segmenter string `yaml:"segmenter" env:"TEXT_SEGMENTER" env-default:"rule"`
	// GseDictPath overrides the embedded gse dictionary when set.
	GseDictPath string `yaml:"gse_dict_path" env:"TEXT_GSE_DICT_PATH" env-default:""`
	// Thresholds overrides the per-type default similarity threshold.
	Thresholds map[string]float64 `yaml:"thresholds"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level       string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Development bool   `yaml:"development" env:"LOG_DEVELOPMENT" env-default:"false"`
}

// Load reads configuration from the YAML file at path with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg.Database.Host = ResolveHostForDocker(cfg.Database.Host)
	cfg.Redis.Host = ResolveHostForDocker(cfg.Redis.Host)

	return cfg, nil
}

// Validate checks enumerated settings and numeric bounds.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Store.Backend) {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("store.backend must be postgres or sqlite, got %q", c.Store.Backend)
	}

	switch models.RefKind(c.Store.RefKind) {
	case models.RefKindText, models.RefKindInt, models.RefKindUUID:
	default:
		return fmt.Errorf("store.ref_kind must be text, int or uuid, got %q", c.Store.RefKind)
	}

	switch c.Text.Segmenter {
	case "rule", "gse":
	default:
		return fmt.Errorf("text.segmenter must be rule or gse, got %q", c.Text.Segmenter)
	}

	if c.Index.BatchSize <= 0 {
		return fmt.Errorf("index.batch_size must be positive")
	}
	if c.Query.BatchCandidateFactor < 1 {
		return fmt.Errorf("query.batch_candidate_factor must be at least 1")
	}

	for name, thr := range c.Text.Thresholds {
		if !models.FieldType(name).IsValid() {
			return fmt.Errorf("text.thresholds: unknown field type %q", name)
		}
		if thr <= 0 || thr > 1 {
			return fmt.Errorf("text.thresholds.%s must be in (0, 1], got %v", name, thr)
		}
	}

	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// URL returns the connection string in URL form, as golang-migrate expects.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}
