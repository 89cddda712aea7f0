package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the attribution pipeline.
type Config struct {
	Env        string
	Database   DatabaseConfig
	Redis      RedisConfig
	ClickHouse ClickHouseConfig
	API        APIConfig
	Pipeline   PipelineConfig
	Log        LogConfig
	Metrics    MetricsConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// ClickHouseConfig configures the optional analytics mirror of the
// channel report. The pipeline runs fine without it.
type ClickHouseConfig struct {
	Enabled  bool
	Addr     string
	Database string
	User     string
	Password string
	Table    string
}

// APIConfig configures the remote IHC scoring service client.
type APIConfig struct {
	BaseURL        string
	APIKey         string
	ConvTypeID     string
	RequestTimeout time.Duration
	MaxRetries     int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	// RequestsPerMinute caps outbound calls across retries and chunks.
	RequestsPerMinute int
}

// PipelineConfig carries the run parameters the core needs.
type PipelineConfig struct {
	ChunkSize           int
	MaxSessionsPerChunk int
	ReportOutputPath    string
}

type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool
	Path    string
	Addr    string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Env: getEnv("ATTRIB_ENV", "development"),
		Database: DatabaseConfig{
			Host:     getEnv("ATTRIB_DB_HOST", "localhost"),
			Port:     getIntEnv("ATTRIB_DB_PORT", 5432),
			User:     getEnv("ATTRIB_DB_USER", "attribution"),
			Password: getEnv("ATTRIB_DB_PASSWORD", "attribution_secret"),
			DBName:   getEnv("ATTRIB_DB_NAME", "attribution"),
			SSLMode:  getEnv("ATTRIB_DB_SSLMODE", "disable"),
			MaxConns: getIntEnv("ATTRIB_DB_MAX_CONNS", 10),
			MinConns: getIntEnv("ATTRIB_DB_MIN_CONNS", 2),
		},
		Redis: RedisConfig{
			Enabled:  getBoolEnv("ATTRIB_REDIS_ENABLED", false),
			Addr:     getEnv("ATTRIB_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("ATTRIB_REDIS_PASSWORD", ""),
			DB:       getIntEnv("ATTRIB_REDIS_DB", 0),
		},
		ClickHouse: ClickHouseConfig{
			Enabled:  getBoolEnv("ATTRIB_CLICKHOUSE_ENABLED", false),
			Addr:     getEnv("ATTRIB_CLICKHOUSE_ADDR", "localhost:9000"),
			Database: getEnv("ATTRIB_CLICKHOUSE_DB", "analytics"),
			User:     getEnv("ATTRIB_CLICKHOUSE_USER", "default"),
			Password: getEnv("ATTRIB_CLICKHOUSE_PASSWORD", ""),
			Table:    getEnv("ATTRIB_CLICKHOUSE_TABLE", "channel_reporting"),
		},
		API: APIConfig{
			BaseURL:           getEnv("ATTRIB_API_BASE_URL", "https://api.ihc-attribution.com/v1"),
			APIKey:            getEnv("ATTRIB_API_KEY", ""),
			ConvTypeID:        getEnv("ATTRIB_API_CONV_TYPE_ID", ""),
			RequestTimeout:    getDurationEnv("ATTRIB_API_TIMEOUT", 30*time.Second),
			MaxRetries:        getIntEnv("ATTRIB_API_MAX_RETRIES", 3),
			BackoffBase:       getDurationEnv("ATTRIB_API_BACKOFF_BASE", 1*time.Second),
			BackoffMax:        getDurationEnv("ATTRIB_API_BACKOFF_MAX", 30*time.Second),
			RequestsPerMinute: getIntEnv("ATTRIB_API_RPM", 60),
		},
		Pipeline: PipelineConfig{
			ChunkSize:           getIntEnv("ATTRIB_CHUNK_SIZE", 10),
			MaxSessionsPerChunk: getIntEnv("ATTRIB_MAX_SESSIONS_PER_CHUNK", 3000),
			ReportOutputPath:    getEnv("ATTRIB_REPORT_OUTPUT", "channel_reporting.csv"),
		},
		Log: LogConfig{
			Level:  getEnv("ATTRIB_LOG_LEVEL", "info"),
			Format: getEnv("ATTRIB_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getBoolEnv("ATTRIB_METRICS_ENABLED", false),
			Path:    getEnv("ATTRIB_METRICS_PATH", "/metrics"),
			Addr:    getEnv("ATTRIB_METRICS_ADDR", ":9090"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Pipeline.ChunkSize <= 0 {
		return fmt.Errorf("ATTRIB_CHUNK_SIZE must be positive, got %d", c.Pipeline.ChunkSize)
	}
	if c.Pipeline.MaxSessionsPerChunk <= 0 {
		return fmt.Errorf("ATTRIB_MAX_SESSIONS_PER_CHUNK must be positive, got %d", c.Pipeline.MaxSessionsPerChunk)
	}
	if c.API.MaxRetries < 0 {
		return fmt.Errorf("ATTRIB_API_MAX_RETRIES must not be negative, got %d", c.API.MaxRetries)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// Helper functions for reading environment variables

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
