// Package config loads the scoring engine configuration from an optional
// config.yaml, a local .env file and SCORING_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/alem-hub/scoring-engine/pkg/timeutil"
)

// EnvPrefix prefixes every environment override, e.g. SCORING_DATABASE_URL.
const EnvPrefix = "SCORING"

// Environment represents the application environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config holds all application configuration.
type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	HTTP          HTTPConfig          `mapstructure:"http"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Observability ObservabilityConfig `mapstructure:"observability"`

	// Rollout maps feature names to a 0..100 percentage.
	Rollout map[string]int `mapstructure:"features"`

	// Features is built from Rollout by Load.
	Features *FeatureFlags `mapstructure:"-"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name        string      `mapstructure:"name"`
	Environment Environment `mapstructure:"env"`
	Version     string      `mapstructure:"version"`

	// Timezone decides which calendar day an activity belongs to.
	Timezone string         `mapstructure:"timezone"`
	Location *time.Location `mapstructure:"-"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig selects and tunes the store backend.
type DatabaseConfig struct {
	// Driver is postgres, sqlite or memory.
	Driver string `mapstructure:"driver"`

	// URL is the postgres:// connection string.
	URL string `mapstructure:"url"`

	// SQLitePath is a file path or ":memory:".
	SQLitePath        string        `mapstructure:"sqlite_path"`
	SQLiteBusyTimeout time.Duration `mapstructure:"sqlite_busy_timeout"`

	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`

	// Migrate applies pending postgres migrations on startup.
	Migrate bool `mapstructure:"migrate"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
	PoolSize  int    `mapstructure:"pool_size"`

	// Disabled runs without the leaderboard cache and the job lease.
	Disabled bool `mapstructure:"disabled"`
}

// HTTPConfig holds API server settings.
type HTTPConfig struct {
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	IdleTimeout        time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	MaxBodyBytes       int64         `mapstructure:"max_body_bytes"`
	AllowedOrigins     []string      `mapstructure:"allowed_origins"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute"`
}

// SchedulerConfig holds background job settings.
type SchedulerConfig struct {
	Enabled bool `mapstructure:"enabled"`

	ReconcileInterval    time.Duration `mapstructure:"reconcile_interval"`
	ReconcileConcurrency int           `mapstructure:"reconcile_concurrency"`
	LeaderboardInterval  time.Duration `mapstructure:"leaderboard_interval"`
	JobTimeout           time.Duration `mapstructure:"job_timeout"`

	// MetricsAddr is where the worker serves /metrics. Empty disables it.
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// ObservabilityConfig holds logging, metrics and tracing settings.
type ObservabilityConfig struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	MetricsEnabled bool `mapstructure:"metrics_enabled"`

	// TracingEnabled installs an SDK tracer provider. Spans go to
	// TracingEndpoint over OTLP/HTTP, or to stdout when it is empty.
	TracingEnabled     bool    `mapstructure:"tracing_enabled"`
	TracingEndpoint    string  `mapstructure:"tracing_endpoint"`
	TracingInsecure    bool    `mapstructure:"tracing_insecure"`
	TracingSampleRatio float64 `mapstructure:"tracing_sample_ratio"`
}

// setDefaults registers every key so that env overrides are picked up by
// Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "scoring-engine")
	v.SetDefault("app.env", string(EnvDevelopment))
	v.SetDefault("app.version", "dev")
	v.SetDefault("app.timezone", "UTC")
	v.SetDefault("app.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.url", "")
	v.SetDefault("database.sqlite_path", "scoring.db")
	v.SetDefault("database.sqlite_busy_timeout", 5*time.Second)
	v.SetDefault("database.max_conns", 25)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.migrate", true)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "scoring:")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.disabled", false)

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)
	v.SetDefault("http.request_timeout", 10*time.Second)
	v.SetDefault("http.max_body_bytes", 64<<10)
	v.SetDefault("http.allowed_origins", []string{"*"})
	v.SetDefault("http.rate_limit_per_minute", 600)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.reconcile_interval", 15*time.Minute)
	v.SetDefault("scheduler.reconcile_concurrency", 4)
	v.SetDefault("scheduler.leaderboard_interval", 10*time.Minute)
	v.SetDefault("scheduler.job_timeout", 5*time.Minute)
	v.SetDefault("scheduler.metrics_addr", ":9091")

	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.log_format", "json")
	v.SetDefault("observability.metrics_enabled", true)
	v.SetDefault("observability.tracing_enabled", false)
	v.SetDefault("observability.tracing_endpoint", "")
	v.SetDefault("observability.tracing_insecure", false)
	v.SetDefault("observability.tracing_sample_ratio", 1.0)

	// Dots separate viper sections, so flag names use underscores here.
	v.SetDefault("features.scoring_achievements", 100)
	v.SetDefault("features.scoring_leaderboard_cache", 100)
	v.SetDefault("features.scoring_improvement_bonus", 100)
}

// Load reads .env, then config.yaml from "." or "./config" when present,
// then SCORING_* environment variables, and validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	return build(v)
}

// LoadFile is Load with an explicit config file and no .env lookup.
func LoadFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	return build(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func build(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	loc, err := timeutil.LoadLocation(cfg.App.Timezone)
	if err != nil {
		return nil, fmt.Errorf("app.timezone: %w", err)
	}
	cfg.App.Location = loc
	cfg.Features = NewFeatureFlags(cfg.Rollout)
	return cfg, nil
}

func (c *Config) normalize() {
	c.App.Environment = Environment(strings.ToLower(string(c.App.Environment)))
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	c.Observability.LogFormat = strings.ToLower(c.Observability.LogFormat)

	origins := c.HTTP.AllowedOrigins[:0]
	for _, o := range c.HTTP.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	c.HTTP.AllowedOrigins = origins
}

// Validate checks if the configuration is valid and reports every problem.
func (c *Config) Validate() error {
	var errs []string

	switch c.App.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		errs = append(errs, fmt.Sprintf("app.env must be development, staging or production, got %q", c.App.Environment))
	}

	switch c.Database.Driver {
	case "postgres":
		if c.Database.URL == "" {
			errs = append(errs, "database.url is required for the postgres driver")
		}
	case "sqlite":
		if c.Database.SQLitePath == "" {
			errs = append(errs, "database.sqlite_path is required for the sqlite driver")
		}
	case "memory":
		if c.App.Environment == EnvProduction {
			errs = append(errs, "the memory driver is not allowed in production")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.driver must be postgres, sqlite or memory, got %q", c.Database.Driver))
	}

	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		errs = append(errs, "http.port must be 1-65535")
	}
	if c.HTTP.RateLimitPerMinute < 0 {
		errs = append(errs, "http.rate_limit_per_minute must not be negative")
	}

	if c.Scheduler.Enabled {
		if c.Scheduler.ReconcileInterval <= 0 {
			errs = append(errs, "scheduler.reconcile_interval must be positive")
		}
		if c.Scheduler.LeaderboardInterval <= 0 {
			errs = append(errs, "scheduler.leaderboard_interval must be positive")
		}
		if c.Scheduler.ReconcileConcurrency < 1 {
			errs = append(errs, "scheduler.reconcile_concurrency must be at least 1")
		}
	}

	switch c.Observability.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, "observability.log_format must be json or console")
	}

	if r := c.Observability.TracingSampleRatio; r < 0 || r > 1 {
		errs = append(errs, "observability.tracing_sample_ratio must be 0-1")
	}

	for name, pct := range c.Rollout {
		if pct < 0 || pct > 100 {
			errs = append(errs, fmt.Sprintf("features.%s must be 0-100", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}
