package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Propose  ProposeConfig  `yaml:"propose" mapstructure:"propose"`
	Baseline BaselineConfig `yaml:"baseline" mapstructure:"baseline"`
	Health   HealthConfig   `yaml:"health" mapstructure:"health"`
	Debounce DebounceConfig `yaml:"debounce" mapstructure:"debounce"`
	Registry RegistryConfig `yaml:"registry" mapstructure:"registry"`
	Retry    RetryConfig    `yaml:"retry" mapstructure:"retry"`
	Monitor  MonitorConfig  `yaml:"monitoring" mapstructure:"monitoring"`
	Findings FindingsConfig `yaml:"findings" mapstructure:"findings"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port            int      `yaml:"port" mapstructure:"port"`
	RateLimitPerSec float64  `yaml:"rate_limit_per_sec" mapstructure:"rate_limit_per_sec"`
	RateLimitBurst  int      `yaml:"rate_limit_burst" mapstructure:"rate_limit_burst"`
	AllowedOrigins  []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// ProposeConfig configures the proposal engine.
type ProposeConfig struct {
	// ReplaceConfidenceDelta is how much higher a new confidence must be
	// than the stored one for an equal value to replace a proposed record.
	ReplaceConfidenceDelta float64 `yaml:"replace_confidence_delta" mapstructure:"replace_confidence_delta"`
	MaxConflictRetries     int     `yaml:"max_conflict_retries" mapstructure:"max_conflict_retries"`
}

// BaselineConfig configures the auto-propose baseline scheduler.
type BaselineConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	DebounceSecs    int    `yaml:"debounce_secs" mapstructure:"debounce_secs"`
	DefaultImporter string `yaml:"default_importer" mapstructure:"default_importer"`
}

// HealthConfig configures the health evaluator.
type HealthConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	UpstreamKind    string `yaml:"upstream_kind" mapstructure:"upstream_kind"`
	StaleAfterHours int    `yaml:"stale_after_hours" mapstructure:"stale_after_hours"`
}

// DebounceConfig selects the debounce marker backend.
type DebounceConfig struct {
	Driver   string `yaml:"driver" mapstructure:"driver"`
	RedisURL string `yaml:"redis_url" mapstructure:"redis_url"`
	MaxKeys  int    `yaml:"max_keys" mapstructure:"max_keys"`
}

// RegistryConfig points at the required-field list.
type RegistryConfig struct {
	RequiredFieldsPath string `yaml:"required_fields_path" mapstructure:"required_fields_path"`
}

// RetryConfig configures retries of transient store errors.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// MonitorConfig configures background health sweeps and webhook alerts.
type MonitorConfig struct {
	Enabled           bool   `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL        string `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	AlertOnYellow     bool   `yaml:"alert_on_yellow" mapstructure:"alert_on_yellow"`
}

// FindingsConfig configures finding promotion.
type FindingsConfig struct {
	// AllowCrossField lets a finding already live on one field be proposed
	// into another.
	AllowCrossField bool `yaml:"allow_cross_field" mapstructure:"allow_cross_field"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FACTBASE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "factbase.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit_per_sec", 20.0)
	v.SetDefault("server.rate_limit_burst", 40)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("propose.replace_confidence_delta", 0.0)
	v.SetDefault("propose.max_conflict_retries", 3)
	v.SetDefault("baseline.enabled", true)
	v.SetDefault("baseline.debounce_secs", 60)
	v.SetDefault("baseline.default_importer", "website_diagnostic")
	v.SetDefault("health.enabled", true)
	v.SetDefault("health.upstream_kind", "website_diagnostic")
	v.SetDefault("health.stale_after_hours", 168)
	v.SetDefault("debounce.driver", "memory")
	v.SetDefault("debounce.max_keys", 10000)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 200)
	v.SetDefault("retry.max_backoff_ms", 5000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.alert_on_yellow", false)
	v.SetDefault("findings.allow_cross_field", false)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs before it starts.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite", "postgres", "memory":
	default:
		problems = append(problems, "store.driver must be sqlite, postgres or memory")
	}
	if c.Store.Driver != "memory" && c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}
	if c.Propose.ReplaceConfidenceDelta < 0 || c.Propose.ReplaceConfidenceDelta > 1 {
		problems = append(problems, "propose.replace_confidence_delta must be in [0,1]")
	}
	switch c.Debounce.Driver {
	case "memory":
	case "redis":
		if c.Debounce.RedisURL == "" {
			problems = append(problems, "debounce.redis_url is required for the redis driver")
		}
	default:
		problems = append(problems, "debounce.driver must be memory or redis")
	}
	if c.Monitor.Enabled && c.Monitor.WebhookURL == "" {
		problems = append(problems, "monitoring.webhook_url is required when monitoring is enabled")
	}
	if mode == "serve" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		problems = append(problems, "server.port must be between 1 and 65535")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
