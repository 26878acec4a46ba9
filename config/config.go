// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Database  DatabaseConfig   `yaml:"database"`
	Redis     RedisConfig      `yaml:"redis"`
	Auth      AuthConfig       `yaml:"auth"`
	Usage     UsageConfig      `yaml:"usage"`
	Cache     CacheConfig      `yaml:"cache"`
	Plans     []PlanConfig     `yaml:"plans"`
	Providers []ProviderConfig `yaml:"providers"`
	Alerts    AlertsConfig     `yaml:"alerts"`
	Logging   LoggingConfig    `yaml:"logging"`
	Metrics   MetricsConfig    `yaml:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DatabaseConfig configures the durable store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite"
	DSN    string `yaml:"dsn"`
}

// RedisConfig configures the optional redis tier. When enabled, redis
// serves rate limit windows and the durable cache tier.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// AuthConfig configures API key authentication.
type AuthConfig struct {
	KeyPrefix   string `yaml:"key_prefix"`
	DefaultPlan string `yaml:"default_plan"` // plan for anonymous callers
	AdminToken  string `yaml:"admin_token,omitempty"`
}

// UsageConfig configures usage event recording.
type UsageConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// CacheConfig configures response caching.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	CountAsUsage bool          `yaml:"count_as_usage"` // cache hits still count against call quotas
	DefaultTTL   time.Duration `yaml:"default_ttl"`
}

// RateConfig is a fixed-window rate limit. Zero limit means unlimited.
type RateConfig struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

// QuotaConfig is a monthly quota limit. Zero values are unlimited.
type QuotaConfig struct {
	Calls   int64   `yaml:"calls"`
	Tokens  int64   `yaml:"tokens"`
	CostUSD float64 `yaml:"cost_usd"`
}

// PlanConfig configures one plan tier.
type PlanConfig struct {
	Name      string                 `yaml:"name"`
	RateLimit RateConfig             `yaml:"rate_limit"`
	Quotas    map[string]QuotaConfig `yaml:"quotas"` // provider name -> limit
}

// PricingConfig is per-1000-token pricing for a provider.
type PricingConfig struct {
	InputPer1K  float64 `yaml:"input_per_1k"`
	OutputPer1K float64 `yaml:"output_per_1k"`
}

// ProviderConfig configures one metered upstream provider.
type ProviderConfig struct {
	Name    string        `yaml:"name"`
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key,omitempty"`
	Timeout time.Duration `yaml:"timeout"`
	Pricing PricingConfig `yaml:"pricing"`
}

// AlertsConfig configures alert delivery.
type AlertsConfig struct {
	WebhookURL string        `yaml:"webhook_url,omitempty"`
	Timeout    time.Duration `yaml:"timeout"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
// This is useful for Docker deployments where no config file is needed.
//
// Environment variables:
//
//	USAGEGATE_SERVER_HOST      - Server host (default: 0.0.0.0)
//	USAGEGATE_SERVER_PORT      - Server port (default: 8080)
//	USAGEGATE_DATABASE_DSN     - Database path (default: usagegate.db)
//	USAGEGATE_REDIS_ENABLED    - Enable redis tier (default: false)
//	USAGEGATE_REDIS_ADDR       - Redis address
//	USAGEGATE_AUTH_KEY_PREFIX  - API key prefix (default: ug_)
//	USAGEGATE_AUTH_ADMIN_TOKEN - Admin API token
//	USAGEGATE_LOG_LEVEL        - Log level: debug, info, warn, error (default: info)
//	USAGEGATE_LOG_FORMAT       - Log format: json or console (default: json)
//	USAGEGATE_METRICS_ENABLED  - Enable /metrics endpoint (default: true)
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback tries to load from file, falls back to environment variables.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// applyEnvOverrides applies USAGEGATE_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("USAGEGATE_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("USAGEGATE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("USAGEGATE_SERVER_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if v := os.Getenv("USAGEGATE_SERVER_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}

	if v := os.Getenv("USAGEGATE_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("USAGEGATE_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}

	if v := os.Getenv("USAGEGATE_REDIS_ENABLED"); v != "" {
		cfg.Redis.Enabled = parseBool(v)
	}
	if v := os.Getenv("USAGEGATE_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("USAGEGATE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("USAGEGATE_AUTH_KEY_PREFIX"); v != "" {
		cfg.Auth.KeyPrefix = v
	}
	if v := os.Getenv("USAGEGATE_AUTH_DEFAULT_PLAN"); v != "" {
		cfg.Auth.DefaultPlan = v
	}
	if v := os.Getenv("USAGEGATE_AUTH_ADMIN_TOKEN"); v != "" {
		cfg.Auth.AdminToken = v
	}

	if v := os.Getenv("USAGEGATE_USAGE_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Usage.BatchSize = n
		}
	}
	if v := os.Getenv("USAGEGATE_USAGE_FLUSH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Usage.FlushInterval = d
		}
	}

	if v := os.Getenv("USAGEGATE_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = parseBool(v)
	}

	if v := os.Getenv("USAGEGATE_ALERTS_WEBHOOK_URL"); v != "" {
		cfg.Alerts.WebhookURL = v
	}

	if v := os.Getenv("USAGEGATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("USAGEGATE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("USAGEGATE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 120 * time.Second
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "usagegate.db"
	}

	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}

	if cfg.Auth.KeyPrefix == "" {
		cfg.Auth.KeyPrefix = "ug_"
	}
	if cfg.Auth.DefaultPlan == "" {
		cfg.Auth.DefaultPlan = "free"
	}

	if cfg.Usage.BatchSize == 0 {
		cfg.Usage.BatchSize = 100
	}
	if cfg.Usage.FlushInterval == 0 {
		cfg.Usage.FlushInterval = 10 * time.Second
	}

	if cfg.Cache.DefaultTTL == 0 {
		cfg.Cache.DefaultTTL = time.Hour
	}

	if cfg.Alerts.Timeout == 0 {
		cfg.Alerts.Timeout = 10 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	// Default free plan if none configured
	if len(cfg.Plans) == 0 {
		cfg.Plans = []PlanConfig{
			{
				Name:      "free",
				RateLimit: RateConfig{Limit: 60, Window: time.Minute},
				Quotas:    map[string]QuotaConfig{"*": {Calls: 1000}},
			},
		}
	}
}

func validate(cfg *Config) error {
	if cfg.Database.Driver != "sqlite" {
		return fmt.Errorf("database.driver must be 'sqlite', got %q", cfg.Database.Driver)
	}

	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis.enabled is true")
	}

	seen := make(map[string]bool, len(cfg.Plans))
	for i, plan := range cfg.Plans {
		if plan.Name == "" {
			return fmt.Errorf("plans[%d].name is required", i)
		}
		if seen[plan.Name] {
			return fmt.Errorf("duplicate plan name %q", plan.Name)
		}
		seen[plan.Name] = true
		if plan.RateLimit.Limit > 0 && plan.RateLimit.Window <= 0 {
			return fmt.Errorf("plans[%d].rate_limit.window must be positive", i)
		}
		for provider, q := range plan.Quotas {
			if q.Calls < 0 || q.Tokens < 0 || q.CostUSD < 0 {
				return fmt.Errorf("plans[%d].quotas[%s]: limits must be non-negative", i, provider)
			}
		}
	}
	if !seen[cfg.Auth.DefaultPlan] {
		return fmt.Errorf("auth.default_plan %q does not match any configured plan", cfg.Auth.DefaultPlan)
	}

	providerSeen := make(map[string]bool, len(cfg.Providers))
	for i, p := range cfg.Providers {
		if p.Name == "" {
			return fmt.Errorf("providers[%d].name is required", i)
		}
		if providerSeen[p.Name] {
			return fmt.Errorf("duplicate provider name %q", p.Name)
		}
		providerSeen[p.Name] = true
		if p.BaseURL == "" {
			return fmt.Errorf("providers[%d].base_url is required", i)
		}
		if p.Pricing.InputPer1K < 0 || p.Pricing.OutputPer1K < 0 {
			return fmt.Errorf("providers[%d].pricing must be non-negative", i)
		}
	}

	return nil
}
