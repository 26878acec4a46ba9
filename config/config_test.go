package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/artpar/usagegate/config"
)

func writeAndLoad(t *testing.T, content string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return cfg
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
server:
  host: "127.0.0.1"
  port: 9090

database:
  driver: "sqlite"
  dsn: ":memory:"

auth:
  key_prefix: "test_"
  default_plan: "free"

plans:
  - name: "free"
    rate_limit:
      limit: 10
      window: 1m
    quotas:
      openai:
        calls: 1000
        cost_usd: 5.0
  - name: "pro"
    rate_limit:
      limit: 100
      window: 1m
    quotas:
      "*":
        calls: 100000

providers:
  - name: "openai"
    base_url: "https://api.openai.com/v1"
    timeout: 30s
    pricing:
      input_per_1k: 0.01
      output_per_1k: 0.03
`

	cfg := writeAndLoad(t, content)

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Host = %s, want 127.0.0.1", cfg.Server.Host)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Auth.KeyPrefix != "test_" {
		t.Errorf("Auth.KeyPrefix = %s, want test_", cfg.Auth.KeyPrefix)
	}
	if len(cfg.Plans) != 2 {
		t.Fatalf("len(Plans) = %d, want 2", len(cfg.Plans))
	}
	if cfg.Plans[0].RateLimit.Window != time.Minute {
		t.Errorf("RateLimit.Window = %v, want 1m", cfg.Plans[0].RateLimit.Window)
	}
	if cfg.Plans[0].Quotas["openai"].Calls != 1000 {
		t.Errorf("free openai calls = %d, want 1000", cfg.Plans[0].Quotas["openai"].Calls)
	}
	if len(cfg.Providers) != 1 {
		t.Fatalf("len(Providers) = %d, want 1", len(cfg.Providers))
	}
	if cfg.Providers[0].Pricing.OutputPer1K != 0.03 {
		t.Errorf("output pricing = %v, want 0.03", cfg.Providers[0].Pricing.OutputPer1K)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg := writeAndLoad(t, "{}\n")

	if cfg.Server.Port != 8080 {
		t.Errorf("default port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("default driver = %s, want sqlite", cfg.Database.Driver)
	}
	if cfg.Auth.KeyPrefix != "ug_" {
		t.Errorf("default key prefix = %s, want ug_", cfg.Auth.KeyPrefix)
	}
	if cfg.Usage.BatchSize != 100 {
		t.Errorf("default batch size = %d, want 100", cfg.Usage.BatchSize)
	}
	if cfg.Cache.DefaultTTL != time.Hour {
		t.Errorf("default cache ttl = %v, want 1h", cfg.Cache.DefaultTTL)
	}
	// The default free plan exists and matches the default plan name.
	if len(cfg.Plans) != 1 || cfg.Plans[0].Name != "free" {
		t.Errorf("default plans = %+v", cfg.Plans)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_PROVIDER_KEY", "sk-test-12345")

	cfg := writeAndLoad(t, `
providers:
  - name: "openai"
    base_url: "https://api.openai.com/v1"
    api_key: "${TEST_PROVIDER_KEY}"
`)

	if cfg.Providers[0].APIKey != "sk-test-12345" {
		t.Errorf("APIKey = %s, want sk-test-12345", cfg.Providers[0].APIKey)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("USAGEGATE_SERVER_PORT", "9999")
	t.Setenv("USAGEGATE_LOG_LEVEL", "debug")
	t.Setenv("USAGEGATE_REDIS_ENABLED", "yes")

	cfg := writeAndLoad(t, "server:\n  port: 8080\n")

	if cfg.Server.Port != 9999 {
		t.Errorf("Port = %d, want env override 9999", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %s, want debug", cfg.Logging.Level)
	}
	if !cfg.Redis.Enabled {
		t.Errorf("Redis.Enabled = false, want true")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown default plan", `
auth:
  default_plan: "enterprise"
plans:
  - name: "free"
`},
		{"duplicate plan", `
plans:
  - name: "free"
  - name: "free"
`},
		{"provider without base_url", `
providers:
  - name: "openai"
`},
		{"negative pricing", `
providers:
  - name: "openai"
    base_url: "https://api.openai.com"
    pricing:
      input_per_1k: -1
`},
		{"rate limit without window", `
plans:
  - name: "free"
    rate_limit:
      limit: 10
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatalf("write config: %v", err)
			}
			if _, err := config.Load(path); err == nil {
				t.Errorf("Load() error = nil, want validation error")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := config.Load("/nonexistent/config.yaml"); err == nil {
		t.Errorf("Load() error = nil, want error")
	}
}
