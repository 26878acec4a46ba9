// Package bootstrap wires all dependencies and starts the application.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/artpar/usagegate/adapters/alert"
	"github.com/artpar/usagegate/adapters/auth"
	"github.com/artpar/usagegate/adapters/clock"
	"github.com/artpar/usagegate/adapters/idgen"
	"github.com/artpar/usagegate/adapters/memory"
	"github.com/artpar/usagegate/adapters/metrics"
	"github.com/artpar/usagegate/adapters/provider"
	"github.com/artpar/usagegate/adapters/redis"
	"github.com/artpar/usagegate/adapters/sqlite"
	"github.com/artpar/usagegate/app"
	"github.com/artpar/usagegate/config"
	"github.com/artpar/usagegate/ports"
	"github.com/artpar/usagegate/web"
)

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Config     *config.Holder
	DB         *sqlite.DB
	Redis      *goredis.Client
	HTTPServer *http.Server
	Metrics    *metrics.Collector

	// Services
	Governor *app.Governor
	Ledger   *app.LedgerService

	// Adapters held for cleanup
	recorder   ports.UsageRecorder
	rateLimits interface{ Close() error }
	fastCache  interface{ Close() error }

	webDeps web.Deps
}

// New creates and initializes the application from a config file path.
// An empty path falls back to environment-only configuration.
func New(configPath string) (*App, error) {
	holder, err := newHolder(configPath)
	if err != nil {
		return nil, err
	}

	cfg := holder.Get()
	logger := setupLogger(cfg.Logging)
	holder = withLogger(holder, configPath, logger)

	logger.Info().Msg("initializing usagegate")

	a := &App{Logger: logger, Config: holder}

	if err := a.initStores(cfg); err != nil {
		return nil, err
	}

	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
		holder.SetMetrics(a.Metrics)
		logger.Info().Msg("prometheus metrics enabled")
	}

	a.initServices(cfg)
	a.initServer(cfg)

	if configPath != "" {
		if err := holder.WatchFile(); err != nil {
			logger.Warn().Err(err).Msg("config file watching unavailable")
		}
		holder.WatchSignals()
	}

	return a, nil
}

// newHolder loads config from file or environment.
func newHolder(path string) (*config.Holder, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return config.NewHolder(path, zerolog.Nop())
		}
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return config.NewStaticHolder(cfg, zerolog.Nop()), nil
}

// withLogger rebuilds the holder with the real logger once logging
// config is known. File-backed holders are reloaded cheaply.
func withLogger(h *config.Holder, path string, logger zerolog.Logger) *config.Holder {
	if path == "" {
		return config.NewStaticHolder(h.Get(), logger)
	}
	if nh, err := config.NewHolder(path, logger); err == nil {
		h.Stop()
		return nh
	}
	return h
}

func (a *App) initStores(cfg *config.Config) error {
	db, err := sqlite.Open(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return fmt.Errorf("migrate database: %w", err)
	}
	a.DB = db
	a.Logger.Info().Str("dsn", cfg.Database.DSN).Msg("database ready")

	if cfg.Redis.Enabled {
		client, err := redis.Open(redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			db.Close()
			return fmt.Errorf("connect redis: %w", err)
		}
		a.Redis = client
		a.Logger.Info().Str("addr", cfg.Redis.Addr).Msg("redis connected")
	}
	return nil
}

func (a *App) initServices(cfg *config.Config) {
	clk := clock.Real{}
	ids := idgen.UUID{}
	holder := a.Config

	keyStore := sqlite.NewKeyStore(a.DB)
	usageStore := sqlite.NewUsageStore(a.DB)
	ledgerStore := sqlite.NewLedgerStore(a.DB)
	alertStore := sqlite.NewAlertStore(a.DB)

	// Rate limit windows live in redis when available, memory otherwise.
	var rateStore ports.RateLimitStore
	if a.Redis != nil {
		rateStore = redis.NewRateLimitStore(a.Redis)
	} else {
		mem := memory.NewRateLimitStore(memory.RateLimitStoreConfig{})
		a.rateLimits = mem
		rateStore = mem
	}

	var sinks []ports.AlertSink
	sinks = append(sinks, alert.NewLogSink(a.Logger))
	if cfg.Alerts.WebhookURL != "" {
		sinks = append(sinks, alert.NewWebhookSink(cfg.Alerts.WebhookURL, cfg.Alerts.Timeout))
		a.Logger.Info().Str("url", cfg.Alerts.WebhookURL).Msg("alert webhook enabled")
	}

	a.Ledger = app.NewLedgerService(ledgerStore, holder, alertStore, sinks, clk, ids, a.Metrics, a.Logger)

	recorder := app.NewRecorder(usageStore, app.RecorderConfig{
		BatchSize:     cfg.Usage.BatchSize,
		FlushInterval: cfg.Usage.FlushInterval,
	}, a.Metrics, a.Logger)
	a.recorder = recorder

	var cache *app.TieredCache
	if cfg.Cache.Enabled {
		fast := memory.NewCacheStore(memory.CacheStoreConfig{})
		a.fastCache = fast
		var durable ports.CacheStore
		if a.Redis != nil {
			durable = redis.NewCacheStore(a.Redis)
		} else {
			durable = sqlite.NewCacheStore(a.DB)
		}
		cache = app.NewTieredCache(fast, durable, clk, app.CachePolicy{
			CountAsUsage: cfg.Cache.CountAsUsage,
			DefaultTTL:   cfg.Cache.DefaultTTL,
		}, a.Metrics, a.Logger)
		a.Logger.Info().
			Bool("count_as_usage", cfg.Cache.CountAsUsage).
			Dur("default_ttl", cfg.Cache.DefaultTTL).
			Msg("response cache enabled")
	}

	providers := make(map[string]ports.ProviderClient, len(cfg.Providers))
	for _, p := range cfg.Providers {
		client, err := provider.NewHTTPClient(provider.Config{
			Name:    p.Name,
			BaseURL: p.BaseURL,
			APIKey:  p.APIKey,
			Timeout: p.Timeout,
			Pricing: provider.Pricing{
				InPer1K:  p.Pricing.InputPer1K,
				OutPer1K: p.Pricing.OutputPer1K,
			},
		})
		if err != nil {
			a.Logger.Error().Err(err).Str("provider", p.Name).Msg("skipping misconfigured provider")
			continue
		}
		providers[p.Name] = client
		a.Logger.Info().Str("provider", p.Name).Str("base_url", p.BaseURL).Msg("provider registered")
	}

	a.Governor = app.NewGovernor(rateStore, holder, a.Ledger, recorder, cache,
		providers, clk, ids, a.Metrics, a.Logger)

	errors := app.NewErrorHandler(alertStore, sinks, clk, ids, a.Metrics, a.Logger)
	resolver := auth.NewResolver(keyStore, clk, a.Logger, cfg.Auth.KeyPrefix, cfg.Auth.DefaultPlan)

	a.webDeps = web.Deps{
		Resolver:    resolver,
		Governor:    a.Governor,
		Ledger:      a.Ledger,
		Errors:      errors,
		Usage:       usageStore,
		Alerts:      alertStore,
		Keys:        keyStore,
		Plans:       holder,
		Clock:       clk,
		Metrics:     a.Metrics,
		Logger:      a.Logger,
		KeyPrefix:   cfg.Auth.KeyPrefix,
		DefaultPlan: cfg.Auth.DefaultPlan,
		AdminToken:  cfg.Auth.AdminToken,
	}
}

func (a *App) initServer(cfg *config.Config) {
	handler := web.NewHandler(a.webDeps)

	addr := cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port)
	a.HTTPServer = &http.Server{
		Addr:         addr,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}

// Run starts the HTTP server and blocks until interrupt or error.
func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown stops the server and flushes pending state. Order matters:
// the server stops accepting work before the recorder flushes, and the
// stores close last.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	if a.recorder != nil {
		if err := a.recorder.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("usage recorder close error")
		}
	}

	if a.rateLimits != nil {
		a.rateLimits.Close()
	}
	if a.fastCache != nil {
		a.fastCache.Close()
	}

	if a.Config != nil {
		a.Config.Stop()
	}

	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("redis close error")
		}
	}

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("database close error")
		}
	}

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
