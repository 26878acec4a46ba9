// Package config provides configuration loading and hot reload.
package config

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/artpar/usagegate/adapters/metrics"
	"github.com/artpar/usagegate/domain/quota"
	"github.com/artpar/usagegate/domain/ratelimit"
)

// Holder provides thread-safe access to configuration with hot reload
// support. It also serves as the plan resolver: limits and rate configs
// read through the holder always see the latest loaded plans.
type Holder struct {
	mu       sync.RWMutex
	config   *Config
	path     string
	logger   zerolog.Logger
	metrics  *metrics.Collector
	watcher  *fsnotify.Watcher
	onChange []func(*Config)
	stopCh   chan struct{}
}

// NewHolder creates a new config holder and loads the initial configuration.
func NewHolder(path string, logger zerolog.Logger) (*Holder, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}

	return &Holder{
		config: cfg,
		path:   absPath,
		logger: logger,
		stopCh: make(chan struct{}),
	}, nil
}

// NewStaticHolder wraps an already-loaded config without file watching.
// Used for env-only deployments and tests.
func NewStaticHolder(cfg *Config, logger zerolog.Logger) *Holder {
	return &Holder{
		config: cfg,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// SetMetrics attaches the metrics collector for reload counters.
func (h *Holder) SetMetrics(m *metrics.Collector) {
	h.metrics = m
}

// Get returns the current configuration (thread-safe).
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// Resolve returns the quota limit for a (plan, provider) pair. A plan
// may carry a "*" quota applying to any provider without its own entry.
// Unknown pairs resolve to the zero Limit (unlimited).
func (h *Holder) Resolve(plan, provider string) quota.Limit {
	cfg := h.Get()
	for _, p := range cfg.Plans {
		if p.Name != plan {
			continue
		}
		q, ok := p.Quotas[provider]
		if !ok {
			q, ok = p.Quotas["*"]
		}
		if !ok {
			return quota.Limit{}
		}
		return quota.Limit{Calls: q.Calls, Tokens: q.Tokens, CostUSD: q.CostUSD}
	}
	return quota.Limit{}
}

// RateLimit returns the rate limit config for a plan. Unknown plans get
// the zero config, which disables rate limiting.
func (h *Holder) RateLimit(plan string) ratelimit.Config {
	cfg := h.Get()
	for _, p := range cfg.Plans {
		if p.Name == plan {
			return ratelimit.Config{Limit: p.RateLimit.Limit, Window: p.RateLimit.Window}
		}
	}
	return ratelimit.Config{}
}

// Plans lists all configured plans and their per-provider limits.
func (h *Holder) Plans() map[string]map[string]quota.Limit {
	cfg := h.Get()
	out := make(map[string]map[string]quota.Limit, len(cfg.Plans))
	for _, p := range cfg.Plans {
		limits := make(map[string]quota.Limit, len(p.Quotas))
		for provider, q := range p.Quotas {
			limits[provider] = quota.Limit{Calls: q.Calls, Tokens: q.Tokens, CostUSD: q.CostUSD}
		}
		out[p.Name] = limits
	}
	return out
}

// Reload reloads the configuration from disk.
// Returns error if loading fails (keeps old config).
func (h *Holder) Reload() error {
	h.logger.Info().Str("path", h.path).Msg("reloading configuration")

	newCfg, err := Load(h.path)
	if err != nil {
		if h.metrics != nil {
			h.metrics.ConfigReloadErrors.Inc()
		}
		h.logger.Error().Err(err).Msg("config reload failed, keeping old config")
		return fmt.Errorf("reload config: %w", err)
	}

	h.mu.Lock()
	oldCfg := h.config
	h.config = newCfg
	h.mu.Unlock()

	h.logChanges(oldCfg, newCfg)

	for _, fn := range h.onChange {
		fn(newCfg)
	}

	if h.metrics != nil {
		h.metrics.ConfigReloads.Inc()
		h.metrics.ConfigLastReload.Set(float64(time.Now().Unix()))
	}
	h.logger.Info().Msg("configuration reloaded successfully")
	return nil
}

// OnChange registers a callback to be called when config changes.
func (h *Holder) OnChange(fn func(*Config)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = append(h.onChange, fn)
}

// WatchFile starts watching the config file for changes.
// Changes trigger automatic reload.
func (h *Holder) WatchFile() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	h.watcher = watcher

	// Watch the directory (more reliable for editors that do atomic saves)
	dir := filepath.Dir(h.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}

	go h.watchLoop()

	h.logger.Info().Str("path", h.path).Msg("watching config file for changes")
	return nil
}

// WatchSignals starts listening for SIGHUP to trigger reload.
func (h *Holder) WatchSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	go func() {
		for {
			select {
			case <-sigCh:
				h.logger.Info().Msg("received SIGHUP, reloading config")
				if err := h.Reload(); err != nil {
					h.logger.Error().Err(err).Msg("SIGHUP reload failed")
				}
			case <-h.stopCh:
				signal.Stop(sigCh)
				return
			}
		}
	}()

	h.logger.Info().Msg("listening for SIGHUP to reload config")
}

// Stop stops watching for file changes and signals.
func (h *Holder) Stop() {
	close(h.stopCh)
	if h.watcher != nil {
		h.watcher.Close()
	}
}

func (h *Holder) watchLoop() {
	filename := filepath.Base(h.path)

	for {
		select {
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}

			// Only react to our config file
			if filepath.Base(event.Name) != filename {
				continue
			}

			// React to write or create (atomic save = create)
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				h.logger.Debug().
					Str("event", event.Op.String()).
					Str("file", event.Name).
					Msg("config file changed")

				if err := h.Reload(); err != nil {
					h.logger.Error().Err(err).Msg("file watch reload failed")
				}
			}

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Msg("file watcher error")

		case <-h.stopCh:
			return
		}
	}
}

func (h *Holder) logChanges(old, new *Config) {
	if old.Logging.Level != new.Logging.Level {
		h.logger.Info().
			Str("old", old.Logging.Level).
			Str("new", new.Logging.Level).
			Msg("log level changed")
	}

	if len(old.Plans) != len(new.Plans) {
		h.logger.Info().
			Int("old", len(old.Plans)).
			Int("new", len(new.Plans)).
			Msg("plans count changed")
	}

	if len(old.Providers) != len(new.Providers) {
		h.logger.Info().
			Int("old", len(old.Providers)).
			Int("new", len(new.Providers)).
			Msg("providers count changed")
	}
}

// ReloadableFields returns which fields can be changed without restart.
func ReloadableFields() []string {
	return []string{
		"plans",
		"cache.count_as_usage",
		"cache.default_ttl",
		"logging.level",
	}
}

// NonReloadableFields returns which fields require a restart.
func NonReloadableFields() []string {
	return []string{
		"server.host",
		"server.port",
		"database.dsn",
		"redis.addr",
		"providers",
		"auth.key_prefix",
	}
}
