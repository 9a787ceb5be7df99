package config

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Loader reads a YAML config file and watches it for changes.
type Loader struct {
	path     string
	mu       sync.RWMutex
	current  *AppConfig
	onChange []func(*AppConfig)
	watcher  *fsnotify.Watcher
}

// NewLoader creates a Loader and performs the initial load.
func NewLoader(path string) (*Loader, error) {
	l := &Loader{path: path}
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.current = cfg
	return l, nil
}

// Path returns the watched file.
func (l *Loader) Path() string { return l.path }

// Config returns the current (latest) configuration.
func (l *Loader) Config() *AppConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers a callback invoked whenever the config reloads.
func (l *Loader) OnChange(fn func(*AppConfig)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch starts a background goroutine that hot-reloads the config on file changes.
// Call the returned stop function to clean up.
func (l *Loader) Watch() (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	if err := w.Add(l.path); err != nil {
		w.Close()
		return nil, fmt.Errorf("config watcher add %s: %w", l.path, err)
	}
	l.watcher = w

	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					if _, err := l.Reload(); err != nil {
						slog.Warn("config reload failed, keeping previous", "path", l.path, "err", err)
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("config watcher error", "err", err)
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }, nil
}

// Reload forces an immediate re-read of the config file.
func (l *Loader) Reload() (*AppConfig, error) {
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.current = cfg
	callbacks := make([]func(*AppConfig), len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.Unlock()
	for _, fn := range callbacks {
		fn(cfg)
	}
	return cfg, nil
}

func (l *Loader) load() (*AppConfig, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", l.path, err)
	}
	return Parse(data)
}

// Parse decodes YAML and applies defaults.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns a config with every default applied, as used when no
// file is given.
func Default() *AppConfig {
	cfg := &AppConfig{Version: "1"}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ReadTimeoutMs == 0 {
		cfg.Server.ReadTimeoutMs = 10000
	}
	if cfg.Server.WriteTimeoutMs == 0 {
		cfg.Server.WriteTimeoutMs = 30000
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 65536
	}
	if cfg.Engine.ProcessTimeoutMs == 0 {
		cfg.Engine.ProcessTimeoutMs = 30000
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = DriverPostgres
	}
	if cfg.Store.MaxOpenConns == 0 {
		cfg.Store.MaxOpenConns = 10
	}
	if cfg.Store.MaxIdleConns == 0 {
		cfg.Store.MaxIdleConns = 5
	}
	if cfg.Store.ConnMaxLifetimeMs == 0 {
		cfg.Store.ConnMaxLifetimeMs = 300000
	}
	if cfg.Store.EnvelopeReclaimAfterMs == 0 {
		cfg.Store.EnvelopeReclaimAfterMs = 300000
	}
	if cfg.Allocation.SavingsPercent == 0 && cfg.Allocation.FeePercent == 0 {
		cfg.Allocation.SavingsPercent = 10
		cfg.Allocation.FeePercent = 15
	}
	if cfg.Sanitize.DonorNameMax == 0 {
		cfg.Sanitize.DonorNameMax = 80
	}
	if cfg.Sanitize.MessageMax == 0 {
		cfg.Sanitize.MessageMax = 280
	}
	if cfg.Invalidation.Workers == 0 {
		cfg.Invalidation.Workers = 4
	}
	if cfg.Invalidation.QueueDepth == 0 {
		cfg.Invalidation.QueueDepth = 1000
	}
	if cfg.Invalidation.TimeoutMs == 0 {
		cfg.Invalidation.TimeoutMs = 5000
	}
	if cfg.Invalidation.PageCacheSize == 0 {
		cfg.Invalidation.PageCacheSize = 512
	}
	if cfg.Invalidation.PageCacheTTLMs == 0 {
		cfg.Invalidation.PageCacheTTLMs = 60000
	}
	if cfg.Health.StaleAfterMs == 0 {
		cfg.Health.StaleAfterMs = 48 * 3600 * 1000
	}
	if cfg.Health.FailedDegradedAt == 0 {
		cfg.Health.FailedDegradedAt = 1
	}
	if cfg.Health.FailedDownAt == 0 {
		cfg.Health.FailedDownAt = 25
	}
	if cfg.Health.QueueDegradedAt == 0 {
		cfg.Health.QueueDegradedAt = cfg.Invalidation.QueueDepth / 2
	}
	if cfg.Health.CheckTimeoutMs == 0 {
		cfg.Health.CheckTimeoutMs = 2000
	}
	if cfg.Archive.Prefix == "" {
		cfg.Archive.Prefix = "reconciliation/"
	}
}
