// Package config loads the YAML file describing every named pool pgo
// should start: host/port/credentials, pool sizing, and timeouts, with
// ${VAR} environment substitution and an fsnotify-backed hot-reload watcher.
package config

import (
	"fmt"
	"log"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration: one set of defaults plus a named
// map of pool backends.
type Config struct {
	Defaults PoolDefaults          `yaml:"defaults"`
	Pools    map[string]PoolConfig `yaml:"pools"`
}

// Duration wraps time.Duration so YAML values like "30s" or "5m" parse;
// bare integers are taken as nanoseconds, matching time.Duration itself.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(n)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// PoolDefaults are applied to any PoolConfig field left at its zero value.
type PoolDefaults struct {
	Size           int      `yaml:"size"`
	IdleTimeout    Duration `yaml:"idle_timeout"`
	MaxLifetime    Duration `yaml:"max_lifetime"`
	AcquireTimeout Duration `yaml:"acquire_timeout"`
}

// PoolConfig holds the backend connection parameters for one named pool:
// host, port, user, password, database, ssl mode, application_name,
// timezone, plus the sizing/timeout knobs.
type PoolConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Database        string `yaml:"database"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	SSLMode         string `yaml:"ssl_mode"` // "disable" | "prefer" | "require"
	ApplicationName string `yaml:"application_name"`
	Timezone        string `yaml:"timezone"`

	Size           *int      `yaml:"size,omitempty"`
	IdleTimeout    *Duration `yaml:"idle_timeout,omitempty"`
	MaxLifetime    *Duration `yaml:"max_lifetime,omitempty"`
	AcquireTimeout *Duration `yaml:"acquire_timeout,omitempty"`
}

// EffectiveSize returns the pool's configured size or the default.
func (p PoolConfig) EffectiveSize(defaults PoolDefaults) int {
	if p.Size != nil {
		return *p.Size
	}
	return defaults.Size
}

// EffectiveIdleTimeout returns the pool's idle timeout or the default.
func (p PoolConfig) EffectiveIdleTimeout(defaults PoolDefaults) time.Duration {
	if p.IdleTimeout != nil {
		return p.IdleTimeout.Std()
	}
	return defaults.IdleTimeout.Std()
}

// EffectiveMaxLifetime returns the pool's max connection lifetime or the default.
func (p PoolConfig) EffectiveMaxLifetime(defaults PoolDefaults) time.Duration {
	if p.MaxLifetime != nil {
		return p.MaxLifetime.Std()
	}
	return defaults.MaxLifetime.Std()
}

// EffectiveAcquireTimeout returns the pool's acquire timeout or the default.
func (p PoolConfig) EffectiveAcquireTimeout(defaults PoolDefaults) time.Duration {
	if p.AcquireTimeout != nil {
		return p.AcquireTimeout.Std()
	}
	return defaults.AcquireTimeout.Std()
}

// Redacted returns a copy of p with the password masked, for logging.
func (p PoolConfig) Redacted() PoolConfig {
	c := p
	if c.Password != "" {
		c.Password = "***REDACTED***"
	}
	return c
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${VAR_NAME} patterns with environment variable values.
func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envVarPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(varName)); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file with env var substitution.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = substituteEnvVars(data)

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Defaults.Size == 0 {
		cfg.Defaults.Size = 10
	}
	if cfg.Defaults.IdleTimeout == 0 {
		cfg.Defaults.IdleTimeout = Duration(5 * time.Minute)
	}
	if cfg.Defaults.MaxLifetime == 0 {
		cfg.Defaults.MaxLifetime = Duration(30 * time.Minute)
	}
	if cfg.Defaults.AcquireTimeout == 0 {
		cfg.Defaults.AcquireTimeout = Duration(10 * time.Second)
	}
}

func validate(cfg *Config) error {
	for name, pool := range cfg.Pools {
		if pool.Host == "" {
			return fmt.Errorf("pool %q: host is required", name)
		}
		if pool.Port == 0 {
			return fmt.Errorf("pool %q: port is required", name)
		}
		if pool.Database == "" {
			return fmt.Errorf("pool %q: database is required", name)
		}
		if pool.User == "" {
			return fmt.Errorf("pool %q: user is required", name)
		}
		switch pool.SSLMode {
		case "", "disable", "prefer", "require":
		default:
			return fmt.Errorf("pool %q: unsupported ssl_mode %q", name, pool.SSLMode)
		}
	}
	return nil
}

// Watcher watches a config file for changes and calls the callback with the new config.
type Watcher struct {
	path     string
	callback func(*Config)
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	stopCh   chan struct{}
}

// NewWatcher creates a new config file watcher.
func NewWatcher(path string, callback func(*Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching config file: %w", err)
	}

	cw := &Watcher{
		path:     path,
		callback: callback,
		watcher:  w,
		stopCh:   make(chan struct{}),
	}

	go cw.run()
	return cw, nil
}

func (cw *Watcher) run() {
	// Debounce timer to avoid rapid reloads
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					cw.reload()
				})
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[config] watcher error: %v", err)
		case <-cw.stopCh:
			return
		}
	}
}

func (cw *Watcher) reload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cfg, err := Load(cw.path)
	if err != nil {
		log.Printf("[config] hot-reload failed: %v", err)
		return
	}

	log.Printf("[config] configuration reloaded from %s", cw.path)
	cw.callback(cfg)
}

// Stop stops the config watcher.
func (cw *Watcher) Stop() error {
	close(cw.stopCh)
	return cw.watcher.Close()
}
