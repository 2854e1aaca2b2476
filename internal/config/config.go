// Package config loads the backing-store façade's tunables (spec.md §9
// "Builder/config discipline"): a YAML file via gopkg.in/yaml.v3, then
// environment overrides (continuing the teacher's getenv-with-default
// convention), with an optional hot-reload watcher built on
// github.com/agilira/argus so operators can change wait_time,
// record_lifetime, and the rate limits of a running process without a
// restart.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/agilira/argus"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable spec.md §9 names.
type Config struct {
	Port             int           `yaml:"port"`
	PrivateNetworkID uint32        `yaml:"private_network_id"`
	WaitTime         time.Duration `yaml:"wait_time"`
	RecordLifetime   time.Duration `yaml:"record_lifetime"`
	MaxReqPerSec     int           `yaml:"max_req_per_sec"`
	MaxPeerReqPerSec int           `yaml:"max_peer_req_per_sec"`
	Threaded         bool          `yaml:"threaded"`
}

// Default returns spec.md §9's documented defaults.
func Default() Config {
	return Config{
		Port:             4343,
		PrivateNetworkID: 42,
		WaitTime:         4 * time.Second,
		RecordLifetime:   7 * 24 * time.Hour,
		MaxReqPerSec:     -1,
		MaxPeerReqPerSec: -1,
		Threaded:         true,
	}
}

// Load reads defaults, overlays path's YAML (if path is non-empty and the
// file exists), then applies ATOMDHT_* environment overrides — the same
// env-over-file precedence the teacher's cmd binaries used for their own
// getenv-with-default helper.
func Load(path string) (Config, error) {
	_ = godotenv.Load() // best-effort; a missing .env is not an error

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, err
			}
		} else if !os.IsNotExist(err) {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ATOMDHT_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("ATOMDHT_PRIVATE_NETWORK_ID"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.PrivateNetworkID = uint32(n)
		}
	}
	if v := os.Getenv("ATOMDHT_WAIT_TIME"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.WaitTime = d
		}
	}
	if v := os.Getenv("ATOMDHT_RECORD_LIFETIME"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RecordLifetime = d
		}
	}
	if v := os.Getenv("ATOMDHT_MAX_REQ_PER_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxReqPerSec = n
		}
	}
	if v := os.Getenv("ATOMDHT_MAX_PEER_REQ_PER_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxPeerReqPerSec = n
		}
	}
	if v := os.Getenv("ATOMDHT_THREADED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Threaded = b
		}
	}
}

// Watcher hot-reloads WaitTime, RecordLifetime, and the two rate limits
// from path, invoking onReload with the new Config whenever the file
// changes (the agilira-balios HotConfig pattern: a poll-driven
// argus.Watcher over a parsed section of the file, not a full
// reconstruction of the façade).
type Watcher struct {
	watcher *argus.Watcher
}

// WatchOptions configures hot-reload polling.
type WatchOptions struct {
	// PollInterval defaults to one second, floored at 100ms.
	PollInterval time.Duration
}

// Watch starts watching path for changes, calling onReload with a fresh
// Config (defaults + path's YAML + current environment) each time the
// file's mtime/content changes. The returned Watcher must be Stopped to
// release argus's polling goroutine.
func Watch(path string, opts WatchOptions, onReload func(Config)) (*Watcher, error) {
	if opts.PollInterval == 0 {
		opts.PollInterval = time.Second
	} else if opts.PollInterval < 100*time.Millisecond {
		opts.PollInterval = 100 * time.Millisecond
	}

	handler := func(map[string]interface{}) {
		cfg, err := Load(path)
		if err != nil {
			return // keep serving the last good config; a transient
			// write can leave the file briefly unparsable.
		}
		onReload(cfg)
	}

	w, err := argus.UniversalConfigWatcherWithConfig(path, handler, argus.Config{PollInterval: opts.PollInterval})
	if err != nil {
		return nil, err
	}
	return &Watcher{watcher: w}, nil
}

// Stop stops the underlying argus watcher.
func (w *Watcher) Stop() error {
	return w.watcher.Stop()
}
