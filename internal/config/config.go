// Package config loads terminal core configuration from a JSON file with
// environment overrides for deployment-specific values.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/quickmart/poscore/internal/errors"
)

// Config holds all terminal core configuration.
type Config struct {
	Server  ServerConfig  `json:"server"`
	Backend BackendConfig `json:"backend"`
	Sync    SyncConfig    `json:"sync"`
	Cache   CacheConfig   `json:"cache"`
}

// ServerConfig holds the localhost bridge settings.
type ServerConfig struct {
	ListenAddr string `json:"listenAddr"`
	DataDir    string `json:"dataDir"`
	LogLevel   string `json:"logLevel"`
}

// BackendConfig holds the authoritative backend settings.
type BackendConfig struct {
	BaseURL              string `json:"baseUrl"`
	AuthToken            string `json:"authToken,omitempty"`
	SubmitTimeoutSeconds int    `json:"submitTimeoutSeconds"`
}

// SyncConfig holds replay and connectivity settings.
type SyncConfig struct {
	ReplayIntervalSeconds int `json:"replayIntervalSeconds"`
	ProbeIntervalSeconds  int `json:"probeIntervalSeconds"`
	MaxReplayAttempts     int `json:"maxReplayAttempts"`
}

// CacheConfig selects the snapshot cache backend.
type CacheConfig struct {
	// Backend is "sqlite" (default, fully offline) or "redis" (shared
	// between lane terminals).
	Backend    string `json:"backend"`
	RedisAddr  string `json:"redisAddr,omitempty"`
	TTLSeconds int    `json:"ttlSeconds,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: "localhost:8090",
			DataDir:    "./data",
			LogLevel:   "INFO",
		},
		Backend: BackendConfig{
			SubmitTimeoutSeconds: 30,
		},
		Sync: SyncConfig{
			ReplayIntervalSeconds: 60,
			ProbeIntervalSeconds:  15,
			MaxReplayAttempts:     5,
		},
		Cache: CacheConfig{
			Backend: "sqlite",
		},
	}
}

// Load reads configuration from a JSON file, applies environment overrides,
// and validates the result. A missing file is not an error; defaults plus
// environment are used.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, errors.Wrap(errors.ErrConfig, "failed to read config file", err)
			}
		} else if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(errors.ErrConfig, "failed to parse config file", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides deployment-specific values from the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv("POSCORE_LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("POSCORE_DATA_DIR"); v != "" {
		c.Server.DataDir = v
	}
	if v := os.Getenv("POSCORE_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("POSCORE_BACKEND_URL"); v != "" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv("POSCORE_BACKEND_TOKEN"); v != "" {
		c.Backend.AuthToken = v
	}
	if v := os.Getenv("POSCORE_REDIS_ADDR"); v != "" {
		c.Cache.RedisAddr = v
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return errors.New(errors.ErrConfig, "backend.baseUrl is required (or POSCORE_BACKEND_URL)")
	}
	switch c.Cache.Backend {
	case "", "sqlite":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return errors.New(errors.ErrConfig, "cache.redisAddr is required for the redis backend")
		}
	default:
		return errors.New(errors.ErrConfig, fmt.Sprintf("unknown cache backend %q", c.Cache.Backend))
	}
	return nil
}

// SubmitTimeout returns the per-submit timeout as a duration.
func (c *Config) SubmitTimeout() time.Duration {
	return time.Duration(c.Backend.SubmitTimeoutSeconds) * time.Second
}

// ReplayInterval returns the periodic replay interval as a duration.
func (c *Config) ReplayInterval() time.Duration {
	return time.Duration(c.Sync.ReplayIntervalSeconds) * time.Second
}

// ProbeInterval returns the connectivity probe interval as a duration.
func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.Sync.ProbeIntervalSeconds) * time.Second
}

// CacheTTL returns the redis snapshot TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}
