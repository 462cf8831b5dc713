package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quickmart/poscore/internal/errors"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("POSCORE_BACKEND_URL", "http://backend.local:9000")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.ListenAddr != "localhost:8090" {
		t.Errorf("Unexpected listen addr %s", cfg.Server.ListenAddr)
	}
	if cfg.Sync.MaxReplayAttempts != 5 {
		t.Errorf("Expected default retry ceiling 5, got %d", cfg.Sync.MaxReplayAttempts)
	}
	if cfg.SubmitTimeout() != 30*time.Second {
		t.Errorf("Unexpected submit timeout %v", cfg.SubmitTimeout())
	}
	if cfg.Backend.BaseURL != "http://backend.local:9000" {
		t.Errorf("Env override not applied: %s", cfg.Backend.BaseURL)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	contents := `{
		"server": {"listenAddr": "localhost:9999", "dataDir": "/tmp/pos", "logLevel": "DEBUG"},
		"backend": {"baseUrl": "https://api.store.example", "submitTimeoutSeconds": 10},
		"sync": {"replayIntervalSeconds": 30, "probeIntervalSeconds": 5, "maxReplayAttempts": 3}
	}`
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.ListenAddr != "localhost:9999" {
		t.Errorf("Unexpected listen addr %s", cfg.Server.ListenAddr)
	}
	if cfg.Backend.BaseURL != "https://api.store.example" {
		t.Errorf("Unexpected backend URL %s", cfg.Backend.BaseURL)
	}
	if cfg.ReplayInterval() != 30*time.Second {
		t.Errorf("Unexpected replay interval %v", cfg.ReplayInterval())
	}
	if cfg.Sync.MaxReplayAttempts != 3 {
		t.Errorf("Unexpected retry ceiling %d", cfg.Sync.MaxReplayAttempts)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	_, err := Load(path)
	if !errors.Is(err, errors.ErrConfig) {
		t.Errorf("Expected CONFIG_ERROR, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Run("MissingBackendURL", func(t *testing.T) {
		cfg := DefaultConfig()
		if err := cfg.Validate(); !errors.Is(err, errors.ErrConfig) {
			t.Errorf("Expected CONFIG_ERROR, got %v", err)
		}
	})

	t.Run("RedisWithoutAddr", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Backend.BaseURL = "http://x"
		cfg.Cache.Backend = "redis"
		if err := cfg.Validate(); !errors.Is(err, errors.ErrConfig) {
			t.Errorf("Expected CONFIG_ERROR, got %v", err)
		}
	})

	t.Run("UnknownCacheBackend", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Backend.BaseURL = "http://x"
		cfg.Cache.Backend = "memcached"
		if err := cfg.Validate(); !errors.Is(err, errors.ErrConfig) {
			t.Errorf("Expected CONFIG_ERROR, got %v", err)
		}
	})

	t.Run("Valid", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Backend.BaseURL = "http://x"
		if err := cfg.Validate(); err != nil {
			t.Errorf("Expected valid config, got %v", err)
		}
	})
}
