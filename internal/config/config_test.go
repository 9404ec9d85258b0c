package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Yheng/CropGuard-sub000/internal/sync"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Sync.Interval != 30*time.Second {
		t.Errorf("sync.interval = %v, want 30s", cfg.Sync.Interval)
	}
	if cfg.Sync.BatchSize != sync.DefaultBatchSize {
		t.Errorf("sync.batch_size = %d, want %d", cfg.Sync.BatchSize, sync.DefaultBatchSize)
	}
	if !cfg.Sync.ConflictResolution || !cfg.Sync.PrioritizeUrgent {
		t.Error("conflict resolution and urgent prioritization should default on")
	}
	if cfg.Sync.AutoResolveWindow != sync.DefaultAutoResolveWindow {
		t.Errorf("sync.auto_resolve_window = %v", cfg.Sync.AutoResolveWindow)
	}
	if cfg.Dashboard.Port != 8790 {
		t.Errorf("dashboard.port = %d, want 8790", cfg.Dashboard.Port)
	}
	if cfg.DB.Path == "" || cfg.Spool.Dir == "" {
		t.Error("db.path and spool.dir should have defaults")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
sync:
  interval: 2m
  batch_size: 10
  progressive: true
api:
  base_url: https://farm.example.com
  token: secret-token
spool:
  dir: /var/spool/cropguard
dashboard:
  port: 9000
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Sync.Interval != 2*time.Minute {
		t.Errorf("sync.interval = %v, want 2m", cfg.Sync.Interval)
	}
	if cfg.Sync.BatchSize != 10 || !cfg.Sync.Progressive {
		t.Errorf("sync = %+v", cfg.Sync)
	}
	if cfg.API.BaseURL != "https://farm.example.com" || cfg.API.Token != "secret-token" {
		t.Errorf("api = %+v", cfg.API)
	}
	if cfg.Spool.Dir != "/var/spool/cropguard" {
		t.Errorf("spool.dir = %s", cfg.Spool.Dir)
	}
	if cfg.Dashboard.Port != 9000 {
		t.Errorf("dashboard.port = %d", cfg.Dashboard.Port)
	}

	// Unset keys keep their defaults.
	if cfg.Sync.MaxRetries != sync.MaxAttemptCeiling {
		t.Errorf("sync.max_retries = %d, want default", cfg.Sync.MaxRetries)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("CROPGUARD_API_TOKEN", "env-token")
	t.Setenv("CROPGUARD_SYNC_BATCH_SIZE", "7")

	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.API.Token != "env-token" {
		t.Errorf("api.token = %q, want env-token", cfg.API.Token)
	}
	if cfg.Sync.BatchSize != 7 {
		t.Errorf("sync.batch_size = %d, want 7", cfg.Sync.BatchSize)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"zero interval", "sync:\n  interval: 0s\n"},
		{"negative batch size", "sync:\n  batch_size: -1\n"},
		{"empty base url", "api:\n  base_url: \"\"\n"},
		{"port out of range", "dashboard:\n  port: 70000\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.content)); err == nil {
				t.Errorf("Load() accepted %s", tc.name)
			}
		})
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for an explicitly named missing file")
	}
}

func TestEngineConfig(t *testing.T) {
	path := writeConfig(t, `
sync:
  interval: 45s
  max_retries: 3
  conflict_resolution: false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	ec := cfg.EngineConfig()
	if ec.SyncInterval != 45*time.Second || ec.MaxRetries != 3 {
		t.Errorf("engine config = %+v", ec)
	}
	if ec.EnableConflictResolution {
		t.Error("conflict resolution should be disabled")
	}
	if ec.Logger != nil {
		t.Error("engine logger should be left to the caller")
	}
}
