package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CLEANSPACE_SUPABASE_URL",
		"CLEANSPACE_SUPABASE_KEY",
		"CLEANSPACE_OPENAQ_KEY",
		"CLEANSPACE_FIRMS_KEY",
		"CLEANSPACE_GEMINI_KEY",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Remote.Mode != RemoteMemory {
		t.Errorf("Expected memory mode, got %q", cfg.Remote.Mode)
	}
	if cfg.Sync.SyncInterval != 30*time.Second {
		t.Errorf("Expected 30s sync interval, got %s", cfg.Sync.SyncInterval)
	}
	if cfg.Sim.Duration != 10*time.Minute {
		t.Errorf("Expected 10m session, got %s", cfg.Sim.Duration)
	}
	if cfg.Location.City != "New York" {
		t.Errorf("Expected default location, got %+v", cfg.Location)
	}
	if cfg.ListenAddr == "" || cfg.DataDir == "" {
		t.Error("Expected listen addr and data dir defaults")
	}
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
data_dir: /tmp/cs
remote:
  mode: supabase
  url: https://example.supabase.co
  anon_key: anon
queue:
  backoff_base: 2s
sync:
  sync_interval: 1m
location:
  latitude: 34.05
  longitude: -118.24
  city: Los Angeles
providers:
  disabled: [openaq]
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DataDir != "/tmp/cs" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.DBPath() != filepath.Join("/tmp/cs", "cleanspace.db") {
		t.Errorf("DBPath = %q", cfg.DBPath())
	}
	if cfg.Sync.SyncInterval != time.Minute {
		t.Errorf("SyncInterval = %s", cfg.Sync.SyncInterval)
	}
	if cfg.Sync.ProbeInterval != 15*time.Second {
		t.Errorf("Expected default probe interval, got %s", cfg.Sync.ProbeInterval)
	}
	if cfg.Queue.BackoffBase != 2*time.Second || cfg.Queue.BackoffMax != 10*time.Minute {
		t.Errorf("Backoff = %s/%s", cfg.Queue.BackoffBase, cfg.Queue.BackoffMax)
	}
	if cfg.Location.City != "Los Angeles" {
		t.Errorf("Location = %+v", cfg.Location)
	}
	if !cfg.Providers.IsDisabled("openaq") || cfg.Providers.IsDisabled("nasa-firms") {
		t.Errorf("Disabled = %v", cfg.Providers.Disabled)
	}
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Remote.Mode = RemoteSupabase
	cfg.Location.Latitude = 120
	cfg.Sync.SyncInterval = time.Millisecond

	err := cfg.Validate()
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("Expected ErrInvalid, got %v", err)
	}
	for _, want := range []string{"remote.url", "remote.anon_key", "location", "sync_interval"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Expected %q in %v", want, err)
		}
	}
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Remote.Mode = "firebase"
	if err := cfg.Validate(); err == nil {
		t.Fatal("Expected error for unknown mode")
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CLEANSPACE_SUPABASE_URL", "https://env.supabase.co")
	t.Setenv("CLEANSPACE_SUPABASE_KEY", "env-key")
	t.Setenv("CLEANSPACE_GEMINI_KEY", "gem")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Remote.Mode != RemoteSupabase || cfg.Remote.URL != "https://env.supabase.co" {
		t.Errorf("Remote = %+v", cfg.Remote)
	}
	if cfg.Assistant.APIKey != "gem" {
		t.Errorf("Assistant key = %q", cfg.Assistant.APIKey)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("remote: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Expected parse error")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Queue.BackoffBase = 5 * time.Second
	cfg.Queue.BackoffMax = time.Minute

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("Expected 0600, got %v", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Queue.BackoffBase != 5*time.Second || loaded.Queue.BackoffMax != time.Minute {
		t.Errorf("Backoff not preserved: %+v", loaded.Queue)
	}
	if loaded.DataDir != cfg.DataDir {
		t.Errorf("DataDir = %q, want %q", loaded.DataDir, cfg.DataDir)
	}
}
