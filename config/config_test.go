package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	if cfg.Node.MaxConcurrentTasks != 10 {
		t.Errorf("expected 10 concurrent tasks, got %d", cfg.Node.MaxConcurrentTasks)
	}
	if cfg.Node.TickInterval != 100*time.Millisecond {
		t.Errorf("unexpected tick interval %v", cfg.Node.TickInterval)
	}
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Node.MaxConcurrentTasks != Default().Node.MaxConcurrentTasks {
		t.Error("missing file should yield defaults")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte("node:\n  max_concurrent_tasks: 4\n  tick_interval: 50ms\nenergy:\n  power_limit_watts: 30\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Node.MaxConcurrentTasks != 4 {
		t.Errorf("expected 4 concurrent tasks, got %d", cfg.Node.MaxConcurrentTasks)
	}
	if cfg.Node.TickInterval != 50*time.Millisecond {
		t.Errorf("expected 50ms tick, got %v", cfg.Node.TickInterval)
	}
	if cfg.Energy.PowerLimitWatts != 30 {
		t.Errorf("expected 30W limit, got %f", cfg.Energy.PowerLimitWatts)
	}
	// Untouched section keeps defaults.
	if cfg.AI.BatchSize != 32 {
		t.Errorf("expected default batch size 32, got %d", cfg.AI.BatchSize)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("node:\n  max_concurrent_tasks: -1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected validation error")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := Default()
	cfg.Node.MaxConcurrentTasks = 7
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Node.MaxConcurrentTasks != 7 {
		t.Errorf("expected 7, got %d", loaded.Node.MaxConcurrentTasks)
	}
}
