package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerPort != "8080" || cfg.TickInterval != time.Second || cfg.SessionRetention != 30*time.Minute {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.AllowManualTick || cfg.AllowedOrigins != nil {
		t.Fatalf("manual tick and origin restriction must be off by default: %+v", cfg)
	}
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	yaml := "SERVER_PORT: \"9000\"\nTICK_INTERVAL: 250ms\nALLOWED_ORIGINS: \"https://a.test, https://b.test\"\n"
	if err := os.WriteFile(filepath.Join(dir, "exstem.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SERVER_PORT", "9100")
	t.Setenv("ALLOW_MANUAL_TICK", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerPort != "9100" {
		t.Fatalf("env must override file, got %s", cfg.ServerPort)
	}
	if cfg.TickInterval != 250*time.Millisecond || !cfg.AllowManualTick {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.test" {
		t.Fatalf("unexpected origins %v", cfg.AllowedOrigins)
	}
}

func TestLoadRejectsNonPositive(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RESULT_BATCH_SIZE", "0")

	if _, err := Load(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestKeys(t *testing.T) {
	if got := CacheKey.SessionEventsChannel("abc"); got != "session:abc:events" {
		t.Fatalf("unexpected channel %q", got)
	}
	if got := CacheKey.SessionResultKey("abc"); got != "session:abc:result" {
		t.Fatalf("unexpected result key %q", got)
	}
	if WorkerKey.PersistResultsQueue != "persist_results_queue" {
		t.Fatalf("unexpected queue %q", WorkerKey.PersistResultsQueue)
	}
}
