package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Poll.Interval != 3*time.Second || cfg.Backend.LatestPath != "/latest" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Map.FallbackLat != 44.5646 || cfg.Alerts.Cooldown != 5*time.Minute {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lorawatch.yaml")
	yaml := "backend:\n  url: http://nodes:9000\n  latest_path: /summary\npoll:\n  interval: 5s\nalerts:\n  smtp:\n    to: [ops@example.com]\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("LORAWATCH_POLL_INTERVAL", "7s")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend.URL != "http://nodes:9000" || cfg.Backend.LatestPath != "/summary" {
		t.Fatalf("expected file values, got %+v", cfg.Backend)
	}
	if cfg.Poll.Interval != 7*time.Second {
		t.Fatalf("expected env override, got %s", cfg.Poll.Interval)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected LOG_LEVEL fallback, got %q", cfg.LogLevel)
	}
	if len(cfg.Alerts.SMTP.To) != 1 {
		t.Fatalf("expected recipients from file, got %v", cfg.Alerts.SMTP.To)
	}
}

func TestLoadRejectsBadDriver(t *testing.T) {
	t.Setenv("LORAWATCH_NODEAPI_DB_DRIVER", "mysql")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
