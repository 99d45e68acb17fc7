package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 6543 {
		t.Fatalf("expected default port 6543, got %d", cfg.Server.Port)
	}
	if cfg.Database.DSN != "" {
		t.Fatalf("expected empty default dsn, got %q", cfg.Database.DSN)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("expected default level info, got %q", cfg.Logging.Level)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("server:\n  port: 8080\nlogging:\n  level: debug\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected level debug, got %q", cfg.Logging.Level)
	}
	// Untouched sections keep their defaults.
	if cfg.Server.Host != "0.0.0.0" {
		t.Fatalf("expected default host, got %q", cfg.Server.Host)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("EXPERIMENT_SERVER_PORT", "9999")
	t.Setenv("DATABASE_DSN", "postgres://db/experiments")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Fatalf("expected env port 9999, got %d", cfg.Server.Port)
	}
	if cfg.Database.DSN != "postgres://db/experiments" {
		t.Fatalf("unexpected dsn %q", cfg.Database.DSN)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("unexpected format %q", cfg.Logging.Format)
	}
}

func TestInvalidPort(t *testing.T) {
	t.Setenv("EXPERIMENT_SERVER_PORT", "70000")
	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected out-of-range port to fail")
	}
}

func TestDSNRequiresDriver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("database:\n  driver: \"\"\n  dsn: postgres://db/experiments\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadFromPath(path); err == nil {
		t.Fatal("expected dsn without driver to fail")
	}
}
