package config

import (
	"os"
	"path/filepath"
	"testing"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(wd) })
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %q", cfg.Port)
	}
	if !cfg.ShowQR {
		t.Error("expected ShowQR to default to true")
	}
	if cfg.Endpoint != "ws://localhost:8080/notifications" {
		t.Errorf("unexpected default endpoint %q", cfg.Endpoint)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "text" {
		t.Errorf("unexpected log defaults: %q %q", cfg.LogLevel, cfg.LogFormat)
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("DEV_MODE", "true")
	t.Setenv("WATCH_DIR", "/tmp/watched")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "9090" || !cfg.DevMode || cfg.WatchDir != "/tmp/watched" {
		t.Errorf("unexpected config: %+v", cfg)
	}

	lc := cfg.Logger()
	if !lc.DevMode || lc.Format != "json" {
		t.Errorf("unexpected logger config: %+v", lc)
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	// Registers LOG_LEVEL for restoration; godotenv only fills unset variables.
	t.Setenv("LOG_LEVEL", "")
	os.Unsetenv("LOG_LEVEL")

	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("LOG_LEVEL=debug\n"), 0644); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected LOG_LEVEL from .env, got %q", cfg.LogLevel)
	}
}

func TestLoad_InvalidValue(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("DEV_MODE", "not-a-bool")

	if _, err := Load(); err == nil {
		t.Error("expected error for invalid DEV_MODE")
	}
}
