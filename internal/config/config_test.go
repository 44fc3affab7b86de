package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Secrets.Backend != "auto" {
		t.Errorf("Secrets.Backend = %q, want %q", cfg.Secrets.Backend, "auto")
	}
	if cfg.ProbeBurst != 200 {
		t.Errorf("ProbeBurst = %d, want 200", cfg.ProbeBurst)
	}
	if cfg.Periods.Untested != 0 {
		t.Errorf("Periods.Untested = %v, want zero (daemon defaults apply)", cfg.Periods.Untested)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nopingd.yaml")
	contents := `
periods:
  untested: 30.011s
  active: 5.003s
redis:
  addr: localhost:6379
  channel: nopingd:noping
alertforward:
  webhook_url: https://alerts.example/hooks/nopingd
fping_path: /usr/local/bin/fping
probe_burst: 50
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if cfg.Periods.Untested != 30011*time.Millisecond {
		t.Errorf("Periods.Untested = %v, want 30.011s", cfg.Periods.Untested)
	}
	if cfg.Periods.Active != 5003*time.Millisecond {
		t.Errorf("Periods.Active = %v, want 5.003s", cfg.Periods.Active)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("Redis.Addr = %q, want %q", cfg.Redis.Addr, "localhost:6379")
	}
	if cfg.AlertForward.WebhookURL != "https://alerts.example/hooks/nopingd" {
		t.Errorf("AlertForward.WebhookURL = %q, want the configured webhook", cfg.AlertForward.WebhookURL)
	}
	if cfg.ProbeBurst != 50 {
		t.Errorf("ProbeBurst = %d, want 50 (overridden)", cfg.ProbeBurst)
	}
	// Secrets.Backend wasn't in the file, so DefaultConfig's value survives.
	if cfg.Secrets.Backend != "auto" {
		t.Errorf("Secrets.Backend = %q, want default %q to survive partial override", cfg.Secrets.Backend, "auto")
	}
}

func TestLoadFromFile_MissingFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestLoadFromFile_MalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("periods: [not a map"), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	_, err := LoadFromFile(path)
	if err == nil {
		t.Fatal("expected an error for malformed YAML")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("NOPINGD_REDIS_ADDR", "redis.internal:6379")
	t.Setenv("NOPINGD_POSTGRES_DSN", "postgres://nopingd@db/nopingd")
	t.Setenv("NOPINGD_HTTP_STATUS_ADDR", "127.0.0.1:9109")
	t.Setenv("NOPINGD_SECRETS_BACKEND", "local")
	t.Setenv("NOPINGD_ALERTFORWARD_WEBHOOK_URL", "https://alerts.example/hook")
	t.Setenv("NOPINGD_FPING_PATH", "/opt/bin/fping")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	if cfg.Redis.Addr != "redis.internal:6379" {
		t.Errorf("Redis.Addr = %q", cfg.Redis.Addr)
	}
	if cfg.Postgres.DSN != "postgres://nopingd@db/nopingd" {
		t.Errorf("Postgres.DSN = %q", cfg.Postgres.DSN)
	}
	if cfg.HTTPStatus.ListenAddr != "127.0.0.1:9109" {
		t.Errorf("HTTPStatus.ListenAddr = %q", cfg.HTTPStatus.ListenAddr)
	}
	if cfg.Secrets.Backend != "local" {
		t.Errorf("Secrets.Backend = %q", cfg.Secrets.Backend)
	}
	if cfg.AlertForward.WebhookURL != "https://alerts.example/hook" {
		t.Errorf("AlertForward.WebhookURL = %q", cfg.AlertForward.WebhookURL)
	}
	if cfg.FpingPath != "/opt/bin/fping" {
		t.Errorf("FpingPath = %q", cfg.FpingPath)
	}
}

func TestApplyEnvOverrides_NoEnvLeavesDefaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	if cfg.Redis.Addr != "" {
		t.Errorf("Redis.Addr = %q, want empty with no env set", cfg.Redis.Addr)
	}
	if cfg.Secrets.Backend != "auto" {
		t.Errorf("Secrets.Backend = %q, want default to survive", cfg.Secrets.Backend)
	}
}
