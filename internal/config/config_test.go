package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9090\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Sync.BatchSize != 100 {
		t.Errorf("Sync.BatchSize = %d, want default 100", cfg.Sync.BatchSize)
	}
	if cfg.Sync.UnitTimeout != 30*time.Second {
		t.Errorf("Sync.UnitTimeout = %v, want 30s", cfg.Sync.UnitTimeout)
	}
	if cfg.Schedule.Timezone != "Europe/Moscow" {
		t.Errorf("Schedule.Timezone = %q, want Europe/Moscow", cfg.Schedule.Timezone)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "tinvest:\n  token: from-file\n")

	t.Setenv("T_INVEST_API_TOKEN", "from-env")
	t.Setenv("SQLITE_PATH", "/tmp/override.db")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TInvest.Token != "from-env" {
		t.Errorf("TInvest.Token = %q, want env override", cfg.TInvest.Token)
	}
	if cfg.Storage.SQLitePath != "/tmp/override.db" {
		t.Errorf("Storage.SQLitePath = %q, want env override", cfg.Storage.SQLitePath)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"bad port":     "server:\n  port: -1\n",
		"zero workers": "sync:\n  api_workers: 0\n",
		"bad timezone": "schedule:\n  timezone: Mars/Olympus\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
