package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body = strings.ReplaceAll(body, "$DIR", dir)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
storage:
  path: $DIR/data/playlimit.db
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Limit.DailyLimitMinutes != 240 {
		t.Errorf("DailyLimitMinutes = %d, want 240", cfg.Limit.DailyLimitMinutes)
	}
	if cfg.Limit.Timezone != "Etc/UTC" {
		t.Errorf("Timezone = %q, want Etc/UTC", cfg.Limit.Timezone)
	}
	if cfg.Storage.Type != "sqlite" {
		t.Errorf("Storage.Type = %q, want sqlite", cfg.Storage.Type)
	}
	if cfg.Engine.ShutdownTimeout != "10s" {
		t.Errorf("ShutdownTimeout = %q, want 10s", cfg.Engine.ShutdownTimeout)
	}
	if _, err := os.Stat(filepath.Dir(cfg.Storage.Path)); err != nil {
		t.Errorf("storage directory was not created: %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
limit:
  daily_limit_minutes: 60
  kick_message: "Go outside."
  broadcast_template: "{player} is done for today."
  ignored_user_ids:
    - 0b8e4f5c-admin
  timezone: Europe/Berlin
storage:
  type: bolt
  path: $DIR/playlimit.bolt
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Limit.DailyLimitMinutes != 60 {
		t.Errorf("DailyLimitMinutes = %d, want 60", cfg.Limit.DailyLimitMinutes)
	}
	if len(cfg.Limit.IgnoredUserIDs) != 1 || cfg.Limit.IgnoredUserIDs[0] != "0b8e4f5c-admin" {
		t.Errorf("IgnoredUserIDs = %v", cfg.Limit.IgnoredUserIDs)
	}
	loc, err := cfg.Limit.Location()
	if err != nil {
		t.Fatalf("Location() error = %v", err)
	}
	if loc.String() != "Europe/Berlin" {
		t.Errorf("Location = %s, want Europe/Berlin", loc)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "unknown timezone",
			body: "limit:\n  timezone: Mars/Olympus_Mons\nstorage:\n  path: $DIR/p.db\n",
			want: "invalid timezone",
		},
		{
			name: "template without placeholder",
			body: "limit:\n  broadcast_template: someone left\nstorage:\n  path: $DIR/p.db\n",
			want: "{player}",
		},
		{
			name: "zero limit",
			body: "limit:\n  daily_limit_minutes: 0\nstorage:\n  path: $DIR/p.db\n",
			want: "daily_limit_minutes",
		},
		{
			name: "unknown storage",
			body: "storage:\n  type: postgres\n  path: $DIR/p.db\n",
			want: "unsupported storage type",
		},
		{
			name: "evaluation period is fixed",
			body: "engine:\n  evaluation_period: 10s\nstorage:\n  path: $DIR/p.db\n",
			want: "evaluation_period",
		},
		{
			name: "evaluation period set to the default",
			body: "engine:\n  evaluation_period: 1m\nstorage:\n  path: $DIR/p.db\n",
			want: "evaluation_period",
		},
		{
			name: "bad shutdown timeout",
			body: "engine:\n  shutdown_timeout: soon\nstorage:\n  path: $DIR/p.db\n",
			want: "shutdown_timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("Load() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load() error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("PLAYLIMIT_STORAGE_PATH", filepath.Join(t.TempDir(), "playlimit.db"))

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Limit.DailyLimitMinutes != 240 {
		t.Errorf("DailyLimitMinutes = %d, want 240", cfg.Limit.DailyLimitMinutes)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Limit.DailyLimitMinutes != 240 {
		t.Errorf("Expected default limit 240, got %d", cfg.Limit.DailyLimitMinutes)
	}
	if cfg.Storage.Type != "sqlite" {
		t.Errorf("Expected default storage sqlite, got %s", cfg.Storage.Type)
	}
	if cfg.Bridge.ListenAddr != "127.0.0.1:8765" {
		t.Errorf("Expected default bridge address, got %s", cfg.Bridge.ListenAddr)
	}
}
