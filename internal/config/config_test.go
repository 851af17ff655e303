package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orbitwatch.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[server]
bind = "127.0.0.1:9000"

[tracker]
interval_seconds = 5
workers = 2

[observer]
enabled = true
latitude = 51.5
longitude = -0.1
altitude = 35.0

[catalog]
mode = "multi"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Bind != "127.0.0.1:9000" {
		t.Errorf("bind = %q", cfg.Server.Bind)
	}
	if cfg.Tracker.IntervalSeconds != 5 || cfg.Tracker.Workers != 2 {
		t.Errorf("tracker = %+v", cfg.Tracker)
	}
	if !cfg.Observer.Enabled || cfg.Observer.Latitude != 51.5 {
		t.Errorf("observer = %+v", cfg.Observer)
	}
	if cfg.Catalog.Mode != "multi" {
		t.Errorf("catalog mode = %q", cfg.Catalog.Mode)
	}

	// Untouched sections keep their defaults.
	if cfg.Logging.Level != "info" {
		t.Errorf("logging level = %q, want default", cfg.Logging.Level)
	}
	if cfg.Elements.CacheMaxFiles != 5 {
		t.Errorf("cache_max_files = %d, want default 5", cfg.Elements.CacheMaxFiles)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults valid", func(c *Config) {}, false},
		{"empty bind", func(c *Config) { c.Server.Bind = "" }, true},
		{"auth without token", func(c *Config) { c.Server.AuthEnabled = true }, true},
		{"auth with token", func(c *Config) {
			c.Server.AuthEnabled = true
			c.Server.AuthToken = "secret"
		}, false},
		{"zero interval", func(c *Config) { c.Tracker.IntervalSeconds = 0 }, true},
		{"zero workers", func(c *Config) { c.Tracker.Workers = 0 }, true},
		{"bad observer latitude", func(c *Config) {
			c.Observer.Enabled = true
			c.Observer.Latitude = 91
		}, true},
		{"observer disabled skips range check", func(c *Config) { c.Observer.Latitude = 91 }, false},
		{"bad catalog mode", func(c *Config) { c.Catalog.Mode = "triple" }, true},
		{"zero path step", func(c *Config) { c.Path.StepSeconds = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := Validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
