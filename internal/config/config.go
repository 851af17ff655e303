// Package config loads, defaults, and validates the TOML configuration
// file. Every section maps to a typed struct so the rest of the
// codebase gets strong typing without manual key lookups.
package config

import (
	"errors"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Config is the top-level configuration, mirroring the TOML sections.
type Config struct {
	Server   ServerConfig   `toml:"server"   json:"server"`
	Logging  LoggingConfig  `toml:"logging"  json:"logging"`
	Elements ElementsConfig `toml:"elements" json:"elements"`
	Tracker  TrackerConfig  `toml:"tracker"  json:"tracker"`
	Path     PathConfig     `toml:"path"     json:"path"`
	Observer ObserverConfig `toml:"observer" json:"observer"`
	Catalog  CatalogConfig  `toml:"catalog"  json:"catalog"`
	Stream   StreamConfig   `toml:"stream"   json:"stream"`
}

type ServerConfig struct {
	Bind        string `toml:"bind"         json:"bind"`
	AuthEnabled bool   `toml:"auth_enabled" json:"auth_enabled"`
	AuthToken   string `toml:"auth_token"   json:"-"`
	TrustProxy  bool   `toml:"trust_proxy"  json:"trust_proxy"`
}

type LoggingConfig struct {
	Level string `toml:"level" json:"level"`
}

type ElementsConfig struct {
	SourceURL     string   `toml:"source_url"      json:"source_url"`
	ExtraURLs     []string `toml:"extra_urls"      json:"extra_urls"`
	CacheDir      string   `toml:"cache_dir"       json:"cache_dir"`
	CacheMaxFiles int      `toml:"cache_max_files" json:"cache_max_files"`
	RefreshHours  int      `toml:"refresh_hours"   json:"refresh_hours"`
}

type TrackerConfig struct {
	IntervalSeconds int `toml:"interval_seconds" json:"interval_seconds"`
	Workers         int `toml:"workers"          json:"workers"`
}

type PathConfig struct {
	StepSeconds int `toml:"step_seconds" json:"step_seconds"`
	Periods     int `toml:"periods"      json:"periods"`
}

type ObserverConfig struct {
	Enabled   bool    `toml:"enabled"   json:"enabled"`
	Latitude  float64 `toml:"latitude"  json:"latitude"`
	Longitude float64 `toml:"longitude" json:"longitude"`
	Altitude  float64 `toml:"altitude"  json:"altitude"`
}

type CatalogConfig struct {
	URL  string `toml:"url"  json:"url"`
	Mode string `toml:"mode" json:"mode"`
}

type StreamConfig struct {
	MaxPerIP int `toml:"max_per_ip" json:"max_per_ip"`
}

// Default returns a Config populated with sane defaults. Values here
// are used whenever the TOML file omits a field.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "0.0.0.0:8080",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Elements: ElementsConfig{
			SourceURL:     "https://celestrak.org/NORAD/elements/gp.php?GROUP=active&FORMAT=tle",
			CacheDir:      "/var/lib/orbitwatch/elements",
			CacheMaxFiles: 5,
			RefreshHours:  8,
		},
		Tracker: TrackerConfig{
			IntervalSeconds: 1,
			Workers:         8,
		},
		Path: PathConfig{
			StepSeconds: 60,
			Periods:     2,
		},
		Observer: ObserverConfig{},
		Catalog: CatalogConfig{
			URL:  "https://celestrak.org/satcat/records.php",
			Mode: "single",
		},
		Stream: StreamConfig{
			MaxPerIP: 4,
		},
	}
}

// Load reads the TOML file at path, layers it on top of the defaults,
// and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := toml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}

	if err := Validate(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks cross-field constraints. Exposed so the daemon can
// validate a default config adjusted by flags.
func Validate(cfg Config) error {
	if cfg.Server.Bind == "" {
		return errors.New("server.bind must not be empty")
	}
	if cfg.Server.AuthEnabled && cfg.Server.AuthToken == "" {
		return errors.New("server.auth_token required when auth is enabled")
	}
	if cfg.Elements.SourceURL == "" {
		return errors.New("elements.source_url must not be empty")
	}
	if cfg.Elements.CacheMaxFiles < 1 {
		return errors.New("elements.cache_max_files must be >= 1")
	}
	if cfg.Elements.RefreshHours < 1 {
		return errors.New("elements.refresh_hours must be >= 1")
	}
	if cfg.Tracker.IntervalSeconds < 1 {
		return errors.New("tracker.interval_seconds must be >= 1")
	}
	if cfg.Tracker.Workers < 1 {
		return errors.New("tracker.workers must be >= 1")
	}
	if cfg.Path.StepSeconds < 1 {
		return errors.New("path.step_seconds must be >= 1")
	}
	if cfg.Path.Periods < 1 {
		return errors.New("path.periods must be >= 1")
	}
	if cfg.Observer.Enabled {
		if cfg.Observer.Latitude < -90 || cfg.Observer.Latitude > 90 {
			return errors.New("observer.latitude must be between -90 and 90")
		}
		if cfg.Observer.Longitude < -180 || cfg.Observer.Longitude > 180 {
			return errors.New("observer.longitude must be between -180 and 180")
		}
	}
	if cfg.Catalog.Mode != "single" && cfg.Catalog.Mode != "multi" {
		return errors.New(`catalog.mode must be "single" or "multi"`)
	}
	if cfg.Stream.MaxPerIP < 0 {
		return errors.New("stream.max_per_ip must be >= 0")
	}
	return nil
}
