// Package config loads the gradewatch configuration from YAML. ${VAR}
// references are expanded from the environment before parsing.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/gradewatch/portal"
	"github.com/hazyhaar/gradewatch/relay"
)

// Store kinds.
const (
	StoreRelay  = "relay"
	StoreSQLite = "sqlite"
)

// Config is the top-level configuration.
type Config struct {
	Portal   portal.Options `yaml:"portal"`
	Relay    RelayConfig    `yaml:"relay"`
	Store    StoreConfig    `yaml:"store"`
	HTTP     HTTPConfig     `yaml:"http"`
	Watch    WatchConfig    `yaml:"watch"`
	LogLevel string         `yaml:"log_level"`
}

// RelayConfig is the notification relay.
type RelayConfig struct {
	Server  string        `yaml:"server"`
	Timeout time.Duration `yaml:"timeout"`
}

// StoreConfig selects where state is kept. With "relay" the state topic
// lives on the relay server; with "sqlite" both topics live in a local
// database.
type StoreConfig struct {
	Kind string `yaml:"kind"`
	Path string `yaml:"path"`
	Keep int    `yaml:"keep"`
}

// HTTPConfig is the invoke front door.
type HTTPConfig struct {
	Addr         string        `yaml:"addr"`
	MaxBody      int64         `yaml:"max_body"`
	RunTimeout   time.Duration `yaml:"run_timeout"`
	RateLimit    int           `yaml:"rate_limit"`
	RateWindow   time.Duration `yaml:"rate_window"`
	AllowEnvAuth bool          `yaml:"allow_env_auth"`
}

// WatchConfig controls the per-run profile directories and the
// auto-refresh schedule of "gradewatch watch".
type WatchConfig struct {
	DataDir      string        `yaml:"data_dir"`
	TempRoot     string        `yaml:"temp_root"`
	KeepProfiles bool          `yaml:"keep_profiles"`
	Timezone     string        `yaml:"timezone"`
	Interval     time.Duration `yaml:"interval"`
	Retry        time.Duration `yaml:"retry"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{Portal: portal.DefaultOptions()}
	cfg.applyDefaults()
	return cfg
}

// Load reads path, expands environment references and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse is Load on an in-memory document.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{Portal: portal.DefaultOptions()}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads path when it exists and returns the defaults
// otherwise. An empty path selects the defaults.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return Load(path)
}

func (c *Config) applyDefaults() {
	if c.Relay.Server == "" {
		c.Relay.Server = relay.DefaultServer
	}
	if c.Relay.Timeout <= 0 {
		c.Relay.Timeout = 30 * time.Second
	}
	if c.Store.Kind == "" {
		c.Store.Kind = StoreRelay
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8000"
	}
	if c.HTTP.MaxBody <= 0 {
		c.HTTP.MaxBody = 64 << 10
	}
	if c.HTTP.RunTimeout <= 0 {
		c.HTTP.RunTimeout = 5 * time.Minute
	}
	if c.HTTP.RateWindow <= 0 {
		c.HTTP.RateWindow = time.Minute
	}
	if c.Watch.Interval <= 0 {
		c.Watch.Interval = 20 * time.Minute
	}
	if c.Watch.Timezone == "" {
		c.Watch.Timezone = "Asia/Shanghai"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.LogLevel = strings.ToLower(c.LogLevel)
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Store),
		validation.Field(&c.HTTP),
		validation.Field(&c.Watch),
		validation.Field(&c.LogLevel, validation.Required, validation.In("debug", "info", "warn", "error")),
	)
}

// Validate checks the store section.
func (s StoreConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Kind, validation.Required, validation.In(StoreRelay, StoreSQLite)),
		validation.Field(&s.Path, validation.When(s.Kind == StoreSQLite, validation.Required)),
		validation.Field(&s.Keep, validation.Min(0)),
	)
}

// Validate checks the HTTP section.
func (h HTTPConfig) Validate() error {
	return validation.ValidateStruct(&h,
		validation.Field(&h.Addr, validation.Required),
		validation.Field(&h.RateLimit, validation.Min(0)),
	)
}

// Validate checks the watch section.
func (w WatchConfig) Validate() error {
	return validation.ValidateStruct(&w,
		validation.Field(&w.Interval, validation.Min(time.Minute)),
		validation.Field(&w.Retry, validation.Min(time.Duration(0))),
		validation.Field(&w.Timezone, validation.By(func(v any) error {
			_, err := time.LoadLocation(v.(string))
			return err
		})),
	)
}

// Location returns the configured time zone, falling back to local time.
func (w WatchConfig) Location() *time.Location {
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Level maps LogLevel onto slog.
func (c *Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}
