// Package browser drives a persistent Chromium profile through go-rod: launch
// with channel fallback, headless hardening, cookies, and the diagnostics the
// portal client leaves behind when a scrape fails.
package browser

import (
	"log/slog"
	"strings"
	"time"
)

// HeadlessMode selects how a headless browser is started.
type HeadlessMode string

const (
	// HeadlessNative lets the launcher pass its own headless flag.
	HeadlessNative HeadlessMode = "native"
	// HeadlessArg starts a headed binary with --headless=new.
	HeadlessArg HeadlessMode = "new"
	// HeadlessXvfb runs a headed browser on a virtual X display.
	HeadlessXvfb HeadlessMode = "xvfb"
)

// Options configure a Session.
type Options struct {
	// UserDataDir is the persistent profile directory. Required.
	UserDataDir string `yaml:"user_data_dir"`

	// Channel is "chrome", "msedge", or empty/"chromium"/"bundled" for the
	// launcher's default browser.
	Channel        string `yaml:"channel"`
	ExecutablePath string `yaml:"executable_path"`

	Headless     bool         `yaml:"headless"`
	HeadlessMode HeadlessMode `yaml:"headless_mode"`
	XvfbDisplay  string       `yaml:"xvfb_display"`

	// LegacyArgs adds --disable-gpu, --no-sandbox, --window-size and
	// --disable-blink-features=AutomationControlled.
	LegacyArgs   bool `yaml:"legacy_args"`
	WindowWidth  int  `yaml:"window_width"`
	WindowHeight int  `yaml:"window_height"`
	// NoViewport leaves the page at the window's own size instead of
	// emulating WindowWidth x WindowHeight.
	NoViewport bool `yaml:"no_viewport"`

	UserAgent                string            `yaml:"user_agent"`
	AutoFixHeadlessUserAgent bool              `yaml:"auto_fix_headless_user_agent"`
	ExtraHeaders             map[string]string `yaml:"extra_headers"`
	BypassCSP                bool              `yaml:"bypass_csp"`
	StealthScripts           bool              `yaml:"stealth_scripts"`
	ResourceBlocking         []string          `yaml:"resource_blocking"`

	DefaultTimeout    time.Duration `yaml:"default_timeout"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`

	// DiagnosticsDir receives the network/console log and debug dumps.
	// Empty disables diagnostics.
	DiagnosticsDir string `yaml:"diagnostics_dir"`

	Logger *slog.Logger `yaml:"-"`
}

// DefaultOptions returns the settings used when nothing is configured.
func DefaultOptions() Options {
	o := Options{
		Channel:                  "chrome",
		LegacyArgs:               true,
		AutoFixHeadlessUserAgent: true,
	}
	o.defaults()
	return o
}

func (o *Options) defaults() {
	if o.HeadlessMode == "" {
		o.HeadlessMode = HeadlessNative
	}
	if o.XvfbDisplay == "" {
		o.XvfbDisplay = ":99"
	}
	if o.WindowWidth <= 0 || o.WindowHeight <= 0 {
		o.WindowWidth, o.WindowHeight = 1920, 1080
	}
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = 30 * time.Second
	}
	if o.NavigationTimeout <= 0 {
		o.NavigationTimeout = 45 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// NormalizeChannel maps the configured channel to a launcher channel. The
// empty string means the launcher's default browser.
func NormalizeChannel(channel string) string {
	c := strings.ToLower(strings.TrimSpace(channel))
	switch c {
	case "", "chromium", "bundled":
		return ""
	}
	return c
}
