package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Relay.Server != "https://ntfy.sh" {
		t.Errorf("relay server: got %q", cfg.Relay.Server)
	}
	if cfg.Store.Kind != StoreRelay {
		t.Errorf("store kind: got %q", cfg.Store.Kind)
	}
	if cfg.HTTP.Addr != ":8000" || cfg.HTTP.MaxBody != 64<<10 {
		t.Errorf("http: got %+v", cfg.HTTP)
	}
	if cfg.Portal.BaseURL != "https://eams.uestc.edu.cn/eams/" {
		t.Errorf("portal base: got %q", cfg.Portal.BaseURL)
	}
	if cfg.Portal.Browser.Channel != "chrome" || !cfg.Portal.Browser.LegacyArgs {
		t.Errorf("browser defaults lost: %+v", cfg.Portal.Browser)
	}
	if cfg.Watch.Interval != 20*time.Minute || cfg.Watch.Retry != 0 {
		t.Errorf("watch schedule: got %v / %v", cfg.Watch.Interval, cfg.Watch.Retry)
	}
	if cfg.Level() != slog.LevelInfo {
		t.Errorf("level: got %v", cfg.Level())
	}
}

func TestParse_IntervalTooShort(t *testing.T) {
	_, err := Parse([]byte("watch:\n  interval: 10s\n"))
	if err == nil || !strings.Contains(strings.ToLower(err.Error()), "interval") {
		t.Fatalf("want an interval error, got %v", err)
	}
}

func TestParse_ExpandsEnv(t *testing.T) {
	// WHAT: ${VAR} references are resolved before YAML parsing.
	// WHY: secrets and per-host paths stay out of the committed file.
	t.Setenv("GW_TEST_DB", "/var/lib/gradewatch/state.db")
	doc := `
store:
  kind: sqlite
  path: ${GW_TEST_DB}
portal:
  anti_bot_wait: 90s
  browser:
    channel: msedge
    headless: true
    no_viewport: true
    extra_headers:
      accept-language: zh-CN
log_level: DEBUG
`
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Store.Path != "/var/lib/gradewatch/state.db" {
		t.Errorf("store path: got %q", cfg.Store.Path)
	}
	if cfg.Portal.AntiBotWait != 90*time.Second {
		t.Errorf("anti-bot wait: got %s", cfg.Portal.AntiBotWait)
	}
	if cfg.Portal.Browser.Channel != "msedge" || !cfg.Portal.Browser.Headless || !cfg.Portal.Browser.NoViewport {
		t.Errorf("browser: got %+v", cfg.Portal.Browser)
	}
	if cfg.Portal.Browser.ExtraHeaders["accept-language"] != "zh-CN" {
		t.Errorf("headers: got %v", cfg.Portal.Browser.ExtraHeaders)
	}
	if cfg.Level() != slog.LevelDebug {
		t.Errorf("level: got %v", cfg.Level())
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name, doc, want string
	}{
		{"sqlite without path", "store: {kind: sqlite}", "path"},
		{"unknown store", "store: {kind: redis}", "kind"},
		{"bad level", "log_level: loud", "loglevel"},
		{"bad zone", "watch: {timezone: Mars/Olympus}", "timezone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil || !strings.Contains(strings.ToLower(err.Error()), tt.want) {
				t.Errorf("err: got %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("missing file: %v", err)
	}
	if cfg.Store.Kind != StoreRelay {
		t.Errorf("defaults not applied: %+v", cfg.Store)
	}

	path := filepath.Join(t.TempDir(), "gradewatch.yaml")
	if err := os.WriteFile(path, []byte("http: {addr: ':9000'}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadOrDefault(path)
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if cfg.HTTP.Addr != ":9000" {
		t.Errorf("addr: got %q", cfg.HTTP.Addr)
	}
}

func TestLocation(t *testing.T) {
	w := WatchConfig{Timezone: "Asia/Shanghai"}
	if got := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).In(w.Location()).Hour(); got != 8 {
		t.Errorf("hour: got %d, want 8", got)
	}
}
