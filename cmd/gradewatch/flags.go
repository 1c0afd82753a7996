package main

import (
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/hazyhaar/gradewatch/config"
	"github.com/hazyhaar/gradewatch/portal"
)

// browserFlags are shared by every command that opens a browser. Each one
// overrides the config file only when set on the command line or in the
// environment.
func browserFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "channel", Usage: "chrome, msedge or chromium", Sources: cli.EnvVars("BROWSER_CHANNEL")},
		&cli.StringFlag{Name: "executable-path", Usage: "browser binary", Sources: cli.EnvVars("EXECUTABLE_PATH")},
		&cli.BoolFlag{Name: "headless", Usage: "run without a window", Sources: cli.EnvVars("HEADLESS")},
		&cli.StringFlag{Name: "headless-mode", Usage: "native, new or xvfb", Sources: cli.EnvVars("HEADLESS_MODE")},
		&cli.StringFlag{Name: "user-agent", Sources: cli.EnvVars("USER_AGENT")},
		&cli.IntFlag{Name: "antibot-wait-ms", Usage: "anti-bot interstitial wait; 0 disables it", Sources: cli.EnvVars("ANTIBOT_WAIT_MS")},
		&cli.BoolFlag{Name: "no-viewport", Usage: "use the window size instead of a fixed viewport", Sources: cli.EnvVars("NO_VIEWPORT")},
		&cli.BoolFlag{Name: "bypass-csp", Sources: cli.EnvVars("BYPASS_CSP")},
		&cli.BoolFlag{Name: "stealth-scripts", Sources: cli.EnvVars("STEALTH_SCRIPTS")},
		&cli.StringFlag{Name: "debug-dir", Usage: "network log and failure dumps", Sources: cli.EnvVars("DEBUG_DIR")},
		&cli.StringFlag{Name: "accept-language", Sources: cli.EnvVars("ACCEPT_LANGUAGE")},
		&cli.StringFlag{Name: "sec-ch-ua", Sources: cli.EnvVars("SEC_CH_UA")},
		&cli.StringFlag{Name: "sec-ch-ua-mobile", Sources: cli.EnvVars("SEC_CH_UA_MOBILE")},
		&cli.StringFlag{Name: "sec-ch-ua-platform", Sources: cli.EnvVars("SEC_CH_UA_PLATFORM")},
		&cli.BoolFlag{Name: "keep-user-data-dir", Usage: "keep per-run profile directories", Sources: cli.EnvVars("KEEP_USER_DATA_DIR")},
	}
}

// headerFlags maps flags onto extra HTTP request headers.
var headerFlags = map[string]string{
	"accept-language":    "Accept-Language",
	"sec-ch-ua":          "Sec-CH-UA",
	"sec-ch-ua-mobile":   "Sec-CH-UA-Mobile",
	"sec-ch-ua-platform": "Sec-CH-UA-Platform",
}

// flagSource is the part of *cli.Command applyBrowserFlags reads.
type flagSource interface {
	IsSet(name string) bool
	String(name string) string
	Bool(name string) bool
}

func applyBrowserFlags(cmd *cli.Command, cfg *config.Config) {
	applyFlags(cmd, time.Duration(cmd.Int("antibot-wait-ms"))*time.Millisecond, cfg)
}

func applyFlags(f flagSource, antiBotWait time.Duration, cfg *config.Config) {
	b := &cfg.Portal.Browser
	if f.IsSet("channel") {
		b.Channel = portal.NormalizeChannel(f.String("channel"))
	}
	if f.IsSet("executable-path") {
		b.ExecutablePath = f.String("executable-path")
	}
	if f.IsSet("headless") {
		b.Headless = f.Bool("headless")
	}
	if f.IsSet("headless-mode") {
		b.HeadlessMode = portal.HeadlessMode(strings.ToLower(f.String("headless-mode")))
	}
	if f.IsSet("user-agent") {
		b.UserAgent = f.String("user-agent")
	}
	if f.IsSet("no-viewport") {
		b.NoViewport = f.Bool("no-viewport")
	}
	if f.IsSet("bypass-csp") {
		b.BypassCSP = f.Bool("bypass-csp")
	}
	if f.IsSet("stealth-scripts") {
		b.StealthScripts = f.Bool("stealth-scripts")
	}
	if f.IsSet("debug-dir") {
		b.DiagnosticsDir = f.String("debug-dir")
	}
	for name, header := range headerFlags {
		if !f.IsSet(name) {
			continue
		}
		if b.ExtraHeaders == nil {
			b.ExtraHeaders = make(map[string]string)
		}
		b.ExtraHeaders[header] = f.String(name)
	}
	if f.IsSet("antibot-wait-ms") {
		if antiBotWait <= 0 {
			antiBotWait = -1
		}
		cfg.Portal.AntiBotWait = antiBotWait
	}
	if f.IsSet("keep-user-data-dir") {
		cfg.Watch.KeepProfiles = f.Bool("keep-user-data-dir")
	}
}
