// Command gradewatch watches the grades portal and pushes a notification
// through an ntfy-style relay when grades appear or change.
//
// Usage:
//
//	gradewatch run --topic T --account A       # one check, JSON result on stdout
//	gradewatch watch --topic T --account A     # check every watch.interval until interrupted
//	gradewatch serve                           # HTTP front door: /healthz /init /invoke
//	gradewatch mcp                             # MCP tools over stdio
//	gradewatch fetch --account A               # scrape with a persistent profile and print tables
//	gradewatch semesters --account A           # list the portal's semester selector
//	gradewatch history --topic T [--state]      # messages kept by the sqlite store
//	gradewatch fingerprint | cookies | topic | semester [id]
//
// A .env file in the working directory is loaded before flags are parsed.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v3"

	"github.com/hazyhaar/gradewatch/config"
)

const version = "0.4.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		slog.Error("gradewatch: fatal", "error", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "gradewatch",
		Usage:   "Watch the grades portal and notify through an ntfy relay",
		Version: version,
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML config file; missing file means defaults",
				Value:   "gradewatch.yaml",
				Sources: cli.EnvVars("GRADEWATCH_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "debug, info, warn or error (overrides the config file)",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		}, browserFlags()...),
		Commands: []*cli.Command{
			runCommand(),
			watchCommand(),
			serveCommand(),
			mcpCommand(),
			fetchCommand(),
			semestersCommand(),
			fingerprintCommand(),
			cookiesCommand(),
			topicCommand(),
			semesterCommand(),
			historyCommand(),
		},
	}
}

// setup loads the configuration, applies the browser flags and installs
// the root logger.
func setup(cmd *cli.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadOrDefault(cmd.String("config"))
	if err != nil {
		return nil, nil, err
	}
	if lvl := cmd.String("log-level"); lvl != "" {
		cfg.LogLevel = lvl
		if err := cfg.Validate(); err != nil {
			return nil, nil, fmt.Errorf("log-level: %w", err)
		}
	}
	applyBrowserFlags(cmd, cfg)

	logger := newLogger(cfg.Level())
	slog.SetDefault(logger)
	cfg.Portal.Logger = logger
	cfg.Portal.Browser.Logger = logger
	return cfg, logger, nil
}

// newLogger writes colored text to a terminal and JSON otherwise.
func newLogger(level slog.Level) *slog.Logger {
	if isatty.IsTerminal(os.Stderr.Fd()) {
		return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		}))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
