package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/hazyhaar/gradewatch/config"
	"github.com/hazyhaar/gradewatch/relay"
	"github.com/hazyhaar/gradewatch/statestore"
	"github.com/hazyhaar/gradewatch/watchdog"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "check the portal once and print the result as JSON",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "topic", Usage: "notification topic", Sources: cli.EnvVars("WATCHDOG_TOPIC")},
			&cli.StringFlag{Name: "account", Sources: cli.EnvVars("WATCHDOG_ACCOUNT")},
			&cli.StringFlag{Name: "password", Usage: "empty relies on a saved session", Sources: cli.EnvVars("WATCHDOG_PASSWORD")},
			&cli.StringFlag{Name: "server", Usage: "relay base URL", Sources: cli.EnvVars("WATCHDOG_NTFY_SERVER_BASE_URL")},
			&cli.StringFlag{Name: "semester", Usage: "semester id, default the current one", Sources: cli.EnvVars("WATCHDOG_SEMESTER_ID")},
			&cli.StringFlag{Name: "state-topic", Usage: "default <topic>-state", Sources: cli.EnvVars("WATCHDOG_STATE_TOPIC")},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			runner, closeFn, err := buildRunner(cfg, log)
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := runner.Run(ctx, requestFromFlags(cmd, cfg.Relay.Server))
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
}

func requestFromFlags(cmd *cli.Command, defaultServer string) watchdog.Request {
	req := watchdog.Request{
		Topic:         cmd.String("topic"),
		Account:       cmd.String("account"),
		Password:      cmd.String("password"),
		ServerBaseURL: cmd.String("server"),
		SemesterID:    cmd.String("semester"),
		StateTopic:    cmd.String("state-topic"),
	}
	if req.ServerBaseURL == "" {
		req.ServerBaseURL = defaultServer
	}
	return req
}

// buildRunner wires the configured store and the portal scraper into a
// Runner. The returned function releases the store.
func buildRunner(cfg *config.Config, log *slog.Logger) (*watchdog.Runner, func() error, error) {
	var (
		repos   watchdog.Repositories
		closeFn = func() error { return nil }
	)
	switch cfg.Store.Kind {
	case config.StoreSQLite:
		store, err := statestore.Open(cfg.Store.Path, statestore.WithKeep(cfg.Store.Keep))
		if err != nil {
			return nil, nil, err
		}
		repos = watchdog.Static(store)
		closeFn = store.Close
	case config.StoreRelay:
		hc := &http.Client{Timeout: cfg.Relay.Timeout}
		repos = watchdog.RelayRepositories(relay.WithHTTPClient(hc), relay.WithLogger(log))
	default:
		return nil, nil, fmt.Errorf("store: unknown kind %q", cfg.Store.Kind)
	}

	opts := []watchdog.Option{
		watchdog.WithLogger(log),
		watchdog.WithKeepProfiles(cfg.Watch.KeepProfiles),
		watchdog.WithLocation(cfg.Watch.Location()),
	}
	if cfg.Watch.TempRoot != "" {
		opts = append(opts, watchdog.WithTempRoot(cfg.Watch.TempRoot))
	}
	return watchdog.New(repos, watchdog.PortalScrapers(cfg.Portal), opts...), closeFn, nil
}
