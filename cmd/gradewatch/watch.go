package main

import (
	"context"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/hazyhaar/gradewatch/watch"
	"github.com/hazyhaar/gradewatch/watchdog"
)

func watchCommand() *cli.Command {
	cmd := runCommand()
	cmd.Name = "watch"
	cmd.Usage = "check the portal on a schedule until interrupted"
	cmd.Flags = append(cmd.Flags,
		&cli.DurationFlag{Name: "interval", Usage: "time between checks (overrides watch.interval)", Sources: cli.EnvVars("WATCH_INTERVAL")},
	)
	cmd.Action = func(ctx context.Context, cmd *cli.Command) error {
		cfg, log, err := setup(cmd)
		if err != nil {
			return err
		}
		if cmd.IsSet("interval") {
			cfg.Watch.Interval = cmd.Duration("interval")
		}
		runner, closeFn, err := buildRunner(cfg, log)
		if err != nil {
			return err
		}
		defer closeFn()

		req := requestFromFlags(cmd, cfg.Relay.Server)
		if err := req.Normalize().Validate(); err != nil {
			return err
		}
		s := watch.New(watch.Options{
			Interval: cfg.Watch.Interval,
			Retry:    cfg.Watch.Retry,
			Timeout:  cfg.HTTP.RunTimeout,
			Logger:   log,
		})
		s.Run(ctx, func(ctx context.Context) error {
			res, err := runner.Run(ctx, req)
			if err != nil {
				return err
			}
			logResult(log, res)
			return nil
		})
		return nil
	}
	return cmd
}

func logResult(log *slog.Logger, res *watchdog.Result) {
	log.Info("watch: checked",
		"pushed", res.Pushed,
		"baseline", res.BaselineInitialized,
		"title", res.Title,
		"semester", res.SemesterID,
		"hash", res.CurrentHash,
	)
}
