package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/urfave/cli/v3"

	"github.com/hazyhaar/gradewatch/portal"
	"github.com/hazyhaar/gradewatch/relay"
	"github.com/hazyhaar/gradewatch/watchdog"
)

func mcpCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "serve the gradewatch tools over MCP stdio",
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

			srv := mcp.NewServer(&mcp.Implementation{Name: "gradewatch", Version: version}, nil)
			runner.RegisterMCP(srv)
			log.Info("gradewatch: mcp on stdio")
			return srv.Run(ctx, &mcp.StdioTransport{})
		},
	}
}

func fingerprintCommand() *cli.Command {
	return &cli.Command{
		Name:  "fingerprint",
		Usage: "print what a page can see of the automated browser",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, _, err := setup(cmd)
			if err != nil {
				return err
			}
			dir, err := os.MkdirTemp("", "gradewatch-fingerprint-")
			if err != nil {
				return err
			}
			defer os.RemoveAll(dir)

			opts := cfg.Portal
			opts.Browser.UserDataDir = dir
			client := portal.New(opts)
			defer client.Close()

			fp, err := client.Fingerprint(ctx)
			if err != nil {
				return err
			}
			fmt.Println(fp)
			return nil
		},
	}
}

func topicCommand() *cli.Command {
	return &cli.Command{
		Name:  "topic",
		Usage: "generate an unguessable notification topic",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "prefix", Value: relay.DefaultTopicPrefix},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			fmt.Println(relay.GenerateTopic(cmd.String("prefix")))
			return nil
		},
	}
}

func semesterCommand() *cli.Command {
	return &cli.Command{
		Name:      "semester",
		Usage:     "describe a semester id, or the current semester",
		ArgsUsage: "[id]",
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg, _, err := setup(cmd)
			if err != nil {
				return err
			}
			info := watchdog.DescribeSemester(cmd.Args().First(), time.Now().In(cfg.Watch.Location()))
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			enc.SetEscapeHTML(false)
			return enc.Encode(info)
		},
	}
}
