package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v3"

	"github.com/hazyhaar/gradewatch/config"
	"github.com/hazyhaar/gradewatch/relay"
	"github.com/hazyhaar/gradewatch/statestore"
	"github.com/hazyhaar/gradewatch/watchdog"
)

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "list the messages kept in the local SQLite store for a topic",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "topic", Usage: "notification topic", Sources: cli.EnvVars("WATCHDOG_TOPIC")},
			&cli.BoolFlag{Name: "state", Usage: "show the state topic (<topic>-state) instead"},
			&cli.StringFlag{Name: "state-topic", Sources: cli.EnvVars("WATCHDOG_STATE_TOPIC")},
			&cli.IntFlag{Name: "limit", Usage: "0 lists everything retained"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, _, err := setup(cmd)
			if err != nil {
				return err
			}
			if cfg.Store.Kind != config.StoreSQLite {
				return errors.New("history: needs store.kind sqlite, the relay keeps no history we can list")
			}
			req := watchdog.Request{Topic: cmd.String("topic"), StateTopic: cmd.String("state-topic")}.Normalize()
			topic := req.Topic
			if cmd.Bool("state") {
				topic = req.StateTopic
			}
			if topic == "" {
				return errors.New("history: --topic is required")
			}

			store, err := statestore.Open(cfg.Store.Path, statestore.WithKeep(cfg.Store.Keep))
			if err != nil {
				return err
			}
			defer store.Close()

			msgs, err := store.History(ctx, topic, int(cmd.Int("limit")))
			if err != nil {
				return err
			}
			if len(msgs) == 0 {
				fmt.Fprintf(os.Stderr, "no messages on %s\n", topic)
				return nil
			}
			renderHistory(os.Stdout, msgs)
			return nil
		},
	}
}

func renderHistory(w io.Writer, msgs []*relay.Message) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Time", "ID", "Title", "Message"})
	for _, m := range msgs {
		t.AppendRow(table.Row{
			m.Time.Format("2006-01-02 15:04:05"),
			m.ID,
			m.Title,
			strings.ReplaceAll(m.Message, "\n", " / "),
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{{Name: "Message", WidthMax: 72}})
	t.SetStyle(table.StyleRounded)
	t.Render()
}
