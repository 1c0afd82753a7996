package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v3"

	"github.com/hazyhaar/gradewatch/config"
	"github.com/hazyhaar/gradewatch/grades"
	"github.com/hazyhaar/gradewatch/horosafe"
	"github.com/hazyhaar/gradewatch/portal"
	"github.com/hazyhaar/gradewatch/semester"
)

func accountFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "account", Sources: cli.EnvVars("WATCHDOG_ACCOUNT")},
		&cli.StringFlag{Name: "password", Usage: "empty relies on the saved session", Sources: cli.EnvVars("WATCHDOG_PASSWORD")},
		&cli.StringFlag{Name: "profile-dir", Usage: "browser profile, default <data_dir>/profiles/<account>/user-data"},
	}
}

// profileDir is the persistent profile of account under the data dir.
func profileDir(cfg *config.Config, account, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	dataDir := cfg.Watch.DataDir
	if dataDir == "" {
		dataDir = "data"
	}
	if strings.TrimSpace(account) == "" {
		return "", errors.New("account: required to locate the browser profile")
	}
	seg := horosafe.SanitizeSegment(account, "account")
	return horosafe.SafePath(dataDir, filepath.Join("profiles", seg, "user-data"))
}

// openClient opens a portal client on the account's persistent profile.
func openClient(cmd *cli.Command) (*portal.Client, *config.Config, *slog.Logger, string, error) {
	cfg, log, err := setup(cmd)
	if err != nil {
		return nil, nil, nil, "", err
	}
	dir, err := profileDir(cfg, cmd.String("account"), cmd.String("profile-dir"))
	if err != nil {
		return nil, nil, nil, "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, nil, nil, "", fmt.Errorf("profile dir: %w", err)
	}
	opts := cfg.Portal
	opts.Browser.UserDataDir = dir
	return portal.New(opts), cfg, log, dir, nil
}

func credentials(cmd *cli.Command) portal.Credentials {
	return portal.Credentials{Account: cmd.String("account"), Password: cmd.String("password")}
}

func fetchCommand() *cli.Command {
	return &cli.Command{
		Name:  "fetch",
		Usage: "scrape the grades with a persistent profile and print them",
		Flags: append(accountFlags(),
			&cli.StringFlag{Name: "semester", Usage: "semester id, default the current one", Sources: cli.EnvVars("WATCHDOG_SEMESTER_ID")},
			&cli.BoolFlag{Name: "json", Usage: "print the snapshot as JSON"},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			client, cfg, log, dir, err := openClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			snap, err := client.Snapshot(ctx, credentials(cmd), cmd.String("semester"))
			if err != nil {
				if dd := cfg.Portal.Browser.DiagnosticsDir; dd != "" {
					if dump, derr := client.DumpDiagnostics(ctx, dd); derr != nil {
						log.Warn("fetch: debug dump", "error", derr)
					} else if dump != nil {
						log.Info("fetch: debug dump written", "url", dump.URL, "html", dump.HTML, "screenshot", dump.Screenshot)
					}
				}
				return err
			}

			statePath := filepath.Join(filepath.Dir(dir), "storage-state.json")
			if err := client.SaveStorageState(ctx, statePath); err != nil {
				log.Warn("fetch: storage state", "path", statePath, "error", err)
			}

			if cmd.Bool("json") {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}
			renderSnapshot(os.Stdout, snap)
			return nil
		},
	}
}

func renderSnapshot(w io.Writer, snap *grades.Snapshot) {
	fmt.Fprintf(w, "%s  (%s)\n", semester.Label(snap.SemesterID), snap.FetchedAt.Format("2006-01-02 15:04:05"))

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("期末成绩")
	t.AppendHeader(table.Row{"课程代码", "课程序号", "课程名称", "学分", "总评", "期末", "补考", "最终", "绩点"})
	for _, g := range snap.FinalGrades {
		t.AppendRow(table.Row{g.CourseCode, g.CourseID, g.CourseName, g.Credit, g.OverallScore, g.FinalExamScore, g.MakeupScore, g.FinalScore, g.GPA})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()

	u := table.NewWriter()
	u.SetOutputMirror(w)
	u.SetTitle("平时成绩")
	u.AppendHeader(table.Row{"课程代码", "课程序号", "课程名称", "学分", "平时"})
	for _, g := range snap.UsualGrades {
		u.AppendRow(table.Row{g.CourseCode, g.CourseID, g.CourseName, g.Credit, g.UsualScore})
	}
	u.SetStyle(table.StyleRounded)
	u.Render()
}

func semestersCommand() *cli.Command {
	return &cli.Command{
		Name:  "semesters",
		Usage: "list the semesters offered by the portal",
		Flags: accountFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			client, _, _, _, err := openClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			opts, err := client.SemesterOptions(ctx, credentials(cmd))
			if err != nil {
				return err
			}
			renderSemesterOptions(os.Stdout, opts)
			return nil
		},
	}
}

func renderSemesterOptions(w io.Writer, opts []grades.SemesterOption) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"ID", "Name", "Label"})
	for _, o := range opts {
		label := semester.Label(o.ID)
		if o.IsAllSemesters() {
			label = "-"
		}
		t.AppendRow(table.Row{o.ID, o.Name, label})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}

func cookiesCommand() *cli.Command {
	return &cli.Command{
		Name:  "cookies",
		Usage: "list the cookies held by an account's browser profile",
		Flags: accountFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			client, _, _, _, err := openClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			cookies, err := client.Cookies(ctx)
			if err != nil {
				return err
			}
			renderCookies(os.Stdout, cookies)
			return nil
		},
	}
}

func renderCookies(w io.Writer, cookies []portal.Cookie) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Name", "Domain", "Path"})
	for _, c := range cookies {
		t.AppendRow(table.Row{c.Name, c.Domain, c.Path})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}
