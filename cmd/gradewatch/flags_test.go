package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/gradewatch/config"
	"github.com/hazyhaar/gradewatch/grades"
	"github.com/hazyhaar/gradewatch/portal"
)

type fakeFlags struct {
	strs  map[string]string
	bools map[string]bool
}

func (f fakeFlags) IsSet(name string) bool {
	_, s := f.strs[name]
	_, b := f.bools[name]
	return s || b
}

func (f fakeFlags) String(name string) string { return f.strs[name] }
func (f fakeFlags) Bool(name string) bool     { return f.bools[name] }

func TestApplyFlags(t *testing.T) {
	cfg := config.Default()
	f := fakeFlags{
		strs: map[string]string{
			"channel":         " MSEdge ",
			"headless-mode":   "XVFB",
			"debug-dir":       "/tmp/gw-debug",
			"accept-language": "zh-CN,zh;q=0.9",
			"sec-ch-ua":       `"Chromium";v="124"`,
			"antibot-wait-ms": "",
		},
		bools: map[string]bool{
			"headless":           true,
			"no-viewport":        true,
			"bypass-csp":         true,
			"keep-user-data-dir": true,
		},
	}
	applyFlags(f, 0, cfg)

	b := cfg.Portal.Browser
	if b.Channel != "msedge" {
		t.Errorf("channel: got %q", b.Channel)
	}
	if b.HeadlessMode != portal.HeadlessXvfb || !b.Headless {
		t.Errorf("headless: got %v %q", b.Headless, b.HeadlessMode)
	}
	if !b.NoViewport {
		t.Error("no-viewport not applied")
	}
	if !b.BypassCSP || b.StealthScripts {
		t.Errorf("bypass/stealth: got %v %v", b.BypassCSP, b.StealthScripts)
	}
	if b.DiagnosticsDir != "/tmp/gw-debug" {
		t.Errorf("diagnostics dir: got %q", b.DiagnosticsDir)
	}
	if b.ExtraHeaders["Accept-Language"] != "zh-CN,zh;q=0.9" || b.ExtraHeaders["Sec-CH-UA"] != `"Chromium";v="124"` {
		t.Errorf("headers: got %v", b.ExtraHeaders)
	}
	if _, ok := b.ExtraHeaders["Sec-CH-UA-Platform"]; ok {
		t.Error("unset header flag leaked into ExtraHeaders")
	}
	if cfg.Portal.AntiBotWait >= 0 {
		t.Errorf("antibot wait 0 should disable waiting, got %v", cfg.Portal.AntiBotWait)
	}
	if !cfg.Watch.KeepProfiles {
		t.Error("keep-user-data-dir not applied")
	}
}

func TestApplyFlags_UnsetKeepsConfig(t *testing.T) {
	cfg := config.Default()
	before := cfg.Portal
	applyFlags(fakeFlags{}, 0, cfg)
	if cfg.Portal.Browser.Channel != before.Browser.Channel || cfg.Portal.AntiBotWait != before.AntiBotWait ||
		cfg.Portal.Browser.NoViewport != before.Browser.NoViewport {
		t.Errorf("unset flags changed the config: %+v", cfg.Portal)
	}
}

func TestApplyFlags_AntiBotWait(t *testing.T) {
	cfg := config.Default()
	applyFlags(fakeFlags{strs: map[string]string{"antibot-wait-ms": ""}}, 90*time.Second, cfg)
	if cfg.Portal.AntiBotWait != 90*time.Second {
		t.Errorf("got %v, want 90s", cfg.Portal.AntiBotWait)
	}
}

func TestProfileDir(t *testing.T) {
	cfg := config.Default()
	cfg.Watch.DataDir = "/var/lib/gradewatch"

	got, err := profileDir(cfg, "../2022 001", "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(got, filepath.Clean("/var/lib/gradewatch/profiles")+string(filepath.Separator)) ||
		filepath.Base(got) != "user-data" || strings.Contains(got, "..") {
		t.Errorf("profile dir: got %q", got)
	}

	if _, err := profileDir(cfg, "  ", ""); err == nil {
		t.Error("blank account: want error")
	}
	if got, _ := profileDir(cfg, "", "/custom"); got != "/custom" {
		t.Errorf("override: got %q", got)
	}
}

func TestRenderSnapshot(t *testing.T) {
	snap := &grades.Snapshot{
		SemesterID: "463",
		FetchedAt:  time.Date(2025, 1, 20, 9, 30, 0, 0, time.UTC),
		FinalGrades: []grades.FinalGrade{{
			CourseCode: "MATH1001", CourseID: "01", CourseName: "高等数学", OverallScore: "85", FinalScore: "85",
		}},
		UsualGrades: []grades.UsualGrade{{
			CourseCode: "PHY1001", CourseID: "02", CourseName: "大学物理", UsualScore: "92",
		}},
	}
	var buf bytes.Buffer
	renderSnapshot(&buf, snap)
	out := buf.String()
	for _, want := range []string{"2025-01-20 09:30:00", "MATH1001", "高等数学", "大学物理", "92"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
