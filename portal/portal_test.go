package portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hazyhaar/gradewatch/grades"
)

// fakeDoc is what the fake browser shows for one page load.
type fakeDoc struct {
	url       string
	status    int
	html      string
	loginForm bool
	captcha   bool
	controls  loginControls
	table     tableResult
	gridtable tableResult
	selectEl  string

	// After nextAfter probes the page turns into next (a challenge that
	// clears, a redirect that lands).
	next      *fakeDoc
	nextAfter int
}

type fakePage struct {
	t       *testing.T
	cur     fakeDoc
	probes  int
	route   func(url string) fakeDoc
	onClick func(f *fakePage, selector string)

	values  map[string]string
	cookies map[string]string
	cleared []string
	navs    []string

	// events records loads, settles and observations in call order.
	events []string
	// unreadable makes the next n page observations fail to evaluate.
	unreadable int
	onMark     func()
}

func newFakePage(t *testing.T, route func(string) fakeDoc) *fakePage {
	return &fakePage{
		t:       t,
		route:   route,
		values:  map[string]string{},
		cookies: map[string]string{},
	}
}

func (f *fakePage) load(d fakeDoc) int {
	f.cur = d
	f.probes = 0
	return d.status
}

func (f *fakePage) Navigate(_ context.Context, url string) (int, error) {
	f.navs = append(f.navs, url)
	f.events = append(f.events, "load")
	d := f.route(url)
	if d.url == "" {
		d.url = url
	}
	return f.load(d), nil
}

func (f *fakePage) Reload(ctx context.Context) (int, error) {
	return f.Navigate(ctx, f.cur.url)
}

func (f *fakePage) WaitIdle(context.Context) error {
	f.events = append(f.events, "settle")
	return nil
}

func (f *fakePage) LastStatus() int { return f.cur.status }
func (f *fakePage) URL() string     { return f.cur.url }

func (f *fakePage) Eval(_ context.Context, js string, out any, args ...any) error {
	var v any
	switch js {
	case probeScript:
		f.events = append(f.events, "observe")
		if f.unreadable > 0 {
			f.unreadable--
			return errors.New("fake: execution context was destroyed")
		}
		f.probes++
		if f.cur.next != nil && f.probes > f.cur.nextAfter {
			f.load(*f.cur.next)
		}
		v = probeResult{URL: f.cur.url, LoginFormVisible: f.cur.loginForm, CaptchaVisible: f.cur.captcha, HTML: f.cur.html}
	case tableScript:
		selector, phrase := args[0].(string), args[1].(string)
		switch {
		case selector == "table.gridtable":
			v = f.cur.gridtable
		case phrase != "":
			v = f.cur.table
		default:
			first := f.cur.table.First
			v = tableResult{Found: first != "", HTML: first, First: first}
		}
	case markLegacyScript, markIdasScript:
		if f.onMark != nil {
			f.onMark()
		}
		v = f.cur.controls
	case idasTabScript:
		v = true
	case continueScript:
		f.navs = append(f.navs, "continue")
		v = true
	case selectScript:
		v = f.cur.selectEl
	default:
		return fmt.Errorf("fake: unexpected script %.40q", js)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (f *fakePage) WaitVisible(ctx context.Context, _ string, _ time.Duration) error {
	return ctx.Err()
}

func (f *fakePage) Click(_ context.Context, selector string) error {
	if f.onClick != nil {
		f.onClick(f, selector)
	}
	return nil
}

func (f *fakePage) TypeInto(_ context.Context, selector, text string, _ time.Duration) error {
	f.values[selector] = text
	return nil
}

func (f *fakePage) InputValue(_ context.Context, selector string) (string, error) {
	return f.values[selector], nil
}

func (f *fakePage) SetInputValue(_ context.Context, selector, value string, _ ...string) error {
	f.values[selector] = value
	return nil
}

func (f *fakePage) SetCookie(_ context.Context, name, value, _ string) error {
	f.cookies[name] = value
	return nil
}

func (f *fakePage) ClearCookies(_ context.Context, names ...string) error {
	f.cleared = append(f.cleared, names...)
	return nil
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.t = c.t.Add(d)
	return nil
}

func newTestClient(page Page, clock *fakeClock) *Client {
	opts := DefaultOptions()
	opts.Browser.Headless = true
	opts.Logger = slog.New(slog.DiscardHandler)
	return New(opts, WithPage(page), WithClock(clock.now, clock.sleep))
}

const (
	finalURL = DefaultBaseURL + "teach/grade/course/person!search.action?semesterId=443&projectType="
	usualURL = DefaultBaseURL + "teach/grade/usual/usual-grade-std.action"
	homeURL  = DefaultBaseURL + "home.action"
	idasURL  = "https://idas.uestc.edu.cn/authserver/login?service=https%3A%2F%2Feams.uestc.edu.cn%2Feams%2F"
)

const finalTableHTML = `<table><thead><tr><th>课程名称</th></tr></thead><tbody>
<tr><td>2024-2025 1</td><td>MATH101</td><td>01</td><td>高等数学</td><td>必修</td><td>5</td><td>88</td><td>90</td><td></td><td>90</td><td>4.0</td></tr>
<tr><td>2024-2025 1</td><td>BROKEN</td><td>02</td><td>短行</td><td>必修</td><td>4</td><td>80</td><td>81</td><td></td></tr>
</tbody></table>`

const usualTableHTML = `<table class="gridtable"><tbody>
<tr><td>2024-2025 1</td><td>MATH101</td><td>01</td><td>高等数学</td><td>必修</td><td>5</td><td>92</td><td>extra</td></tr>
</tbody></table>`

const plainPage = `<html><head><title>教务</title></head><body><div>ok</div></body></html>`

func gradePages(url string) fakeDoc {
	switch {
	case strings.HasPrefix(url, DefaultBaseURL+"teach/grade/course/"):
		return fakeDoc{status: 200, html: plainPage, table: tableResult{Found: true, HTML: finalTableHTML, First: finalTableHTML}}
	case url == usualURL:
		return fakeDoc{status: 200, html: plainPage, gridtable: tableResult{Found: true, HTML: usualTableHTML}}
	}
	return fakeDoc{status: 200, html: plainPage}
}

var wantFinal = []grades.FinalGrade{{
	Semester: "2024-2025 1", CourseCode: "MATH101", CourseID: "01", CourseName: "高等数学", CourseType: "必修",
	Credit: "5", FinalExamScore: "88", OverallScore: "90", MakeupScore: "", FinalScore: "90", GPA: "4.0",
}}

var wantUsual = []grades.UsualGrade{{
	Semester: "2024-2025 1", CourseCode: "MATH101", CourseID: "01", CourseName: "高等数学", CourseType: "必修",
	Credit: "5", UsualScore: "92",
}}

var creds = Credentials{Account: "2022010901001", Password: "s3cret!"}

func TestSnapshot_AuthenticatedSession(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 10, 15, 9, 0, 0, 0, time.UTC)}
	page := newFakePage(t, gradePages)
	c := newTestClient(page, clock)

	snap, err := c.Snapshot(context.Background(), creds, "")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.SemesterID != "443" {
		t.Errorf("semester: got %q, want %q", snap.SemesterID, "443")
	}
	if diff := cmp.Diff(wantFinal, snap.FinalGrades); diff != "" {
		t.Errorf("final mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantUsual, snap.UsualGrades); diff != "" {
		t.Errorf("usual mismatch (-want +got):\n%s", diff)
	}
	if page.cookies["semester.id"] != "443" {
		t.Errorf("semester cookie: got %q, want %q", page.cookies["semester.id"], "443")
	}
	if !snap.FetchedAt.Equal(clock.t) {
		t.Errorf("fetchedAt: got %v, want %v", snap.FetchedAt, clock.t)
	}
}

func TestSnapshot_AntiBotTimeout(t *testing.T) {
	// WHAT: an interstitial that never clears fails the run.
	// WHY: a challenge page must not be scraped as an empty grade list.
	clock := &fakeClock{t: time.Date(2024, 10, 15, 9, 0, 0, 0, time.UTC)}
	start := clock.t
	page := newFakePage(t, func(string) fakeDoc {
		return fakeDoc{status: 202, html: `<html><head><meta r="m"></head><body></body></html>`}
	})
	c := newTestClient(page, clock)

	snap, err := c.Snapshot(context.Background(), creds, "443")
	if snap != nil {
		t.Errorf("snapshot: got %+v, want nil", snap)
	}
	if !errors.Is(err, ErrAntiBotBlocked) {
		t.Fatalf("err: got %v, want ErrAntiBotBlocked", err)
	}
	if waited := clock.t.Sub(start); waited < 60*time.Second {
		t.Errorf("waited %s, want at least the anti-bot wait", waited)
	}
}

func TestSnapshot_ChallengeClears(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 10, 15, 9, 0, 0, 0, time.UTC)}
	page := newFakePage(t, func(url string) fakeDoc {
		real := gradePages(url)
		real.url = url
		return fakeDoc{status: 202, html: `<html><body></body></html>`, next: &real, nextAfter: 3}
	})
	c := newTestClient(page, clock)

	snap, err := c.Snapshot(context.Background(), creds, "443")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.FinalGrades) != 1 || len(snap.UsualGrades) != 1 {
		t.Errorf("got %d final, %d usual; want 1, 1", len(snap.FinalGrades), len(snap.UsualGrades))
	}
}

func TestSnapshot_BadRequestRecovery(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 10, 15, 9, 0, 0, 0, time.UTC)}
	var page *fakePage
	page = newFakePage(t, func(url string) fakeDoc {
		if len(page.cleared) == 0 {
			return fakeDoc{status: 400, html: `<html><body></body></html>`}
		}
		return gradePages(url)
	})
	c := newTestClient(page, clock)

	if _, err := c.Snapshot(context.Background(), creds, "443"); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if diff := cmp.Diff(antiBotCookies, page.cleared); diff != "" {
		t.Errorf("cleared cookies mismatch (-want +got):\n%s", diff)
	}
}

func TestSnapshot_LegacyLogin(t *testing.T) {
	// WHAT: an expired session goes through the legacy form and lands on the grades.
	// WHY: the portal shows its own form when IDAS is bypassed.
	clock := &fakeClock{t: time.Date(2024, 10, 15, 9, 0, 0, 0, time.UTC)}
	loggedIn := false
	page := newFakePage(t, func(url string) fakeDoc {
		if !loggedIn {
			return fakeDoc{
				status:    200,
				html:      `<html><body><form><input name="username"><input type="password"></form></body></html>`,
				loginForm: true,
				controls:  loginControls{Form: true, User: true, Password: true, Submit: true},
			}
		}
		return gradePages(url)
	})
	page.onClick = func(f *fakePage, selector string) {
		if selector == markSubmit {
			loggedIn = true
			f.load(fakeDoc{url: homeURL, status: 200, html: plainPage})
		}
	}
	c := newTestClient(page, clock)

	snap, err := c.Snapshot(context.Background(), creds, "443")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if diff := cmp.Diff(wantFinal, snap.FinalGrades); diff != "" {
		t.Errorf("final mismatch (-want +got):\n%s", diff)
	}
	if page.values[markUser] != creds.Account {
		t.Errorf("typed account: got %q, want %q", page.values[markUser], creds.Account)
	}
	if page.values[markPassword] != creds.Password {
		t.Errorf("typed password: got %q, want %q", page.values[markPassword], creds.Password)
	}
	// Login page, reload after submit, then the target again.
	wantNavs := []string{finalURL, homeURL, finalURL, usualURL}
	if diff := cmp.Diff(wantNavs, page.navs); diff != "" {
		t.Errorf("navigations mismatch (-want +got):\n%s", diff)
	}
}

func TestSnapshot_IdasCaptcha(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 10, 15, 9, 0, 0, 0, time.UTC)}
	idas := fakeDoc{
		url:       idasURL,
		status:    200,
		html:      `<html><body><form id="pwdFromId"></form></body></html>`,
		loginForm: true,
		controls:  loginControls{Form: true, User: true, Password: true, Submit: true, Remember: true},
	}
	page := newFakePage(t, func(string) fakeDoc { return idas })
	var clicked []string
	page.onClick = func(f *fakePage, selector string) {
		clicked = append(clicked, selector)
		if selector == markSubmit {
			withCaptcha := idas
			withCaptcha.captcha = true
			f.load(withCaptcha)
		}
	}
	c := newTestClient(page, clock)

	_, err := c.Snapshot(context.Background(), creds, "443")
	if !errors.Is(err, ErrCaptchaRequired) {
		t.Fatalf("err: got %v, want ErrCaptchaRequired", err)
	}
	if diff := cmp.Diff([]string{markRemember, markSubmit}, clicked); diff != "" {
		t.Errorf("clicks mismatch (-want +got):\n%s", diff)
	}
}

func TestSnapshot_NoPasswordHeadless(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 10, 15, 9, 0, 0, 0, time.UTC)}
	page := newFakePage(t, func(string) fakeDoc {
		return fakeDoc{url: idasURL, status: 200, html: `<html><body><form id="pwdFromId"></form></body></html>`}
	})
	c := newTestClient(page, clock)

	_, err := c.Snapshot(context.Background(), Credentials{Account: creds.Account}, "443")
	if !errors.Is(err, ErrSessionExpiredNoPassword) {
		t.Fatalf("err: got %v, want ErrSessionExpiredNoPassword", err)
	}
	var perr *Error
	if !errors.As(err, &perr) || perr.Op != "authenticate" || perr.URL != finalURL {
		t.Errorf("error detail: got %#v", perr)
	}
}

func TestSnapshot_DuplicateLogin(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 10, 15, 9, 0, 0, 0, time.UTC)}
	warned := false
	page := newFakePage(t, func(url string) fakeDoc {
		if !warned {
			warned = true
			return fakeDoc{status: 200, html: `<html><body>当前用户存在重复登录的情况，<a href="#">点击此处</a></body></html>`}
		}
		return gradePages(url)
	})
	c := newTestClient(page, clock)

	if _, err := c.Snapshot(context.Background(), creds, "443"); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	wantNavs := []string{finalURL, "continue", finalURL, usualURL}
	if diff := cmp.Diff(wantNavs, page.navs); diff != "" {
		t.Errorf("navigations mismatch (-want +got):\n%s", diff)
	}
}

func TestNavigateAuthenticated_SettlesBeforeObserving(t *testing.T) {
	// WHAT: every navigation and reload waits for the network to go quiet
	// before the page is inspected.
	// WHY: the portal renders its challenge and login pages from XHR after
	// the load event; inspecting right after load sees a blank document.
	clock := &fakeClock{t: time.Date(2024, 10, 15, 9, 0, 0, 0, time.UTC)}
	var page *fakePage
	page = newFakePage(t, func(url string) fakeDoc {
		if len(page.cleared) == 0 {
			return fakeDoc{status: 400, html: `<html><body></body></html>`}
		}
		return gradePages(url)
	})
	c := newTestClient(page, clock)

	if err := c.navigateAuthenticated(context.Background(), page, creds, finalURL); err != nil {
		t.Fatalf("navigateAuthenticated: %v", err)
	}
	want := []string{"load", "settle", "observe", "load", "settle", "observe"}
	if diff := cmp.Diff(want, page.events); diff != "" {
		t.Errorf("call order mismatch (-want +got):\n%s", diff)
	}
}

func TestNavigateAuthenticated_UnreadablePage(t *testing.T) {
	// WHAT: with the interstitial wait disabled, a page that fails to
	// evaluate is retried and never accepted as authenticated.
	clock := &fakeClock{t: time.Date(2024, 10, 15, 9, 0, 0, 0, time.UTC)}
	page := newFakePage(t, gradePages)
	c := newTestClient(page, clock)
	c.opts.AntiBotWait = -1

	page.unreadable = 3
	if err := c.navigateAuthenticated(context.Background(), page, creds, finalURL); err != nil {
		t.Fatalf("transient failure: %v", err)
	}
	if page.unreadable != 0 {
		t.Errorf("observations left unused: %d", page.unreadable)
	}

	start := clock.t
	page.unreadable = 1 << 20
	err := c.navigateAuthenticated(context.Background(), page, creds, finalURL)
	if !errors.Is(err, ErrPageUnreadable) {
		t.Fatalf("err: got %v, want ErrPageUnreadable", err)
	}
	if waited := clock.t.Sub(start); waited < c.opts.Browser.DefaultTimeout {
		t.Errorf("gave up after %s, want at least %s", waited, c.opts.Browser.DefaultTimeout)
	}
}

func TestNavigateAuthenticated_CancelledDuringLogin(t *testing.T) {
	// WHAT: a shutdown during the login comes back as the context error,
	// not as a failed login.
	// WHY: the watch loop must tell an interrupt apart from bad credentials.
	clock := &fakeClock{t: time.Date(2024, 10, 15, 9, 0, 0, 0, time.UTC)}
	page := newFakePage(t, func(string) fakeDoc {
		return fakeDoc{
			status:    200,
			html:      `<html><body><form><input name="username"><input type="password"></form></body></html>`,
			loginForm: true,
			controls:  loginControls{Form: true, User: true, Password: true, Submit: true},
		}
	})
	c := newTestClient(page, clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	page.onMark = cancel

	err := c.navigateAuthenticated(ctx, page, creds, finalURL)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err: got %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrLoginDidNotComplete) {
		t.Errorf("cancellation reported as a failed login: %v", err)
	}
}

func TestFinalGrades_FirstTableFallback(t *testing.T) {
	// WHAT: without a course-name table, the first table on the page is used.
	// WHY: kept from the old scraper; brittle if the portal adds a layout table first.
	clock := &fakeClock{t: time.Date(2024, 10, 15, 9, 0, 0, 0, time.UTC)}
	page := newFakePage(t, func(string) fakeDoc {
		return fakeDoc{status: 200, html: plainPage, table: tableResult{Found: false, First: finalTableHTML}}
	})
	c := newTestClient(page, clock)

	got, err := c.FinalGrades(context.Background(), creds, "443")
	if err != nil {
		t.Fatalf("FinalGrades: %v", err)
	}
	if diff := cmp.Diff(wantFinal, got); diff != "" {
		t.Errorf("final mismatch (-want +got):\n%s", diff)
	}
}

func TestFinalGrades_FallbackRefusesChallenge(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 10, 15, 9, 0, 0, 0, time.UTC)}
	calls := 0
	page := newFakePage(t, func(string) fakeDoc {
		calls++
		return fakeDoc{status: 200, html: plainPage, table: tableResult{First: "<table></table>"}}
	})
	c := newTestClient(page, clock)

	// Authenticate normally, then swap in an interstitial for the table lookup.
	ctx := context.Background()
	if err := c.navigateAuthenticated(ctx, page, creds, finalURL); err != nil {
		t.Fatal(err)
	}
	page.cur.html = `<html><head><script r="m"></script></head><body></body></html>`
	_, err := c.resolveFinalTable(ctx, page, finalURL)
	if !errors.Is(err, ErrTableNotFound) || !errors.Is(err, ErrAntiBotBlocked) {
		t.Fatalf("err: got %v, want ErrTableNotFound and ErrAntiBotBlocked", err)
	}
	if calls != 1 {
		t.Errorf("navigations: got %d, want 1", calls)
	}
}

func TestUsualGrades_TableMissing(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 10, 15, 9, 0, 0, 0, time.UTC)}
	page := newFakePage(t, func(string) fakeDoc { return fakeDoc{status: 200, html: plainPage} })
	c := newTestClient(page, clock)

	_, err := c.UsualGrades(context.Background(), creds, "443")
	if !errors.Is(err, ErrTableNotFound) {
		t.Fatalf("err: got %v, want ErrTableNotFound", err)
	}
}

func TestSemesterOptions(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 10, 15, 9, 0, 0, 0, time.UTC)}
	page := newFakePage(t, func(string) fakeDoc {
		return fakeDoc{status: 200, html: plainPage, selectEl: `<select name="semester.id"><option value="">全部</option><option value="443">2024-2025 第一学期</option><option value="463">2024-2025 第二学期</option></select>`}
	})
	c := newTestClient(page, clock)

	got, err := c.SemesterOptions(context.Background(), creds)
	if err != nil {
		t.Fatalf("SemesterOptions: %v", err)
	}
	want := []grades.SemesterOption{
		{ID: "443", Name: "2024-2025 第一学期"},
		{ID: "463", Name: "2024-2025 第二学期"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("options mismatch (-want +got):\n%s", diff)
	}
	if page.navs[0] != DefaultBaseURL+"publicSearch.action" {
		t.Errorf("url: got %q", page.navs[0])
	}
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Kind: ErrCaptchaRequired, Op: "authenticate", URL: finalURL}
	want := "portal: authenticate " + finalURL + ": portal: login requires a captcha"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{BaseURL: "https://example.test/eams"}
	o.defaults()
	if o.BaseURL != "https://example.test/eams/" {
		t.Errorf("base url: got %q", o.BaseURL)
	}
	if o.AntiBotWait != 60*time.Second || o.ManualLoginTimeout != 180*time.Second {
		t.Errorf("waits: got %s / %s", o.AntiBotWait, o.ManualLoginTimeout)
	}
	if o.PollInterval != 500*time.Millisecond || o.TableWait != 5*time.Second {
		t.Errorf("polling: got %s / %s", o.PollInterval, o.TableWait)
	}
}
