package portal

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/hazyhaar/gradewatch/grades"
	"github.com/hazyhaar/gradewatch/portal/internal/markup"
	"github.com/hazyhaar/gradewatch/semester"
)

// finalTablePhrase identifies the final-grade table among the page's tables.
const finalTablePhrase = "课程名称"

// FinalGradesURL is the final-grade page for semesterID.
func (c *Client) FinalGradesURL(semesterID string) string {
	return c.opts.BaseURL + "teach/grade/course/person!search.action?semesterId=" + url.QueryEscape(semesterID) + "&projectType="
}

// UsualGradesURL is the usual-grade page; the semester travels in a cookie.
func (c *Client) UsualGradesURL() string {
	return c.opts.BaseURL + "teach/grade/usual/usual-grade-std.action"
}

// Snapshot fetches final and usual grades for semesterID, defaulting to the
// current semester.
func (c *Client) Snapshot(ctx context.Context, creds Credentials, semesterID string) (*grades.Snapshot, error) {
	defer c.FlushDiagnostics()

	if semesterID == "" {
		semesterID = semester.CurrentID(c.now())
	}
	final, err := c.FinalGrades(ctx, creds, semesterID)
	if err != nil {
		return nil, err
	}
	usual, err := c.UsualGrades(ctx, creds, semesterID)
	if err != nil {
		return nil, err
	}
	c.log.Info("portal: snapshot", "semester", semesterID, "final", len(final), "usual", len(usual))
	return &grades.Snapshot{
		SemesterID:  semesterID,
		FetchedAt:   c.now(),
		FinalGrades: final,
		UsualGrades: usual,
	}, nil
}

// FinalGrades reads the final-grade table. Rows with fewer than eleven
// cells are skipped.
func (c *Client) FinalGrades(ctx context.Context, creds Credentials, semesterID string) ([]grades.FinalGrade, error) {
	page, err := c.ensurePage(ctx)
	if err != nil {
		return nil, err
	}
	target := c.FinalGradesURL(semesterID)
	if err := c.navigateAuthenticated(ctx, page, creds, target); err != nil {
		return nil, err
	}

	table, err := c.resolveFinalTable(ctx, page, target)
	if err != nil {
		return nil, err
	}
	rows, err := markup.Rows(table, grades.FinalGradeColumns, 0)
	if err != nil {
		return nil, &Error{Kind: ErrTableNotFound, Op: "final grades", URL: target, Err: err}
	}
	out := make([]grades.FinalGrade, 0, len(rows))
	for _, row := range rows {
		if g, ok := grades.FinalGradeFromRow(row); ok {
			out = append(out, g)
		}
	}
	return out, nil
}

// UsualGrades reads the usual-grade table, keeping the first seven cells of
// each row.
func (c *Client) UsualGrades(ctx context.Context, creds Credentials, semesterID string) ([]grades.UsualGrade, error) {
	page, err := c.ensurePage(ctx)
	if err != nil {
		return nil, err
	}
	if err := page.SetCookie(ctx, "semester.id", semesterID, c.opts.BaseURL); err != nil {
		return nil, &Error{Op: "usual grades", URL: c.opts.BaseURL, Err: fmt.Errorf("semester cookie: %w", err)}
	}
	target := c.UsualGradesURL()
	if err := c.navigateAuthenticated(ctx, page, creds, target); err != nil {
		return nil, err
	}

	r, ok, err := c.waitTable(ctx, page, "table.gridtable", "", c.opts.Browser.DefaultTimeout)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &Error{Kind: ErrTableNotFound, Op: "usual grades", URL: target}
	}
	rows, err := markup.Rows(r.HTML, grades.UsualGradeColumns, grades.UsualGradeColumns)
	if err != nil {
		return nil, &Error{Kind: ErrTableNotFound, Op: "usual grades", URL: target, Err: err}
	}
	out := make([]grades.UsualGrade, 0, len(rows))
	for _, row := range rows {
		if g, ok := grades.UsualGradeFromRow(row); ok {
			out = append(out, g)
		}
	}
	return out, nil
}

// SemesterOptions lists the portal's semester selector, without entries
// that have no id.
func (c *Client) SemesterOptions(ctx context.Context, creds Credentials) ([]grades.SemesterOption, error) {
	page, err := c.ensurePage(ctx)
	if err != nil {
		return nil, err
	}
	target := c.opts.BaseURL + "publicSearch.action"
	if err := c.navigateAuthenticated(ctx, page, creds, target); err != nil {
		return nil, err
	}

	const selector = "select[name='semester.id']"
	var html string
	deadline := c.now().Add(c.opts.Browser.DefaultTimeout)
	for {
		err := page.Eval(ctx, selectScript, &html, selector)
		if err == nil && html != "" {
			break
		}
		if !c.now().Before(deadline) {
			return nil, &Error{Op: "semester options", URL: target, Err: errors.New("semester selector not found")}
		}
		if err := c.sleep(ctx, c.opts.PollInterval); err != nil {
			return nil, err
		}
	}

	opts, err := markup.SelectOptions(html, "select")
	if err != nil {
		return nil, &Error{Op: "semester options", URL: target, Err: err}
	}
	out := make([]grades.SemesterOption, 0, len(opts))
	for _, o := range opts {
		out = append(out, grades.SemesterOption{ID: o.Value, Name: o.Text})
	}
	return out, nil
}

// resolveFinalTable waits briefly for the table holding the course-name
// column. Failing that it falls back to the page's first table, unless the
// page is still an anti-bot interstitial or blank.
func (c *Client) resolveFinalTable(ctx context.Context, page Page, target string) (string, error) {
	r, ok, err := c.waitTable(ctx, page, "table", finalTablePhrase, c.opts.TableWait)
	if err != nil {
		return "", err
	}
	if ok {
		return r.HTML, nil
	}

	var pr probeResult
	if err := page.Eval(ctx, probeScript, &pr); err != nil {
		return "", &Error{Kind: ErrTableNotFound, Op: "final grades", URL: target, Err: err}
	}
	f := markup.Inspect(pr.HTML)
	switch {
	case f.AntiBotMarker:
		return "", &Error{Kind: ErrTableNotFound, Op: "final grades", URL: target, Err: ErrAntiBotBlocked}
	case f.BlankDocument:
		return "", &Error{Kind: ErrTableNotFound, Op: "final grades", URL: target, Err: fmt.Errorf("blank document: %w", ErrAntiBotBlocked)}
	}

	if r.First == "" {
		r, ok, err = c.waitTable(ctx, page, "table", "", c.opts.Browser.DefaultTimeout)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", &Error{Kind: ErrTableNotFound, Op: "final grades", URL: target}
		}
		r.First = r.HTML
	}
	c.log.Warn("portal: course-name table missing, using first table", "url", target)
	return r.First, nil
}

// waitTable polls tableScript until a table is found or timeout passes.
func (c *Client) waitTable(ctx context.Context, page Page, selector, phrase string, timeout time.Duration) (tableResult, bool, error) {
	deadline := c.now().Add(timeout)
	for {
		var r tableResult
		err := page.Eval(ctx, tableScript, &r, selector, phrase)
		if err == nil && r.Found {
			return r, true, nil
		}
		if !c.now().Before(deadline) {
			return r, false, nil
		}
		if err := c.sleep(ctx, c.opts.PollInterval); err != nil {
			return r, false, err
		}
	}
}
