// Package portal scrapes the grades portal: it authenticates through
// whatever the portal puts in the way and reads the final-grade table, the
// usual-grade table and the semester selector.
package portal

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hazyhaar/gradewatch/portal/internal/browser"
)

// ErrNoSession is returned by the browser-only helpers when the client
// runs on an injected Page.
var ErrNoSession = errors.New("portal: no browser session")

// Client owns one browser session for the duration of a run. Calls are
// sequential; a Client is not safe for concurrent use.
type Client struct {
	opts    Options
	log     *slog.Logger
	page    Page
	session *browser.Session

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// Option customizes a Client.
type Option func(*Client)

// WithPage drives an existing page instead of launching a browser.
func WithPage(p Page) Option {
	return func(c *Client) { c.page = p }
}

// WithClock replaces the wall clock and the poll sleep.
func WithClock(now func() time.Time, sleep func(context.Context, time.Duration) error) Option {
	return func(c *Client) {
		c.now = now
		c.sleep = sleep
	}
}

// New returns a Client. The browser is launched on first use.
func New(opts Options, options ...Option) *Client {
	opts.defaults()
	c := &Client{
		opts:  opts,
		log:   opts.Logger,
		now:   time.Now,
		sleep: sleepCtx,
	}
	for _, o := range options {
		o(c)
	}
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Options returns the effective configuration.
func (c *Client) Options() Options { return c.opts }

func (c *Client) ensurePage(ctx context.Context) (Page, error) {
	if c.page != nil {
		return c.page, nil
	}
	s, err := browser.Open(ctx, c.opts.Browser)
	if err != nil {
		return nil, &Error{Op: "open browser", Err: err}
	}
	c.session = s
	c.page = s
	return s, nil
}

func (c *Client) ensureSession(ctx context.Context) (*browser.Session, error) {
	if _, err := c.ensurePage(ctx); err != nil {
		return nil, err
	}
	if c.session == nil {
		return nil, ErrNoSession
	}
	return c.session, nil
}

// FlushDiagnostics writes pending browser diagnostics, if any.
func (c *Client) FlushDiagnostics() {
	if c.session == nil {
		return
	}
	if err := c.session.FlushDiagnostics(); err != nil {
		c.log.Warn("portal: flush diagnostics", "error", err)
	}
}

// DumpDiagnostics saves the current page for post-mortem inspection.
func (c *Client) DumpDiagnostics(ctx context.Context, dir string) (*browser.Dump, error) {
	if c.session == nil {
		return nil, ErrNoSession
	}
	defer c.FlushDiagnostics()
	return c.session.DumpDiagnostics(ctx, dir)
}

// Fingerprint loads a blank page and reports what automation-visible
// properties the browser exposes.
func (c *Client) Fingerprint(ctx context.Context) (string, error) {
	s, err := c.ensureSession(ctx)
	if err != nil {
		return "", err
	}
	if _, err := s.Navigate(ctx, "about:blank"); err != nil {
		return "", err
	}
	return s.Fingerprint(ctx)
}

// Cookies lists the profile's cookies.
func (c *Client) Cookies(ctx context.Context) ([]browser.Cookie, error) {
	s, err := c.ensureSession(ctx)
	if err != nil {
		return nil, err
	}
	return s.Cookies(ctx)
}

// SaveStorageState exports cookies and local storage to path.
func (c *Client) SaveStorageState(ctx context.Context, path string) error {
	s, err := c.ensureSession(ctx)
	if err != nil {
		return err
	}
	return s.SaveStorageState(ctx, path)
}

// Close releases the browser. The profile directory is kept.
func (c *Client) Close() error {
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	c.page = nil
	return err
}
