package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Session is one browser with one page on a persistent profile. It is not
// safe for concurrent use; the portal client drives it sequentially.
type Session struct {
	opts    Options
	log     *slog.Logger
	lnch    *launcher.Launcher
	browser *rod.Browser
	page    *rod.Page
	xvfb    *exec.Cmd
	diag    *Diagnostics

	status     atomic.Int64
	reqMu      sync.Mutex
	requests   map[proto.NetworkRequestID]string
	stopEvents context.CancelFunc
	closeOnce  sync.Once
}

// Cookie is the part of a browser cookie worth listing.
type Cookie struct {
	Name   string `json:"name"`
	Domain string `json:"domain"`
	Path   string `json:"path"`
}

func (s *Session) timeout(ctx context.Context, d time.Duration) (*rod.Page, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, d)
	return s.page.Context(ctx), cancel
}

// Navigate loads url and returns the HTTP status of the main document, or 0
// when the browser did not report one.
func (s *Session) Navigate(ctx context.Context, url string) (int, error) {
	p, cancel := s.timeout(ctx, s.opts.NavigationTimeout)
	defer cancel()

	s.status.Store(0)
	if err := p.Navigate(url); err != nil {
		return 0, fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		s.log.Warn("browser: wait load timeout", "url", url, "error", err)
	}
	return s.LastStatus(), nil
}

// Reload reloads the current page and returns the new document status.
func (s *Session) Reload(ctx context.Context) (int, error) {
	p, cancel := s.timeout(ctx, s.opts.NavigationTimeout)
	defer cancel()

	s.status.Store(0)
	if err := p.Reload(); err != nil {
		return 0, fmt.Errorf("browser: reload: %w", err)
	}
	if err := p.WaitLoad(); err != nil {
		s.log.Warn("browser: wait load timeout", "url", s.URL(), "error", err)
	}
	return s.LastStatus(), nil
}

// WaitIdle waits until the network has been quiet briefly and the document
// has loaded.
func (s *Session) WaitIdle(ctx context.Context) error {
	p, cancel := s.timeout(ctx, s.opts.NavigationTimeout)
	defer cancel()

	p.WaitRequestIdle(500*time.Millisecond, nil, nil, nil)()
	return p.WaitLoad()
}

// LastStatus is the status of the most recent main-frame document response.
func (s *Session) LastStatus() int { return int(s.status.Load()) }

// URL returns the current page URL.
func (s *Session) URL() string {
	info, err := s.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// HTML returns the serialized document.
func (s *Session) HTML(ctx context.Context) (string, error) {
	p, cancel := s.timeout(ctx, s.opts.DefaultTimeout)
	defer cancel()
	return p.HTML()
}

// Eval runs js, a function expression returning JSON.stringify(...), and
// decodes its result into out. out may be nil.
func (s *Session) Eval(ctx context.Context, js string, out any, args ...any) error {
	p, cancel := s.timeout(ctx, s.opts.DefaultTimeout)
	defer cancel()

	res, err := p.Eval(js, args...)
	if err != nil {
		return fmt.Errorf("browser: eval: %w", err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal([]byte(res.Value.Str()), out); err != nil {
		return fmt.Errorf("browser: eval result: %w", err)
	}
	return nil
}

// WaitVisible waits up to timeout for selector to match a visible element.
func (s *Session) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	p, cancel := s.timeout(ctx, timeout)
	defer cancel()
	el, err := p.Element(selector)
	if err != nil {
		return fmt.Errorf("browser: wait %s: %w", selector, err)
	}
	return el.WaitVisible()
}

func (s *Session) element(ctx context.Context, selector string) (*rod.Element, context.CancelFunc, error) {
	p, cancel := s.timeout(ctx, s.opts.DefaultTimeout)
	el, err := p.Element(selector)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("browser: element %s: %w", selector, err)
	}
	return el, cancel, nil
}

// Click clicks the first element matching selector.
func (s *Session) Click(ctx context.Context, selector string) error {
	el, cancel, err := s.element(ctx, selector)
	if err != nil {
		return err
	}
	defer cancel()
	return el.Click(proto.InputMouseButtonLeft, 1)
}

// TypeInto replaces the content of an input by typing text one key at a
// time with delay between keys.
func (s *Session) TypeInto(ctx context.Context, selector, text string, delay time.Duration) error {
	el, cancel, err := s.element(ctx, selector)
	if err != nil {
		return err
	}
	defer cancel()

	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("browser: focus %s: %w", selector, err)
	}
	if err := el.SelectAllText(); err != nil {
		return fmt.Errorf("browser: select %s: %w", selector, err)
	}
	if text == "" {
		return s.page.Keyboard.Type(input.Backspace)
	}
	for _, r := range text {
		if r < unicode.MaxASCII && unicode.IsPrint(r) {
			err = s.page.Keyboard.Type(input.Key(r))
		} else {
			err = s.page.InsertText(string(r))
		}
		if err != nil {
			return fmt.Errorf("browser: type into %s: %w", selector, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil
}

// InputValue returns the current value property of an input.
func (s *Session) InputValue(ctx context.Context, selector string) (string, error) {
	el, cancel, err := s.element(ctx, selector)
	if err != nil {
		return "", err
	}
	defer cancel()
	v, err := el.Property("value")
	if err != nil {
		return "", err
	}
	return v.Str(), nil
}

const setValueScript = `(sel, value, events) => {
	const el = document.querySelector(sel);
	if (!el) return JSON.stringify(false);
	el.value = value;
	for (const name of events) {
		try {
			const ev = name.startsWith('key')
				? new KeyboardEvent(name, { bubbles: true, key: 'Enter' })
				: new Event(name, { bubbles: true });
			el.dispatchEvent(ev);
		} catch (e) {}
	}
	return JSON.stringify(true);
}`

// SetInputValue assigns value through the DOM and dispatches events, for
// forms that ignore synthetic key presses.
func (s *Session) SetInputValue(ctx context.Context, selector, value string, events ...string) error {
	if events == nil {
		events = []string{"input", "change"}
	}
	var ok bool
	if err := s.Eval(ctx, setValueScript, &ok, selector, value, events); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("browser: set value: %s not found", selector)
	}
	return nil
}

// SetCookie sets a cookie scoped to url.
func (s *Session) SetCookie(ctx context.Context, name, value, url string) error {
	p, cancel := s.timeout(ctx, s.opts.DefaultTimeout)
	defer cancel()
	return p.SetCookies([]*proto.NetworkCookieParam{{Name: name, Value: value, URL: url}})
}

// ClearCookies deletes every cookie with one of the given names.
func (s *Session) ClearCookies(ctx context.Context, names ...string) error {
	p, cancel := s.timeout(ctx, s.opts.DefaultTimeout)
	defer cancel()

	cookies, err := s.browser.GetCookies()
	if err != nil {
		return fmt.Errorf("browser: cookies: %w", err)
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	for _, c := range cookies {
		if !want[c.Name] {
			continue
		}
		err := proto.NetworkDeleteCookies{Name: c.Name, Domain: c.Domain, Path: c.Path}.Call(p)
		if err != nil {
			return fmt.Errorf("browser: delete cookie %s: %w", c.Name, err)
		}
	}
	return nil
}

// Cookies lists the cookies of the whole profile.
func (s *Session) Cookies(ctx context.Context) ([]Cookie, error) {
	cookies, err := s.browser.Context(ctx).GetCookies()
	if err != nil {
		return nil, fmt.Errorf("browser: cookies: %w", err)
	}
	out := make([]Cookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, Cookie{Name: c.Name, Domain: c.Domain, Path: c.Path})
	}
	return out, nil
}

type storageState struct {
	Cookies []*proto.NetworkCookie `json:"cookies"`
	Origins []originStorage        `json:"origins"`
}

type originStorage struct {
	Origin       string      `json:"origin"`
	LocalStorage []nameValue `json:"localStorage"`
}

type nameValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

const localStorageScript = `() => {
	const items = [];
	try {
		for (let i = 0; i < localStorage.length; i++) {
			const k = localStorage.key(i);
			items.push({ name: k, value: localStorage.getItem(k) });
		}
	} catch (e) {}
	return JSON.stringify({ origin: location.origin, localStorage: items });
}`

// SaveStorageState writes the profile's cookies and the current origin's
// localStorage to path as JSON.
func (s *Session) SaveStorageState(ctx context.Context, path string) error {
	cookies, err := s.browser.Context(ctx).GetCookies()
	if err != nil {
		return fmt.Errorf("browser: cookies: %w", err)
	}
	st := storageState{Cookies: cookies, Origins: []originStorage{}}

	var origin originStorage
	if err := s.Eval(ctx, localStorageScript, &origin); err != nil {
		s.log.Warn("browser: local storage", "error", err)
	} else if origin.Origin != "" && origin.Origin != "null" {
		st.Origins = append(st.Origins, origin)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Close flushes diagnostics and shuts the browser down. It keeps the
// profile directory and is safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.FlushDiagnostics()
		s.cleanup()
	})
	return err
}

func (s *Session) cleanup() {
	if s.stopEvents != nil {
		s.stopEvents()
	}
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			s.log.Debug("browser: close", "error", err)
		}
		s.browser = nil
	}
	if s.lnch != nil {
		s.lnch.Kill()
		s.lnch = nil
	}
	s.stopXvfb()
	s.log.Info("browser: closed")
}
