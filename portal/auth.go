package portal

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazyhaar/gradewatch/portal/internal/authstate"
	"github.com/hazyhaar/gradewatch/portal/internal/markup"
)

// Credentials identify the portal account. Password may be empty when the
// profile still holds a valid session.
type Credentials struct {
	Account  string
	Password string
}

// NavigateAuthenticated opens target and takes whatever steps the portal
// puts in front of it: anti-bot interstitial, duplicate-login warning, IDAS
// or legacy login. It returns once target is loaded behind a session.
func (c *Client) NavigateAuthenticated(ctx context.Context, creds Credentials, target string) error {
	page, err := c.ensurePage(ctx)
	if err != nil {
		return err
	}
	return c.navigateAuthenticated(ctx, page, creds, target)
}

func (c *Client) machine(creds Credentials) *authstate.Machine {
	wait := c.opts.AntiBotWait
	if wait < 0 {
		wait = 0
	}
	return authstate.New(authstate.Config{
		AntiBotWait:           wait,
		ManualLoginWait:       c.opts.ManualLoginTimeout,
		Interactive:           c.opts.interactive(),
		HavePassword:          creds.Password != "",
		AutoRecoverBadRequest: c.opts.AutoRecoverBadRequest,
		UnreadableWait:        c.opts.Browser.DefaultTimeout,
	})
}

func (c *Client) navigateAuthenticated(ctx context.Context, page Page, creds Credentials, target string) error {
	log := c.log.With("url", target)
	m := c.machine(creds)

	if err := c.load(ctx, page, target); err != nil {
		return err
	}
	m.Navigated()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		d := m.Step(c.probe(ctx, page), c.now())
		if d.Action != authstate.Poll {
			log.Debug("portal: auth step", "action", d.Action, "state", d.State.Kind)
		}

		switch d.Action {
		case authstate.Done:
			return nil

		case authstate.Fail:
			return &Error{Kind: reasonError(d.State.Reason), Op: "authenticate", URL: target}

		case authstate.Poll:
			if err := c.sleep(ctx, c.opts.PollInterval); err != nil {
				return err
			}

		case authstate.RecoverBadRequest:
			log.Info("portal: clearing anti-bot cookies after 400")
			if err := page.ClearCookies(ctx, antiBotCookies...); err != nil {
				log.Warn("portal: clear cookies", "error", err)
			}
			if err := c.reload(ctx, page, target); err != nil {
				return err
			}
			m.Recovered()

		case authstate.ContinueDuplicate:
			log.Info("portal: duplicate login warning, continuing")
			var clicked bool
			if err := page.Eval(ctx, continueScript, &clicked); err == nil && clicked {
				c.settle(ctx, page)
			}
			if err := c.load(ctx, page, target); err != nil {
				return err
			}
			m.Navigated()

		case authstate.Login:
			log.Info("portal: logging in", "variant", d.State.Variant, "account", creds.Account)
			if err := c.login(ctx, page, creds, d.State.Variant); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				return &Error{Kind: ErrLoginDidNotComplete, Op: "login", URL: target, Err: err}
			}
			m.Navigated()

		case authstate.Reload:
			if err := c.reload(ctx, page, target); err != nil {
				return err
			}
			m.Navigated()

		case authstate.Renavigate:
			if err := c.load(ctx, page, target); err != nil {
				return err
			}
			m.Navigated()
		}
	}
}

// load navigates to url and lets the network settle, so the first
// observation sees what the page's scripts render after the document load.
func (c *Client) load(ctx context.Context, page Page, url string) error {
	if _, err := page.Navigate(ctx, url); err != nil {
		return &Error{Op: "navigate", URL: url, Err: err}
	}
	c.settle(ctx, page)
	return nil
}

func (c *Client) reload(ctx context.Context, page Page, target string) error {
	if _, err := page.Reload(ctx); err != nil {
		return &Error{Op: "reload", URL: target, Err: err}
	}
	c.settle(ctx, page)
	return nil
}

func (c *Client) settle(ctx context.Context, page Page) {
	if err := page.WaitIdle(ctx); err != nil {
		c.log.Debug("portal: wait idle", "error", err)
	}
}

// probe observes the page. A page that cannot be evaluated, typically
// mid-navigation, is reported as unreadable and never counts as
// authenticated.
func (c *Client) probe(ctx context.Context, page Page) authstate.Probe {
	var r probeResult
	if err := page.Eval(ctx, probeScript, &r); err != nil {
		c.log.Debug("portal: probe", "error", err)
		return authstate.Probe{Status: page.LastStatus(), URL: page.URL(), Unreadable: true}
	}
	f := markup.Inspect(r.HTML)
	u := r.URL
	if u == "" {
		u = page.URL()
	}
	return authstate.Probe{
		Status:           page.LastStatus(),
		URL:              u,
		AntiBotMarker:    f.AntiBotMarker,
		BlankDocument:    f.BlankDocument,
		DuplicateWarning: f.DuplicateWarning,
		LoginFormVisible: r.LoginFormVisible,
		CaptchaVisible:   r.CaptchaVisible,
	}
}

func (c *Client) login(ctx context.Context, page Page, creds Credentials, v authstate.Variant) error {
	if v == authstate.Idas {
		return c.loginIdas(ctx, page, creds)
	}
	return c.loginLegacy(ctx, page, creds)
}

var errNoLoginControls = errors.New("login controls not found")

func (c *Client) loginLegacy(ctx context.Context, page Page, creds Credentials) error {
	var ctl loginControls
	if err := page.Eval(ctx, markLegacyScript, &ctl); err != nil {
		return err
	}
	if !ctl.User || !ctl.Password || !ctl.Submit {
		return fmt.Errorf("legacy: %w (user=%v password=%v submit=%v)", errNoLoginControls, ctl.User, ctl.Password, ctl.Submit)
	}
	if err := c.fillCredentials(ctx, page, creds); err != nil {
		return err
	}
	if v, err := page.InputValue(ctx, markPassword); err == nil && v == "" {
		if err := page.SetInputValue(ctx, markPassword, creds.Password); err != nil {
			return err
		}
	}
	return c.submit(ctx, page)
}

func (c *Client) loginIdas(ctx context.Context, page Page, creds Credentials) error {
	// With remember-me active the login page redirects by itself.
	if err := page.WaitIdle(ctx); err != nil {
		c.log.Debug("portal: wait idle", "error", err)
	}
	if !authstate.IsIdasURL(page.URL()) {
		return nil
	}

	var switched bool
	if err := page.Eval(ctx, idasTabScript, &switched); err != nil {
		c.log.Debug("portal: idas tab switch", "error", err)
	}

	ctl, err := c.waitIdasForm(ctx, page)
	if err != nil {
		return err
	}
	if !ctl.User || !ctl.Password || !ctl.Submit {
		return fmt.Errorf("idas: %w (user=%v password=%v submit=%v)", errNoLoginControls, ctl.User, ctl.Password, ctl.Submit)
	}
	if ctl.Remember && !ctl.RememberChecked {
		if err := page.Click(ctx, markRemember); err != nil {
			c.log.Warn("portal: remember me", "error", err)
		}
	}
	if err := c.fillCredentials(ctx, page, creds); err != nil {
		return err
	}
	// The page derives its salted password field from these events.
	if err := page.SetInputValue(ctx, markPassword, creds.Password, "input", "change", "keyup"); err != nil {
		return err
	}
	return c.submit(ctx, page)
}

func (c *Client) waitIdasForm(ctx context.Context, page Page) (loginControls, error) {
	deadline := c.now().Add(c.opts.Browser.DefaultTimeout)
	for {
		var ctl loginControls
		err := page.Eval(ctx, markIdasScript, &ctl)
		if err == nil && ctl.Form {
			return ctl, nil
		}
		if !c.now().Before(deadline) {
			if err == nil {
				err = errors.New("form#pwdFromId not found")
			}
			return ctl, fmt.Errorf("idas: %w", err)
		}
		if err := c.sleep(ctx, c.opts.PollInterval); err != nil {
			return ctl, err
		}
	}
}

func (c *Client) fillCredentials(ctx context.Context, page Page, creds Credentials) error {
	timeout := c.opts.Browser.DefaultTimeout
	if err := page.WaitVisible(ctx, markUser, timeout); err != nil {
		return err
	}
	if err := page.WaitVisible(ctx, markPassword, timeout); err != nil {
		return err
	}
	if err := page.TypeInto(ctx, markUser, creds.Account, c.opts.TypeDelay); err != nil {
		return err
	}
	if err := page.TypeInto(ctx, markPassword, creds.Password, c.opts.TypeDelay); err != nil {
		return err
	}
	if v, err := page.InputValue(ctx, markUser); err == nil && v != creds.Account {
		if err := page.SetInputValue(ctx, markUser, creds.Account); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) submit(ctx context.Context, page Page) error {
	if err := page.Click(ctx, markSubmit); err != nil {
		return err
	}
	if err := page.WaitIdle(ctx); err != nil {
		c.log.Debug("portal: wait idle after submit", "error", err)
	}
	return nil
}
