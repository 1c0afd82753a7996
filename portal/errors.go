package portal

import (
	"errors"
	"fmt"

	"github.com/hazyhaar/gradewatch/portal/internal/authstate"
	"github.com/hazyhaar/gradewatch/portal/internal/browser"
)

var (
	// ErrAntiBotBlocked is returned when the firewall interstitial never
	// cleared within the configured wait.
	ErrAntiBotBlocked = errors.New("portal: blocked by anti-bot challenge page")

	// ErrCaptchaRequired is returned when the IDAS login asks for a captcha.
	ErrCaptchaRequired = errors.New("portal: login requires a captcha")

	// ErrManualLoginTimeout is returned when nobody completed the login in
	// the visible browser in time.
	ErrManualLoginTimeout = errors.New("portal: manual login timed out")

	// ErrSessionExpiredNoPassword is returned when the saved session is gone
	// and no password was provided.
	ErrSessionExpiredNoPassword = errors.New("portal: session expired and no password provided")

	// ErrLoginDidNotComplete is returned when the login form is still in
	// front of the target after submitting.
	ErrLoginDidNotComplete = errors.New("portal: login did not complete")

	// ErrPageUnreadable is returned when the page could not be evaluated
	// for longer than the browser's default timeout.
	ErrPageUnreadable = errors.New("portal: page could not be read")

	// ErrBrowserNotFound is returned when the configured channel and its
	// fallback are both missing from the host.
	ErrBrowserNotFound = browser.ErrBrowserNotFound

	// ErrTableNotFound is returned when a grade table is missing and the
	// page cannot be trusted to hold another one.
	ErrTableNotFound = errors.New("portal: grade table not found")
)

// Error carries the operation and URL of a portal failure. Kind is one of
// the sentinels above, or nil for browser-level failures.
type Error struct {
	Kind error
	Op   string
	URL  string
	Err  error
}

func (e *Error) Error() string {
	msg := "portal: " + e.Op
	if e.URL != "" {
		msg += " " + e.URL
	}
	switch {
	case e.Kind != nil && e.Err != nil:
		return fmt.Sprintf("%s: %v: %v", msg, e.Kind, e.Err)
	case e.Kind != nil:
		return fmt.Sprintf("%s: %v", msg, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func reasonError(r authstate.Reason) error {
	switch r {
	case authstate.ReasonAntiBotBlocked:
		return ErrAntiBotBlocked
	case authstate.ReasonCaptchaRequired:
		return ErrCaptchaRequired
	case authstate.ReasonManualLoginTimeout:
		return ErrManualLoginTimeout
	case authstate.ReasonSessionExpiredNoPassword:
		return ErrSessionExpiredNoPassword
	case authstate.ReasonPageUnreadable:
		return ErrPageUnreadable
	}
	return ErrLoginDidNotComplete
}
