package portal

import (
	"context"
	"time"
)

// Page is the browser surface the portal client needs. *browser.Session
// implements it; tests use a scripted fake.
type Page interface {
	// Navigate and Reload return once the document has loaded. Scripts may
	// still be fetching; WaitIdle waits for the network to go quiet.
	Navigate(ctx context.Context, url string) (int, error)
	Reload(ctx context.Context) (int, error)
	WaitIdle(ctx context.Context) error
	LastStatus() int
	URL() string

	// Eval runs a function expression that returns JSON.stringify(...) and
	// decodes the result into out.
	Eval(ctx context.Context, js string, out any, args ...any) error

	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	Click(ctx context.Context, selector string) error
	TypeInto(ctx context.Context, selector, text string, delay time.Duration) error
	InputValue(ctx context.Context, selector string) (string, error)
	SetInputValue(ctx context.Context, selector, value string, events ...string) error

	SetCookie(ctx context.Context, name, value, url string) error
	ClearCookies(ctx context.Context, names ...string) error
}
