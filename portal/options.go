package portal

import (
	"log/slog"
	"time"

	"github.com/hazyhaar/gradewatch/portal/internal/browser"
)

// DefaultBaseURL is the portal root; every page URL is built from it.
const DefaultBaseURL = "https://eams.uestc.edu.cn/eams/"

// HeadlessMode selects how a headless browser is started.
type HeadlessMode = browser.HeadlessMode

const (
	HeadlessNative = browser.HeadlessNative
	HeadlessArg    = browser.HeadlessArg
	HeadlessXvfb   = browser.HeadlessXvfb
)

// Cookie is one entry of the profile's cookie jar.
type Cookie = browser.Cookie

// NormalizeChannel maps the launcher's default-browser aliases to "".
func NormalizeChannel(ch string) string { return browser.NormalizeChannel(ch) }

// antiBotCookies are set by the portal's firewall. Clearing them after a
// 400 usually gets a fresh challenge instead of a dead end.
var antiBotCookies = []string{
	"Bk8UVSeWhgi3S",
	"Bk8UVSeWhgi3T",
	"enable_Bk8UVSeWhgi3",
	"UqZBpD3n3meQWFk4sx0_",
}

// Options configure a Client.
type Options struct {
	BaseURL string          `yaml:"base_url"`
	Browser browser.Options `yaml:"browser"`

	// AllowManualLogin lets a human finish the login in a visible browser.
	AllowManualLogin   bool          `yaml:"allow_manual_login"`
	ManualLoginTimeout time.Duration `yaml:"manual_login_timeout"`

	// AntiBotWait bounds the wait for the firewall interstitial. Zero
	// selects the default, a negative value disables waiting.
	AntiBotWait           time.Duration `yaml:"anti_bot_wait"`
	AutoRecoverBadRequest bool          `yaml:"auto_recover_bad_request"`

	// TableWait bounds the wait for the named grade table before falling
	// back to the first table on the page.
	TableWait    time.Duration `yaml:"table_wait"`
	PollInterval time.Duration `yaml:"poll_interval"`
	TypeDelay    time.Duration `yaml:"type_delay"`

	Logger *slog.Logger `yaml:"-"`
}

// DefaultOptions returns a Client configuration with every default filled.
func DefaultOptions() Options {
	o := Options{
		Browser:               browser.DefaultOptions(),
		AllowManualLogin:      true,
		AutoRecoverBadRequest: true,
	}
	o.defaults()
	return o
}

func (o *Options) defaults() {
	if o.BaseURL == "" {
		o.BaseURL = DefaultBaseURL
	}
	if o.BaseURL[len(o.BaseURL)-1] != '/' {
		o.BaseURL += "/"
	}
	if o.ManualLoginTimeout <= 0 {
		o.ManualLoginTimeout = 180 * time.Second
	}
	if o.AntiBotWait == 0 {
		o.AntiBotWait = 60 * time.Second
	}
	if o.TableWait <= 0 {
		o.TableWait = 5 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.TypeDelay <= 0 {
		o.TypeDelay = 30 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Browser.Logger == nil {
		o.Browser.Logger = o.Logger
	}
}

// interactive reports whether a human can complete a login.
func (o *Options) interactive() bool {
	return !o.Browser.Headless && o.AllowManualLogin
}
