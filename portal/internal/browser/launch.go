package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strconv"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

var (
	// ErrNoUserDataDir is returned by Open when Options.UserDataDir is empty.
	ErrNoUserDataDir = errors.New("browser: user data dir is required")

	// ErrBrowserNotFound is returned by Open when a channel was requested
	// and neither it nor its fallback channel is installed.
	ErrBrowserNotFound = errors.New("browser: no installed browser for channel")
)

var channelBinaries = map[string][]string{
	"chrome": {
		"google-chrome",
		"google-chrome-stable",
		"chrome",
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
		`C:\Program Files\Google\Chrome\Application\chrome.exe`,
		`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
	},
	"chrome-beta": {
		"google-chrome-beta",
		"/Applications/Google Chrome Beta.app/Contents/MacOS/Google Chrome Beta",
		`C:\Program Files\Google\Chrome Beta\Application\chrome.exe`,
	},
	"msedge": {
		"microsoft-edge",
		"microsoft-edge-stable",
		"msedge",
		"/Applications/Microsoft Edge.app/Contents/MacOS/Microsoft Edge",
		`C:\Program Files (x86)\Microsoft\Edge\Application\msedge.exe`,
		`C:\Program Files\Microsoft\Edge\Application\msedge.exe`,
	},
}

// channelFallbacks lists the channels tried, in order, for a configured
// channel.
func channelFallbacks(channel string) []string {
	if channel == "chrome" {
		return []string{"chrome", "msedge"}
	}
	return []string{channel}
}

// candidate is one binary Open may start.
type candidate struct {
	path    string
	channel string
}

// candidates lists the binaries to try for o, in launch order: the explicit
// executable, else the first installed binary of each fallback channel. A
// nil list with a nil error means the launcher's default browser.
func candidates(o Options, lookPath func(string) (string, error)) ([]candidate, error) {
	ch := NormalizeChannel(o.Channel)
	if o.ExecutablePath != "" {
		return []candidate{{o.ExecutablePath, ch}}, nil
	}
	if ch == "" {
		return nil, nil
	}
	var out []candidate
	for _, c := range channelFallbacks(ch) {
		for _, name := range channelBinaries[c] {
			if p, err := lookPath(name); err == nil {
				out = append(out, candidate{p, c})
				break
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w %q", ErrBrowserNotFound, ch)
	}
	return out, nil
}

// launchFirst starts the candidates in order until one comes up and returns
// its control URL.
func launchFirst(cands []candidate, start func(candidate) (string, error), log *slog.Logger) (string, candidate, error) {
	if len(cands) == 0 {
		cands = []candidate{{}}
	}
	var errs []error
	for i, c := range cands {
		u, err := start(c)
		if err == nil {
			return u, c, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", c.describe(), err))
		if i+1 < len(cands) {
			log.Warn("browser: launch failed, trying fallback", "channel", c.channel, "bin", c.path, "next", cands[i+1].channel, "error", err)
		}
	}
	return "", candidate{}, fmt.Errorf("browser: launch: %w", errors.Join(errs...))
}

func (c candidate) describe() string {
	if c.path == "" {
		return "default browser"
	}
	return c.path
}

type launchArg struct {
	name  string
	value string
}

// launchArgs returns the extra command-line switches for o, headless
// handling aside from the --headless=new argument mode.
func launchArgs(o Options) []launchArg {
	var args []launchArg
	if o.Headless && o.HeadlessMode == HeadlessArg {
		args = append(args, launchArg{"headless", "new"})
	}
	if o.LegacyArgs {
		args = append(args,
			launchArg{"disable-gpu", ""},
			launchArg{"no-sandbox", ""},
			launchArg{"window-size", strconv.Itoa(o.WindowWidth) + "," + strconv.Itoa(o.WindowHeight)},
		)
	}
	args = append(args, launchArg{"disable-blink-features", "AutomationControlled"})
	return args
}

// Open launches a browser on o.UserDataDir and prepares its page.
func Open(ctx context.Context, o Options) (*Session, error) {
	o.defaults()
	if o.UserDataDir == "" {
		return nil, ErrNoUserDataDir
	}
	if err := os.MkdirAll(o.UserDataDir, 0o700); err != nil {
		return nil, fmt.Errorf("browser: profile dir: %w", err)
	}

	s := &Session{opts: o, log: o.Logger, requests: make(map[proto.NetworkRequestID]string)}
	if o.DiagnosticsDir != "" {
		d, err := NewDiagnostics(o.DiagnosticsDir, nowFunc())
		if err != nil {
			o.Logger.Warn("browser: diagnostics disabled", "error", err)
		} else {
			s.diag = d
		}
	}

	if err := s.launch(ctx); err != nil {
		s.cleanup()
		return nil, err
	}
	if err := s.setupPage(ctx); err != nil {
		s.cleanup()
		return nil, err
	}
	return s, nil
}

func (s *Session) launch(ctx context.Context) error {
	o := s.opts
	log := s.log

	cands, err := candidates(o, exec.LookPath)
	if err != nil {
		return err
	}
	if o.Headless && o.HeadlessMode == HeadlessXvfb {
		if err := s.startXvfb(); err != nil {
			return fmt.Errorf("browser: xvfb: %w", err)
		}
	}

	u, c, err := launchFirst(cands, func(c candidate) (string, error) {
		l := s.newLauncher(ctx, c.path)
		u, err := l.Launch()
		if err != nil {
			l.Kill()
			return "", err
		}
		s.lnch = l
		return u, nil
	}, log)
	if err != nil {
		return err
	}
	log.Info("browser: launched", "channel", c.channel, "bin", c.path, "headless", o.Headless, "mode", o.HeadlessMode)

	b := rod.New().Context(ctx).ControlURL(u).NoDefaultDevice()
	if err := b.Connect(); err != nil {
		return fmt.Errorf("browser: connect: %w", err)
	}
	s.browser = b
	return nil
}

// newLauncher configures a launcher for bin; an empty bin keeps the
// launcher's default browser.
func (s *Session) newLauncher(ctx context.Context, bin string) *launcher.Launcher {
	o := s.opts
	l := launcher.New().Context(ctx).UserDataDir(o.UserDataDir)
	if bin != "" {
		l = l.Bin(bin)
	}

	switch {
	case !o.Headless:
		l = l.Headless(false)
	case o.HeadlessMode == HeadlessXvfb:
		l = l.Headless(false).Env(append(os.Environ(), "DISPLAY="+o.XvfbDisplay)...)
	case o.HeadlessMode == HeadlessArg:
		l = l.Headless(false)
	default:
		l = l.Headless(true)
	}

	for _, a := range launchArgs(o) {
		if a.value == "" {
			l = l.Set(flags.Flag(a.name))
		} else {
			l = l.Set(flags.Flag(a.name), a.value)
		}
	}
	return l
}

// viewport is the fixed device metrics for o, or nil when the window's own
// size should be used.
func viewport(o Options) *proto.EmulationSetDeviceMetricsOverride {
	if o.NoViewport {
		return nil
	}
	return &proto.EmulationSetDeviceMetricsOverride{
		Width:             o.WindowWidth,
		Height:            o.WindowHeight,
		DeviceScaleFactor: 1,
	}
}

func (s *Session) setupPage(ctx context.Context) error {
	o := s.opts
	log := s.log

	var (
		page *rod.Page
		err  error
	)
	if o.Headless && o.StealthScripts {
		page, err = stealth.Page(s.browser)
	} else {
		page, err = s.browser.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return fmt.Errorf("browser: create page: %w", err)
	}
	s.page = page

	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		return fmt.Errorf("browser: network enable: %w", err)
	}
	s.watchEvents()

	if ua := ResolveUserAgent(o); ua != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: ua}); err != nil {
			return fmt.Errorf("browser: user agent: %w", err)
		}
	}
	if len(o.ExtraHeaders) > 0 {
		kv := make([]string, 0, 2*len(o.ExtraHeaders))
		keys := make([]string, 0, len(o.ExtraHeaders))
		for k := range o.ExtraHeaders {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			kv = append(kv, k, o.ExtraHeaders[k])
		}
		if _, err := page.SetExtraHeaders(kv); err != nil {
			return fmt.Errorf("browser: extra headers: %w", err)
		}
	}
	if vp := viewport(o); vp != nil {
		if err := page.SetViewport(vp); err != nil {
			log.Warn("browser: viewport", "error", err)
		}
	}
	if o.BypassCSP {
		if err := (proto.PageSetBypassCSP{Enabled: true}).Call(page); err != nil {
			log.Warn("browser: bypass csp", "error", err)
		}
	}
	if o.StealthScripts && o.Headless {
		if _, err := page.EvalOnNewDocument(stealthInitScript); err != nil {
			log.Warn("browser: stealth init script", "error", err)
		}
	}
	if len(o.ResourceBlocking) > 0 {
		if err := applyResourceBlocking(page, o.ResourceBlocking); err != nil {
			log.Warn("browser: resource blocking failed", "error", err)
		}
	}
	return nil
}
