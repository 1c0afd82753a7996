// Package authstate decides, one observation at a time, what the portal
// client has to do next to reach an authenticated page: wait out an anti-bot
// interstitial, dismiss a duplicate-login warning, log in, or give up.
//
// The Machine never touches a browser. The caller navigates, builds a Probe
// from what it sees, and executes the returned Action. Time is passed in so
// the deadlines are testable.
package authstate

import (
	"net/url"
	"strings"
	"time"
)

// Kind is the coarse phase of authentication.
type Kind int

const (
	Unauthenticated Kind = iota
	AwaitingChallenge
	AwaitingLogin
	DuplicateWarning
	Authenticated
	Failed
)

func (k Kind) String() string {
	switch k {
	case Unauthenticated:
		return "unauthenticated"
	case AwaitingChallenge:
		return "awaiting_challenge"
	case AwaitingLogin:
		return "awaiting_login"
	case DuplicateWarning:
		return "duplicate_warning"
	case Authenticated:
		return "authenticated"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Variant is the kind of login page in front of the portal.
type Variant int

const (
	Legacy Variant = iota
	Idas
)

func (v Variant) String() string {
	if v == Idas {
		return "idas"
	}
	return "legacy"
}

// Reason explains a Failed state.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonAntiBotBlocked
	ReasonCaptchaRequired
	ReasonManualLoginTimeout
	ReasonSessionExpiredNoPassword
	ReasonLoginDidNotComplete
	ReasonPageUnreadable
)

func (r Reason) String() string {
	switch r {
	case ReasonAntiBotBlocked:
		return "anti_bot_blocked"
	case ReasonCaptchaRequired:
		return "captcha_required"
	case ReasonManualLoginTimeout:
		return "manual_login_timeout"
	case ReasonSessionExpiredNoPassword:
		return "session_expired_no_password"
	case ReasonLoginDidNotComplete:
		return "login_did_not_complete"
	case ReasonPageUnreadable:
		return "page_unreadable"
	}
	return "none"
}

// State is the machine's current position.
type State struct {
	Kind    Kind
	Variant Variant
	Reason  Reason
}

// Probe is one observation of the current page.
type Probe struct {
	// Status is the HTTP status of the last document load, 0 if unknown.
	Status           int
	URL              string
	AntiBotMarker    bool
	BlankDocument    bool
	DuplicateWarning bool
	LoginFormVisible bool
	CaptchaVisible   bool

	// Unreadable is set when the page could not be evaluated at all. The
	// other observations are then meaningless.
	Unreadable bool
}

// Challenged reports whether the page looks like an anti-bot interstitial.
func (p Probe) Challenged() bool { return p.AntiBotMarker || p.BlankDocument || p.Unreadable }

// SoftBlocked reports a status the portal's firewall uses for its
// interstitial.
func (p Probe) SoftBlocked() bool { return p.Status == 202 || p.Status == 400 }

// OnIdas reports whether the page is the unified identity login.
func (p Probe) OnIdas() bool { return IsIdasURL(p.URL) }

// LoginRequired reports whether a login page is in front of the target.
func (p Probe) LoginRequired() bool { return p.OnIdas() || p.LoginFormVisible }

// IsIdasURL reports whether raw points at the IDAS login endpoint.
func IsIdasURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Hostname(), "idas.uestc.edu.cn") &&
		strings.Contains(u.Path, "/authserver/login")
}

// Action is what the caller has to do after a Step.
type Action int

const (
	// Done: the target page is authenticated.
	Done Action = iota
	// Fail: stop, the State carries the reason.
	Fail
	// Poll: wait one poll interval and probe again.
	Poll
	// RecoverBadRequest: clear the firewall cookies and reload.
	RecoverBadRequest
	// ContinueDuplicate: click the continue link if any, then navigate to
	// the target again.
	ContinueDuplicate
	// Login: fill and submit the login form of State.Variant.
	Login
	// Reload the current page.
	Reload
	// Renavigate to the target.
	Renavigate
)

func (a Action) String() string {
	return [...]string{"done", "fail", "poll", "recover_bad_request", "continue_duplicate", "login", "reload", "renavigate"}[a]
}

// Decision pairs the next Action with the state that led to it.
type Decision struct {
	Action Action
	State  State
}

// Config are the limits the machine enforces.
type Config struct {
	// AntiBotWait bounds the interstitial wait. Zero or less disables it.
	AntiBotWait time.Duration
	// ManualLoginWait bounds waiting for a human in a visible browser.
	ManualLoginWait time.Duration
	// Interactive is set when a human can complete the login in the window.
	Interactive bool
	// HavePassword is false when only a saved session can authenticate.
	HavePassword          bool
	AutoRecoverBadRequest bool
	// UnreadableWait bounds how long a page that cannot be evaluated is
	// polled before giving up. Zero selects DefaultUnreadableWait.
	UnreadableWait time.Duration
}

// DefaultUnreadableWait is used when Config.UnreadableWait is zero.
const DefaultUnreadableWait = 30 * time.Second

const (
	maxDuplicateRetries = 2
	maxLoginAttempts    = 2
)

type phase int

const (
	phaseTarget phase = iota
	phaseSubmitted
	phaseConfirm
)

// Machine tracks one authenticated navigation. It is not safe for
// concurrent use.
type Machine struct {
	cfg   Config
	state State
	phase phase

	challengeStart time.Time
	challengeDone  bool
	recovered      bool

	duplicates int
	logins     int
	variant    Variant

	manualStart  time.Time
	manualReason Reason
	manualUsed   bool

	unreadableStart time.Time
}

// New returns a Machine in the Unauthenticated state.
func New(cfg Config) *Machine {
	if cfg.UnreadableWait <= 0 {
		cfg.UnreadableWait = DefaultUnreadableWait
	}
	return &Machine{cfg: cfg}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Navigated must be called after every document load the caller started
// (navigation, reload, form submit). It re-arms the interstitial check.
func (m *Machine) Navigated() {
	m.challengeDone = false
	m.challengeStart = time.Time{}
	m.recovered = false
	m.unreadableStart = time.Time{}
}

// Recovered must be called after the reload that follows
// RecoverBadRequest. Unlike Navigated it keeps the one-recovery limit.
func (m *Machine) Recovered() {
	m.challengeDone = false
	m.challengeStart = time.Time{}
}

// Step consumes one observation and returns the next action.
func (m *Machine) Step(p Probe, now time.Time) Decision {
	if m.state.Kind == Failed {
		return Decision{Action: Fail, State: m.state}
	}
	if d, ok := m.stepChallenge(p, now); ok {
		return d
	}
	if !m.manualStart.IsZero() {
		return m.stepManual(p, now)
	}
	if p.Unreadable {
		return m.stepUnreadable(now)
	}
	m.unreadableStart = time.Time{}

	if p.DuplicateWarning {
		if m.duplicates >= maxDuplicateRetries {
			return m.fail(ReasonLoginDidNotComplete)
		}
		m.duplicates++
		m.phase = phaseTarget
		m.state = State{Kind: DuplicateWarning}
		return m.decide(ContinueDuplicate)
	}

	switch m.phase {
	case phaseSubmitted:
		if m.variant == Idas {
			if p.CaptchaVisible {
				return m.fail(ReasonCaptchaRequired)
			}
			if p.OnIdas() {
				return m.fail(ReasonLoginDidNotComplete)
			}
		}
		m.phase = phaseConfirm
		return m.decide(Reload)

	case phaseConfirm:
		if p.LoginRequired() {
			if m.cfg.Interactive {
				return m.startManual(now, ReasonLoginDidNotComplete)
			}
			return m.fail(ReasonLoginDidNotComplete)
		}
		m.phase = phaseTarget
		return m.decide(Renavigate)
	}

	if p.LoginRequired() {
		v := Legacy
		if p.OnIdas() {
			v = Idas
		}
		m.state = State{Kind: AwaitingLogin, Variant: v}
		if !m.cfg.HavePassword {
			if m.cfg.Interactive {
				return m.startManual(now, ReasonManualLoginTimeout)
			}
			return m.fail(ReasonSessionExpiredNoPassword)
		}
		if m.logins >= maxLoginAttempts {
			return m.fail(ReasonLoginDidNotComplete)
		}
		m.logins++
		m.variant = v
		m.phase = phaseSubmitted
		return m.decide(Login)
	}

	m.state = State{Kind: Authenticated}
	return m.decide(Done)
}

func (m *Machine) stepChallenge(p Probe, now time.Time) (Decision, bool) {
	if m.cfg.AntiBotWait <= 0 || m.challengeDone {
		return Decision{}, false
	}
	if m.challengeStart.IsZero() {
		if m.cfg.AutoRecoverBadRequest && p.Status == 400 && !m.recovered {
			m.recovered = true
			m.state = State{Kind: AwaitingChallenge}
			return m.decide(RecoverBadRequest), true
		}
		if !p.SoftBlocked() && !p.Challenged() {
			m.challengeDone = true
			return Decision{}, false
		}
		m.challengeStart = now
	}

	if p.LoginFormVisible || !p.Challenged() {
		m.challengeDone = true
		m.challengeStart = time.Time{}
		return Decision{}, false
	}

	m.state = State{Kind: AwaitingChallenge}
	elapsed := now.Sub(m.challengeStart)
	if elapsed < m.cfg.AntiBotWait {
		return m.decide(Poll), true
	}
	if m.cfg.Interactive && m.cfg.ManualLoginWait > m.cfg.AntiBotWait && elapsed < m.cfg.ManualLoginWait {
		return m.decide(Poll), true
	}
	return m.fail(ReasonAntiBotBlocked), true
}

// stepUnreadable polls a page that cannot be evaluated until it can, or
// fails once UnreadableWait has passed. The phase is left alone so the
// observation that follows is judged as if this one never happened.
func (m *Machine) stepUnreadable(now time.Time) Decision {
	if m.unreadableStart.IsZero() {
		m.unreadableStart = now
	}
	if now.Sub(m.unreadableStart) >= m.cfg.UnreadableWait {
		return m.fail(ReasonPageUnreadable)
	}
	return m.decide(Poll)
}

func (m *Machine) startManual(now time.Time, reason Reason) Decision {
	if m.manualUsed {
		return m.fail(reason)
	}
	m.manualUsed = true
	m.manualStart = now
	m.manualReason = reason
	return m.stepManual(Probe{LoginFormVisible: true}, now)
}

func (m *Machine) stepManual(p Probe, now time.Time) Decision {
	if !p.LoginRequired() && !p.Challenged() {
		m.manualStart = time.Time{}
		m.phase = phaseTarget
		return m.decide(Renavigate)
	}
	if now.Sub(m.manualStart) >= m.cfg.ManualLoginWait {
		return m.fail(m.manualReason)
	}
	m.state.Kind = AwaitingLogin
	return m.decide(Poll)
}

func (m *Machine) decide(a Action) Decision {
	return Decision{Action: a, State: m.state}
}

func (m *Machine) fail(r Reason) Decision {
	m.state = State{Kind: Failed, Variant: m.state.Variant, Reason: r}
	return m.decide(Fail)
}
