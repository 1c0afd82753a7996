// Package watchdog runs one grade check: it recovers the last published
// state from the state topic, scrapes the portal, diffs, notifies when
// something changed and republishes the state.
package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/gradewatch/gradediff"
	"github.com/hazyhaar/gradewatch/grades"
	"github.com/hazyhaar/gradewatch/gradestate"
	"github.com/hazyhaar/gradewatch/horosafe"
	"github.com/hazyhaar/gradewatch/idgen"
	"github.com/hazyhaar/gradewatch/portal"
	"github.com/hazyhaar/gradewatch/relay"
)

// StateRepository is the store behind both topics. relay.Client and
// statestore.Store implement it.
type StateRepository interface {
	// Latest returns the newest message on topic, or (nil, nil).
	Latest(ctx context.Context, topic string) (*relay.Message, error)
	Publish(ctx context.Context, topic, message, title string) (*relay.Message, error)
}

// Repositories resolves the repository for a request's relay server.
type Repositories func(serverBaseURL string) StateRepository

// Static serves every request from repo, whatever server it names.
func Static(repo StateRepository) Repositories {
	return func(string) StateRepository { return repo }
}

// RelayRepositories builds relay clients that share opts, in particular one
// injected *http.Client.
func RelayRepositories(opts ...relay.Option) Repositories {
	return func(base string) StateRepository { return relay.New(base, opts...) }
}

// Scraper produces a grade snapshot. *portal.Client implements it.
type Scraper interface {
	Snapshot(ctx context.Context, creds portal.Credentials, semesterID string) (*grades.Snapshot, error)
	Close() error
}

// ScraperFactory opens a Scraper whose browser profile lives in profileDir.
type ScraperFactory func(ctx context.Context, profileDir string) (Scraper, error)

// PortalScrapers returns a factory of portal clients configured by opts,
// each rooted at its own profile directory. Runs are headless and never
// wait for a human.
func PortalScrapers(opts portal.Options) ScraperFactory {
	return func(_ context.Context, profileDir string) (Scraper, error) {
		o := opts
		o.Browser.UserDataDir = profileDir
		o.Browser.Headless = true
		o.AllowManualLogin = false
		return portal.New(o), nil
	}
}

// Runner executes Requests. It holds no per-run state and may be shared.
type Runner struct {
	repos    Repositories
	scrapers ScraperFactory
	log      *slog.Logger
	tempRoot string
	keepDirs bool
	loc      *time.Location
	newID    func() string
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(r *Runner) { r.log = l } }

// WithTempRoot sets the parent of the per-run profile directories.
// Default: os.TempDir().
func WithTempRoot(dir string) Option { return func(r *Runner) { r.tempRoot = dir } }

// WithKeepProfiles keeps the per-run profile directories for debugging.
func WithKeepProfiles(keep bool) Option { return func(r *Runner) { r.keepDirs = keep } }

// WithLocation sets the zone notification timestamps are rendered in.
func WithLocation(loc *time.Location) Option { return func(r *Runner) { r.loc = loc } }

// New returns a Runner.
func New(repos Repositories, scrapers ScraperFactory, opts ...Option) *Runner {
	r := &Runner{
		repos:    repos,
		scrapers: scrapers,
		log:      slog.Default(),
		tempRoot: os.TempDir(),
		loc:      time.Local,
		newID:    idgen.Compact(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// previous is what the two topics tell about earlier runs.
type previous struct {
	state *gradestate.State
	// notified is the hash carried by the latest notification.
	notified string
}

// Run performs one check for req.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	log := r.log.With("account", req.Account, "topic", req.Topic)
	repo := r.repos(req.ServerBaseURL)

	prev, err := r.readPrevious(ctx, repo, req)
	if err != nil {
		return nil, err
	}
	baseline := prev.state == nil
	log.Info("watchdog: previous state", "baseline", baseline, "notified_hash", prev.notified)

	snap, err := r.scrape(ctx, req)
	if err != nil {
		return nil, err
	}

	current := gradestate.FromSnapshot(snap)
	token, hash, err := encodeState(current)
	if err != nil {
		return nil, fmt.Errorf("watchdog: encode state: %w", err)
	}
	from := prev.state
	if baseline {
		from = gradestate.Empty(current.SemesterID)
	}
	diff := gradediff.Compute(from, current)

	res := &Result{
		BaselineInitialized: baseline,
		NotifyTopic:         req.Topic,
		StateTopic:          req.StateTopic,
		SemesterID:          snap.SemesterID,
		CurrentHash:         hash,
	}
	if !baseline {
		if res.PreviousHash, err = gradestate.Hash(prev.state); err != nil {
			return nil, fmt.Errorf("watchdog: hash previous state: %w", err)
		}
	}

	fetchedAt := snap.FetchedAt.In(r.loc)
	alreadyNotified := prev.notified != "" && strings.EqualFold(prev.notified, hash)
	if !alreadyNotified && (baseline || diff.Total() > 0) {
		res.Title = Title(diff, baseline)
		body := NotificationBody(snap.SemesterID, fetchedAt, diff, token, hash)
		msg, err := repo.Publish(ctx, req.Topic, body, res.Title)
		if err != nil {
			return nil, fmt.Errorf("watchdog: publish notification: %w", err)
		}
		res.Pushed = true
		res.PublishID = msg.ID
		log.Info("watchdog: notified", "title", res.Title, "id", msg.ID, "changes", diff.Total())
	} else {
		log.Info("watchdog: nothing to notify", "already_notified", alreadyNotified, "changes", diff.Total())
	}

	msg, err := repo.Publish(ctx, req.StateTopic, StateBody(snap.SemesterID, fetchedAt, token, hash), StateTitle)
	if err != nil {
		return nil, fmt.Errorf("watchdog: publish state: %w", err)
	}
	res.StatePublishID = msg.ID
	return res, nil
}

// readPrevious reads both topics concurrently. A state message that does
// not decode counts as no state.
func (r *Runner) readPrevious(ctx context.Context, repo StateRepository, req Request) (previous, error) {
	var prev previous
	var stateMsg, notifyMsg *relay.Message
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := repo.Latest(gctx, req.StateTopic)
		if err != nil {
			return fmt.Errorf("watchdog: read state topic: %w", err)
		}
		stateMsg = m
		return nil
	})
	g.Go(func() error {
		m, err := repo.Latest(gctx, req.Topic)
		if err != nil {
			return fmt.Errorf("watchdog: read notify topic: %w", err)
		}
		notifyMsg = m
		return nil
	})
	if err := g.Wait(); err != nil {
		return prev, err
	}

	if stateMsg != nil {
		if st, ok := gradestate.DecodeFromText(stateMsg.Message); ok {
			prev.state = st
		} else {
			r.log.Warn("watchdog: latest state message does not decode", "topic", req.StateTopic, "id", stateMsg.ID)
		}
	}
	if notifyMsg != nil {
		prev.notified, _ = ExtractHash(notifyMsg.Message)
	}
	return prev, nil
}

// scrape runs the scraper in a throwaway profile directory.
func (r *Runner) scrape(ctx context.Context, req Request) (snap *grades.Snapshot, err error) {
	dir, err := r.profileDir(req.Account)
	if err != nil {
		return nil, err
	}
	if !r.keepDirs {
		defer func() {
			if rmErr := os.RemoveAll(dir); rmErr != nil {
				r.log.Warn("watchdog: remove profile dir", "dir", dir, "error", rmErr)
			}
		}()
	}

	s, err := r.scrapers(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("watchdog: open scraper: %w", err)
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			r.log.Warn("watchdog: close scraper", "error", cerr)
		}
	}()

	snap, err = s.Snapshot(ctx, portal.Credentials{Account: req.Account, Password: req.Password}, req.SemesterID)
	if err != nil {
		return nil, fmt.Errorf("watchdog: scrape: %w", err)
	}
	return snap, nil
}

// profileDir creates <tempRoot>/gradewatch/<account>/<id>.
func (r *Runner) profileDir(account string) (string, error) {
	dir := filepath.Join(r.tempRoot, "gradewatch", horosafe.SanitizeSegment(account, "account"), r.newID())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("watchdog: profile dir: %w", err)
	}
	return dir, nil
}
