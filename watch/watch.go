// Package watch runs a check on a fixed schedule. It is the auto-refresh
// loop behind "gradewatch watch": one run at a time, a shorter retry
// interval after a failure, counters for observability.
//
// Typical usage:
//
//	s := watch.New(watch.Options{Interval: 20 * time.Minute})
//	go s.Run(ctx, func(ctx context.Context) error { _, err := runner.Run(ctx, req); return err })
package watch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultInterval is the time between two successful checks.
const DefaultInterval = 20 * time.Minute

// Options tunes the schedule.
type Options struct {
	// Interval separates the end of a successful run from the start of the
	// next. Default: DefaultInterval.
	Interval time.Duration
	// Retry separates a failed run from the next attempt. Default:
	// Interval/4, at least one second and at most Interval.
	Retry time.Duration
	// Timeout bounds a single run. 0 means no bound.
	Timeout time.Duration
	// SkipFirst waits one Interval before the first run.
	SkipFirst bool
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Retry <= 0 {
		o.Retry = o.Interval / 4
		if o.Retry < time.Second {
			o.Retry = time.Second
		}
	}
	if o.Retry > o.Interval {
		o.Retry = o.Interval
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Scheduler runs an action periodically. It is safe for concurrent use.
type Scheduler struct {
	opts Options

	// doneMu + doneCond broadcast when a run completes, enabling WaitForRuns.
	doneMu   sync.Mutex
	doneCond *sync.Cond

	runs     atomic.Int64
	failures atomic.Int64
	streak   atomic.Int64
	runNs    atomic.Int64
	lastErr  atomic.Value // string
}

// Stats are point-in-time counters.
type Stats struct {
	Runs             int64         `json:"runs"`
	Failures         int64         `json:"failures"`
	ConsecutiveFails int64         `json:"consecutive_fails"`
	AvgRunTime       time.Duration `json:"avg_run_time"`
	LastError        string        `json:"last_error,omitempty"`
}

// New creates a Scheduler. Call Run to start the loop.
func New(opts Options) *Scheduler {
	opts.defaults()
	s := &Scheduler{opts: opts}
	s.doneCond = sync.NewCond(&s.doneMu)
	return s
}

// Stats returns the current counters.
func (s *Scheduler) Stats() Stats {
	st := Stats{
		Runs:             s.runs.Load(),
		Failures:         s.failures.Load(),
		ConsecutiveFails: s.streak.Load(),
	}
	if st.Runs > 0 {
		st.AvgRunTime = time.Duration(s.runNs.Load() / st.Runs)
	}
	if v, ok := s.lastErr.Load().(string); ok {
		st.LastError = v
	}
	return st
}

// Run blocks until ctx is cancelled, calling action on the schedule. A
// failed action is retried after opts.Retry instead of opts.Interval.
func (s *Scheduler) Run(ctx context.Context, action func(context.Context) error) {
	log := s.opts.Logger
	log.Info("watch: started", "interval", s.opts.Interval, "retry", s.opts.Retry)

	wait := time.Duration(0)
	if s.opts.SkipFirst {
		wait = s.opts.Interval
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("watch: stopped")
			return
		case <-timer.C:
		}

		next := s.opts.Interval
		if err := s.fire(ctx, log, action); err != nil {
			if ctx.Err() != nil {
				log.Info("watch: stopped")
				return
			}
			next = s.opts.Retry
		}
		log.Debug("watch: next run", "in", next)
		timer.Reset(next)
	}
}

// WaitForRuns blocks until at least n runs have completed, successful or
// not, or ctx expires.
func (s *Scheduler) WaitForRuns(ctx context.Context, n int64) error {
	if s.runs.Load() >= n {
		return nil
	}

	done := ctx.Done()
	s.doneMu.Lock()
	defer s.doneMu.Unlock()

	for s.runs.Load() < n {
		ch := make(chan struct{})
		go func() {
			select {
			case <-done:
				s.doneCond.Broadcast()
			case <-ch:
			}
		}()

		s.doneCond.Wait()
		close(ch)

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

func (s *Scheduler) fire(ctx context.Context, log *slog.Logger, action func(context.Context) error) error {
	runCtx := ctx
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := action(runCtx)
	elapsed := time.Since(start)
	s.runNs.Add(int64(elapsed))

	if err != nil {
		s.failures.Add(1)
		streak := s.streak.Add(1)
		s.lastErr.Store(err.Error())
		log.Error("watch: run failed", "error", err, "consecutive", streak, "duration", elapsed)
	} else {
		s.streak.Store(0)
		s.lastErr.Store("")
		log.Info("watch: run complete", "duration", elapsed)
	}

	s.doneMu.Lock()
	s.runs.Add(1)
	s.doneMu.Unlock()
	s.doneCond.Broadcast()
	return err
}
