// Package sched decides when a refresh is due, guarantees at most one
// refresh in flight, and drives the collect-persist-distribute pipeline.
package sched

import (
	"context"
	"sync/atomic"
	"time"

	"daycal/internal/collect"
	"daycal/internal/feed"
	"daycal/internal/model"

	appLog "daycal/internal/log"
)

// CacheStore is the slice of the cache store the scheduler needs.
type CacheStore interface {
	Save(model.Snapshot) error
	LastFetch() (time.Time, bool)
	SetLastFetch(time.Time) error
}

// Options configures a Scheduler.
type Options struct {
	// Interval is the due-ness interval since the last successful fetch.
	Interval time.Duration
	// CollectTimeout bounds each per-category collection independently.
	CollectTimeout time.Duration
	// AutoRefresh gates non-forced refreshes entirely.
	AutoRefresh bool
}

// Scheduler owns the refresh state machine: Idle -> Running -> Idle.
// Idle is both initial and terminal; a failed refresh just returns to
// Idle and waits for the next trigger.
type Scheduler struct {
	collector collect.Collector
	store     CacheStore
	feed      *feed.Feed
	opts      Options

	running atomic.Bool

	// now is swappable for tests.
	now func() time.Time
}

// New creates an idle scheduler.
func New(collector collect.Collector, store CacheStore, f *feed.Feed, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 24 * time.Hour
	}
	if opts.CollectTimeout <= 0 {
		opts.CollectTimeout = 15 * time.Second
	}
	return &Scheduler{
		collector: collector,
		store:     store,
		feed:      f,
		opts:      opts,
		now:       time.Now,
	}
}

// Running reports whether a refresh is currently in flight.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// LastFetch returns the last successful fetch time, if any.
func (s *Scheduler) LastFetch() (time.Time, bool) {
	return s.store.LastFetch()
}

// ShouldRefresh reports whether a non-forced refresh is due: automatic
// refreshing is enabled AND (never fetched OR the interval has elapsed).
func (s *Scheduler) ShouldRefresh() bool {
	if !s.opts.AutoRefresh {
		return false
	}
	last, ok := s.store.LastFetch()
	if !ok {
		return true
	}
	return s.now().Sub(last) >= s.opts.Interval
}

// Fetch triggers a refresh. It returns whether a refresh pass actually
// started; completion is observed through the feed's update stream, not
// here. The call never blocks on collection or persistence.
//
// A non-forced call against a not-due, non-empty cache is a no-op. A call
// of any kind while a refresh is already running is silently dropped
// (single-flight): a result is already pending, nothing is queued.
func (s *Scheduler) Fetch(ctx context.Context, force bool) bool {
	if !force && !s.ShouldRefresh() && !s.feed.Current().Empty() {
		return false
	}

	// Atomic check-and-set so two concurrent calls cannot both start.
	if !s.running.CompareAndSwap(false, true) {
		appLog.Debug("refresh already in flight, trigger dropped")
		return false
	}

	gen := s.feed.Generation()
	go s.run(ctx, gen)
	return true
}

// run executes one refresh pass and returns the scheduler to Idle.
//
// Failed-category policy: retain-last-good. A category whose collection
// fails keeps the event list from the previous snapshot; a category that
// has never been collected stays absent.
func (s *Scheduler) run(ctx context.Context, gen uint64) {
	defer s.running.Store(false)

	started := s.now()
	appLog.Info("refresh starting")

	prev := s.feed.Current()
	next := make(model.Snapshot, len(model.Categories()))

	for _, cat := range model.Categories() {
		events, err := s.collectOne(ctx, cat)
		if err != nil {
			appLog.Error("category collection failed", err, "category", cat)
			if stale, ok := prev[cat]; ok {
				next[cat] = stale
			}
			continue
		}
		next[cat] = events
	}

	// A purge since this pass began wins over the pass: the commit is
	// rejected and nothing is persisted, so the purge is not undone by
	// a stale result.
	if !s.feed.Commit(next, gen) {
		appLog.Info("refresh result discarded", "elapsed", s.now().Sub(started))
		return
	}

	if err := s.store.Save(next); err != nil {
		appLog.Error("snapshot save failed, continuing in memory", err)
	}
	if err := s.store.SetLastFetch(s.now()); err != nil {
		appLog.Error("last-fetch save failed, continuing in memory", err)
	}

	appLog.Info("refresh completed", "categories", len(next), "elapsed", s.now().Sub(started))
}

// collectOne runs a single category collection under its own timeout.
// Exceeding the timeout is that category's failure, not a refresh abort.
func (s *Scheduler) collectOne(ctx context.Context, cat model.Category) ([]model.Event, error) {
	cctx, cancel := context.WithTimeout(ctx, s.opts.CollectTimeout)
	defer cancel()
	return s.collector.Collect(cctx, cat)
}
