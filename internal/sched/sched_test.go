package sched

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daycal/internal/feed"
	"daycal/internal/model"
	"daycal/internal/store"
)

// fakeCollector serves canned events per category and can fail or block
// selected categories.
type fakeCollector struct {
	mu     sync.Mutex
	calls  map[model.Category]int
	events map[model.Category][]model.Event
	fail   map[model.Category]error
	block  map[model.Category]chan struct{} // Collect waits for close or ctx
}

func newFakeCollector() *fakeCollector {
	return &fakeCollector{
		calls:  make(map[model.Category]int),
		events: make(map[model.Category][]model.Event),
		fail:   make(map[model.Category]error),
		block:  make(map[model.Category]chan struct{}),
	}
}

// blockAll makes every category wait on ch.
func (c *fakeCollector) blockAll(ch chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cat := range model.Categories() {
		c.block[cat] = ch
	}
}

func (c *fakeCollector) Collect(ctx context.Context, cat model.Category) ([]model.Event, error) {
	c.mu.Lock()
	c.calls[cat]++
	block := c.block[cat]
	err := c.fail[cat]
	events := c.events[cat]
	c.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (c *fakeCollector) callCount(cat model.Category) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[cat]
}

func (c *fakeCollector) totalCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.calls {
		n += v
	}
	return n
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func holidayEvents() []model.Event {
	return []model.Event{
		{Title: "New Year", Date: date(2024, 1, 1), Category: model.CategoryHolidays},
	}
}

type fixture struct {
	collector *fakeCollector
	store     *store.Store
	feed      *feed.Feed
	sched     *Scheduler
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	collector := newFakeCollector()
	st := store.New(t.TempDir())
	f := feed.New(st, nil)
	s := New(collector, st, f, opts)
	return &fixture{collector: collector, store: st, feed: f, sched: s}
}

func waitIdle(t *testing.T, s *Scheduler) {
	t.Helper()
	require.Eventually(t, func() bool { return !s.Running() },
		2*time.Second, 5*time.Millisecond, "scheduler did not return to idle")
}

func TestShouldRefresh(t *testing.T) {
	fx := newFixture(t, Options{Interval: 24 * time.Hour, AutoRefresh: true})

	// Never fetched.
	assert.True(t, fx.sched.ShouldRefresh())

	// Fresh fetch: not due.
	require.NoError(t, fx.store.SetLastFetch(time.Now()))
	assert.False(t, fx.sched.ShouldRefresh())

	// Just under the interval: still not due.
	require.NoError(t, fx.store.SetLastFetch(time.Now().Add(-23*time.Hour)))
	assert.False(t, fx.sched.ShouldRefresh())

	// Past the interval: due.
	require.NoError(t, fx.store.SetLastFetch(time.Now().Add(-25*time.Hour)))
	assert.True(t, fx.sched.ShouldRefresh())
}

func TestShouldRefresh_AutoRefreshDisabled(t *testing.T) {
	fx := newFixture(t, Options{Interval: 24 * time.Hour, AutoRefresh: false})
	assert.False(t, fx.sched.ShouldRefresh())
}

func TestFetch_StaleCacheRefreshes(t *testing.T) {
	fx := newFixture(t, Options{Interval: 24 * time.Hour, AutoRefresh: true})
	fx.collector.events[model.CategoryHolidays] = holidayEvents()

	// 25h-old fetch with a non-empty snapshot: due.
	require.True(t, fx.feed.Commit(model.Snapshot{model.CategoryHolidays: {}}, fx.feed.Generation()))
	require.NoError(t, fx.store.SetLastFetch(time.Now().Add(-25*time.Hour)))

	before := time.Now()
	require.True(t, fx.sched.Fetch(context.Background(), false))
	waitIdle(t, fx.sched)

	// One collection pass across all categories.
	assert.Equal(t, len(model.Categories()), fx.collector.totalCalls())

	// Snapshot updated and distributed.
	snap := fx.feed.Current()
	assert.Equal(t, holidayEvents(), snap[model.CategoryHolidays])

	// Timestamp stamped to now; no longer due.
	last, ok := fx.sched.LastFetch()
	require.True(t, ok)
	assert.False(t, last.Before(before))
	assert.False(t, fx.sched.ShouldRefresh())

	// Result was persisted.
	persisted, err := fx.store.Load()
	require.NoError(t, err)
	assert.Equal(t, snap, persisted)
}

func TestFetch_NotDueNonEmptyIsNoOp(t *testing.T) {
	fx := newFixture(t, Options{Interval: 24 * time.Hour, AutoRefresh: true})

	require.True(t, fx.feed.Commit(model.Snapshot{model.CategoryHolidays: holidayEvents()}, fx.feed.Generation()))
	require.NoError(t, fx.store.SetLastFetch(time.Now()))

	assert.False(t, fx.sched.Fetch(context.Background(), false))
	assert.Equal(t, 0, fx.collector.totalCalls())
}

func TestFetch_EmptyCacheRefreshesEvenWhenNotDue(t *testing.T) {
	fx := newFixture(t, Options{Interval: 24 * time.Hour, AutoRefresh: true})
	fx.collector.events[model.CategoryHolidays] = holidayEvents()

	// Timestamp is fresh but nothing is cached.
	require.NoError(t, fx.store.SetLastFetch(time.Now()))

	require.True(t, fx.sched.Fetch(context.Background(), false))
	waitIdle(t, fx.sched)
	assert.False(t, fx.feed.Current().Empty())
}

func TestFetch_ForceBypassesDueness(t *testing.T) {
	fx := newFixture(t, Options{Interval: 24 * time.Hour, AutoRefresh: true})

	require.True(t, fx.feed.Commit(model.Snapshot{model.CategoryHolidays: holidayEvents()}, fx.feed.Generation()))
	require.NoError(t, fx.store.SetLastFetch(time.Now()))

	require.True(t, fx.sched.Fetch(context.Background(), true))
	waitIdle(t, fx.sched)
	assert.Equal(t, len(model.Categories()), fx.collector.totalCalls())
}

func TestFetch_SingleFlight(t *testing.T) {
	fx := newFixture(t, Options{Interval: 24 * time.Hour, AutoRefresh: true, CollectTimeout: 5 * time.Second})
	gate := make(chan struct{})
	fx.collector.blockAll(gate)

	require.True(t, fx.sched.Fetch(context.Background(), true))
	require.Eventually(t, func() bool { return fx.sched.Running() },
		time.Second, time.Millisecond)

	// A second fetch while running is silently dropped, forced or not.
	assert.False(t, fx.sched.Fetch(context.Background(), true))
	assert.False(t, fx.sched.Fetch(context.Background(), false))

	close(gate)
	waitIdle(t, fx.sched)

	// Exactly one pass ran: each category collected once.
	for _, cat := range model.Categories() {
		assert.Equal(t, 1, fx.collector.callCount(cat), "category %q", cat)
	}

	// Idle again: a new trigger is accepted.
	assert.True(t, fx.sched.Fetch(context.Background(), true))
	waitIdle(t, fx.sched)
}

func TestFetch_FailedCategoryRetainsLastGood(t *testing.T) {
	fx := newFixture(t, Options{Interval: 24 * time.Hour, AutoRefresh: true})

	stale := holidayEvents()
	require.True(t, fx.feed.Commit(model.Snapshot{model.CategoryHolidays: stale}, fx.feed.Generation()))

	fx.collector.fail[model.CategoryHolidays] = errors.New("source timeout")
	fx.collector.events[model.CategoryFlagDays] = []model.Event{
		{Title: "Flag Day", Date: date(2024, 6, 4), Category: model.CategoryFlagDays},
	}

	require.True(t, fx.sched.Fetch(context.Background(), true))
	waitIdle(t, fx.sched)

	snap := fx.feed.Current()
	// Other categories landed.
	assert.Len(t, snap[model.CategoryFlagDays], 1)
	// The failed category keeps its previous value.
	assert.Equal(t, stale, snap[model.CategoryHolidays])
	// Refresh still counted as successful.
	_, ok := fx.sched.LastFetch()
	assert.True(t, ok)
}

func TestFetch_FailedCategoryNeverFetchedStaysAbsent(t *testing.T) {
	fx := newFixture(t, Options{Interval: 24 * time.Hour, AutoRefresh: true})

	fx.collector.fail[model.CategoryHolidays] = errors.New("boom")
	fx.collector.events[model.CategoryFlagDays] = []model.Event{
		{Title: "Flag Day", Date: date(2024, 6, 4), Category: model.CategoryFlagDays},
	}

	require.True(t, fx.sched.Fetch(context.Background(), true))
	waitIdle(t, fx.sched)

	snap := fx.feed.Current()
	_, present := snap[model.CategoryHolidays]
	assert.False(t, present, "never-collected failed category must stay absent")
	assert.Len(t, snap[model.CategoryFlagDays], 1)
}

func TestFetch_CategoryTimeoutIsIsolated(t *testing.T) {
	fx := newFixture(t, Options{Interval: 24 * time.Hour, AutoRefresh: true, CollectTimeout: 20 * time.Millisecond})

	// Holidays blocks past its timeout; everything else answers.
	blocked := make(chan struct{})
	t.Cleanup(func() { close(blocked) })
	fx.collector.block[model.CategoryHolidays] = blocked
	fx.collector.events[model.CategoryFlagDays] = []model.Event{
		{Title: "Flag Day", Date: date(2024, 6, 4), Category: model.CategoryFlagDays},
	}

	require.True(t, fx.sched.Fetch(context.Background(), true))
	waitIdle(t, fx.sched)

	snap := fx.feed.Current()
	assert.Len(t, snap[model.CategoryFlagDays], 1)
	_, present := snap[model.CategoryHolidays]
	assert.False(t, present)
}

func TestFetch_PurgeDuringRefreshWins(t *testing.T) {
	fx := newFixture(t, Options{Interval: 24 * time.Hour, AutoRefresh: true, CollectTimeout: 5 * time.Second})
	fx.collector.events[model.CategoryHolidays] = holidayEvents()
	gate := make(chan struct{})
	fx.collector.blockAll(gate)

	require.True(t, fx.sched.Fetch(context.Background(), true))
	require.Eventually(t, func() bool { return fx.sched.Running() },
		time.Second, time.Millisecond)

	// Purge while the refresh is in flight.
	fx.feed.Purge()

	close(gate)
	waitIdle(t, fx.sched)

	// The stale result was discarded: snapshot stays empty, nothing
	// persisted, timestamp still clear.
	assert.True(t, fx.feed.Current().Empty())
	persisted, err := fx.store.Load()
	require.NoError(t, err)
	assert.True(t, persisted.Empty())
	_, ok := fx.sched.LastFetch()
	assert.False(t, ok)
}
