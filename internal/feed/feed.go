// Package feed holds the current snapshot as shared observable state and
// broadcasts every committed update to subscribers.
package feed

import (
	"sync"
	"time"

	"daycal/internal/model"

	appLog "daycal/internal/log"
)

// subscriberBuffer is the per-subscriber channel capacity. A subscriber
// that stops draining loses its oldest pending update rather than wedging
// the committer.
const subscriberBuffer = 16

// Purger is the slice of the cache store the feed needs for Purge.
type Purger interface {
	Delete() error
	ClearLastFetch() error
}

// Feed distributes snapshots. The scheduler's commit and Purge are the
// only writers; reads and new subscriptions may happen concurrently from
// any number of goroutines. The snapshot is swapped whole, never edited
// in place, so readers never observe a partial update.
type Feed struct {
	store Purger

	mu     sync.RWMutex
	snap   model.Snapshot
	gen    uint64
	subs   map[int]chan model.Snapshot
	nextID int
}

// New creates a feed seeded with the given snapshot (typically whatever
// the cache store loaded at startup; may be empty).
func New(store Purger, initial model.Snapshot) *Feed {
	if initial == nil {
		initial = model.Snapshot{}
	}
	return &Feed{
		store: store,
		snap:  initial,
		subs:  make(map[int]chan model.Snapshot),
	}
}

// Current returns the latest committed snapshot.
func (f *Feed) Current() model.Snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.snap
}

// Generation returns the purge generation. The scheduler captures it when
// a refresh starts; Commit rejects results from before a later purge.
func (f *Feed) Generation() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.gen
}

// Subscribe registers a new subscriber. The current snapshot is delivered
// immediately, then every subsequent committed update in commit order.
// The stream never completes on its own; the returned func unsubscribes
// and closes the channel.
func (f *Feed) Subscribe() (<-chan model.Snapshot, func()) {
	ch := make(chan model.Snapshot, subscriberBuffer)

	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = ch
	ch <- f.snap // replay current state
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if sub, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Query returns the events in the given categories falling on the calendar
// day of date, sorted ascending. A pure derivation over Current; never an
// error, an empty cache just yields an empty result.
func (f *Feed) Query(date time.Time, categories []model.Category) []model.Event {
	return f.Current().EventsOn(date, categories)
}

// IsHoliday reports whether the holidays category has an event on the
// calendar day of date.
func (f *Feed) IsHoliday(date time.Time) bool {
	return f.Current().IsHoliday(date)
}

// Commit installs a freshly collected snapshot and broadcasts it. It
// returns false, leaving all state untouched, when a purge happened after
// gen was captured; the caller must then discard the result entirely.
func (f *Feed) Commit(snap model.Snapshot, gen uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.gen != gen {
		appLog.Info("discarding refresh committed after purge", "commit_gen", gen, "current_gen", f.gen)
		return false
	}
	f.snap = snap
	f.broadcastLocked(snap)
	return true
}

// Purge clears the held snapshot, deletes the persisted cache state and
// timestamp, and emits the empty snapshot as a normal update.
func (f *Feed) Purge() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.snap = model.Snapshot{}
	f.gen++

	if err := f.store.Delete(); err != nil {
		appLog.Error("cache delete failed", err)
	}
	if err := f.store.ClearLastFetch(); err != nil {
		appLog.Error("clearing last-fetch timestamp failed", err)
	}

	f.broadcastLocked(f.snap)
}

// broadcastLocked sends snap to every subscriber. Sends are non-blocking;
// on a full buffer the oldest pending update is dropped so the newest
// state always gets through.
func (f *Feed) broadcastLocked(snap model.Snapshot) {
	for id, ch := range f.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
				appLog.Debug("subscriber not draining, update dropped", "subscriber", id)
			}
		}
	}
}
