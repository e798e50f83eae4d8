package model

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"
)

// Category classifies calendar content. The set is closed; each category is
// bound to exactly one remote source location.
type Category string

const (
	CategoryHolidays        Category = "holidays"
	CategoryFlagDays        Category = "flag-days"
	CategoryUNDays          Category = "un-days"
	CategoryEveNights       Category = "eve-nights"
	CategoryThemedDays      Category = "themed-days"
	CategoryInformationDays Category = "information-days"
)

// Categories lists all known categories in fixed order.
func Categories() []Category {
	return []Category{
		CategoryHolidays,
		CategoryFlagDays,
		CategoryUNDays,
		CategoryEveNights,
		CategoryThemedDays,
		CategoryInformationDays,
	}
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryHolidays, CategoryFlagDays, CategoryUNDays,
		CategoryEveNights, CategoryThemedDays, CategoryInformationDays:
		return true
	}
	return false
}

// Event is a single calendar entry. Events are immutable value objects;
// a refresh replaces whole per-category lists, never individual events.
type Event struct {
	Title    string    `json:"title"`
	Date     time.Time `json:"date"`
	Category Category  `json:"category"`
}

// ID derives a stable identifier from the event's identity tuple
// (category, title, date). No surrogate key is persisted.
func (e Event) ID() string {
	sum := sha256.Sum256([]byte(string(e.Category) + "|" + e.Title + "|" + e.Date.Format("2006-01-02")))
	return hex.EncodeToString(sum[:8])
}

// On reports whether the event falls on the same calendar day as t.
// Time of day is irrelevant.
func (e Event) On(t time.Time) bool {
	return SameDay(e.Date, t)
}

// SameDay reports calendar-day equality between a and b.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Snapshot maps each category to its events, sorted ascending by date.
// A category absent from the map has not been fetched yet; a present empty
// slice means "fetched, empty".
type Snapshot map[Category][]Event

// Empty reports whether no category has been fetched.
func (s Snapshot) Empty() bool {
	return len(s) == 0
}

// Clone returns a deep copy of the snapshot so callers can hand it out
// without sharing the underlying slices.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	out := make(Snapshot, len(s))
	for cat, events := range s {
		cp := make([]Event, len(events))
		copy(cp, events)
		out[cat] = cp
	}
	return out
}

// EventsOn returns the events in the given categories that fall on the
// calendar day of date, sorted ascending by date. Unknown or unfetched
// categories contribute nothing; the result is never nil.
func (s Snapshot) EventsOn(date time.Time, categories []Category) []Event {
	out := make([]Event, 0)
	for _, cat := range categories {
		for _, ev := range s[cat] {
			if ev.On(date) {
				out = append(out, ev)
			}
		}
	}
	SortEvents(out)
	return out
}

// IsHoliday reports whether the holidays category contains an event on the
// calendar day of date.
func (s Snapshot) IsHoliday(date time.Time) bool {
	for _, ev := range s[CategoryHolidays] {
		if ev.On(date) {
			return true
		}
	}
	return false
}

// SortEvents sorts events ascending by date, then by title for equal dates
// so ordering is deterministic.
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Date.Equal(events[j].Date) {
			return events[i].Date.Before(events[j].Date)
		}
		return events[i].Title < events[j].Title
	})
}
