package web

import (
	"net/http"
	"time"

	ical "github.com/arran4/golang-ical"

	"daycal/internal/model"
)

const icsProductID = "-//daycal//calendar//EN"

// handleICS exports the requested categories as an iCalendar feed of
// all-day events, so the cached calendar can be subscribed to from any
// calendar client.
func (s *Server) handleICS(w http.ResponseWriter, r *http.Request) {
	cats, ok := parseCategoriesParam(w, r)
	if !ok {
		return
	}

	snap := s.feed.Current()
	events := make([]model.Event, 0)
	for _, cat := range cats {
		events = append(events, snap[cat]...)
	}
	model.SortEvents(events)

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(icsProductID)

	now := time.Now().UTC()
	for _, ev := range events {
		ve := cal.AddEvent(ev.ID() + "@daycal")
		ve.SetDtStampTime(now)
		ve.SetAllDayStartAt(ev.Date)
		ve.SetAllDayEndAt(ev.Date.AddDate(0, 0, 1))
		ve.SetSummary(ev.Title)
		ve.SetDescription(string(ev.Category))
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename=daycal.ics`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(cal.Serialize()))
}
