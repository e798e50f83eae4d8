// Package collect retrieves and parses remote calendar sources, one
// category at a time.
package collect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"daycal/internal/model"

	appLog "daycal/internal/log"
)

// Collector produces the event list for one category, or fails. Failures
// are per category; the caller decides how a failed category degrades.
type Collector interface {
	Collect(ctx context.Context, cat model.Category) ([]model.Event, error)
}

// sourcePaths maps each category to its fixed path on the remote site.
// The base URL comes from configuration; the paths are constants.
var sourcePaths = map[model.Category]string{
	model.CategoryHolidays:        "/holidays.csv",
	model.CategoryFlagDays:        "/flag-days.csv",
	model.CategoryUNDays:          "/un-days.csv",
	model.CategoryEveNights:       "/eve-nights.csv",
	model.CategoryThemedDays:      "/themed-days.csv",
	model.CategoryInformationDays: "/information-days.csv",
}

// HTTPCollector fetches category sources over HTTP and parses the row
// payload. It is stateless; one instance serves all categories.
type HTTPCollector struct {
	client *http.Client
	base   string
}

// NewHTTPCollector creates a collector rooted at the given base URL.
func NewHTTPCollector(base string) *HTTPCollector {
	return &HTTPCollector{
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		base: base,
	}
}

// Collect retrieves and parses the source for one category. The returned
// events are sorted ascending by date regardless of source order.
func (h *HTTPCollector) Collect(ctx context.Context, cat model.Category) ([]model.Event, error) {
	path, ok := sourcePaths[cat]
	if !ok {
		return nil, fmt.Errorf("unknown category %q", cat)
	}
	url := h.base + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	appLog.Debug("collect start", "category", cat, "url", url)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New(resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	events, err := ParseRows(cat, body)
	if err != nil {
		return nil, err
	}

	appLog.Info("collect completed", "category", cat, "event_count", len(events))
	return events, nil
}
