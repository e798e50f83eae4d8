package collect

import (
	"bytes"
	"encoding/csv"
	"errors"
	"strings"
	"time"

	"daycal/internal/model"

	appLog "daycal/internal/log"
)

// rowDateLayout is the date format used by the remote row payload.
const rowDateLayout = "2006-01-02"

// ParseRows parses a source payload into events for one category.
//
// The payload is a semicolon-separated row structure, one "date;title"
// record per row. The first row is a header and is always skipped. Rows
// whose date fails to parse are skipped and logged, not fatal. Output is
// sorted ascending by date regardless of source order.
func ParseRows(cat model.Category, body []byte) ([]model.Event, error) {
	if len(body) == 0 {
		return nil, errors.New("empty source body")
	}

	r := csv.NewReader(bytes.NewReader(body))
	r.Comma = ';'
	r.FieldsPerRecord = -1

	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.New("source has no rows")
	}

	// rows[0] is the structural header.
	events := make([]model.Event, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) < 2 {
			appLog.Debug("skipping malformed row", "category", cat, "fields", len(row))
			continue
		}

		dateStr := strings.TrimSpace(row[0])
		title := strings.TrimSpace(row[1])
		if title == "" {
			continue
		}

		date, perr := time.Parse(rowDateLayout, dateStr)
		if perr != nil {
			// Skip this row, keep parsing the rest.
			appLog.Error("row date parse failed", perr, "category", cat, "date", dateStr)
			continue
		}

		events = append(events, model.Event{
			Title:    title,
			Date:     date,
			Category: cat,
		})
	}

	model.SortEvents(events)
	return events, nil
}
