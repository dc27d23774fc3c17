// Package dates models the date parameter accepted by every data-facing
// operation: either the "latest" sentinel or one concrete calendar date.
package dates

import (
	"fmt"
	"strings"
	"time"
)

// Query is a requested date: the latest snapshot, or a specific day.
// The zero value is Latest.
type Query struct {
	onDate bool
	date   time.Time
}

func Latest() Query { return Query{} }

// On requests a concrete calendar day. The time component is dropped.
func On(d time.Time) Query {
	return Query{onDate: true, date: time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)}
}

func (q Query) IsLatest() bool { return !q.onDate }

// Date returns the requested day. Only meaningful when !IsLatest().
func (q Query) Date() time.Time { return q.date }

func (q Query) String() string {
	if q.IsLatest() {
		return "latest"
	}
	return q.date.Format("2006-01-02")
}

// Accepted input formats, tried in order.
var inputFormats = []string{
	"2006-01-02",
	"02/01/2006",
	"02-01-2006",
	"2006/01/02",
	"02.01.2006",
}

// ParseInput parses a user-supplied date string. Empty input and "latest" map
// to the Latest query. Dates outside [historicalStart, today] are rejected, so
// the core only ever sees a valid day or the sentinel.
func ParseInput(input string, historicalStart, now time.Time) (Query, error) {
	input = strings.TrimSpace(input)
	if input == "" || strings.EqualFold(input, "latest") {
		return Latest(), nil
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	start := time.Date(historicalStart.Year(), historicalStart.Month(), historicalStart.Day(), 0, 0, 0, 0, time.UTC)

	for _, format := range inputFormats {
		parsed, err := time.Parse(format, input)
		if err != nil {
			continue
		}
		q := On(parsed)
		if q.date.Before(start) || q.date.After(today) {
			return Query{}, fmt.Errorf("date %s outside valid range %s to %s",
				q, start.Format("2006-01-02"), today.Format("2006-01-02"))
		}
		return q, nil
	}

	return Query{}, fmt.Errorf("invalid date format: %q", input)
}
