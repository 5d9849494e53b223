// Package period turns named dashboard filters (day, week, month, year) or
// explicit custom bounds into concrete inclusive time windows.
package period

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidRange = errors.New("start date must not be after end date")

type Kind string

const (
	Day   Kind = "day"
	Week  Kind = "week"
	Month Kind = "month"
	Year  Kind = "year"
)

// Window is an inclusive [Start, End] pair, Start <= End.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

func ParseKind(raw string) (Kind, error) {
	switch Kind(raw) {
	case Day, Week, Month, Year:
		return Kind(raw), nil
	}
	return "", fmt.Errorf("unknown period %q", raw)
}

// Resolve computes the calendar window containing now for the given kind.
// It is a pure function of (kind, now): callers inject the clock.
func Resolve(kind Kind, now time.Time) Window {
	switch kind {
	case Week:
		// Sunday opens the week.
		first := now.AddDate(0, 0, -int(now.Weekday()))
		return Window{Start: startOfDay(first), End: endOfDay(first.AddDate(0, 0, 6))}
	case Month:
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		// Day 0 of the next month is the last day of this one.
		return Window{Start: start, End: endOfDay(start.AddDate(0, 1, -1))}
	case Year:
		start := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location())
		end := time.Date(now.Year(), time.December, 31, 0, 0, 0, 0, now.Location())
		return Window{Start: start, End: endOfDay(end)}
	default:
		return Window{Start: startOfDay(now), End: endOfDay(now)}
	}
}

// Custom builds a full-day inclusive window from explicit bounds. Both bounds
// are widened to cover their whole calendar day, mirroring how the dashboard's
// date inputs carry no time of day. Start after end is rejected before any
// resolver or repository sees the window.
func Custom(start, end time.Time) (Window, error) {
	s := startOfDay(start)
	e := endOfDay(end)
	if s.After(e) {
		return Window{}, ErrInvalidRange
	}
	return Window{Start: s, End: e}, nil
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, int(time.Second-time.Nanosecond), t.Location())
}
