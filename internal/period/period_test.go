package period

import (
	"testing"
	"time"
)

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.ParseInLocation("2006-01-02T15:04:05", value, time.Local)
	if err != nil {
		t.Fatalf("parse %s: %v", value, err)
	}
	return parsed
}

func TestResolveDay(t *testing.T) {
	now := mustTime(t, "2024-06-10T12:00:00")
	w := Resolve(Day, now)

	if w.Start.Year() != 2024 || w.Start.Month() != time.June || w.Start.Day() != 10 {
		t.Fatalf("day window start on wrong date: %v", w.Start)
	}
	if w.Start.Hour() != 0 || w.Start.Minute() != 0 || w.Start.Second() != 0 {
		t.Fatalf("day window should open at midnight, got %v", w.Start)
	}
	if w.End.Day() != 10 || w.End.Hour() != 23 || w.End.Minute() != 59 {
		t.Fatalf("day window should close at end of same date, got %v", w.End)
	}
}

func TestResolveWeekStartsSunday(t *testing.T) {
	// 2024-06-12 is a Wednesday; its week runs Sun 09 through Sat 15.
	now := mustTime(t, "2024-06-12T09:30:00")
	w := Resolve(Week, now)

	if w.Start.Weekday() != time.Sunday {
		t.Fatalf("week should start on Sunday, got %v", w.Start.Weekday())
	}
	if w.Start.Day() != 9 {
		t.Fatalf("expected week start on the 9th, got %v", w.Start)
	}
	if w.End.Weekday() != time.Saturday || w.End.Day() != 15 {
		t.Fatalf("expected week end Saturday the 15th, got %v", w.End)
	}
}

func TestResolveWeekWhenNowIsSunday(t *testing.T) {
	now := mustTime(t, "2024-06-09T08:00:00")
	w := Resolve(Week, now)
	if w.Start.Day() != 9 || w.End.Day() != 15 {
		t.Fatalf("sunday should anchor its own week, got %v .. %v", w.Start, w.End)
	}
}

func TestResolveMonthEdges(t *testing.T) {
	cases := []struct {
		now     string
		lastDay int
	}{
		{"2024-02-15T10:00:00", 29}, // leap year
		{"2023-02-15T10:00:00", 28},
		{"2024-06-01T00:00:00", 30},
		{"2024-12-31T23:00:00", 31},
	}
	for _, tc := range cases {
		w := Resolve(Month, mustTime(t, tc.now))
		if w.Start.Day() != 1 {
			t.Fatalf("%s: month window must start on day 1, got %v", tc.now, w.Start)
		}
		if w.End.Day() != tc.lastDay {
			t.Fatalf("%s: expected last day %d, got %v", tc.now, tc.lastDay, w.End)
		}
	}
}

func TestResolveYear(t *testing.T) {
	now := mustTime(t, "2024-07-04T18:00:00")
	w := Resolve(Year, now)
	if w.Start.Month() != time.January || w.Start.Day() != 1 {
		t.Fatalf("year window should start Jan 1, got %v", w.Start)
	}
	if w.End.Month() != time.December || w.End.Day() != 31 {
		t.Fatalf("year window should end Dec 31, got %v", w.End)
	}
}

func TestResolveStartNeverAfterEnd(t *testing.T) {
	now := mustTime(t, "2024-06-10T12:00:00")
	for _, kind := range []Kind{Day, Week, Month, Year} {
		w := Resolve(kind, now)
		if w.Start.After(w.End) {
			t.Fatalf("%s: start %v after end %v", kind, w.Start, w.End)
		}
		if !w.Contains(now) {
			t.Fatalf("%s: window should contain now", kind)
		}
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	now := mustTime(t, "2024-03-31T23:59:59")
	first := Resolve(Month, now)
	second := Resolve(Month, now)
	if !first.Start.Equal(second.Start) || !first.End.Equal(second.End) {
		t.Fatalf("resolve must be pure: %v vs %v", first, second)
	}
}

func TestCustomWidensToFullDays(t *testing.T) {
	start := mustTime(t, "2024-06-01T14:00:00")
	end := mustTime(t, "2024-06-03T09:00:00")

	w, err := Custom(start, end)
	if err != nil {
		t.Fatalf("custom: %v", err)
	}
	if w.Start.Hour() != 0 || w.End.Hour() != 23 {
		t.Fatalf("custom window should cover whole days, got %v .. %v", w.Start, w.End)
	}
}

func TestCustomRejectsInvertedRange(t *testing.T) {
	start := mustTime(t, "2024-06-10T00:00:00")
	end := mustTime(t, "2024-06-01T00:00:00")
	if _, err := Custom(start, end); err != ErrInvalidRange {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
}

func TestCustomSameDayIsValid(t *testing.T) {
	day := mustTime(t, "2024-06-10T16:45:00")
	w, err := Custom(day, day)
	if err != nil {
		t.Fatalf("same-day custom range should be valid: %v", err)
	}
	if !w.Contains(day) {
		t.Fatalf("window should contain the day itself")
	}
}

func TestParseKind(t *testing.T) {
	for _, raw := range []string{"day", "week", "month", "year"} {
		if _, err := ParseKind(raw); err != nil {
			t.Fatalf("parse %s: %v", raw, err)
		}
	}
	if _, err := ParseKind("quarter"); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}
