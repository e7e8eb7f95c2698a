// Package calendar holds the date arithmetic used by the pipeline engine.
// Everything here is a pure function of its inputs; the only wall-clock read
// lives in System, which callers use to produce the "now" they pass down.
package calendar

import (
	"fmt"
	"strings"
	"time"
)

const (
	Day        = 24 * time.Hour
	DateLayout = "2006-01-02"
)

// StartOfDay truncates t to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// AddDays moves t by n calendar days, keeping the time of day.
func AddDays(t time.Time, n int) time.Time {
	return t.AddDate(0, 0, n)
}

// Elapsed returns how long ago since was, relative to now. It is negative
// when since lies in the future.
func Elapsed(since, now time.Time) time.Duration {
	return now.Sub(since)
}

// DaysBetween returns the number of whole 24h periods from a to b.
func DaysBetween(a, b time.Time) int {
	d := b.Sub(a)
	if d < 0 {
		return -int((-d) / Day)
	}
	return int(d / Day)
}

// Reached reports whether now is at or past anchor + n days.
func Reached(anchor time.Time, n int, now time.Time) bool {
	return !now.Before(AddDays(anchor, n))
}

func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(DateLayout)
}

// ParseTime accepts RFC3339 timestamps or plain dates (midnight UTC).
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: want RFC3339 or %s", s, DateLayout)
	}
	return t, nil
}

// Clock produces the current instant for command handlers.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// System is the wall clock.
var System Clock = systemClock{}

// Fixed always returns the same instant; used by --now and in tests.
type Fixed time.Time

func (f Fixed) Now() time.Time { return time.Time(f) }
