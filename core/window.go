package core

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnrecognizedSelection is returned when a window, granularity or mode
// value is outside its fixed set.
var ErrUnrecognizedSelection = errors.New("unrecognized selection")

// Window selects how far back a chart looks.
type Window string

const (
	LastHour      Window = "last_hour"
	LastFiveHours Window = "last_five_hours"
	LastDay       Window = "last_day"
	LastThreeDays Window = "last_three_days"
)

// AllWindows returns the supported windows, shortest first.
func AllWindows() []Window {
	return []Window{LastHour, LastFiveHours, LastDay, LastThreeDays}
}

func ParseWindow(s string) (Window, error) {
	w := Window(s)
	if _, err := w.Hours(); err != nil {
		return "", err
	}
	return w, nil
}

// Hours returns the length of the window in hours.
func (w Window) Hours() (int, error) {
	switch w {
	case LastHour:
		return 1, nil
	case LastFiveHours:
		return 5, nil
	case LastDay:
		return 24, nil
	case LastThreeDays:
		return 72, nil
	default:
		return 0, fmt.Errorf("window %q: %w", string(w), ErrUnrecognizedSelection)
	}
}

// Minutes returns the length of the window in minutes.
func (w Window) Minutes() (int, error) {
	h, err := w.Hours()
	if err != nil {
		return 0, err
	}
	return h * 60, nil
}

func (w Window) Duration() (time.Duration, error) {
	h, err := w.Hours()
	if err != nil {
		return 0, err
	}
	return time.Duration(h) * time.Hour, nil
}

// Millis returns the window length in milliseconds, the unit the dashboard
// compares event ages in.
func (w Window) Millis() (int64, error) {
	d, err := w.Duration()
	if err != nil {
		return 0, err
	}
	return d.Milliseconds(), nil
}

func (w Window) String() string {
	return string(w)
}

// Granularity selects the bucket width.
type Granularity string

const (
	Hours   Granularity = "hours"
	Minutes Granularity = "minutes"
)

func ParseGranularity(s string) (Granularity, error) {
	g := Granularity(s)
	if err := g.validate(); err != nil {
		return "", err
	}
	return g, nil
}

func (g Granularity) validate() error {
	switch g {
	case Hours, Minutes:
		return nil
	default:
		return fmt.Errorf("granularity %q: %w", string(g), ErrUnrecognizedSelection)
	}
}

func (g Granularity) String() string {
	return string(g)
}

// DayMode selects how bucket days are derived when a walk crosses into
// earlier days.
type DayMode int

const (
	// DayHeuristic wraps day-of-month underflow assuming the previous month
	// has 31 days (0 -> 31, -1 -> 30, -2 -> 29). Timestamps match on
	// day-of-month only.
	DayHeuristic DayMode = iota
	// DayCalendar uses real calendar arithmetic and matches on the full date.
	DayCalendar
)

func ParseDayMode(s string) (DayMode, error) {
	switch s {
	case "", "heuristic":
		return DayHeuristic, nil
	case "calendar":
		return DayCalendar, nil
	default:
		return 0, fmt.Errorf("day mode %q: %w", s, ErrUnrecognizedSelection)
	}
}

func (m DayMode) String() string {
	if m == DayCalendar {
		return "calendar"
	}
	return "heuristic"
}

// CountMode selects whether buckets carry a running total or their own count.
type CountMode int

const (
	// CountCumulative never resets the counter during a call, so the series
	// is a running total.
	CountCumulative CountMode = iota
	// CountPerBucket reports only the matches of each bucket.
	CountPerBucket
)

func ParseCountMode(s string) (CountMode, error) {
	switch s {
	case "", "cumulative":
		return CountCumulative, nil
	case "per_bucket":
		return CountPerBucket, nil
	default:
		return 0, fmt.Errorf("counting %q: %w", s, ErrUnrecognizedSelection)
	}
}

func (m CountMode) String() string {
	if m == CountPerBucket {
		return "per_bucket"
	}
	return "cumulative"
}
