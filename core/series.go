package core

import (
	"fmt"
	"slices"
	"time"
)

const (
	minutesPerDay = 24 * 60
	threeDaySpans = 3
)

// Bucket is one labeled slot of a chart series.
type Bucket struct {
	Count int    `json:"count"`
	Label string `json:"label"`
}

// Query carries every input of a bucketing run. Now is the reference instant;
// its Location is the calendar both bucket slots and timestamps are read in.
type Query struct {
	Window      Window
	Granularity Granularity
	Now         time.Time
	Days        DayMode
	Counting    CountMode
}

func (q Query) validate() error {
	if _, err := q.Window.Hours(); err != nil {
		return err
	}
	if err := q.Granularity.validate(); err != nil {
		return err
	}
	if q.Days != DayHeuristic && q.Days != DayCalendar {
		return fmt.Errorf("day mode %d: %w", int(q.Days), ErrUnrecognizedSelection)
	}
	if q.Counting != CountCumulative && q.Counting != CountPerBucket {
		return fmt.Errorf("counting %d: %w", int(q.Counting), ErrUnrecognizedSelection)
	}
	return nil
}

// slot is the calendar identity of a bucket. year and month stay zero in
// DayHeuristic mode, where only the day-of-month is compared.
type slot struct {
	year   int
	month  time.Month
	day    int
	hour   int
	minute int
}

func (s slot) label(withDay bool) string {
	if withDay {
		return fmt.Sprintf("%02d / %02d:%02d", s.day, s.hour, s.minute)
	}
	return fmt.Sprintf("%02d:%02d", s.hour, s.minute)
}

// span is a run of consecutive buckets. end is the offset of its last bucket
// from the reference slot, in minutes; step is the bucket width in minutes.
type span struct {
	end     int
	buckets int
	step    int
}

// GroupBy buckets timestamps (Unix seconds) into the series selected by q,
// oldest bucket first, with the last bucket of each span anchored on the
// reference instant's hour (and minute, for minute granularity).
//
// With CountCumulative the reported count is a running total over the whole
// call, including the fence-post bucket that consecutive day spans share.
func GroupBy(timestamps []int64, q Query) ([]Bucket, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}

	sorted := slices.Clone(timestamps)
	slices.Sort(sorted)

	loc := q.Now.Location()
	counts := make(map[slot]int, len(sorted))
	for _, ts := range sorted {
		counts[q.slotOf(time.Unix(ts, 0).In(loc))]++
	}

	spans, withDay := layout(q.Window, q.Granularity)
	total := 0
	for _, sp := range spans {
		total += sp.buckets
	}

	out := make([]Bucket, 0, total)
	counter := 0
	for _, sp := range spans {
		for i := 0; i < sp.buckets; i++ {
			s := q.slotAt(sp.end - (sp.buckets-1-i)*sp.step)
			if q.Counting == CountPerBucket {
				counter = 0
			}
			counter += counts[s]
			out = append(out, Bucket{Count: counter, Label: s.label(withDay)})
		}
	}
	return out, nil
}

// layout returns the spans for a selection and whether labels carry the day.
// The window must already be validated.
func layout(w Window, g Granularity) ([]span, bool) {
	if w == LastThreeDays {
		if g == Hours {
			return daySpans(25, 60), true
		}
		return daySpans(minutesPerDay, 1), true
	}
	if g == Hours {
		h, _ := w.Hours()
		return []span{{end: 0, buckets: h + 1, step: 60}}, false
	}
	return []span{{end: 0, buckets: minuteSpanHours(w) * 60, step: 1}}, false
}

// daySpans builds one span per day back, each ending on the reference slot
// shifted by whole days. Hour spans hold 25 buckets, so each starts on the
// slot the previous one ended on. Minute spans hold exactly one day of
// buckets and do not overlap, which keeps the three-day minute series at
// 4320 buckets instead of 3 x 1500.
func daySpans(buckets, step int) []span {
	spans := make([]span, 0, threeDaySpans)
	for k := threeDaySpans; k >= 1; k-- {
		spans = append(spans, span{end: -(k - 1) * minutesPerDay, buckets: buckets, step: step})
	}
	return spans
}

func minuteSpanHours(w Window) int {
	switch w {
	case LastDay:
		return 24
	case LastFiveHours:
		return 6
	default:
		return 2
	}
}

// slotAt resolves the bucket offset minutes away from the reference slot.
// Crossing midnight moves the day; for the five-hour window this is what puts
// hour offsets -5..-1 on 19..23 of the previous day.
func (q Query) slotAt(offset int) slot {
	minute := 0
	if q.Granularity == Minutes {
		minute = q.Now.Minute()
	}

	if q.Days == DayCalendar {
		anchor := time.Date(q.Now.Year(), q.Now.Month(), q.Now.Day(), q.Now.Hour(), minute, 0, 0, q.Now.Location())
		t := anchor.Add(time.Duration(offset) * time.Minute)
		return slot{year: t.Year(), month: t.Month(), day: t.Day(), hour: t.Hour(), minute: t.Minute()}
	}

	abs := q.Now.Hour()*60 + minute + offset
	dayOffset := floorDiv(abs, minutesPerDay)
	rem := abs - dayOffset*minutesPerDay
	return slot{day: ShiftDay(q.Now.Day(), dayOffset), hour: rem / 60, minute: rem % 60}
}

// slotOf breaks a timestamp down the same way slotAt builds bucket slots.
func (q Query) slotOf(t time.Time) slot {
	s := slot{day: t.Day(), hour: t.Hour()}
	if q.Granularity == Minutes {
		s.minute = t.Minute()
	}
	if q.Days == DayCalendar {
		s.year, s.month = t.Year(), t.Month()
	}
	return s
}

// ShiftDay moves a day-of-month by offset days without a calendar. Results at
// or below zero wrap as if the previous month had 31 days, so day 1 shifted by
// -1 is 31 and by -2 is 30. Real months shorter than 31 days are not
// accounted for; use DayCalendar for exact dates.
func ShiftDay(day, offset int) int {
	d := day + offset
	if d <= 0 {
		return 31 + d
	}
	return d
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
