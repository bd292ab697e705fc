// Package schedule evaluates weekly blocking windows. A schedule is a
// weekday bitmask plus a start and end time-of-day in local time; windows
// whose end precedes their start span midnight into the following day.
package schedule

import (
	"fmt"
	"time"
)

const minutesPerDay = 24 * 60

// Schedule is one weekly blocking window. Days is a weekday bitmask with
// bit 0 = Sunday, matching time.Weekday. Start and End are minutes since
// local midnight; the window is [Start, End). End < Start means the
// window runs overnight and ends on the following day.
type Schedule struct {
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
	Days  uint8  `json:"days"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Validate rejects schedules the evaluator cannot interpret.
func (s *Schedule) Validate() error {
	if s.Days == 0 || s.Days > 0x7f {
		return fmt.Errorf("weekday mask 0x%02x selects no valid days", s.Days)
	}
	if s.Start < 0 || s.Start >= minutesPerDay {
		return fmt.Errorf("start %d out of range", s.Start)
	}
	if s.End < 0 || s.End >= minutesPerDay {
		return fmt.Errorf("end %d out of range", s.End)
	}
	if s.Start == s.End {
		return fmt.Errorf("start and end are equal; window would be empty")
	}
	return nil
}

// DayEnabled reports whether the window starts on the given weekday.
func (s *Schedule) DayEnabled(day time.Weekday) bool {
	return s.Days&(1<<uint(day)) != 0
}

// ActiveAt reports whether now falls inside the window. Overnight windows
// are split into the [Start, midnight) tail of the start day and the
// [midnight, End) head of the following day.
func (s *Schedule) ActiveAt(now time.Time) bool {
	minute := now.Hour()*60 + now.Minute()

	if s.Start < s.End {
		return s.DayEnabled(now.Weekday()) && minute >= s.Start && minute < s.End
	}

	// Overnight: the portion before midnight belongs to today's mask, the
	// portion after midnight to yesterday's.
	if minute >= s.Start {
		return s.DayEnabled(now.Weekday())
	}
	if minute < s.End {
		yesterday := (now.Weekday() + 6) % 7
		return s.DayEnabled(yesterday)
	}
	return false
}

// ActiveWindows returns every schedule active at now. Overlapping windows
// are evaluated independently and OR-combined.
func ActiveWindows(schedules []Schedule, now time.Time) []Schedule {
	var active []Schedule
	for _, s := range schedules {
		if s.ActiveAt(now) {
			active = append(active, s)
		}
	}
	return active
}

// AnyActive reports whether at least one schedule is active at now.
func AnyActive(schedules []Schedule, now time.Time) bool {
	for _, s := range schedules {
		if s.ActiveAt(now) {
			return true
		}
	}
	return false
}

// NextTransition returns the soonest instant strictly after now at which
// any window starts or ends. The second return value is false when no
// schedule exists.
func NextTransition(schedules []Schedule, now time.Time) (time.Time, bool) {
	var next time.Time
	found := false

	consider := func(t time.Time) {
		if t.After(now) && (!found || t.Before(next)) {
			next = t
			found = true
		}
	}

	// Scan boundaries over the coming week plus one day so overnight ends
	// of the last masked day are covered.
	for offset := -1; offset <= 7; offset++ {
		day := now.AddDate(0, 0, offset)
		for _, s := range schedules {
			if !s.DayEnabled(day.Weekday()) {
				continue
			}
			consider(atMinute(day, s.Start))
			if s.Start < s.End {
				consider(atMinute(day, s.End))
			} else {
				consider(atMinute(day.AddDate(0, 0, 1), s.End))
			}
		}
	}

	return next, found
}

// atMinute pins a minutes-since-midnight offset onto a calendar day in
// its own location. Going through time.Date keeps DST days correct.
func atMinute(day time.Time, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), minute/60, minute%60, 0, 0, day.Location())
}
