// Package schedule holds the nursery's business-hours rule. Every component
// that needs to know whether a date or a slot is open asks this package.
package schedule

import (
	"errors"
	"fmt"
	"time"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

var (
	ErrInvalidDate = errors.New("invalid date, expected YYYY-MM-DD")
	ErrInvalidTime = errors.New("invalid time, expected HH:MM")
)

// Morning slots are hourly from 08:00 up to, not including, 12:00.
const (
	morningStartHour = 8
	morningEndHour   = 12
)

var afternoonSlots = []string{"13:30", "14:30", "15:30"}

// lateSlot is offered on every open day except Saturday.
const lateSlot = "16:30"

// ParseDate parses a YYYY-MM-DD calendar date. The result is midnight UTC and
// only its calendar fields are meaningful.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return d, nil
}

// ValidateTime checks the HH:MM shape of a time-of-day value.
func ValidateTime(s string) error {
	if len(s) != len(TimeLayout) {
		return fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	if _, err := time.Parse(TimeLayout, s); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	return nil
}

// IsOpenDay reports whether the shop opens on the given date.
// Closed on Sunday and Monday.
func IsOpenDay(d time.Time) bool {
	switch d.Weekday() {
	case time.Sunday, time.Monday:
		return false
	default:
		return true
	}
}

// SlotsForDate returns the bookable times of day for d in chronological
// order. Closed days yield an empty slice.
func SlotsForDate(d time.Time) []string {
	if !IsOpenDay(d) {
		return []string{}
	}

	slots := make([]string, 0, 8)
	for h := morningStartHour; h < morningEndHour; h++ {
		slots = append(slots, fmt.Sprintf("%02d:00", h))
	}
	slots = append(slots, afternoonSlots...)
	if d.Weekday() != time.Saturday {
		slots = append(slots, lateSlot)
	}
	return slots
}

// SlotsFor is SlotsForDate for a YYYY-MM-DD string.
func SlotsFor(date string) ([]string, error) {
	d, err := ParseDate(date)
	if err != nil {
		return nil, err
	}
	return SlotsForDate(d), nil
}

// IsOpenSlot reports whether (date, clock) is one of the slots generated for
// that date. Malformed input is never open.
func IsOpenSlot(date, clock string) bool {
	slots, err := SlotsFor(date)
	if err != nil {
		return false
	}
	for _, s := range slots {
		if s == clock {
			return true
		}
	}
	return false
}

// SlotStart resolves a slot to an instant in loc.
func SlotStart(date, clock string, loc *time.Location) (time.Time, error) {
	if err := ValidateTime(clock); err != nil {
		return time.Time{}, err
	}
	t, err := time.ParseInLocation(DateLayout+" "+TimeLayout, date+" "+clock, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	return t, nil
}

// Today returns the current calendar date in loc as YYYY-MM-DD.
func Today(now time.Time, loc *time.Location) string {
	return now.In(loc).Format(DateLayout)
}
