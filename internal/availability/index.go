// Package availability derives slot state from the appointment collection.
// Nothing here is stored; every answer is computed from a fresh snapshot.
package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/appointment"
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/schedule"
)

type State string

const (
	Available State = "available"
	Booked    State = "booked"
	Blocked   State = "blocked"
)

// MaxCalendarDays bounds Calendar ranges.
const MaxCalendarDays = 62

type SlotView struct {
	Date        string                   `json:"date"`
	Time        string                   `json:"time"`
	State       State                    `json:"state"`
	Past        bool                     `json:"past,omitempty"`
	Appointment *appointment.Appointment `json:"appointment,omitempty"`
}

type DayDensity struct {
	Date         string `json:"date"`
	Open         bool   `json:"open"`
	HasBlocked   bool   `json:"hasBlocked"`
	HasBooked    bool   `json:"hasBooked"`
	BlockedCount int    `json:"blockedCount"`
	BookedCount  int    `json:"bookedCount"`
}

// Classify finds the active appointment on (date, clock) in apps.
// Cancelled appointments are ignored.
func Classify(apps []appointment.Appointment, date, clock string) SlotView {
	view := SlotView{Date: date, Time: clock, State: Available}
	for i := range apps {
		a := apps[i]
		if !a.Status.Active() || a.Date != date || a.Time != clock {
			continue
		}
		view.Appointment = &a
		if a.Status == appointment.StatusBlocked {
			view.State = Blocked
		} else {
			view.State = Booked
		}
		return view
	}
	return view
}

// Density counts blocked and booked slots per date. It is a rendering hint
// only.
func Density(apps []appointment.Appointment) map[string]DayDensity {
	out := make(map[string]DayDensity)
	for _, a := range apps {
		if !a.Status.Active() {
			continue
		}
		d := out[a.Date]
		d.Date = a.Date
		if a.Status == appointment.StatusBlocked {
			d.BlockedCount++
			d.HasBlocked = true
		} else {
			d.BookedCount++
			d.HasBooked = true
		}
		out[a.Date] = d
	}
	return out
}

type Lister interface {
	List(ctx context.Context, f appointment.Filter) ([]appointment.Appointment, error)
}

type Index struct {
	store Lister
	loc   *time.Location
	now   func() time.Time
}

func NewIndex(store Lister, loc *time.Location) *Index {
	if loc == nil {
		loc = time.Local
	}
	return &Index{store: store, loc: loc, now: time.Now}
}

// WithClock replaces the time source, for tests.
func (ix *Index) WithClock(now func() time.Time) *Index {
	ix.now = now
	return ix
}

func (ix *Index) Location() *time.Location { return ix.loc }

func (ix *Index) Now() time.Time { return ix.now().In(ix.loc) }

func (ix *Index) SlotStatus(ctx context.Context, date, clock string) (SlotView, error) {
	if _, err := schedule.ParseDate(date); err != nil {
		return SlotView{}, fmt.Errorf("%w: %v", appointment.ErrValidation, err)
	}
	if err := schedule.ValidateTime(clock); err != nil {
		return SlotView{}, fmt.Errorf("%w: %v", appointment.ErrValidation, err)
	}

	apps, err := ix.store.List(ctx, appointment.Filter{Date: date})
	if err != nil {
		return SlotView{}, err
	}

	view := Classify(apps, date, clock)
	view.Past = ix.isPast(date, clock)
	return view, nil
}

// Day returns every slot of date with its state, in slot order. Closed days
// return an empty list.
func (ix *Index) Day(ctx context.Context, date string) ([]SlotView, error) {
	slots, err := schedule.SlotsFor(date)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", appointment.ErrValidation, err)
	}
	if len(slots) == 0 {
		return []SlotView{}, nil
	}

	apps, err := ix.store.List(ctx, appointment.Filter{Date: date})
	if err != nil {
		return nil, err
	}

	views := make([]SlotView, 0, len(slots))
	for _, clock := range slots {
		v := Classify(apps, date, clock)
		v.Past = ix.isPast(date, clock)
		views = append(views, v)
	}
	return views, nil
}

// Calendar returns one density entry per date in [from, to].
func (ix *Index) Calendar(ctx context.Context, from, to string) ([]DayDensity, error) {
	start, err := schedule.ParseDate(from)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", appointment.ErrValidation, err)
	}
	end, err := schedule.ParseDate(to)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", appointment.ErrValidation, err)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: range end %s is before start %s", appointment.ErrValidation, to, from)
	}
	if days := int(end.Sub(start).Hours()/24) + 1; days > MaxCalendarDays {
		return nil, fmt.Errorf("%w: range of %d days exceeds %d", appointment.ErrValidation, days, MaxCalendarDays)
	}

	apps, err := ix.store.List(ctx, appointment.Filter{From: from, To: to})
	if err != nil {
		return nil, err
	}
	density := Density(apps)

	var out []DayDensity
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		date := d.Format(schedule.DateLayout)
		entry := density[date]
		entry.Date = date
		entry.Open = schedule.IsOpenDay(d)
		out = append(out, entry)
	}
	return out, nil
}

func (ix *Index) isPast(date, clock string) bool {
	start, err := schedule.SlotStart(date, clock, ix.loc)
	if err != nil {
		return false
	}
	return start.Before(ix.now())
}
