package appointment

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

var (
	ErrSlotTaken              = errors.New("slot is no longer available")
	ErrSlotBusy               = fmt.Errorf("%w: slot is currently being booked, please retry", ErrSlotTaken)
	ErrNotFound               = errors.New("appointment not found")
	ErrOutsideBusinessHours   = errors.New("the nursery is closed at this date and time")
	ErrValidation             = errors.New("validation failed")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrConcurrentModification = errors.New("appointment was modified concurrently")
	ErrForbidden              = errors.New("appointment belongs to another client")
)

// Repository is the persistence collaborator of the Store. Implementations
// must make the slot occupancy check and the write a single atomic step.
type Repository interface {
	// List returns the matching appointments ordered by (date, time).
	List(ctx context.Context, f Filter) ([]Appointment, error)
	Get(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// Insert stores a new appointment. ErrSlotTaken when an active
	// appointment already occupies its slot.
	Insert(ctx context.Context, a Appointment) (*Appointment, error)

	// Update replaces a stored appointment when the stored version equals
	// a.Version, and bumps the version. ErrNotFound, ErrConcurrentModification
	// or ErrSlotTaken when the new state would share a slot with another
	// active appointment.
	Update(ctx context.Context, a Appointment) (*Appointment, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}

func sortBySlot(apps []Appointment) {
	sort.SliceStable(apps, func(i, j int) bool {
		if apps[i].Date != apps[j].Date {
			return apps[i].Date < apps[j].Date
		}
		return apps[i].Time < apps[j].Time
	})
}
