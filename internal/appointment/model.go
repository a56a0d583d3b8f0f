package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending            Status = "PENDING"
	StatusConfirmed          Status = "CONFIRMED"
	StatusCancelled          Status = "CANCELLED"
	StatusCompleted          Status = "COMPLETED" // reserved, no workflow produces it
	StatusBlocked            Status = "BLOCKED"
	StatusRescheduledPending Status = "RESCHEDULED_PENDING"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted, StatusBlocked, StatusRescheduledPending:
		return true
	}
	return false
}

// Terminal statuses accept no further transition.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// Active appointments occupy their slot.
func (s Status) Active() bool {
	return s != StatusCancelled
}

// Annotation reasons with a fixed meaning. CANCELLED is used both for client
// cancellations and admin unblocks; the reason tells them apart.
const (
	ReasonCancelledByClient = "cancelled by client"
	ReasonUnblockedByAdmin  = "unblocked by admin"
)

// Display values stored on administrative blocks.
const (
	BlockClientName = "⛔ INDISPONIBLE"
	BlockReason     = "Créneau bloqué par l'administration"
)

// BlockOwnerID is the owner of every administrative block.
var BlockOwnerID = uuid.Nil

// Actor is whoever issues a command. Its contact fields are copied onto the
// appointment at creation and never refreshed afterwards.
type Actor struct {
	ID    uuid.UUID
	Name  string
	Email string
	Phone string
}

type Appointment struct {
	ID                 uuid.UUID `json:"id"`
	ClientID           uuid.UUID `json:"clientId"`
	ClientName         string    `json:"clientName"`
	ClientEmail        string    `json:"clientEmail,omitempty"`
	ClientPhone        string    `json:"clientPhone,omitempty"`
	Date               string    `json:"date"`
	Time               string    `json:"time"`
	Reason             string    `json:"reason"`
	Status             Status    `json:"status"`
	CancellationReason string    `json:"cancellationReason,omitempty"`
	Version            int64     `json:"version"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// HasContact reports whether the appointment carries an address to notify.
func (a Appointment) HasContact() bool {
	return a.ClientEmail != ""
}

// SlotKey identifies the (date, time) pair the appointment sits on.
func (a Appointment) SlotKey() string {
	return SlotKey(a.Date, a.Time)
}

func SlotKey(date, clock string) string {
	return date + "T" + clock
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	OwnerID  *uuid.UUID
	Date     string
	From     string // inclusive YYYY-MM-DD
	To       string // inclusive YYYY-MM-DD
	Statuses []Status
}

func (f Filter) Match(a Appointment) bool {
	if f.OwnerID != nil && a.ClientID != *f.OwnerID {
		return false
	}
	if f.Date != "" && a.Date != f.Date {
		return false
	}
	if f.From != "" && a.Date < f.From {
		return false
	}
	if f.To != "" && a.Date > f.To {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if a.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
