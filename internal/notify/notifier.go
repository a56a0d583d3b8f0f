// Package notify turns appointment transitions into e-mails. Delivery is
// fire-and-forget: callers never wait for, nor learn about, a failed send.
package notify

import (
	"context"
	"sync"
)

type Kind string

const (
	KindBookingCreated     Kind = "booking_created"
	KindStatusChanged      Kind = "status_changed"
	KindClientCancelled    Kind = "client_cancelled"
	KindRescheduleProposed Kind = "reschedule_proposed"
)

// Recipient is either a client address or the operator mailbox. Operator
// recipients are resolved by the Dispatcher.
type Recipient struct {
	Email    string
	Name     string
	Operator bool
}

// OperatorRecipient addresses the nursery's own mailbox.
var OperatorRecipient = Recipient{Operator: true}

type Payload struct {
	Date        string
	Time        string
	Reason      string
	Status      string
	Note        string
	ClientName  string
	ClientPhone string
}

type Event struct {
	Kind          Kind
	Recipient     Recipient
	AppointmentID string
	Payload       Payload
}

// Notifier accepts events without reporting delivery errors.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// Recorder keeps every event it receives. Used where delivery is not wanted,
// and in tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds lists the kinds received so far, in order.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
