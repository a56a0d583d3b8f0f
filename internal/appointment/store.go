package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/metrics"
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/notify"
	redisclient "github.com/Elcoletas/Peppiniere-Gissinger-App/internal/redis"
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/schedule"
)

const (
	EventAppointmentCreated       = "APPOINTMENT_CREATED"
	EventAppointmentStatusChanged = "APPOINTMENT_STATUS_CHANGED"
	EventAppointmentRescheduled   = "APPOINTMENT_RESCHEDULED"
)

// RescheduleNote accompanies the mail that proposes a new time to a client.
const RescheduleNote = "Nouvel horaire proposé."

// SlotChange is published after every successful mutation, once per slot
// whose occupancy may have changed.
type SlotChange struct {
	Date        string      `json:"date"`
	Time        string      `json:"time"`
	Appointment Appointment `json:"appointment"`
}

type CreateInput struct {
	Actor      Actor
	Date       string
	Time       string
	Reason     string
	AdminBlock bool
}

type MutateOption func(*mutateOptions)

type mutateOptions struct {
	version int64
}

// IfVersion makes the mutation fail with ErrConcurrentModification unless
// the stored appointment still has version v. Zero disables the check.
func IfVersion(v int64) MutateOption {
	return func(o *mutateOptions) { o.version = v }
}

// Store is the only mutator of appointments. It enforces slot uniqueness
// through its Repository and the per-slot Locker, and emits notifications
// after each committed transition.
type Store struct {
	repo     Repository
	locker   redisclient.Locker
	notifier notify.Notifier
	log      zerolog.Logger

	mu        sync.RWMutex
	listeners []func(SlotChange)
}

func NewStore(repo Repository, locker redisclient.Locker, notifier notify.Notifier, log zerolog.Logger) *Store {
	return &Store{
		repo:     repo,
		locker:   locker,
		notifier: notifier,
		log:      log.With().Str("component", "appointment_store").Logger(),
	}
}

// Subscribe registers fn for every SlotChange. fn runs on the mutating
// goroutine and must not block.
func (s *Store) Subscribe(fn func(SlotChange)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Store) List(ctx context.Context, f Filter) ([]Appointment, error) {
	apps, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return apps, nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.Get(ctx, id)
}

// Create books a slot for a client, or blocks it when in.AdminBlock is set.
func (s *Store) Create(ctx context.Context, in CreateInput) (*Appointment, error) {
	if err := validateSlotShape(in.Date, in.Time); err != nil {
		return nil, err
	}

	a := Appointment{
		ClientID:    in.Actor.ID,
		ClientName:  in.Actor.Name,
		ClientEmail: in.Actor.Email,
		ClientPhone: in.Actor.Phone,
		Date:        in.Date,
		Time:        in.Time,
		Reason:      in.Reason,
		Status:      StatusConfirmed,
	}
	if in.AdminBlock {
		a = Appointment{
			ClientID:   BlockOwnerID,
			ClientName: BlockClientName,
			Date:       in.Date,
			Time:       in.Time,
			Reason:     BlockReason,
			Status:     StatusBlocked,
		}
	}

	var created *Appointment
	err := s.locker.WithSlotLock(ctx, SlotKey(in.Date, in.Time), func(lockCtx context.Context) error {
		c, err := s.repo.Insert(lockCtx, a)
		if err != nil {
			return err
		}
		created = c
		return nil
	})
	if err != nil {
		return nil, s.slotError("create", err)
	}

	kind := "booking"
	if in.AdminBlock {
		kind = "block"
	}
	metrics.IncAppointmentCreated(kind)

	s.logEvent(ctx, created.ID, EventAppointmentCreated, map[string]any{
		"actor_id": in.Actor.ID.String(),
		"date":     created.Date,
		"time":     created.Time,
		"status":   created.Status,
	})

	if !in.AdminBlock {
		payload := notify.Payload{
			Date:        created.Date,
			Time:        created.Time,
			Reason:      created.Reason,
			Status:      string(created.Status),
			ClientName:  created.ClientName,
			ClientPhone: created.ClientPhone,
		}
		if created.HasContact() {
			s.notify(ctx, notify.KindBookingCreated, clientRecipient(created), created, payload)
		}
		s.notify(ctx, notify.KindBookingCreated, notify.OperatorRecipient, created, payload)
	}

	s.publish(*created)
	return created, nil
}

// UpdateStatus sets the status of an appointment. A non-empty reason is kept
// as the appointment's cancellation or annotation reason.
func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, status Status, reason string, opts ...MutateOption) (*Appointment, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	o := applyOptions(opts)

	cur, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.version != 0 && o.version != cur.Version {
		return nil, ErrConcurrentModification
	}
	if cur.Status.Terminal() {
		return nil, fmt.Errorf("%w: appointment is %s", ErrInvalidTransition, cur.Status)
	}

	previous := cur.Status
	next := *cur
	next.Status = status
	if reason != "" {
		next.CancellationReason = reason
	}

	updated, err := s.repo.Update(ctx, next)
	if err != nil {
		return nil, s.slotError("update_status", err)
	}

	metrics.IncStatusChange(string(status))
	s.logEvent(ctx, updated.ID, EventAppointmentStatusChanged, map[string]any{
		"from":   previous,
		"to":     status,
		"reason": reason,
	})

	if previous != status && updated.HasContact() {
		s.notify(ctx, notify.KindStatusChanged, clientRecipient(updated), updated, notify.Payload{
			Date:   updated.Date,
			Time:   updated.Time,
			Reason: updated.Reason,
			Status: string(status),
			Note:   reason,
		})
	}
	if status == StatusCancelled && reason == ReasonCancelledByClient {
		s.notify(ctx, notify.KindClientCancelled, notify.OperatorRecipient, updated, notify.Payload{
			Date:        updated.Date,
			Time:        updated.Time,
			Reason:      reason,
			Status:      string(status),
			ClientName:  updated.ClientName,
			ClientPhone: updated.ClientPhone,
		})
	}

	s.publish(*updated)
	return updated, nil
}

// Reschedule moves an appointment to (date, clock). Blocks stay blocked, any
// other appointment waits for the client to accept the proposal. Keeping the
// same slot is allowed. Cancelled and completed appointments cannot move.
func (s *Store) Reschedule(ctx context.Context, id uuid.UUID, date, clock string, opts ...MutateOption) (*Appointment, error) {
	if err := validateSlotShape(date, clock); err != nil {
		return nil, err
	}
	o := applyOptions(opts)

	var before, updated *Appointment
	err := s.locker.WithSlotLock(ctx, SlotKey(date, clock), func(lockCtx context.Context) error {
		cur, err := s.repo.Get(lockCtx, id)
		if err != nil {
			return err
		}
		if o.version != 0 && o.version != cur.Version {
			return ErrConcurrentModification
		}
		if cur.Status.Terminal() {
			return fmt.Errorf("%w: cannot move a %s appointment", ErrInvalidTransition, cur.Status)
		}

		next := *cur
		next.Date = date
		next.Time = clock
		if cur.Status == StatusBlocked {
			next.Status = StatusBlocked
		} else {
			next.Status = StatusRescheduledPending
		}

		u, err := s.repo.Update(lockCtx, next)
		if err != nil {
			return err
		}
		before, updated = cur, u
		return nil
	})
	if err != nil {
		return nil, s.slotError("reschedule", err)
	}

	s.logEvent(ctx, updated.ID, EventAppointmentRescheduled, map[string]any{
		"from_date": before.Date,
		"from_time": before.Time,
		"to_date":   updated.Date,
		"to_time":   updated.Time,
		"status":    updated.Status,
	})

	if before.Status != StatusBlocked && updated.HasContact() {
		s.notify(ctx, notify.KindRescheduleProposed, clientRecipient(updated), updated, notify.Payload{
			Date:   updated.Date,
			Time:   updated.Time,
			Reason: updated.Reason,
			Status: string(updated.Status),
			Note:   RescheduleNote,
		})
	}

	if before.SlotKey() != updated.SlotKey() {
		freed := *updated
		freed.Date, freed.Time = before.Date, before.Time
		s.publish(freed)
	}
	s.publish(*updated)
	return updated, nil
}

func (s *Store) slotError(op string, err error) error {
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		metrics.IncSlotConflict(op)
		return ErrSlotBusy
	case errors.Is(err, ErrSlotTaken):
		metrics.IncSlotConflict(op)
		return err
	default:
		return err
	}
}

func (s *Store) notify(ctx context.Context, kind notify.Kind, to notify.Recipient, a *Appointment, p notify.Payload) {
	s.notifier.Notify(ctx, notify.Event{
		Kind:          kind,
		Recipient:     to,
		AppointmentID: a.ID.String(),
		Payload:       p,
	})
}

func (s *Store) publish(a Appointment) {
	s.mu.RLock()
	listeners := s.listeners
	s.mu.RUnlock()

	change := SlotChange{Date: a.Date, Time: a.Time, Appointment: a}
	for _, fn := range listeners {
		fn(change)
	}
}

func (s *Store) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("event", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Error().Err(err).
			Str("event", eventType).
			Str("appointment_id", appointmentID.String()).
			Msg("failed to insert event log")
	}
}

func clientRecipient(a *Appointment) notify.Recipient {
	return notify.Recipient{Email: a.ClientEmail, Name: a.ClientName}
}

func applyOptions(opts []MutateOption) mutateOptions {
	var o mutateOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func validateSlotShape(date, clock string) error {
	if _, err := schedule.ParseDate(date); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := schedule.ValidateTime(clock); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}
