// Package booking is the client-facing side of scheduling: picking a free
// slot, booking it with a reason, cancelling, and answering a reschedule
// proposal.
package booking

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/appointment"
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/availability"
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/schedule"
)

// OtherReason is the catch-all category; it requires free-text details.
const OtherReason = "Autre demande..."

// Reasons are the categories offered to clients, OtherReason last.
var Reasons = []string{
	"Conseil aménagement jardin",
	"Plantation d'arbres/arbustes",
	"Diagnostic plantes malades",
	"Devis aménagement complet",
	"Entretien / Taille",
	OtherReason,
}

type Store interface {
	List(ctx context.Context, f appointment.Filter) ([]appointment.Appointment, error)
	Get(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	Create(ctx context.Context, in appointment.CreateInput) (*appointment.Appointment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status appointment.Status, reason string, opts ...appointment.MutateOption) (*appointment.Appointment, error)
}

type BookRequest struct {
	Date    string
	Time    string
	Reason  string
	Details string
}

type Service struct {
	store Store
	index *availability.Index
	log   zerolog.Logger
}

func NewService(store Store, index *availability.Index, log zerolog.Logger) *Service {
	return &Service{
		store: store,
		index: index,
		log:   log.With().Str("component", "booking").Logger(),
	}
}

// Slots lists the date's slots with their state, as a client sees them.
func (s *Service) Slots(ctx context.Context, date string) ([]availability.SlotView, error) {
	return s.index.Day(ctx, date)
}

// Book creates a confirmed appointment for actor. A slot taken in the
// meantime fails with appointment.ErrSlotTaken and is not retried.
func (s *Service) Book(ctx context.Context, actor appointment.Actor, req BookRequest) (*appointment.Appointment, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}
	reason, err := ResolveReason(req.Reason, req.Details)
	if err != nil {
		return nil, err
	}
	if err := schedule.ValidateTime(req.Time); err != nil {
		return nil, fmt.Errorf("%w: %v", appointment.ErrValidation, err)
	}
	if _, err := schedule.ParseDate(req.Date); err != nil {
		return nil, fmt.Errorf("%w: %v", appointment.ErrValidation, err)
	}
	if !schedule.IsOpenSlot(req.Date, req.Time) {
		return nil, fmt.Errorf("%w: %s %s", appointment.ErrOutsideBusinessHours, req.Date, req.Time)
	}

	start, err := schedule.SlotStart(req.Date, req.Time, s.index.Location())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", appointment.ErrValidation, err)
	}
	if start.Before(s.index.Now()) {
		return nil, fmt.Errorf("%w: slot %s %s is in the past", appointment.ErrValidation, req.Date, req.Time)
	}

	a, err := s.store.Create(ctx, appointment.CreateInput{
		Actor:  actor,
		Date:   req.Date,
		Time:   req.Time,
		Reason: reason,
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("appointment_id", a.ID.String()).
		Str("client_id", actor.ID.String()).
		Str("date", a.Date).
		Str("time", a.Time).
		Msg("appointment booked")
	return a, nil
}

// Cancel cancels one of actor's own appointments.
func (s *Service) Cancel(ctx context.Context, actor appointment.Actor, id uuid.UUID) (*appointment.Appointment, error) {
	a, err := s.owned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	switch a.Status {
	case appointment.StatusConfirmed, appointment.StatusRescheduledPending:
	default:
		return nil, fmt.Errorf("%w: cannot cancel a %s appointment", appointment.ErrInvalidTransition, a.Status)
	}

	updated, err := s.store.UpdateStatus(ctx, id, appointment.StatusCancelled, appointment.ReasonCancelledByClient, appointment.IfVersion(a.Version))
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("appointment_id", id.String()).Msg("appointment cancelled by client")
	return updated, nil
}

// AcceptReschedule confirms the new time proposed by the nursery.
func (s *Service) AcceptReschedule(ctx context.Context, actor appointment.Actor, id uuid.UUID) (*appointment.Appointment, error) {
	a, err := s.owned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if a.Status != appointment.StatusRescheduledPending {
		return nil, fmt.Errorf("%w: no pending proposal on a %s appointment", appointment.ErrInvalidTransition, a.Status)
	}

	return s.store.UpdateStatus(ctx, id, appointment.StatusConfirmed, "", appointment.IfVersion(a.Version))
}

// Appointments lists actor's appointments, blocks excluded.
func (s *Service) Appointments(ctx context.Context, actor appointment.Actor) ([]appointment.Appointment, error) {
	owner := actor.ID
	apps, err := s.store.List(ctx, appointment.Filter{OwnerID: &owner})
	if err != nil {
		return nil, err
	}

	out := apps[:0]
	for _, a := range apps {
		if a.Status != appointment.StatusBlocked {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Service) owned(ctx context.Context, actor appointment.Actor, id uuid.UUID) (*appointment.Appointment, error) {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.ClientID != actor.ID {
		return nil, appointment.ErrForbidden
	}
	return a, nil
}

// ResolveReason returns the reason to store for a category and its optional
// details.
func ResolveReason(category, details string) (string, error) {
	category = strings.TrimSpace(category)
	details = strings.TrimSpace(details)

	if category == "" {
		return "", fmt.Errorf("%w: a reason is required", appointment.ErrValidation)
	}
	if category == OtherReason {
		if details == "" {
			return "", fmt.Errorf("%w: please describe your request", appointment.ErrValidation)
		}
		return details, nil
	}
	for _, r := range Reasons {
		if r == category {
			return category, nil
		}
	}
	return "", fmt.Errorf("%w: unknown reason %q", appointment.ErrValidation, category)
}

func validateActor(actor appointment.Actor) error {
	if actor.ID == uuid.Nil || strings.TrimSpace(actor.Name) == "" {
		return fmt.Errorf("%w: client identity is incomplete", appointment.ErrValidation)
	}
	if actor.Email != "" {
		if _, err := mail.ParseAddress(actor.Email); err != nil {
			return fmt.Errorf("%w: malformed email %q", appointment.ErrValidation, actor.Email)
		}
	}
	return nil
}
