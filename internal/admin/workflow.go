// Package admin is the employee side of scheduling: inspecting slots,
// blocking and unblocking them, cancelling and moving client appointments.
package admin

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/appointment"
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/availability"
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/schedule"
)

// OtherCancelReason requires custom text.
const OtherCancelReason = "Autre"

var CancelReasons = []string{
	"Imprévu personnel",
	"Conditions météorologiques",
	"Indisponibilité matériel",
	"Erreur de planning",
	OtherCancelReason,
}

// ClosedMessage is returned to the employee when a reschedule target falls
// outside business hours.
const ClosedMessage = "Action impossible: La pépinière est fermée à cet horaire.\n" +
	"Horaires: Mar-Sam 8h-12h / 13h30-17h30 (Sam 16h30). Fermé Lun/Dim."

type Action string

const (
	ActionBlock   Action = "block"
	ActionEdit    Action = "edit"
	ActionUnblock Action = "unblock"
	ActionCancel  Action = "cancel"
)

type ListFilter string

const (
	FilterAll       ListFilter = "ALL"
	FilterToday     ListFilter = "TODAY"
	FilterConfirmed ListFilter = "CONFIRMED"
	FilterBlocked   ListFilter = "BLOCKED"
	FilterCancelled ListFilter = "CANCELLED"
)

// ParseListFilter accepts the filter names case-insensitively. Empty means
// ALL.
func ParseListFilter(s string) (ListFilter, error) {
	f := ListFilter(strings.ToUpper(strings.TrimSpace(s)))
	switch f {
	case "":
		return FilterAll, nil
	case FilterAll, FilterToday, FilterConfirmed, FilterBlocked, FilterCancelled:
		return f, nil
	}
	return "", fmt.Errorf("%w: unknown filter %q", appointment.ErrValidation, s)
}

type Store interface {
	List(ctx context.Context, f appointment.Filter) ([]appointment.Appointment, error)
	Get(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	Create(ctx context.Context, in appointment.CreateInput) (*appointment.Appointment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status appointment.Status, reason string, opts ...appointment.MutateOption) (*appointment.Appointment, error)
	Reschedule(ctx context.Context, id uuid.UUID, date, clock string, opts ...appointment.MutateOption) (*appointment.Appointment, error)
}

// SlotDetail is what an employee sees when selecting a slot.
type SlotDetail struct {
	availability.SlotView
	Actions []Action `json:"actions"`
}

type CancelRequest struct {
	Reason  string
	Details string
	Version int64
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
		log:   log.With().Str("component", "admin").Logger(),
	}
}

// Inspect resolves a slot and the actions allowed on it.
func (s *Service) Inspect(ctx context.Context, date, clock string) (SlotDetail, error) {
	view, err := s.index.SlotStatus(ctx, date, clock)
	if err != nil {
		return SlotDetail{}, err
	}

	detail := SlotDetail{SlotView: view, Actions: []Action{}}
	switch view.State {
	case availability.Available:
		if schedule.IsOpenSlot(date, clock) {
			detail.Actions = []Action{ActionBlock}
		}
	case availability.Blocked:
		detail.Actions = []Action{ActionEdit, ActionUnblock}
	case availability.Booked:
		detail.Actions = []Action{ActionEdit, ActionCancel}
	}
	return detail, nil
}

// Block occupies a free slot. A slot taken concurrently fails with
// appointment.ErrSlotTaken.
func (s *Service) Block(ctx context.Context, actor appointment.Actor, date, clock string) (*appointment.Appointment, error) {
	if err := s.requireOpenSlot(date, clock); err != nil {
		return nil, err
	}

	a, err := s.store.Create(ctx, appointment.CreateInput{
		Actor:      actor,
		Date:       date,
		Time:       clock,
		AdminBlock: true,
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("appointment_id", a.ID.String()).Str("date", date).Str("time", clock).Msg("slot blocked")
	return a, nil
}

// Unblock frees a blocked slot.
func (s *Service) Unblock(ctx context.Context, id uuid.UUID, version int64) (*appointment.Appointment, error) {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != appointment.StatusBlocked {
		return nil, fmt.Errorf("%w: appointment is %s, not blocked", appointment.ErrInvalidTransition, a.Status)
	}

	return s.store.UpdateStatus(ctx, id, appointment.StatusCancelled, appointment.ReasonUnblockedByAdmin, expectVersion(a, version))
}

// Cancel cancels a client appointment with a reason the client will see.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, req CancelRequest) (*appointment.Appointment, error) {
	reason, err := ResolveCancelReason(req.Reason, req.Details)
	if err != nil {
		return nil, err
	}

	a, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch a.Status {
	case appointment.StatusConfirmed, appointment.StatusRescheduledPending, appointment.StatusPending:
	default:
		return nil, fmt.Errorf("%w: cannot cancel a %s appointment", appointment.ErrInvalidTransition, a.Status)
	}

	updated, err := s.store.UpdateStatus(ctx, id, appointment.StatusCancelled, reason, expectVersion(a, req.Version))
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("appointment_id", id.String()).Str("reason", reason).Msg("appointment cancelled by admin")
	return updated, nil
}

// Reschedule moves an appointment or a block. The target must be one of the
// slots the nursery offers on that day.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, date, clock string, version int64) (*appointment.Appointment, error) {
	if err := s.requireOpenSlot(date, clock); err != nil {
		return nil, err
	}

	a, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch a.Status {
	case appointment.StatusConfirmed, appointment.StatusRescheduledPending, appointment.StatusPending, appointment.StatusBlocked:
	default:
		return nil, fmt.Errorf("%w: cannot move a %s appointment", appointment.ErrInvalidTransition, a.Status)
	}

	updated, err := s.store.Reschedule(ctx, id, date, clock, expectVersion(a, version))
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("appointment_id", id.String()).
		Str("from", a.SlotKey()).
		Str("to", updated.SlotKey()).
		Msg("appointment rescheduled")
	return updated, nil
}

// List is the dashboard projection over every appointment.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]appointment.Appointment, error) {
	var f appointment.Filter
	switch filter {
	case FilterAll, "":
	case FilterToday:
		f.Date = schedule.Today(s.index.Now(), s.index.Location())
	case FilterConfirmed:
		f.Statuses = []appointment.Status{appointment.StatusConfirmed, appointment.StatusRescheduledPending}
	case FilterBlocked:
		f.Statuses = []appointment.Status{appointment.StatusBlocked}
	case FilterCancelled:
		f.Statuses = []appointment.Status{appointment.StatusCancelled}
	default:
		return nil, fmt.Errorf("%w: unknown filter %q", appointment.ErrValidation, filter)
	}
	return s.store.List(ctx, f)
}

// expectVersion pins a write to the version the caller saw, or to the one
// just read when the caller sent none.
func expectVersion(a *appointment.Appointment, version int64) appointment.MutateOption {
	if version == 0 {
		version = a.Version
	}
	return appointment.IfVersion(version)
}

func (s *Service) requireOpenSlot(date, clock string) error {
	if _, err := schedule.ParseDate(date); err != nil {
		return fmt.Errorf("%w: %v", appointment.ErrValidation, err)
	}
	if err := schedule.ValidateTime(clock); err != nil {
		return fmt.Errorf("%w: %v", appointment.ErrValidation, err)
	}
	if !schedule.IsOpenSlot(date, clock) {
		return fmt.Errorf("%w: %s", appointment.ErrOutsideBusinessHours, ClosedMessage)
	}
	return nil
}

// ResolveCancelReason returns the reason stored on an admin cancellation.
func ResolveCancelReason(reason, details string) (string, error) {
	reason = strings.TrimSpace(reason)
	details = strings.TrimSpace(details)

	if reason == OtherCancelReason {
		if details == "" {
			return "", fmt.Errorf("%w: custom cancellation reason is empty", appointment.ErrValidation)
		}
		return details, nil
	}
	if reason == "" {
		return "", fmt.Errorf("%w: a cancellation reason is required", appointment.ErrValidation)
	}
	for _, r := range CancelReasons {
		if r == reason {
			return reason, nil
		}
	}
	return "", fmt.Errorf("%w: unknown cancellation reason %q", appointment.ErrValidation, reason)
}
