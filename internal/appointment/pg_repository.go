package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/schedule"
)

// uniqueViolation is raised by appointments_active_slot_uq when a second
// active appointment targets the same slot.
const uniqueViolation = "23505"

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

var appointmentColumns = []string{
	"id",
	"client_id",
	"client_name",
	"client_email",
	"client_phone",
	"to_char(slot_date, 'YYYY-MM-DD')",
	"slot_time",
	"reason",
	"status",
	"cancellation_reason",
	"version",
	"created_at",
	"updated_at",
}

const returningAppointment = `RETURNING id, client_id, client_name, client_email, client_phone,
	to_char(slot_date, 'YYYY-MM-DD'), slot_time, reason, status, cancellation_reason,
	version, created_at, updated_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.ClientID,
		&a.ClientName,
		&a.ClientEmail,
		&a.ClientPhone,
		&a.Date,
		&a.Time,
		&a.Reason,
		&a.Status,
		&a.CancellationReason,
		&a.Version,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return &a, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (r *PgRepository) List(ctx context.Context, f Filter) ([]Appointment, error) {
	q := psql.Select(appointmentColumns...).
		From("appointments").
		OrderBy("slot_date", "slot_time", "created_at")

	if f.OwnerID != nil {
		q = q.Where(squirrel.Eq{"client_id": *f.OwnerID})
	}
	if f.Date != "" {
		d, err := schedule.ParseDate(f.Date)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		q = q.Where(squirrel.Eq{"slot_date": d})
	}
	if f.From != "" {
		d, err := schedule.ParseDate(f.From)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		q = q.Where(squirrel.GtOrEq{"slot_date": d})
	}
	if f.To != "" {
		d, err := schedule.ParseDate(f.To)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		q = q.Where(squirrel.LtOrEq{"slot_date": d})
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		q = q.Where(squirrel.Eq{"status": statuses})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	result := []Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	query, args, err := psql.Select(appointmentColumns...).
		From("appointments").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get query: %w", err)
	}
	return scanAppointment(r.pool.QueryRow(ctx, query, args...))
}

func (r *PgRepository) Insert(ctx context.Context, a Appointment) (*Appointment, error) {
	d, err := schedule.ParseDate(a.Date)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (
			id, client_id, client_name, client_email, client_phone,
			slot_date, slot_time, reason, status, cancellation_reason,
			version, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1, COALESCE($11, now()), now())
		`+returningAppointment,
		a.ID, a.ClientID, a.ClientName, a.ClientEmail, a.ClientPhone,
		d, a.Time, a.Reason, a.Status, a.CancellationReason,
		nullableTime(a.CreatedAt),
	)

	created, err := scanAppointment(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSlotTaken
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return created, nil
}

func (r *PgRepository) Update(ctx context.Context, a Appointment) (*Appointment, error) {
	d, err := schedule.ParseDate(a.Date)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET client_name = $2,
		    client_email = $3,
		    client_phone = $4,
		    slot_date = $5,
		    slot_time = $6,
		    reason = $7,
		    status = $8,
		    cancellation_reason = $9,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND version = $10
		`+returningAppointment,
		a.ID, a.ClientName, a.ClientEmail, a.ClientPhone,
		d, a.Time, a.Reason, a.Status, a.CancellationReason,
		a.Version,
	)

	updated, err := scanAppointment(row)
	switch {
	case err == nil:
		return updated, nil
	case isUniqueViolation(err):
		return nil, ErrSlotTaken
	case errors.Is(err, ErrNotFound):
		// Either the row is gone or its version moved on.
		var exists bool
		if qerr := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)`, a.ID).Scan(&exists); qerr != nil {
			return nil, fmt.Errorf("check appointment existence: %w", qerr)
		}
		if exists {
			return nil, ErrConcurrentModification
		}
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("update appointment: %w", err)
	}
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
