// Package seed fills a store with demo clients, bookings and blocks.
package seed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/rs/zerolog"

	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/appointment"
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/booking"
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/schedule"
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/user"
)

type Options struct {
	Operator user.User // created as EMPLOYEE unless the email already exists
	Clients  int
	Bookings int
	Blocks   int
	Days     int // how many calendar days ahead to spread appointments over
}

type Result struct {
	Operator *user.User
	Clients  []*user.User
	Booked   int
	Blocked  int
}

type Creator interface {
	Create(ctx context.Context, in appointment.CreateInput) (*appointment.Appointment, error)
}

// Run seeds starting the day after today in loc. Slots that are already
// taken are skipped, so running it twice only adds what still fits.
func Run(ctx context.Context, users user.Repository, store Creator, opts Options, today time.Time, log zerolog.Logger) (Result, error) {
	var res Result

	op := opts.Operator
	op.Role = user.RoleEmployee
	op.Verified = true
	operator, err := users.Create(ctx, op)
	if errors.Is(err, user.ErrEmailTaken) {
		operator, err = users.GetByEmail(ctx, op.Email)
	}
	if err != nil {
		return res, fmt.Errorf("operator account: %w", err)
	}
	res.Operator = operator

	for i := 0; i < opts.Clients; i++ {
		u, err := users.Create(ctx, user.User{
			Name:     gofakeit.Name(),
			Email:    gofakeit.Email(),
			Phone:    gofakeit.Phone(),
			Role:     user.RoleClient,
			Verified: true,
		})
		if errors.Is(err, user.ErrEmailTaken) {
			continue
		}
		if err != nil {
			return res, fmt.Errorf("create client: %w", err)
		}
		res.Clients = append(res.Clients, u)
	}
	log.Info().Int("clients", len(res.Clients)).Msg("clients seeded")

	slots := upcomingSlots(today, opts.Days)
	if len(slots) == 0 {
		return res, nil
	}
	reasons := booking.Reasons[:len(booking.Reasons)-1]

	for i := 0; i < opts.Bookings && len(res.Clients) > 0; i++ {
		s := slots[gofakeit.Number(0, len(slots)-1)]
		client := res.Clients[gofakeit.Number(0, len(res.Clients)-1)]

		_, err := store.Create(ctx, appointment.CreateInput{
			Actor:  client.Actor(),
			Date:   s[0],
			Time:   s[1],
			Reason: gofakeit.RandomString(reasons),
		})
		if errors.Is(err, appointment.ErrSlotTaken) {
			continue
		}
		if err != nil {
			return res, fmt.Errorf("book %s %s: %w", s[0], s[1], err)
		}
		res.Booked++
	}

	for i := 0; i < opts.Blocks; i++ {
		s := slots[gofakeit.Number(0, len(slots)-1)]

		_, err := store.Create(ctx, appointment.CreateInput{
			Actor:      operator.Actor(),
			Date:       s[0],
			Time:       s[1],
			AdminBlock: true,
		})
		if errors.Is(err, appointment.ErrSlotTaken) {
			continue
		}
		if err != nil {
			return res, fmt.Errorf("block %s %s: %w", s[0], s[1], err)
		}
		res.Blocked++
	}

	log.Info().Int("booked", res.Booked).Int("blocked", res.Blocked).Msg("appointments seeded")
	return res, nil
}

// upcomingSlots lists (date, time) pairs of the open days after today.
func upcomingSlots(today time.Time, days int) [][2]string {
	start := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)

	var out [][2]string
	for i := 1; i <= days; i++ {
		d := start.AddDate(0, 0, i)
		date := d.Format(schedule.DateLayout)
		for _, clock := range schedule.SlotsForDate(d) {
			out = append(out, [2]string{date, clock})
		}
	}
	return out
}
