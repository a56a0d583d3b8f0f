package availability

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/appointment"
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/notify"
	redisclient "github.com/Elcoletas/Peppiniere-Gissinger-App/internal/redis"
)

func appt(date, clock string, status appointment.Status) appointment.Appointment {
	return appointment.Appointment{ID: uuid.New(), Date: date, Time: clock, Status: status}
}

func TestClassify(t *testing.T) {
	apps := []appointment.Appointment{
		appt("2026-02-10", "09:00", appointment.StatusCancelled),
		appt("2026-02-10", "09:00", appointment.StatusConfirmed),
		appt("2026-02-10", "10:00", appointment.StatusBlocked),
		appt("2026-02-10", "11:00", appointment.StatusCancelled),
		appt("2026-02-10", "13:30", appointment.StatusRescheduledPending),
	}

	tests := []struct {
		clock string
		want  State
	}{
		{"09:00", Booked},
		{"10:00", Blocked},
		{"11:00", Available},
		{"13:30", Booked},
		{"14:30", Available},
	}

	for _, tt := range tests {
		t.Run(tt.clock, func(t *testing.T) {
			v := Classify(apps, "2026-02-10", tt.clock)
			assert.Equal(t, tt.want, v.State)
			if tt.want == Available {
				assert.Nil(t, v.Appointment)
			} else {
				require.NotNil(t, v.Appointment)
				assert.NotEqual(t, appointment.StatusCancelled, v.Appointment.Status)
			}
		})
	}
}

func TestDensity(t *testing.T) {
	d := Density([]appointment.Appointment{
		appt("2026-02-10", "09:00", appointment.StatusConfirmed),
		appt("2026-02-10", "10:00", appointment.StatusBlocked),
		appt("2026-02-10", "11:00", appointment.StatusConfirmed),
		appt("2026-02-11", "09:00", appointment.StatusCancelled),
	})

	assert.Equal(t, DayDensity{Date: "2026-02-10", HasBlocked: true, HasBooked: true, BlockedCount: 1, BookedCount: 2}, d["2026-02-10"])
	_, ok := d["2026-02-11"]
	assert.False(t, ok)
}

func newStore() *appointment.Store {
	return appointment.NewStore(appointment.NewMemoryRepository(), redisclient.NewLocalSlotLocker(), &notify.Recorder{}, zerolog.Nop())
}

func TestBlockThenUnblockAvailability(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	ix := NewIndex(store, time.UTC)

	block, err := store.Create(ctx, appointment.CreateInput{Date: "2026-02-10", Time: "11:00", AdminBlock: true})
	require.NoError(t, err)

	v, err := ix.SlotStatus(ctx, "2026-02-10", "11:00")
	require.NoError(t, err)
	assert.Equal(t, Blocked, v.State)

	_, err = store.UpdateStatus(ctx, block.ID, appointment.StatusCancelled, appointment.ReasonUnblockedByAdmin)
	require.NoError(t, err)

	v, err = ix.SlotStatus(ctx, "2026-02-10", "11:00")
	require.NoError(t, err)
	assert.Equal(t, Available, v.State)
}

func TestDayMarksPastSlots(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	now := time.Date(2026, 2, 10, 10, 15, 0, 0, time.UTC)
	ix := NewIndex(store, time.UTC).WithClock(func() time.Time { return now })

	_, err := store.Create(ctx, appointment.CreateInput{
		Actor: appointment.Actor{ID: uuid.New(), Name: "Marie"},
		Date:  "2026-02-10", Time: "14:30", Reason: "Devis",
	})
	require.NoError(t, err)

	views, err := ix.Day(ctx, "2026-02-10")
	require.NoError(t, err)
	require.Len(t, views, 8)

	assert.True(t, views[0].Past)  // 08:00
	assert.True(t, views[2].Past)  // 10:00
	assert.False(t, views[3].Past) // 11:00
	assert.Equal(t, Booked, views[5].State)
	assert.Equal(t, "14:30", views[5].Time)

	closed, err := ix.Day(ctx, "2026-02-09")
	require.NoError(t, err)
	assert.Empty(t, closed)
}

func TestCalendar(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	ix := NewIndex(store, time.UTC)

	_, err := store.Create(ctx, appointment.CreateInput{Date: "2026-02-10", Time: "11:00", AdminBlock: true})
	require.NoError(t, err)

	days, err := ix.Calendar(ctx, "2026-02-08", "2026-02-14")
	require.NoError(t, err)
	require.Len(t, days, 7)

	assert.False(t, days[0].Open) // Sunday
	assert.False(t, days[1].Open) // Monday
	assert.True(t, days[2].Open)
	assert.True(t, days[2].HasBlocked)
	assert.Equal(t, 1, days[2].BlockedCount)
	assert.False(t, days[2].HasBooked)

	_, err = ix.Calendar(ctx, "2026-02-14", "2026-02-08")
	assert.ErrorIs(t, err, appointment.ErrValidation)

	_, err = ix.Calendar(ctx, "2026-01-01", "2026-06-01")
	assert.ErrorIs(t, err, appointment.ErrValidation)
}

func TestSlotStatusValidatesInput(t *testing.T) {
	ix := NewIndex(newStore(), time.UTC)
	_, err := ix.SlotStatus(context.Background(), "2026-13-10", "09:00")
	assert.ErrorIs(t, err, appointment.ErrValidation)
}
