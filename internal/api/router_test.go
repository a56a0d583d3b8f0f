package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/admin"
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/appointment"
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/availability"
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/booking"
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/notify"
	redisclient "github.com/Elcoletas/Peppiniere-Gissinger-App/internal/redis"
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/schedule"
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/user"
)

// Monday 2026-02-09 in Paris; Tuesday 2026-02-10 is the next open day.
var now = time.Date(2026, 2, 9, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	handler  http.Handler
	store    *appointment.Store
	hub      *Hub
	marie    *user.User
	paul     *user.User
	employee *user.User
}

func newTestEnv(t *testing.T, mutate ...func(*RouterConfig)) testEnv {
	t.Helper()
	ctx := context.Background()

	store := appointment.NewStore(appointment.NewMemoryRepository(), redisclient.NewLocalSlotLocker(), &notify.Recorder{}, zerolog.Nop())
	loc, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)
	index := availability.NewIndex(store, loc).WithClock(func() time.Time { return now })

	users := user.NewMemoryRepository()
	marie, err := users.Create(ctx, user.User{Name: "Marie Schmitt", Email: "marie@example.com", Phone: "06 11 22 33 44", Role: user.RoleClient})
	require.NoError(t, err)
	paul, err := users.Create(ctx, user.User{Name: "Paul Meyer", Email: "paul@example.com", Role: user.RoleClient})
	require.NoError(t, err)
	employee, err := users.Create(ctx, user.User{Name: "Jean Gissinger", Email: "contact@jeangissinger.fr", Role: user.RoleEmployee})
	require.NoError(t, err)

	hub := NewHub([]string{"*"}, zerolog.Nop())
	store.Subscribe(hub.Publish)

	cfg := RouterConfig{
		Booking:        booking.NewService(store, index, zerolog.Nop()),
		Admin:          admin.NewService(store, index, zerolog.Nop()),
		Index:          index,
		Users:          users,
		Shop:           schedule.DefaultShopInfo(),
		Hub:            hub,
		Health:         NewHealthHandler(nil, nil, "test", "v0"),
		Log:            zerolog.Nop(),
		RequestTimeout: 5 * time.Second,
		CORSOrigins:    []string{"*"},
	}
	for _, m := range mutate {
		m(&cfg)
	}

	return testEnv{
		handler:  NewRouter(cfg),
		store:    store,
		hub:      hub,
		marie:    marie,
		paul:     paul,
		employee: employee,
	}
}

func (e testEnv) do(t *testing.T, method, path string, as *user.User, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		req.Header.Set(UserIDHeader, as.ID.String())
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestBookingFlow(t *testing.T) {
	env := newTestEnv(t)
	body := BookAppointmentRequest{Date: "2026-02-10", Time: "09:00", Reason: "Conseil aménagement jardin"}

	rec := env.do(t, http.MethodPost, "/api/appointments", env.marie, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	appt := decode[appointment.Appointment](t, rec)
	assert.Equal(t, appointment.StatusConfirmed, appt.Status)
	assert.Equal(t, "06 11 22 33 44", appt.ClientPhone)

	rec = env.do(t, http.MethodPost, "/api/appointments", env.paul, body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_taken", decode[ErrorResponse](t, rec).Error)

	rec = env.do(t, http.MethodGet, "/api/slots?date=2026-02-10", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	slots := decode[SlotsResponse](t, rec)
	assert.True(t, slots.Open)
	require.Len(t, slots.Slots, 8)
	assert.Equal(t, availability.Booked, slots.Slots[1].State)
	assert.Nil(t, slots.Slots[1].Appointment)

	rec = env.do(t, http.MethodPost, "/api/appointments/"+appt.ID.String()+"/cancel", env.paul, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/appointments/"+appt.ID.String()+"/cancel", env.marie, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, appointment.ReasonCancelledByClient, decode[appointment.Appointment](t, rec).CancellationReason)

	rec = env.do(t, http.MethodPost, "/api/appointments", env.paul, body)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/appointments", env.marie, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	mine := decode[[]appointment.Appointment](t, rec)
	require.Len(t, mine, 1)
	assert.Equal(t, appointment.StatusCancelled, mine[0].Status)
}

func TestClosedDayHasNoSlots(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/slots?date=2026-02-15", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	slots := decode[SlotsResponse](t, rec)
	assert.False(t, slots.Open)
	assert.Empty(t, slots.Slots)

	rec = env.do(t, http.MethodGet, "/api/slots?date=tomorrow", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthentication(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/appointments", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	ghost := &user.User{ID: uuid.New()}
	rec = env.do(t, http.MethodGet, "/api/appointments", ghost, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/admin/appointments", env.marie, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/admin/appointments", env.employee, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminBlockAndUnblock(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/admin/blocks", env.employee, BlockSlotRequest{Date: "2026-02-10", Time: "11:00"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	block := decode[appointment.Appointment](t, rec)
	assert.Equal(t, appointment.StatusBlocked, block.Status)

	rec = env.do(t, http.MethodGet, "/api/slots/2026-02-10/11:00", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, availability.Blocked, decode[availability.SlotView](t, rec).State)

	rec = env.do(t, http.MethodGet, "/api/admin/slots/2026-02-10/11:00", env.employee, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[admin.SlotDetail](t, rec)
	assert.Equal(t, []admin.Action{admin.ActionEdit, admin.ActionUnblock}, detail.Actions)
	require.NotNil(t, detail.Appointment)
	assert.Equal(t, block.ID, detail.Appointment.ID)

	rec = env.do(t, http.MethodPost, "/api/appointments", env.marie, BookAppointmentRequest{Date: "2026-02-10", Time: "11:00", Reason: "Entretien / Taille"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/admin/appointments/"+block.ID.String()+"/unblock", env.employee, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/slots/2026-02-10/11:00", nil, nil)
	assert.Equal(t, availability.Available, decode[availability.SlotView](t, rec).State)

	rec = env.do(t, http.MethodPost, "/api/appointments", env.marie, BookAppointmentRequest{Date: "2026-02-10", Time: "11:00", Reason: "Entretien / Taille"})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestAdminRescheduleAndAccept(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/appointments", env.marie, BookAppointmentRequest{Date: "2026-02-10", Time: "09:00", Reason: "Conseil aménagement jardin"})
	require.Equal(t, http.StatusCreated, rec.Code)
	appt := decode[appointment.Appointment](t, rec)
	path := "/api/admin/appointments/" + appt.ID.String() + "/reschedule"

	rec = env.do(t, http.MethodPost, path, env.employee, RescheduleRequest{Date: "2026-02-08", Time: "10:00"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "outside_business_hours", decode[ErrorResponse](t, rec).Error)

	rec = env.do(t, http.MethodPost, path, env.employee, RescheduleRequest{Date: "2026-02-11", Time: "14:30", Version: appt.Version})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, appointment.StatusRescheduledPending, decode[appointment.Appointment](t, rec).Status)

	rec = env.do(t, http.MethodPost, path, env.employee, RescheduleRequest{Date: "2026-02-11", Time: "15:30", Version: appt.Version})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "concurrent_modification", decode[ErrorResponse](t, rec).Error)

	rec = env.do(t, http.MethodGet, "/api/admin/appointments?filter=confirmed", env.employee, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]appointment.Appointment](t, rec), 1)

	rec = env.do(t, http.MethodPost, "/api/appointments/"+appt.ID.String()+"/accept", env.marie, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	accepted := decode[appointment.Appointment](t, rec)
	assert.Equal(t, appointment.StatusConfirmed, accepted.Status)
	assert.Equal(t, "14:30", accepted.Time)
}

func TestAdminCancelNeedsReason(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/appointments", env.marie, BookAppointmentRequest{Date: "2026-02-10", Time: "09:00", Reason: "Conseil aménagement jardin"})
	require.Equal(t, http.StatusCreated, rec.Code)
	appt := decode[appointment.Appointment](t, rec)
	path := "/api/admin/appointments/" + appt.ID.String() + "/cancel"

	rec = env.do(t, http.MethodPost, path, env.employee, AdminCancelRequest{Reason: admin.OtherCancelReason})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, path, env.employee, AdminCancelRequest{Reason: "Conditions météorologiques"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Conditions météorologiques", decode[appointment.Appointment](t, rec).CancellationReason)

	rec = env.do(t, http.MethodPost, "/api/admin/appointments/"+uuid.NewString()+"/cancel", env.employee, AdminCancelRequest{Reason: "Erreur de planning"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/admin/appointments/not-a-uuid/cancel", env.employee, AdminCancelRequest{Reason: "Erreur de planning"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminExport(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/appointments", env.marie, BookAppointmentRequest{Date: "2026-02-10", Time: "09:00", Reason: "Conseil aménagement jardin"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/admin/appointments/export?filter=ALL", env.employee, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))

	rec = env.do(t, http.MethodGet, "/api/admin/appointments/export?filter=WEEK", env.employee, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCalendarAndCatalogue(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/admin/blocks", env.employee, BlockSlotRequest{Date: "2026-02-10", Time: "08:00"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/calendar?from=2026-02-09&to=2026-02-15", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	days := decode[[]availability.DayDensity](t, rec)
	require.Len(t, days, 7)
	assert.False(t, days[0].Open)
	assert.True(t, days[1].HasBlocked)

	rec = env.do(t, http.MethodGet, "/api/reasons", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	reasons := decode[ReasonsResponse](t, rec)
	assert.Contains(t, reasons.Booking, booking.OtherReason)
	assert.Contains(t, reasons.Cancel, admin.OtherCancelReason)

	rec = env.do(t, http.MethodGet, "/api/shop", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Pépinières Jean Gissinger", decode[schedule.ShopInfo](t, rec).Name)
}

func TestInvalidBody(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/appointments", strings.NewReader(`{"date":`))
	req.Header.Set(UserIDHeader, env.marie.ID.String())
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request_body", decode[ErrorResponse](t, rec).Error)
}

func TestRateLimitOnBooking(t *testing.T) {
	env := newTestEnv(t, func(c *RouterConfig) {
		c.RateLimitRPS = 0.001
		c.RateLimitBurst = 1
	})
	body := BookAppointmentRequest{Date: "2026-02-10", Time: "09:00", Reason: "Entretien / Taille"}

	rec := env.do(t, http.MethodPost, "/api/appointments", env.marie, body)
	assert.Equal(t, http.StatusCreated, rec.Code)

	body.Time = "10:00"
	rec = env.do(t, http.MethodPost, "/api/appointments", env.marie, body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/slots?date=2026-02-10", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiterForgetsIdleClients(t *testing.T) {
	rl := NewRateLimiter(5, 10)
	t0 := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	now := t0
	rl.now = func() time.Time { return now }

	rl.getLimiter("10.0.0.1")
	now = t0.Add(5 * time.Minute)
	rl.getLimiter("10.0.0.2")
	assert.Equal(t, 2, rl.tracked())

	now = t0.Add(11 * time.Minute)
	rl.getLimiter("10.0.0.3")
	assert.Equal(t, 2, rl.tracked(), "10.0.0.1 idled past the TTL")
	assert.Equal(t, now, rl.lastSweep)

	now = t0.Add(11*time.Minute + 20*time.Second)
	rl.getLimiter("10.0.0.3")
	assert.Equal(t, t0.Add(11*time.Minute), rl.lastSweep, "no sweep within a minute of the last one")
}

func TestRequestIDIsEchoed(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))

	rec = env.do(t, http.MethodGet, "/health/live", nil, nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestHandleStoreErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
		name string
	}{
		{appointment.ErrSlotBusy, http.StatusConflict, "slot_being_booked"},
		{appointment.ErrSlotTaken, http.StatusConflict, "slot_taken"},
		{appointment.ErrValidation, http.StatusBadRequest, "validation_error"},
		{appointment.ErrNotFound, http.StatusNotFound, "appointment_not_found"},
		{appointment.ErrOutsideBusinessHours, http.StatusUnprocessableEntity, "outside_business_hours"},
		{appointment.ErrInvalidTransition, http.StatusConflict, "invalid_status_transition"},
		{appointment.ErrConcurrentModification, http.StatusConflict, "concurrent_modification"},
		{appointment.ErrForbidden, http.StatusForbidden, "forbidden"},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
		{assert.AnError, http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handleStoreError(rec, tt.err)
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.name, decode[ErrorResponse](t, rec).Error)
		})
	}
}

func TestReadiness(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := NewHealthHandler(nil, rdb, "test", "v0")
	rec := httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ReadinessResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "disabled", resp.Dependencies["postgres"])
	assert.Equal(t, "ok", resp.Dependencies["redis"])

	mr.Close()
	rec = httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "degraded", decode[ReadinessResponse](t, rec).Status)
}

func TestHubBroadcastsSlotChanges(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.hub.Run(ctx)

	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/availability", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return env.hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	_, err = env.store.Create(context.Background(), appointment.CreateInput{Date: "2026-02-10", Time: "13:30", AdminBlock: true})
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev SlotEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, SlotEvent{Type: "slot_changed", Date: "2026-02-10", Time: "13:30"}, ev)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://jeangissinger.fr"})

	req := httptest.NewRequest(http.MethodGet, "/ws/availability", nil)
	assert.True(t, check(req))
	req.Header.Set("Origin", "https://jeangissinger.fr")
	assert.True(t, check(req))
	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(req))
}
