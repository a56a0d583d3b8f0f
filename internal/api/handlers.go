package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/admin"
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/appointment"
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/availability"
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/booking"
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/schedule"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func shopHandler(info schedule.ShopInfo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, info)
	}
}

func reasonsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, ReasonsResponse{
			Booking: booking.Reasons,
			Cancel:  admin.CancelReasons,
		})
	}
}

func slotsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date := r.URL.Query().Get("date")
		views, err := svc.Slots(r.Context(), date)
		if err != nil {
			handleStoreError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, SlotsResponse{
			Date:  date,
			Open:  len(views) > 0,
			Slots: anonymize(views),
		})
	}
}

func slotStatusHandler(index *availability.Index) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := index.SlotStatus(r.Context(), chi.URLParam(r, "date"), chi.URLParam(r, "time"))
		if err != nil {
			handleStoreError(w, err)
			return
		}
		view.Appointment = nil
		writeJSON(w, http.StatusOK, view)
	}
}

func calendarHandler(index *availability.Index) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		days, err := index.Calendar(r.Context(), q.Get("from"), q.Get("to"))
		if err != nil {
			handleStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, days)
	}
}

func bookAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if !decodeBody(w, r, &req) {
			return
		}

		appt, err := svc.Book(r.Context(), CurrentUser(r.Context()).Actor(), booking.BookRequest{
			Date:    req.Date,
			Time:    req.Time,
			Reason:  req.Reason,
			Details: req.Details,
		})
		if err != nil {
			handleStoreError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, appt)
	}
}

func myAppointmentsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apps, err := svc.Appointments(r.Context(), CurrentUser(r.Context()).Actor())
		if err != nil {
			handleStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, apps)
	}
}

func clientCancelHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		appt, err := svc.Cancel(r.Context(), CurrentUser(r.Context()).Actor(), id)
		if err != nil {
			handleStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, appt)
	}
}

func acceptRescheduleHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		appt, err := svc.AcceptReschedule(r.Context(), CurrentUser(r.Context()).Actor(), id)
		if err != nil {
			handleStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, appt)
	}
}

func adminListHandler(svc *admin.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := admin.ParseListFilter(r.URL.Query().Get("filter"))
		if err != nil {
			handleStoreError(w, err)
			return
		}

		apps, err := svc.List(r.Context(), filter)
		if err != nil {
			handleStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, apps)
	}
}

func adminExportHandler(svc *admin.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := admin.ParseListFilter(r.URL.Query().Get("filter"))
		if err != nil {
			handleStoreError(w, err)
			return
		}

		var buf bytes.Buffer
		if err := svc.Export(r.Context(), filter, &buf); err != nil {
			handleStoreError(w, err)
			return
		}

		w.Header().Set("Content-Type", xlsxContentType)
		w.Header().Set("Content-Disposition", `attachment; filename="rendez-vous.xlsx"`)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(buf.Bytes())
	}
}

func adminInspectHandler(svc *admin.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		detail, err := svc.Inspect(r.Context(), chi.URLParam(r, "date"), chi.URLParam(r, "time"))
		if err != nil {
			handleStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, detail)
	}
}

func blockSlotHandler(svc *admin.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BlockSlotRequest
		if !decodeBody(w, r, &req) {
			return
		}

		appt, err := svc.Block(r.Context(), CurrentUser(r.Context()).Actor(), req.Date, req.Time)
		if err != nil {
			handleStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, appt)
	}
}

func unblockHandler(svc *admin.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		var req UnblockRequest
		if r.ContentLength != 0 && !decodeBody(w, r, &req) {
			return
		}

		appt, err := svc.Unblock(r.Context(), id, req.Version)
		if err != nil {
			handleStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, appt)
	}
}

func adminCancelHandler(svc *admin.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		var req AdminCancelRequest
		if !decodeBody(w, r, &req) {
			return
		}

		appt, err := svc.Cancel(r.Context(), id, admin.CancelRequest{
			Reason:  req.Reason,
			Details: req.Details,
			Version: req.Version,
		})
		if err != nil {
			handleStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, appt)
	}
}

func rescheduleHandler(svc *admin.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		var req RescheduleRequest
		if !decodeBody(w, r, &req) {
			return
		}

		appt, err := svc.Reschedule(r.Context(), id, req.Date, req.Time, req.Version)
		if err != nil {
			handleStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, appt)
	}
}

// anonymize hides who booked a slot from public views.
func anonymize(views []availability.SlotView) []availability.SlotView {
	out := make([]availability.SlotView, len(views))
	for i, v := range views {
		v.Appointment = nil
		out[i] = v
	}
	return out
}

func appointmentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

// handleStoreError maps the appointment error taxonomy to HTTP. ErrSlotBusy
// is checked before ErrSlotTaken, which it wraps.
func handleStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", "the outcome is unknown, reload before retrying")
	case errors.Is(err, appointment.ErrSlotBusy):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	case errors.Is(err, appointment.ErrSlotTaken):
		writeError(w, http.StatusConflict, "slot_taken", err.Error())
	case errors.Is(err, appointment.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, appointment.ErrNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrOutsideBusinessHours):
		writeError(w, http.StatusUnprocessableEntity, "outside_business_hours", err.Error())
	case errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, appointment.ErrConcurrentModification):
		writeError(w, http.StatusConflict, "concurrent_modification", err.Error())
	case errors.Is(err, appointment.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
