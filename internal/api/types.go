package api

import (
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/availability"
)

type BookAppointmentRequest struct {
	Date    string `json:"date"`
	Time    string `json:"time"`
	Reason  string `json:"reason"`
	Details string `json:"details,omitempty"`
}

type BlockSlotRequest struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

type AdminCancelRequest struct {
	Reason  string `json:"reason"`
	Details string `json:"details,omitempty"`
	Version int64  `json:"version,omitempty"`
}

type RescheduleRequest struct {
	Date    string `json:"date"`
	Time    string `json:"time"`
	Version int64  `json:"version,omitempty"`
}

type UnblockRequest struct {
	Version int64 `json:"version,omitempty"`
}

type SlotsResponse struct {
	Date  string                  `json:"date"`
	Open  bool                    `json:"open"`
	Slots []availability.SlotView `json:"slots"`
}

type ReasonsResponse struct {
	Booking []string `json:"booking"`
	Cancel  []string `json:"cancel"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
