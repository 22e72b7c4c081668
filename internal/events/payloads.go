package events

import (
	"time"

	"spadesk/internal/models"
)

// InvoicePayload is carried by invoice.requested.
type InvoicePayload struct {
	ReservationID string               `json:"reservation_id"`
	GuestRef      string               `json:"guest_ref"`
	Services      []models.ServiceLine `json:"services"`
	Total         int64                `json:"total"`
	DepositPaid   int64                `json:"deposit_paid"`
	BalanceDue    int64                `json:"balance_due"`
}

// HousekeepingPayload is carried by housekeeping.requested.
type HousekeepingPayload struct {
	LocationRef   string    `json:"location_ref"`
	ReservationID string    `json:"reservation_id"`
	ReadyBy       time.Time `json:"ready_by"`
}
