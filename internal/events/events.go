// Package events is the in-process domain event bus.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	ReservationCreated       = "reservation.created"
	ReservationUpdated       = "reservation.updated"
	ReservationStatusChanged = "reservation.status_changed"
	DepositRequired          = "deposit.required"
	DepositPaid              = "deposit.paid"
	DepositRefunded          = "deposit.refunded"
	InvoiceRequested         = "invoice.requested"
	HousekeepingRequested    = "housekeeping.requested"
	LocationStatusChanged    = "location.status_changed"
)

// Event represents a lightweight domain event.
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	ReservationID string          `json:"reservation_id,omitempty"`
	LocationRef   string          `json:"location_ref,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// New builds an event and encodes payload as JSON. A nil payload is omitted.
func New(eventType, reservationID, locationRef string, payload any) (Event, error) {
	ev := Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		ReservationID: reservationID,
		LocationRef:   locationRef,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("encode %s payload: %w", eventType, err)
		}
		ev.Payload = raw
	}
	return ev, nil
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

// EventHandler reacts to an event.
type EventHandler func(event Event) error

// Publisher is what producers depend on.
type Publisher interface {
	Publish(event Event) error
}

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	now         func() time.Time
}

var _ Publisher = (*EventBus)(nil)

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler), now: time.Now}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type. Every handler runs even if an
// earlier one fails; their errors are joined.
func (b *EventBus) Publish(event Event) error {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = b.now()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	var errs []error
	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(event); err != nil {
			errs = append(errs, fmt.Errorf("%s handler: %w", event.Type, err))
		}
	}
	return errors.Join(errs...)
}
