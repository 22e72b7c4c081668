// Package collab forwards check-out side effects to billing and housekeeping.
package collab

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"spadesk/internal/events"
)

// Invoicer creates an invoice for a checked-out reservation.
type Invoicer interface {
	CreateInvoice(ctx context.Context, eventID string, p events.InvoicePayload) error
}

// Housekeeper creates a cleaning task for a room.
type Housekeeper interface {
	CreateHousekeepingTask(ctx context.Context, eventID string, p events.HousekeepingPayload) error
}

// LogCollaborator only logs the requests. It is used when no webhook is configured.
type LogCollaborator struct {
	logger *zerolog.Logger
}

func NewLogCollaborator(logger *zerolog.Logger) *LogCollaborator {
	return &LogCollaborator{logger: logger}
}

func (l *LogCollaborator) CreateInvoice(_ context.Context, eventID string, p events.InvoicePayload) error {
	l.logger.Info().
		Str("event_id", eventID).
		Str("reservation_id", p.ReservationID).
		Str("guest_ref", p.GuestRef).
		Int64("total", p.Total).
		Int64("balance_due", p.BalanceDue).
		Msg("invoice requested")
	return nil
}

func (l *LogCollaborator) CreateHousekeepingTask(_ context.Context, eventID string, p events.HousekeepingPayload) error {
	l.logger.Info().
		Str("event_id", eventID).
		Str("location_ref", p.LocationRef).
		Str("reservation_id", p.ReservationID).
		Time("ready_by", p.ReadyBy).
		Msg("housekeeping task requested")
	return nil
}

// Subscribe wires invoicer and housekeeper to the bus. Delivery failures are
// logged and returned to the publisher; the committed reservation is unaffected.
func Subscribe(bus *events.EventBus, invoicer Invoicer, housekeeper Housekeeper, timeout time.Duration, logger *zerolog.Logger) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if invoicer != nil {
		bus.Subscribe(events.InvoiceRequested, func(ev events.Event) error {
			var p events.InvoicePayload
			if err := ev.Decode(&p); err != nil {
				return fmt.Errorf("decode invoice request: %w", err)
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := invoicer.CreateInvoice(ctx, ev.ID, p); err != nil {
				logger.Error().Err(err).Str("reservation_id", p.ReservationID).Msg("invoice delivery failed")
				return err
			}
			return nil
		})
	}
	if housekeeper != nil {
		bus.Subscribe(events.HousekeepingRequested, func(ev events.Event) error {
			var p events.HousekeepingPayload
			if err := ev.Decode(&p); err != nil {
				return fmt.Errorf("decode housekeeping request: %w", err)
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := housekeeper.CreateHousekeepingTask(ctx, ev.ID, p); err != nil {
				logger.Error().Err(err).Str("location_ref", p.LocationRef).Msg("housekeeping delivery failed")
				return err
			}
			return nil
		})
	}
}
