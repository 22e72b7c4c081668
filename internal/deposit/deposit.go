// Package deposit tracks deposit requirements, payments and refunds, and
// provides the refund half of the cancellation gate.
package deposit

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"spadesk/internal/events"
	"spadesk/internal/metrics"
	"spadesk/internal/models"
	"spadesk/internal/repository"
)

var (
	ErrNotRequired     = errors.New("reservation does not require a deposit")
	ErrNotPaid         = errors.New("deposit has not been paid")
	ErrAlreadyRefunded = errors.New("deposit already refunded")
	ErrAlreadyPaid     = errors.New("deposit already paid")
)

// Store is the storage the service needs.
type Store interface {
	GetReservation(ctx context.Context, id string) (*models.Reservation, error)
	GetDeposit(ctx context.Context, reservationID string) (*models.DepositRecord, error)
	Commit(ctx context.Context, change repository.Change) error
}

// Service handles deposit operations.
type Service struct {
	store     Store
	publisher events.Publisher
	clock     models.Clock
	logger    *zerolog.Logger
}

// NewService creates a deposit service. publisher may be nil.
func NewService(store Store, publisher events.Publisher, clock models.Clock, logger *zerolog.Logger) *Service {
	if clock == nil {
		clock = models.SystemClock{}
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Service{store: store, publisher: publisher, clock: clock, logger: logger}
}

// Require marks the reservation as needing a deposit of amount. The amount can
// be changed until the deposit is fully paid.
func (s *Service) Require(ctx context.Context, reservationID string, amount int64) (*models.DepositRecord, error) {
	if amount <= 0 {
		return nil, models.InvalidInput("deposit amount must be positive")
	}
	r, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, models.WrapTransport("get reservation", err)
	}
	if r.Status.IsTerminal() {
		return nil, &models.TransitionError{Action: "require_deposit", From: r.Status}
	}
	if r.DepositPaid {
		return nil, ErrAlreadyPaid
	}

	rec, err := s.record(ctx, r)
	if err != nil {
		return nil, err
	}
	if rec.AmountPaid > amount {
		return nil, models.InvalidInput("amount %d is below the %d already paid", amount, rec.AmountPaid)
	}
	rec.AmountRequired = amount

	next := r.Clone()
	next.DepositRequired = true
	next.DepositAmount = amount
	next.DepositPaid = rec.IsPaid()
	if next.DepositPaid && rec.PaidAt == nil {
		now := s.clock.Now()
		rec.PaidAt = &now
	}

	if err := s.commit(ctx, r, &next, rec); err != nil {
		metrics.IncDeposit("require", "error")
		return nil, err
	}
	metrics.IncDeposit("require", "ok")
	s.publish(events.DepositRequired, &next, rec)
	return rec, nil
}

// Pay records a payment towards the deposit.
func (s *Service) Pay(ctx context.Context, reservationID string, amount int64, method models.PaymentMethod, reference string) (*models.DepositRecord, error) {
	if amount <= 0 {
		return nil, models.InvalidInput("amount must be positive")
	}
	if _, ok := models.ParsePaymentMethod(string(method)); !ok {
		return nil, models.InvalidInput("unknown payment method %q", method)
	}
	if method.RequiresReference() && reference == "" {
		return nil, models.InvalidInput("payment method %s requires a reference", method)
	}

	r, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, models.WrapTransport("get reservation", err)
	}
	if !r.DepositRequired {
		return nil, ErrNotRequired
	}
	if r.DepositRefunded {
		return nil, ErrAlreadyRefunded
	}
	rec, err := s.record(ctx, r)
	if err != nil {
		return nil, err
	}
	if outstanding := rec.Outstanding(); amount > outstanding {
		return nil, models.InvalidInput("amount %d exceeds outstanding %d", amount, outstanding)
	}

	rec.AmountPaid += amount
	rec.Method = method
	rec.Reference = reference

	next := r.Clone()
	if rec.IsPaid() {
		now := s.clock.Now()
		rec.PaidAt = &now
		next.DepositPaid = true
	}

	if err := s.commit(ctx, r, &next, rec); err != nil {
		metrics.IncDeposit("pay", "error")
		return nil, err
	}
	metrics.IncDeposit("pay", "ok")
	s.logger.Info().
		Str("reservation_id", r.ID).
		Int64("amount", amount).
		Str("method", string(method)).
		Bool("fully_paid", next.DepositPaid).
		Msg("deposit payment recorded")
	s.publish(events.DepositPaid, &next, rec)
	return rec, nil
}

// Refund returns a paid deposit. It can run once per reservation.
func (s *Service) Refund(ctx context.Context, reservationID string) (*models.DepositRecord, error) {
	r, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, models.WrapTransport("get reservation", err)
	}
	if !r.DepositRequired {
		return nil, ErrNotRequired
	}
	if r.DepositRefunded {
		return nil, ErrAlreadyRefunded
	}
	if !r.DepositPaid {
		return nil, ErrNotPaid
	}
	rec, err := s.record(ctx, r)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	rec.RefundedAt = &now

	next := r.Clone()
	next.DepositRefunded = true

	if err := s.commit(ctx, r, &next, rec); err != nil {
		metrics.IncDeposit("refund", "error")
		return nil, err
	}
	metrics.IncDeposit("refund", "ok")
	s.logger.Info().Str("reservation_id", r.ID).Int64("amount", rec.AmountPaid).Msg("deposit refunded")
	s.publish(events.DepositRefunded, &next, rec)
	return rec, nil
}

// Get returns the deposit record of a reservation.
func (s *Service) Get(ctx context.Context, reservationID string) (*models.DepositRecord, error) {
	rec, err := s.store.GetDeposit(ctx, reservationID)
	if err != nil {
		return nil, models.WrapTransport("get deposit", err)
	}
	return rec, nil
}

// BalanceDue is the total price of the service lines minus what the deposit
// covered. A refunded deposit covers nothing.
func BalanceDue(r *models.Reservation, rec *models.DepositRecord) int64 {
	total := r.TotalPrice()
	if rec == nil || rec.IsRefunded() {
		return total
	}
	return total - rec.AmountPaid
}

func (s *Service) record(ctx context.Context, r *models.Reservation) (*models.DepositRecord, error) {
	rec, err := s.store.GetDeposit(ctx, r.ID)
	if errors.Is(err, models.ErrNotFound) {
		return &models.DepositRecord{ReservationID: r.ID, AmountRequired: r.DepositAmount}, nil
	}
	if err != nil {
		return nil, models.WrapTransport("get deposit", err)
	}
	return rec, nil
}

func (s *Service) commit(ctx context.Context, prev, next *models.Reservation, rec *models.DepositRecord) error {
	next.Version = prev.Version + 1
	next.UpdatedAt = s.clock.Now()
	err := s.store.Commit(ctx, repository.Change{
		Reservation:     next,
		ExpectedVersion: prev.Version,
		Deposit:         rec,
	})
	return models.WrapTransport("commit deposit", err)
}

func (s *Service) publish(eventType string, r *models.Reservation, rec *models.DepositRecord) {
	if s.publisher == nil {
		return
	}
	ev, err := events.New(eventType, r.ID, r.LocationRef, rec)
	if err == nil {
		err = s.publisher.Publish(ev)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Str("reservation_id", r.ID).Msg("publish failed")
	}
}
