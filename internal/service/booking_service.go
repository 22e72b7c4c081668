// Package service is the engine facade: every external operation enters here.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"spadesk/internal/availability"
	"spadesk/internal/conflict"
	"spadesk/internal/deposit"
	"spadesk/internal/events"
	"spadesk/internal/lifecycle"
	"spadesk/internal/locks"
	"spadesk/internal/metrics"
	"spadesk/internal/models"
	"spadesk/internal/repository"
	"spadesk/internal/schedule"
	"spadesk/internal/scheduler"
)

// Config carries the booking policy knobs.
type Config struct {
	MinAdvance  time.Duration
	MaxAdvance  time.Duration
	Cleanup     time.Duration
	SlotMinutes int
	Location    *time.Location
}

// BookingService exposes the engine operations.
type BookingService struct {
	store     repository.Store
	engine    *availability.Engine
	detector  *conflict.Detector
	protocol  *scheduler.Protocol
	fsm       *lifecycle.FSM
	deposits  *deposit.Service
	calendar  *schedule.Generator
	locker    locks.Locker
	publisher events.Publisher
	clock     models.Clock
	loc       *time.Location
	logger    *zerolog.Logger
}

// NewBookingService wires the engine on top of store. publisher may be nil.
func NewBookingService(
	store repository.Store,
	locker locks.Locker,
	publisher events.Publisher,
	clock models.Clock,
	cfg Config,
	logger *zerolog.Logger,
) *BookingService {
	if clock == nil {
		clock = models.SystemClock{}
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	engine := availability.NewEngine(store, store, store, availability.Config{
		MinAdvance: cfg.MinAdvance,
		MaxAdvance: cfg.MaxAdvance,
		Location:   cfg.Location,
	}, logger)
	detector := conflict.NewDetector(store)

	return &BookingService{
		store:     store,
		engine:    engine,
		detector:  detector,
		protocol:  scheduler.NewProtocol(store, engine, detector, locker, publisher, clock, logger),
		fsm:       lifecycle.NewFSM(cfg.Cleanup),
		deposits:  deposit.NewService(store, publisher, clock, logger),
		calendar:  schedule.NewGenerator(detector, cfg.SlotMinutes),
		locker:    locker,
		publisher: publisher,
		clock:     clock,
		loc:       cfg.Location,
		logger:    logger,
	}
}

// ListReservations returns reservations matching filter ordered by start.
func (s *BookingService) ListReservations(ctx context.Context, filter models.ReservationFilter) ([]models.Reservation, error) {
	list, err := s.store.ListReservations(ctx, filter)
	if err != nil {
		return nil, models.WrapTransport("list reservations", err)
	}
	return list, nil
}

// GetReservation returns one reservation.
func (s *BookingService) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	r, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return nil, models.WrapTransport("get reservation", err)
	}
	return r, nil
}

// CreateReservation books through the mutation protocol.
func (s *BookingService) CreateReservation(ctx context.Context, in scheduler.CreateInput) (*models.Reservation, error) {
	return s.protocol.Create(ctx, in)
}

// UpdateReservation moves or reassigns through the mutation protocol.
func (s *BookingService) UpdateReservation(ctx context.Context, id string, patch scheduler.Patch) (*models.Reservation, error) {
	return s.protocol.Reschedule(ctx, id, patch)
}

// CheckAvailability evaluates policy at the current instant.
func (s *BookingService) CheckAvailability(ctx context.Context, p availability.Proposal) (availability.Result, error) {
	res, err := s.engine.Check(ctx, p, s.clock.Now())
	if err != nil {
		return availability.Result{}, models.WrapTransport("check availability", err)
	}
	return res, nil
}

// CheckConflicts runs mutual-exclusion detection.
func (s *BookingService) CheckConflicts(ctx context.Context, p conflict.Proposal, excludeID string) (conflict.Result, error) {
	res, err := s.detector.Detect(ctx, p, excludeID)
	if err != nil {
		return conflict.Result{}, models.WrapTransport("detect conflicts", err)
	}
	return res, nil
}

// ApplyStatusAction runs a lifecycle action and persists its side effects
// together with the new status. Events go out after the locks are released.
func (s *BookingService) ApplyStatusAction(ctx context.Context, id string, action lifecycle.Action, opts lifecycle.Options) (*models.Reservation, error) {
	prev, next, effects, err := s.commitStatus(ctx, id, action, opts)
	if err != nil {
		return nil, err
	}

	s.publish(events.ReservationStatusChanged, next, map[string]string{"from": string(prev), "to": string(next.Status), "action": string(action)})
	if effects.InvoiceRequested {
		s.publish(events.InvoiceRequested, next, s.invoiceRequest(ctx, next))
	}
	if ref := effects.HousekeepingRequested; ref != "" {
		s.publish(events.HousekeepingRequested, next, events.HousekeepingPayload{LocationRef: ref, ReservationID: next.ID, ReadyBy: next.Interval.End.Add(s.cleanup(effects))})
	}

	return s.GetReservation(ctx, id)
}

// commitStatus applies the transition under the resource and location locks.
func (s *BookingService) commitStatus(ctx context.Context, id string, action lifecycle.Action, opts lifecycle.Options) (models.Status, *models.Reservation, lifecycle.Effects, error) {
	var effects lifecycle.Effects
	r, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return "", nil, effects, models.WrapTransport("get reservation", err)
	}

	var keys []string
	if r.ResourceRef != "" {
		keys = append(keys, locks.ResourceKey(r.ResourceRef))
	}
	if r.LocationRef != "" {
		keys = append(keys, locks.LocationKey(r.LocationRef))
	}
	unlock, err := s.locker.Lock(ctx, keys...)
	if err != nil {
		return "", nil, effects, &models.TransportError{Op: "acquire lock", Err: err}
	}
	defer unlock()

	// Re-read under the lock so the version check below compares against what we evaluated.
	r, err = s.store.GetReservation(ctx, id)
	if err != nil {
		return "", nil, effects, models.WrapTransport("get reservation", err)
	}

	room, err := s.roomState(ctx, r, action)
	if err != nil {
		return "", nil, effects, models.WrapTransport("room state", err)
	}

	now := s.clock.Now()
	next, effects, err := s.fsm.Transition(*r, action, opts, room, now)
	if err != nil {
		metrics.IncTransition(string(action), "rejected")
		s.logger.Info().Err(err).Str("reservation_id", id).Str("action", string(action)).Msg("status action refused")
		return "", nil, effects, err
	}
	next.Version = r.Version + 1

	change := repository.Change{Reservation: &next, ExpectedVersion: r.Version}
	if b := effects.CleanupBlock; b != nil {
		s.warnIfCleanupOverlaps(ctx, b)
		change.Blocks = []models.Block{*b}
	}
	if ref := effects.MarkLocationDirty; ref != "" {
		dirty := true
		change.LocationStatus = []models.LocationStatus{{Ref: ref, Dirty: &dirty}}
	}

	if err := s.store.Commit(ctx, change); err != nil {
		metrics.IncTransition(string(action), "error")
		return "", nil, effects, models.WrapTransport("commit status", err)
	}
	metrics.IncTransition(string(action), "ok")
	s.logger.Info().
		Str("reservation_id", id).
		Str("action", string(action)).
		Str("from", string(r.Status)).
		Str("to", string(next.Status)).
		Msg("status changed")

	return r.Status, &next, effects, nil
}

func (s *BookingService) invoiceRequest(ctx context.Context, r *models.Reservation) events.InvoicePayload {
	req := events.InvoicePayload{
		ReservationID: r.ID,
		GuestRef:      r.GuestRef,
		Services:      r.Services,
		Total:         r.TotalPrice(),
	}
	rec, err := s.store.GetDeposit(ctx, r.ID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		s.logger.Warn().Err(err).Str("reservation_id", r.ID).Msg("deposit lookup for invoice failed")
	}
	if err == nil && !rec.IsRefunded() {
		req.DepositPaid = rec.AmountPaid
	}
	req.BalanceDue = deposit.BalanceDue(r, rec)
	return req
}

func (s *BookingService) cleanup(effects lifecycle.Effects) time.Duration {
	if effects.CleanupBlock == nil {
		return 0
	}
	return effects.CleanupBlock.Interval.Duration()
}

func (s *BookingService) roomState(ctx context.Context, r *models.Reservation, action lifecycle.Action) (lifecycle.RoomState, error) {
	if action != lifecycle.ActionCheckIn || r.LocationRef == "" {
		return lifecycle.RoomState{}, nil
	}
	loc, err := s.store.GetLocation(ctx, r.LocationRef)
	if err != nil {
		return lifecycle.RoomState{}, err
	}
	room := lifecycle.RoomState{Location: loc}
	present, err := s.store.ListReservations(ctx, models.ReservationFilter{
		LocationRef: r.LocationRef,
		Statuses:    models.OnSiteStatuses,
	})
	if err != nil {
		return lifecycle.RoomState{}, err
	}
	for _, other := range present {
		room.Occupants = append(room.Occupants, other.ID)
	}
	return room, nil
}

func (s *BookingService) warnIfCleanupOverlaps(ctx context.Context, b *models.Block) {
	res, err := s.detector.Detect(ctx, conflict.Proposal{ResourceRef: b.ResourceRef, LocationRef: b.LocationRef, Interval: b.Interval}, b.SourceReservationID)
	if err != nil || !res.Conflict {
		return
	}
	s.logger.Warn().
		Str("block_id", b.ID).
		Strs("reservation_ids", res.ReservationIDs).
		Strs("block_ids", res.BlockIDs).
		Msg("cleanup buffer overlaps existing bookings")
}

// ListWeeklyShiftRules returns the stored rules, or, when weekStart is given,
// the rule in effect on each day of that week.
func (s *BookingService) ListWeeklyShiftRules(ctx context.Context, resourceRef string, weekStart *time.Time) ([]models.WeeklyShiftRule, error) {
	rules, err := s.store.ListShiftRules(ctx, resourceRef)
	if err != nil {
		return nil, models.WrapTransport("list shift rules", err)
	}
	if weekStart == nil {
		return rules, nil
	}
	return schedule.RulesForWeek(rules, weekStart.In(s.loc)), nil
}

// UpsertShiftRule validates and stores a rule.
func (s *BookingService) UpsertShiftRule(ctx context.Context, rule models.WeeklyShiftRule) (*models.WeeklyShiftRule, error) {
	if err := rule.Validate(); err != nil {
		return nil, models.InvalidInput("%v", err)
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.EffectiveFrom != nil {
		d := models.DateOnly(rule.EffectiveFrom.In(s.loc))
		rule.EffectiveFrom = &d
	}
	if err := s.store.UpsertShiftRule(ctx, rule); err != nil {
		return nil, models.WrapTransport("upsert shift rule", err)
	}
	s.logger.Info().Str("resource_ref", rule.ResourceRef).Int("day_of_week", rule.DayOfWeek).Bool("day_off", rule.IsDayOff).Msg("shift rule saved")
	return &rule, nil
}

// RequireDeposit sets the deposit requirement.
func (s *BookingService) RequireDeposit(ctx context.Context, id string, amount int64) (*models.DepositRecord, error) {
	return s.deposits.Require(ctx, id, amount)
}

// PayDeposit records a deposit payment.
func (s *BookingService) PayDeposit(ctx context.Context, id string, amount int64, method models.PaymentMethod, reference string) (*models.DepositRecord, error) {
	return s.deposits.Pay(ctx, id, amount, method, reference)
}

// RefundDeposit refunds a paid deposit, opening the cancellation gate.
func (s *BookingService) RefundDeposit(ctx context.Context, id string) (*models.DepositRecord, error) {
	return s.deposits.Refund(ctx, id)
}

// GetDeposit returns the deposit record.
func (s *BookingService) GetDeposit(ctx context.Context, id string) (*models.DepositRecord, error) {
	return s.deposits.Get(ctx, id)
}

// BalanceDue is what the guest owes at checkout.
func (s *BookingService) BalanceDue(ctx context.Context, id string) (int64, error) {
	r, err := s.GetReservation(ctx, id)
	if err != nil {
		return 0, err
	}
	rec, err := s.store.GetDeposit(ctx, id)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return 0, models.WrapTransport("get deposit", err)
	}
	return deposit.BalanceDue(r, rec), nil
}

// Calendar builds the day grid of a resource.
func (s *BookingService) Calendar(ctx context.Context, resourceRef string, date time.Time) (*schedule.Day, error) {
	if resourceRef == "" {
		return nil, models.InvalidInput("resource is required")
	}
	rules, err := s.store.ListShiftRules(ctx, resourceRef)
	if err != nil {
		return nil, models.WrapTransport("list shift rules", err)
	}
	day, err := s.calendar.GenerateDay(ctx, rules, resourceRef, date.In(s.loc), s.clock.Now())
	if err != nil {
		return nil, models.WrapTransport("generate calendar", err)
	}
	return day, nil
}

// ListLocations returns all rooms with their runtime flags.
func (s *BookingService) ListLocations(ctx context.Context) ([]models.Location, error) {
	list, err := s.store.ListLocations(ctx)
	return list, models.WrapTransport("list locations", err)
}

// UpdateLocationStatus sets the dirty and out-of-service flags, typically after housekeeping.
func (s *BookingService) UpdateLocationStatus(ctx context.Context, status models.LocationStatus) (*models.Location, error) {
	if status.Ref == "" {
		return nil, models.InvalidInput("location ref is required")
	}
	if status.Dirty == nil && status.OutOfService == nil {
		return nil, models.InvalidInput("nothing to update")
	}
	unlock, err := s.locker.Lock(ctx, locks.LocationKey(status.Ref))
	if err != nil {
		return nil, &models.TransportError{Op: "acquire lock", Err: err}
	}
	defer unlock()

	if err := s.store.Commit(ctx, repository.Change{LocationStatus: []models.LocationStatus{status}}); err != nil {
		return nil, models.WrapTransport("update location", err)
	}
	loc, err := s.store.GetLocation(ctx, status.Ref)
	if err != nil {
		return nil, models.WrapTransport("get location", err)
	}
	s.logger.Info().Str("location_ref", loc.Ref).Bool("dirty", loc.Dirty).Bool("out_of_service", loc.OutOfService).Msg("location status updated")
	if s.publisher != nil {
		ev, err := events.New(events.LocationStatusChanged, "", loc.Ref, loc)
		if err == nil {
			err = s.publisher.Publish(ev)
		}
		if err != nil {
			s.logger.Warn().Err(err).Str("location_ref", loc.Ref).Msg("publish failed")
		}
	}
	return loc, nil
}

// Ping checks storage.
func (s *BookingService) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
}

func (s *BookingService) publish(eventType string, r *models.Reservation, payload any) {
	if s.publisher == nil {
		return
	}
	ev, err := events.New(eventType, r.ID, r.LocationRef, payload)
	if err == nil {
		err = s.publisher.Publish(ev)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Str("reservation_id", r.ID).Msg("publish failed")
	}
}
