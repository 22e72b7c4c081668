// Package scheduler implements the propose, validate, commit or reject flow
// shared by booking, drag-and-drop rescheduling and reassignment.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"spadesk/internal/availability"
	"spadesk/internal/conflict"
	"spadesk/internal/events"
	"spadesk/internal/locks"
	"spadesk/internal/metrics"
	"spadesk/internal/models"
	"spadesk/internal/repository"
)

// Rejection is returned when a mutation is refused. Committed is the last
// committed state the caller should revert to; it is nil for creations.
type Rejection struct {
	Err       error
	Committed *models.Reservation
}

func (r *Rejection) Error() string { return "mutation rejected: " + r.Err.Error() }

func (r *Rejection) Unwrap() error { return r.Err }

// CreateInput describes a new booking.
type CreateInput struct {
	GuestRef             string               `json:"guest_ref"`
	ResourceRef          string               `json:"resource_ref,omitempty"`
	LocationRef          string               `json:"location_ref,omitempty"`
	Start                time.Time            `json:"start"`
	Services             []models.ServiceLine `json:"services"`
	IsFirstVisitForGuest bool                 `json:"is_first_visit_for_guest"`
	DepositAmount        int64                `json:"deposit_amount,omitempty"`
}

// Validate checks the input before any rule runs.
func (in *CreateInput) Validate() error {
	if in.GuestRef == "" {
		return models.InvalidInput("guest_ref is required")
	}
	if in.Start.IsZero() {
		return models.InvalidInput("start is required")
	}
	if len(in.Services) == 0 {
		return models.InvalidInput("at least one service is required")
	}
	for _, l := range in.Services {
		if l.ServiceRef == "" || l.DurationMinutes <= 0 || l.Quantity <= 0 || l.UnitPrice < 0 {
			return models.InvalidInput("invalid service line %q", l.ServiceRef)
		}
	}
	if in.DepositAmount < 0 {
		return models.InvalidInput("deposit_amount must not be negative")
	}
	return nil
}

// Patch moves or reassigns a reservation. Nil fields are left unchanged; an
// empty string unassigns.
type Patch struct {
	Interval     *models.Interval `json:"interval,omitempty"`
	ResourceRef  *string          `json:"resource_ref,omitempty"`
	LocationRef  *string          `json:"location_ref,omitempty"`
	LocationOnly bool             `json:"location_only,omitempty"`
}

// Protocol runs mutations against the store.
type Protocol struct {
	store        repository.Store
	availability *availability.Engine
	conflicts    *conflict.Detector
	locker       locks.Locker
	publisher    events.Publisher
	clock        models.Clock
	logger       *zerolog.Logger
	newID        func() string
}

// NewProtocol wires the protocol. publisher may be nil.
func NewProtocol(
	store repository.Store,
	engine *availability.Engine,
	detector *conflict.Detector,
	locker locks.Locker,
	publisher events.Publisher,
	clock models.Clock,
	logger *zerolog.Logger,
) *Protocol {
	if clock == nil {
		clock = models.SystemClock{}
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Protocol{
		store:        store,
		availability: engine,
		conflicts:    detector,
		locker:       locker,
		publisher:    publisher,
		clock:        clock,
		logger:       logger,
		newID:        uuid.NewString,
	}
}

// Create books a new reservation. Its interval length is the total service duration.
func (p *Protocol) Create(ctx context.Context, in CreateInput) (*models.Reservation, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	now := p.clock.Now()
	iv, err := models.IntervalFrom(in.Start, models.TotalDuration(in.Services))
	if err != nil {
		return nil, models.InvalidInput("%v", err)
	}

	r := models.Reservation{
		ID:                   p.newID(),
		GuestRef:             in.GuestRef,
		ResourceRef:          in.ResourceRef,
		LocationRef:          in.LocationRef,
		Interval:             iv,
		Services:             append([]models.ServiceLine(nil), in.Services...),
		Status:               models.StatusBooked,
		IsFirstVisitForGuest: in.IsFirstVisitForGuest,
		Version:              1,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	change := repository.Change{Reservation: &r, Create: true}
	if in.DepositAmount > 0 {
		r.DepositRequired = true
		r.DepositAmount = in.DepositAmount
		change.Deposit = &models.DepositRecord{ReservationID: r.ID, AmountRequired: in.DepositAmount}
	}
	if r.ResourceRef != "" {
		change.UpsertAssignments, _ = ReconcilePrimary(nil, r.ID, r.ResourceRef, p.newID)
	}

	if err := p.validate(ctx, &r, now, availability.Options{}); err != nil {
		return nil, p.reject("create", err, nil)
	}
	if err := p.commit(ctx, &r, nil, change); err != nil {
		return nil, p.reject("create", err, nil)
	}

	metrics.IncMutation("create", "committed")
	p.logger.Info().
		Str("reservation_id", r.ID).
		Str("resource_ref", r.ResourceRef).
		Str("location_ref", r.LocationRef).
		Time("start", r.Interval.Start).
		Msg("reservation created")
	p.publish(events.ReservationCreated, &r)
	return p.store.GetReservation(ctx, r.ID)
}

// Reschedule applies patch to reservation id. Only the start may move: a patch
// whose interval length differs from the committed one fails with
// models.ErrResizeNotAllowed. A patch equal to the committed state writes nothing.
func (p *Protocol) Reschedule(ctx context.Context, id string, patch Patch) (*models.Reservation, error) {
	current, err := p.store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	kind := "reschedule"
	if patch.LocationOnly {
		kind = "reassign_location"
	}

	next, err := propose(current, patch)
	if err != nil {
		return nil, p.reject(kind, err, current)
	}
	if sameSlot(current, next) {
		metrics.IncMutation(kind, "noop")
		return current, nil
	}

	now := p.clock.Now()
	opts := availability.Options{}
	if patch.LocationOnly {
		opts = availability.Options{SkipShift: true, SkipBookingWindow: true}
	}
	if err := p.validate(ctx, next, now, opts); err != nil {
		return nil, p.reject(kind, err, current)
	}

	next.Version = current.Version + 1
	next.UpdatedAt = now
	change := repository.Change{Reservation: next, ExpectedVersion: current.Version}
	if next.ResourceRef != current.ResourceRef {
		existing, err := p.store.ListAssignments(ctx, id)
		if err != nil {
			return nil, p.reject(kind, &models.TransportError{Op: "list assignments", Err: err}, current)
		}
		change.UpsertAssignments, change.DeleteAssignments = ReconcilePrimary(existing, id, next.ResourceRef, p.newID)
	}

	if err := p.commit(ctx, next, current, change); err != nil {
		return nil, p.reject(kind, err, current)
	}

	metrics.IncMutation(kind, "committed")
	p.logger.Info().
		Str("reservation_id", id).
		Str("kind", kind).
		Time("from", current.Interval.Start).
		Time("to", next.Interval.Start).
		Str("resource_ref", next.ResourceRef).
		Str("location_ref", next.LocationRef).
		Msg("reservation rescheduled")
	p.publish(events.ReservationUpdated, next)
	return p.store.GetReservation(ctx, id)
}

// propose derives the candidate state without touching storage.
func propose(current *models.Reservation, patch Patch) (*models.Reservation, error) {
	next := current.Clone()

	if patch.LocationOnly {
		if patch.Interval != nil && !patch.Interval.Equal(current.Interval) {
			return nil, models.InvalidInput("location-only patch cannot move the interval")
		}
		if patch.ResourceRef != nil && *patch.ResourceRef != current.ResourceRef {
			return nil, models.InvalidInput("location-only patch cannot change the resource")
		}
		if patch.LocationRef == nil {
			return nil, models.InvalidInput("location-only patch needs location_ref")
		}
		switch current.Status {
		case models.StatusBooked, models.StatusCheckedIn, models.StatusInService:
		default:
			return nil, &models.TransitionError{Action: "reassign_location", From: current.Status}
		}
		next.LocationRef = *patch.LocationRef
		return &next, nil
	}

	if current.Status != models.StatusBooked {
		return nil, &models.TransitionError{Action: "reschedule", From: current.Status}
	}
	if patch.Interval != nil {
		if err := patch.Interval.Validate(); err != nil {
			return nil, models.InvalidInput("%v", err)
		}
		if patch.Interval.Duration() != current.Interval.Duration() {
			return nil, models.ErrResizeNotAllowed
		}
		next.Interval = *patch.Interval
	}
	if patch.ResourceRef != nil {
		next.ResourceRef = *patch.ResourceRef
	}
	if patch.LocationRef != nil {
		next.LocationRef = *patch.LocationRef
	}
	return &next, nil
}

func sameSlot(a, b *models.Reservation) bool {
	return a.Interval.Equal(b.Interval) && a.ResourceRef == b.ResourceRef && a.LocationRef == b.LocationRef
}

func (p *Protocol) validate(ctx context.Context, r *models.Reservation, now time.Time, opts availability.Options) error {
	res, err := p.availability.CheckWith(ctx, availability.Proposal{
		ResourceRef:          r.ResourceRef,
		LocationRef:          r.LocationRef,
		Interval:             r.Interval,
		ServiceRefs:          models.ServiceRefs(r.Services),
		ExcludeReservationID: r.ID,
	}, now, opts)
	if err != nil {
		return models.WrapTransport("check availability", err)
	}
	if err := res.Err(); err != nil {
		return err
	}
	return p.detect(ctx, r)
}

func (p *Protocol) detect(ctx context.Context, r *models.Reservation) error {
	res, err := p.conflicts.Detect(ctx, conflict.Proposal{
		ResourceRef: r.ResourceRef,
		LocationRef: r.LocationRef,
		Interval:    r.Interval,
	}, r.ID)
	if err != nil {
		return models.WrapTransport("detect conflicts", err)
	}
	return res.Err()
}

// commit serializes on every touched resource and location, re-runs conflict
// detection under the locks and writes change with its version check.
func (p *Protocol) commit(ctx context.Context, next, prev *models.Reservation, change repository.Change) error {
	keys := lockKeys(next)
	if prev != nil {
		keys = append(keys, lockKeys(prev)...)
	}
	unlock, err := p.locker.Lock(ctx, keys...)
	if err != nil {
		return &models.TransportError{Op: "acquire lock", Err: err}
	}
	defer unlock()

	if err := p.detect(ctx, next); err != nil {
		return err
	}
	if err := p.store.Commit(ctx, change); err != nil {
		return models.WrapTransport("commit", err)
	}
	return nil
}

func lockKeys(r *models.Reservation) []string {
	var keys []string
	if r.ResourceRef != "" {
		keys = append(keys, locks.ResourceKey(r.ResourceRef))
	}
	if r.LocationRef != "" {
		keys = append(keys, locks.LocationKey(r.LocationRef))
	}
	return keys
}

func (p *Protocol) reject(kind string, err error, committed *models.Reservation) error {
	label := ReasonLabel(err)
	metrics.IncMutation(kind, "rejected")
	metrics.IncRejection(label)
	ev := p.logger.Info()
	var te *models.TransportError
	if errors.As(err, &te) {
		ev = p.logger.Error()
	}
	id := ""
	if committed != nil {
		id = committed.ID
	}
	ev.Err(err).Str("kind", kind).Str("reason", label).Str("reservation_id", id).Msg("mutation rejected")
	return &Rejection{Err: err, Committed: committed}
}

// ReasonLabel maps an error to a short machine-readable reason.
func ReasonLabel(err error) string {
	var pv *models.PolicyViolation
	var ce *models.ConflictError
	var te *models.TransportError
	switch {
	case errors.As(err, &pv):
		return string(pv.Reason)
	case errors.As(err, &ce):
		return "conflict"
	case errors.Is(err, models.ErrResizeNotAllowed):
		return "resize_not_allowed"
	case errors.Is(err, models.ErrIllegalTransition):
		return "illegal_transition"
	case errors.Is(err, models.ErrConcurrentModification):
		return "concurrent_modification"
	case errors.Is(err, models.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.As(err, &te):
		return "transport"
	}
	return "unknown"
}

func (p *Protocol) publish(eventType string, r *models.Reservation) {
	if p.publisher == nil {
		return
	}
	ev, err := events.New(eventType, r.ID, r.LocationRef, r)
	if err == nil {
		err = p.publisher.Publish(ev)
	}
	if err != nil {
		p.logger.Warn().Err(err).Str("event", eventType).Str("reservation_id", r.ID).Msg("publish failed")
	}
}
