// Package lifecycle implements the reservation status state machine.
package lifecycle

import (
	"time"

	"github.com/google/uuid"

	"spadesk/internal/models"
)

// Action is a status-changing operation requested by an operator.
type Action string

const (
	ActionCheckIn      Action = "check_in"
	ActionStartService Action = "in_service"
	ActionComplete     Action = "complete"
	ActionCheckOut     Action = "check_out"
	ActionCancel       Action = "cancel"
	ActionNoShow       Action = "no_show"
)

// DefaultCleanup is the buffer blocked after a check-out.
const DefaultCleanup = 10 * time.Minute

// ParseAction validates an action string. "start_service" is accepted for in_service.
func ParseAction(s string) (Action, bool) {
	a := Action(s)
	if s == "start_service" {
		a = ActionStartService
	}
	_, ok := defaultEdges[a]
	return a, ok
}

// Options tune a single transition.
type Options struct {
	// OverrideDirty lets check_in proceed into a room flagged dirty.
	OverrideDirty bool `json:"override_dirty,omitempty"`
	// CancellationReasonRef is mandatory for cancel.
	CancellationReasonRef string `json:"cancellation_reason_ref,omitempty"`
	// WaiveRefund lets cancel proceed although a paid deposit was not refunded.
	WaiveRefund bool `json:"waive_refund,omitempty"`
}

// RoomState is what check_in needs to know about the assigned location.
type RoomState struct {
	Location *models.Location
	// Occupants are reservations currently checked in or in service there.
	Occupants []string
}

// Effects are side effects the caller must persist or signal together with the new state.
type Effects struct {
	CleanupBlock          *models.Block `json:"cleanup_block,omitempty"`
	MarkLocationDirty     string        `json:"mark_location_dirty,omitempty"`
	InvoiceRequested      bool          `json:"invoice_requested,omitempty"`
	HousekeepingRequested string        `json:"housekeeping_requested,omitempty"`
}

// IsEmpty reports whether there is nothing to apply.
func (e Effects) IsEmpty() bool {
	return e.CleanupBlock == nil && e.MarkLocationDirty == "" && !e.InvoiceRequested && e.HousekeepingRequested == ""
}

type edge struct {
	from []models.Status
	to   models.Status
}

var defaultEdges = map[Action]edge{
	ActionCheckIn:      {from: []models.Status{models.StatusBooked}, to: models.StatusCheckedIn},
	ActionStartService: {from: []models.Status{models.StatusCheckedIn}, to: models.StatusInService},
	ActionComplete:     {from: []models.Status{models.StatusInService}, to: models.StatusCompleted},
	ActionCheckOut:     {from: []models.Status{models.StatusCompleted}, to: models.StatusCheckedOut},
	ActionCancel:       {from: []models.Status{models.StatusBooked, models.StatusCheckedIn, models.StatusInService}, to: models.StatusCancelled},
	ActionNoShow:       {from: []models.Status{models.StatusBooked}, to: models.StatusNoShow},
}

// FSM is the single authority on reservation status changes.
type FSM struct {
	transitions map[Action]edge
	cleanup     time.Duration
	newID       func() string
}

// NewFSM creates the state machine. cleanup <= 0 selects DefaultCleanup.
func NewFSM(cleanup time.Duration) *FSM {
	if cleanup <= 0 {
		cleanup = DefaultCleanup
	}
	return &FSM{
		transitions: defaultEdges,
		cleanup:     cleanup,
		newID:       uuid.NewString,
	}
}

// CanTransition checks if action is allowed from status.
func (f *FSM) CanTransition(from models.Status, action Action) bool {
	e, ok := f.transitions[action]
	if !ok {
		return false
	}
	for _, s := range e.from {
		if s == from {
			return true
		}
	}
	return false
}

// Target returns the status action leads to.
func (f *FSM) Target(action Action) (models.Status, bool) {
	e, ok := f.transitions[action]
	return e.to, ok
}

// AllowedActions lists the actions valid from status, in a stable order.
func (f *FSM) AllowedActions(from models.Status) []Action {
	var out []Action
	for _, a := range []Action{ActionCheckIn, ActionStartService, ActionComplete, ActionCheckOut, ActionCancel, ActionNoShow} {
		if f.CanTransition(from, a) {
			out = append(out, a)
		}
	}
	return out
}

// Transition applies action to r and returns the new value with the effects to
// apply. r is never modified; on error the zero Reservation is returned.
func (f *FSM) Transition(r models.Reservation, action Action, opts Options, room RoomState, now time.Time) (models.Reservation, Effects, error) {
	if !f.CanTransition(r.Status, action) {
		return models.Reservation{}, Effects{}, &models.TransitionError{Action: string(action), From: r.Status}
	}

	var effects Effects
	switch action {
	case ActionCheckIn:
		if err := checkRoom(r, room, opts); err != nil {
			return models.Reservation{}, Effects{}, err
		}
	case ActionCancel:
		if opts.CancellationReasonRef == "" {
			return models.Reservation{}, Effects{}, models.ErrReasonRequired
		}
		if r.DepositGateClosed() && !opts.WaiveRefund {
			return models.Reservation{}, Effects{}, models.ErrRefundRequiredFirst
		}
	case ActionCheckOut:
		effects = f.checkOutEffects(r, now)
	}

	next := r.Clone()
	next.Status = f.transitions[action].to
	next.UpdatedAt = now
	stamp := now
	switch action {
	case ActionCheckIn:
		next.CheckedInAt = &stamp
	case ActionStartService:
		next.ServiceStartedAt = &stamp
	case ActionComplete:
		next.CompletedAt = &stamp
	case ActionCheckOut:
		next.CheckedOutAt = &stamp
	case ActionCancel:
		next.CancelledAt = &stamp
		next.CancellationReasonRef = opts.CancellationReasonRef
	case ActionNoShow:
		next.NoShowAt = &stamp
	}
	return next, effects, nil
}

func checkRoom(r models.Reservation, room RoomState, opts Options) error {
	if r.LocationRef == "" || room.Location == nil {
		return nil
	}
	if room.Location.OutOfService {
		return models.ErrRoomOutOfService
	}
	others := 0
	for _, id := range room.Occupants {
		if id != r.ID {
			others++
		}
	}
	if others >= room.Location.EffectiveCapacity() {
		return models.ErrRoomOccupied
	}
	if room.Location.Dirty && !opts.OverrideDirty {
		return models.ErrRoomDirty
	}
	return nil
}

func (f *FSM) checkOutEffects(r models.Reservation, now time.Time) Effects {
	effects := Effects{InvoiceRequested: true}
	if r.ResourceRef != "" || r.LocationRef != "" {
		effects.CleanupBlock = &models.Block{
			ID:                  f.newID(),
			ResourceRef:         r.ResourceRef,
			LocationRef:         r.LocationRef,
			Interval:            models.Interval{Start: r.Interval.End, End: r.Interval.End.Add(f.cleanup)},
			Kind:                models.BlockCleanup,
			SourceReservationID: r.ID,
			CreatedAt:           now,
		}
	}
	if r.LocationRef != "" {
		effects.MarkLocationDirty = r.LocationRef
		effects.HousekeepingRequested = r.LocationRef
	}
	return effects
}
