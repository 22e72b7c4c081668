package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Reason is a policy rejection code.
type Reason string

const (
	ReasonEmployeeDayOff       Reason = "employee_day_off"
	ReasonOutsideWorkingHours  Reason = "outside_working_hours"
	ReasonCapacityReached      Reason = "capacity_reached"
	ReasonIncompatibleRoom     Reason = "incompatible_room"
	ReasonOutOfService         Reason = "out_of_service"
	ReasonOutsideBookingWindow Reason = "outside_booking_window"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrIllegalTransition      = errors.New("illegal transition")
	ErrRoomDirty              = errors.New("room is dirty")
	ErrRoomOccupied           = errors.New("room is occupied")
	ErrRoomOutOfService       = errors.New("room is out of service")
	ErrRefundRequiredFirst    = errors.New("refund required before cancellation")
	ErrReasonRequired         = errors.New("cancellation reason is required")
	ErrResizeNotAllowed       = errors.New("changing reservation duration is not allowed")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrInvalidInput           = errors.New("invalid input")
)

// PolicyViolation is a recoverable availability rejection.
type PolicyViolation struct {
	Reason Reason
	Detail string
}

func (e *PolicyViolation) Error() string {
	if e.Detail == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

// ConflictError reports overlapping reservations or blocks on the same resource or location.
type ConflictError struct {
	ReservationIDs []string
	BlockIDs       []string
}

func (e *ConflictError) Error() string {
	ids := append(append([]string(nil), e.ReservationIDs...), e.BlockIDs...)
	return "conflict with " + strings.Join(ids, ", ")
}

// TransitionError carries the attempted action and current status of an illegal transition.
type TransitionError struct {
	Action string
	From   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition: %s from %s", e.Action, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrIllegalTransition }

// TransportError wraps an underlying I/O failure. The mutation was not applied.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// InvalidInput builds an ErrInvalidInput with a message.
func InvalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// WrapTransport marks err as a transport failure unless it already is one or
// is a domain error callers must see as is.
func WrapTransport(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	var pv *PolicyViolation
	var ce *ConflictError
	switch {
	case errors.As(err, &te), errors.As(err, &pv), errors.As(err, &ce),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrConcurrentModification),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return &TransportError{Op: op, Err: err}
}
