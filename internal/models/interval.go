package models

import (
	"errors"
	"time"
)

// ErrInvalidInterval is returned when an interval does not satisfy Start < End.
var ErrInvalidInterval = errors.New("invalid interval: start must be before end")

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewInterval builds an interval and validates it.
func NewInterval(start, end time.Time) (Interval, error) {
	iv := Interval{Start: start, End: end}
	if err := iv.Validate(); err != nil {
		return Interval{}, err
	}
	return iv, nil
}

// IntervalFrom builds an interval of the given length starting at start.
func IntervalFrom(start time.Time, d time.Duration) (Interval, error) {
	return NewInterval(start, start.Add(d))
}

// Validate checks Start < End.
func (iv Interval) Validate() error {
	if iv.Start.IsZero() || iv.End.IsZero() || !iv.Start.Before(iv.End) {
		return ErrInvalidInterval
	}
	return nil
}

// Duration returns End - Start.
func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// Overlaps reports whether two half-open intervals share any instant.
// Touching intervals ([10:00,11:00) and [11:00,12:00)) do not overlap.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// Contains reports whether t lies in [Start, End).
func (iv Interval) Contains(t time.Time) bool {
	return !t.Before(iv.Start) && t.Before(iv.End)
}

// Shift moves the interval so it starts at start, keeping its duration.
func (iv Interval) Shift(start time.Time) Interval {
	return Interval{Start: start, End: start.Add(iv.Duration())}
}

// Equal compares both bounds as instants.
func (iv Interval) Equal(other Interval) bool {
	return iv.Start.Equal(other.Start) && iv.End.Equal(other.End)
}
