// Package availability evaluates booking policy: shifts, day-offs, room
// capacity and compatibility, room status and the advance-booking window.
package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"spadesk/internal/models"
	"spadesk/internal/schedule"
)

// Defaults used by the booking form.
const (
	DefaultMinAdvance = time.Hour
	DefaultMaxAdvance = 60 * 24 * time.Hour
)

// ShiftRuleSource loads the shift rules of a resource.
type ShiftRuleSource interface {
	ListShiftRules(ctx context.Context, resourceRef string) ([]models.WeeklyShiftRule, error)
}

// LocationSource loads a location by ref.
type LocationSource interface {
	GetLocation(ctx context.Context, ref string) (*models.Location, error)
}

// ReservationSource lists reservations.
type ReservationSource interface {
	ListReservations(ctx context.Context, filter models.ReservationFilter) ([]models.Reservation, error)
}

// Proposal is what a caller wants to book. Empty refs mean unassigned and skip
// the corresponding rules.
type Proposal struct {
	ResourceRef          string          `json:"resource_ref,omitempty"`
	LocationRef          string          `json:"location_ref,omitempty"`
	Interval             models.Interval `json:"interval"`
	ServiceRefs          []string        `json:"service_refs,omitempty"`
	ExcludeReservationID string          `json:"exclude_reservation_id,omitempty"`
}

// Options relax individual rules.
type Options struct {
	SkipShift         bool
	SkipBookingWindow bool
}

// Result is the outcome of a check.
type Result struct {
	Available bool          `json:"available"`
	Reason    models.Reason `json:"reason,omitempty"`
	Detail    string        `json:"detail,omitempty"`
}

// Err converts a negative result into a *models.PolicyViolation.
func (r Result) Err() error {
	if r.Available {
		return nil
	}
	return &models.PolicyViolation{Reason: r.Reason, Detail: r.Detail}
}

// Config holds the booking window.
type Config struct {
	MinAdvance time.Duration
	MaxAdvance time.Duration
	Location   *time.Location
}

// Engine runs the availability rules in order and stops at the first failure.
type Engine struct {
	shifts       ShiftRuleSource
	locations    LocationSource
	reservations ReservationSource
	cfg          Config
	logger       *zerolog.Logger
}

// NewEngine creates an engine. Zero window values fall back to the defaults.
func NewEngine(shifts ShiftRuleSource, locations LocationSource, reservations ReservationSource, cfg Config, logger *zerolog.Logger) *Engine {
	if cfg.MinAdvance <= 0 {
		cfg.MinAdvance = DefaultMinAdvance
	}
	if cfg.MaxAdvance <= 0 {
		cfg.MaxAdvance = DefaultMaxAdvance
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Engine{shifts: shifts, locations: locations, reservations: reservations, cfg: cfg, logger: logger}
}

type evaluation struct {
	p        Proposal
	now      time.Time
	opts     Options
	start    time.Time
	end      time.Time
	location *models.Location

	shift       *models.WeeklyShiftRule
	shiftLoaded bool
}

type rule struct {
	name string
	eval func(ctx context.Context, e *Engine, ev *evaluation) (*Result, error)
}

var rules = []rule{
	{"day_off", checkDayOff},
	{"working_hours", checkWorkingHours},
	{"capacity", checkCapacity},
	{"compatibility", checkCompatibility},
	{"room_status", checkRoomStatus},
	{"booking_window", checkBookingWindow},
}

// Check evaluates every rule.
func (e *Engine) Check(ctx context.Context, p Proposal, now time.Time) (Result, error) {
	return e.CheckWith(ctx, p, now, Options{})
}

// CheckWith evaluates the rules not disabled by opts.
func (e *Engine) CheckWith(ctx context.Context, p Proposal, now time.Time, opts Options) (Result, error) {
	if err := p.Interval.Validate(); err != nil {
		return Result{}, models.InvalidInput("%v", err)
	}

	ev := &evaluation{
		p:     p,
		now:   now,
		opts:  opts,
		start: p.Interval.Start.In(e.cfg.Location),
		end:   p.Interval.End.In(e.cfg.Location),
	}

	if p.LocationRef != "" {
		loc, err := e.locations.GetLocation(ctx, p.LocationRef)
		if err != nil {
			return Result{}, fmt.Errorf("get location %s: %w", p.LocationRef, err)
		}
		ev.location = loc
	}

	for _, r := range rules {
		res, err := r.eval(ctx, e, ev)
		if err != nil {
			return Result{}, fmt.Errorf("%s rule: %w", r.name, err)
		}
		if res != nil {
			e.logger.Debug().
				Str("rule", r.name).
				Str("reason", string(res.Reason)).
				Str("resource_ref", p.ResourceRef).
				Str("location_ref", p.LocationRef).
				Msg("availability rejected")
			return *res, nil
		}
	}
	return Result{Available: true}, nil
}

func reject(reason models.Reason, format string, args ...any) *Result {
	return &Result{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

func (e *Engine) effectiveRule(ctx context.Context, ev *evaluation) (*models.WeeklyShiftRule, error) {
	if ev.shiftLoaded {
		return ev.shift, nil
	}
	rules, err := e.shifts.ListShiftRules(ctx, ev.p.ResourceRef)
	if err != nil {
		return nil, fmt.Errorf("list shift rules: %w", err)
	}
	ev.shift = schedule.ResolveEffectiveRule(rules, ev.p.ResourceRef, ev.start)
	ev.shiftLoaded = true
	return ev.shift, nil
}

func checkDayOff(ctx context.Context, e *Engine, ev *evaluation) (*Result, error) {
	if ev.p.ResourceRef == "" || ev.opts.SkipShift {
		return nil, nil
	}
	rule, err := e.effectiveRule(ctx, ev)
	if err != nil {
		return nil, err
	}
	if rule != nil && rule.IsDayOff {
		return reject(models.ReasonEmployeeDayOff, "%s is off on %s", ev.p.ResourceRef, ev.start.Format("2006-01-02")), nil
	}
	return nil, nil
}

func checkWorkingHours(ctx context.Context, e *Engine, ev *evaluation) (*Result, error) {
	if ev.p.ResourceRef == "" || ev.opts.SkipShift {
		return nil, nil
	}
	rule, err := e.effectiveRule(ctx, ev)
	if err != nil {
		return nil, err
	}
	shiftStart, shiftEnd, ok := schedule.ShiftWindow(rule, ev.start)
	if !ok {
		return nil, nil
	}
	inside := func(t time.Time) bool { return !t.Before(shiftStart) && !t.After(shiftEnd) }
	if !inside(ev.start) || !inside(ev.end) {
		return reject(models.ReasonOutsideWorkingHours,
			"%s works %s-%s on %s", ev.p.ResourceRef, rule.StartTime, rule.EndTime, ev.start.Weekday()), nil
	}
	return nil, nil
}

func checkCapacity(ctx context.Context, e *Engine, ev *evaluation) (*Result, error) {
	if ev.location == nil {
		return nil, nil
	}
	existing, err := e.reservations.ListReservations(ctx, models.ReservationFilter{
		LocationRef: ev.location.Ref,
		Range:       &ev.p.Interval,
		ActiveOnly:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	count := 0
	for i := range existing {
		if existing[i].ID == ev.p.ExcludeReservationID {
			continue
		}
		if existing[i].Interval.Overlaps(ev.p.Interval) {
			count++
		}
	}
	if capacity := ev.location.EffectiveCapacity(); count >= capacity {
		return reject(models.ReasonCapacityReached, "%s holds %d of %d", ev.location.Ref, count, capacity), nil
	}
	return nil, nil
}

func checkCompatibility(_ context.Context, _ *Engine, ev *evaluation) (*Result, error) {
	if ev.location == nil {
		return nil, nil
	}
	for _, ref := range ev.p.ServiceRefs {
		if !ev.location.Permits(ref) {
			return reject(models.ReasonIncompatibleRoom, "%s is not offered in %s", ref, ev.location.Ref), nil
		}
	}
	return nil, nil
}

func checkRoomStatus(_ context.Context, _ *Engine, ev *evaluation) (*Result, error) {
	if ev.location != nil && ev.location.OutOfService {
		return reject(models.ReasonOutOfService, "%s is out of service", ev.location.Ref), nil
	}
	return nil, nil
}

func checkBookingWindow(_ context.Context, e *Engine, ev *evaluation) (*Result, error) {
	if ev.opts.SkipBookingWindow {
		return nil, nil
	}
	earliest := ev.now.Add(e.cfg.MinAdvance)
	latest := ev.now.Add(e.cfg.MaxAdvance)
	if ev.p.Interval.Start.Before(earliest) {
		return reject(models.ReasonOutsideBookingWindow, "must start at or after %s", earliest.Format(time.RFC3339)), nil
	}
	if ev.p.Interval.Start.After(latest) {
		return reject(models.ReasonOutsideBookingWindow, "must start at or before %s", latest.Format(time.RFC3339)), nil
	}
	return nil, nil
}
