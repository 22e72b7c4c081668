package schedule

import (
	"context"
	"fmt"
	"sort"
	"time"

	"spadesk/internal/models"
)

// DefaultSlotMinutes is the grid step when none is configured.
const DefaultSlotMinutes = 30

// Slot is one cell of a resource's day calendar.
type Slot struct {
	StartTime time.Time
	EndTime   time.Time
	Booked    bool
	Past      bool
	Current   bool
	Available bool
}

// SlotInfo is the compact form returned to calendar views.
type SlotInfo struct {
	Start     string `json:"start"` // "10:00"
	End       string `json:"end"`   // "10:30"
	Booked    bool   `json:"booked"`
	Current   bool   `json:"current"`
	Available bool   `json:"available"`
}

// BookingChecker reports whether a resource already holds something in [start, end).
type BookingChecker interface {
	IsSlotBooked(ctx context.Context, resourceRef string, start, end time.Time) (bool, error)
}

// Day is the calendar of one resource on one date.
type Day struct {
	ResourceRef string
	Date        time.Time
	Rule        *models.WeeklyShiftRule
	DayOff      bool
	Slots       []Slot
}

// Generator builds day calendars from shift rules and existing bookings.
type Generator struct {
	checker      BookingChecker
	slotDuration time.Duration
}

// NewGenerator creates a generator. slotMinutes <= 0 selects DefaultSlotMinutes.
func NewGenerator(checker BookingChecker, slotMinutes int) *Generator {
	if slotMinutes <= 0 {
		slotMinutes = DefaultSlotMinutes
	}
	return &Generator{checker: checker, slotDuration: time.Duration(slotMinutes) * time.Minute}
}

// SlotDuration returns the grid step.
func (g *Generator) SlotDuration() time.Duration {
	return g.slotDuration
}

// GenerateDay builds the calendar of resourceRef on date. Without a rule the
// whole day is gridded; a day-off rule yields no slots.
func (g *Generator) GenerateDay(ctx context.Context, rules []models.WeeklyShiftRule, resourceRef string, date, now time.Time) (*Day, error) {
	day := &Day{ResourceRef: resourceRef, Date: models.DateOnly(date)}
	rule := ResolveEffectiveRule(rules, resourceRef, date)
	day.Rule = rule

	var startTime, endTime time.Time
	switch {
	case rule == nil:
		startTime = day.Date
		endTime = day.Date.AddDate(0, 0, 1)
	case rule.IsDayOff:
		day.DayOff = true
		return day, nil
	default:
		var err error
		startTime, endTime, err = rule.Window(date)
		if err != nil {
			return nil, fmt.Errorf("shift window: %w", err)
		}
	}

	slots, err := g.generate(ctx, resourceRef, startTime, endTime, now)
	if err != nil {
		return nil, err
	}
	day.Slots = slots
	return day, nil
}

func (g *Generator) generate(ctx context.Context, resourceRef string, startTime, endTime, now time.Time) ([]Slot, error) {
	var slots []Slot
	for cursor := startTime; !cursor.Add(g.slotDuration).After(endTime); cursor = cursor.Add(g.slotDuration) {
		slotStart := cursor
		slotEnd := cursor.Add(g.slotDuration)

		booked := false
		if g.checker != nil {
			var err error
			booked, err = g.checker.IsSlotBooked(ctx, resourceRef, slotStart, slotEnd)
			if err != nil {
				return nil, fmt.Errorf("check slot: %w", err)
			}
		}

		current := IsCurrentSlot(now, slotStart, g.slotDuration)
		past := !current && slotStart.Before(now)

		slots = append(slots, Slot{
			StartTime: slotStart,
			EndTime:   slotEnd,
			Booked:    booked,
			Past:      past,
			Current:   current,
			Available: !booked && !past,
		})
	}
	return slots, nil
}

// ToSlotInfo converts slots for calendar views.
func ToSlotInfo(slots []Slot) []SlotInfo {
	result := make([]SlotInfo, len(slots))
	for i, s := range slots {
		result[i] = SlotInfo{
			Start:     s.StartTime.Format("15:04"),
			End:       s.EndTime.Format("15:04"),
			Booked:    s.Booked,
			Current:   s.Current,
			Available: s.Available,
		}
	}
	return result
}

// GetAvailableSlots returns only available slots.
func GetAvailableSlots(slots []Slot) []Slot {
	var available []Slot
	for _, s := range slots {
		if s.Available {
			available = append(available, s)
		}
	}
	return available
}

// FindConsecutiveSlots groups adjacent available slots.
func FindConsecutiveSlots(slots []Slot) [][]Slot {
	available := GetAvailableSlots(slots)
	if len(available) == 0 {
		return nil
	}

	sort.Slice(available, func(i, j int) bool {
		return available[i].StartTime.Before(available[j].StartTime)
	})

	var groups [][]Slot
	currentGroup := []Slot{available[0]}

	for i := 1; i < len(available); i++ {
		if available[i].StartTime.Equal(currentGroup[len(currentGroup)-1].EndTime) {
			currentGroup = append(currentGroup, available[i])
		} else {
			groups = append(groups, currentGroup)
			currentGroup = []Slot{available[i]}
		}
	}
	groups = append(groups, currentGroup)

	return groups
}

// FreeRanges returns the intervals covered by each group of consecutive available slots.
func FreeRanges(slots []Slot) []models.Interval {
	groups := FindConsecutiveSlots(slots)
	out := make([]models.Interval, 0, len(groups))
	for _, g := range groups {
		out = append(out, models.Interval{Start: g[0].StartTime, End: g[len(g)-1].EndTime})
	}
	return out
}

// CanFit reports whether d fits entirely in available slots starting at start.
func CanFit(slots []Slot, start time.Time, d time.Duration) bool {
	if d <= 0 {
		return false
	}
	end := start.Add(d)
	for _, r := range FreeRanges(slots) {
		if !start.Before(r.Start) && !end.After(r.End) {
			return true
		}
	}
	return false
}
