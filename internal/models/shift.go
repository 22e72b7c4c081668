package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// WeeklyShiftRule defines working hours or a day off for a resource on a day of week.
// EffectiveFrom == nil marks the standing rule; dated rules override it from that week on.
type WeeklyShiftRule struct {
	ID            string     `json:"id"`
	ResourceRef   string     `json:"resource_ref"`
	DayOfWeek     int        `json:"day_of_week"` // 0-6 (Sunday-Saturday)
	IsDayOff      bool       `json:"is_day_off"`
	StartTime     string     `json:"start_time"` // "09:00"
	EndTime       string     `json:"end_time"`   // "18:00"
	EffectiveFrom *time.Time `json:"effective_from,omitempty"`
}

// IsStanding reports whether the rule has no effective date.
func (r *WeeklyShiftRule) IsStanding() bool {
	return r.EffectiveFrom == nil
}

// Validate checks day range and, for working days, the HH:MM bounds.
func (r *WeeklyShiftRule) Validate() error {
	if r.ResourceRef == "" {
		return fmt.Errorf("resource_ref is required")
	}
	if r.DayOfWeek < 0 || r.DayOfWeek > 6 {
		return fmt.Errorf("day_of_week must be 0-6, got %d", r.DayOfWeek)
	}
	if r.IsDayOff {
		return nil
	}
	start, err := ParseClock(r.StartTime)
	if err != nil {
		return fmt.Errorf("start_time: %w", err)
	}
	end, err := ParseClock(r.EndTime)
	if err != nil {
		return fmt.Errorf("end_time: %w", err)
	}
	if end <= start {
		return fmt.Errorf("end_time must be after start_time")
	}
	return nil
}

// Window returns the shift's working window on the calendar day of date.
func (r *WeeklyShiftRule) Window(date time.Time) (start, end time.Time, err error) {
	start, err = TimeOnDate(date, r.StartTime)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse start time: %w", err)
	}
	end, err = TimeOnDate(date, r.EndTime)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse end time: %w", err)
	}
	return start, end, nil
}

// Contains reports whether instant falls inside the closed working window
// [start, end] of its own day. Day-off rules contain nothing.
func (r *WeeklyShiftRule) Contains(instant time.Time) bool {
	if r.IsDayOff || int(instant.Weekday()) != r.DayOfWeek {
		return false
	}
	start, end, err := r.Window(instant)
	if err != nil {
		return false
	}
	return !instant.Before(start) && !instant.After(end)
}

// ParseClock parses "HH:MM" into minutes after midnight.
func ParseClock(s string) (int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time format: %q", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 24 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	if hour == 24 && minute != 0 {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	return hour*60 + minute, nil
}

// TimeOnDate places an "HH:MM" wall-clock time on the calendar day of date, in date's location.
func TimeOnDate(date time.Time, clock string) (time.Time, error) {
	minutes, err := ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := date.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, date.Location()).Add(time.Duration(minutes) * time.Minute), nil
}

// DateOnly truncates t to midnight in its location.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
