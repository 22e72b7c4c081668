// Package schedule resolves weekly shift rules and builds day calendars from them.
package schedule

import (
	"time"

	"spadesk/internal/models"
)

// WeekStart returns midnight of the Sunday that starts date's week, in date's location.
func WeekStart(date time.Time) time.Time {
	day := models.DateOnly(date)
	return day.AddDate(0, 0, -int(day.Weekday()))
}

// ResolveEffectiveRule picks the rule governing resourceRef on date.
//
// Among rules for the resource and date's weekday, the dated override with the
// most recent EffectiveFrom not after the week's Sunday wins; otherwise the
// standing rule applies. nil means the resource is always available.
func ResolveEffectiveRule(rules []models.WeeklyShiftRule, resourceRef string, date time.Time) *models.WeeklyShiftRule {
	weekStart := WeekStart(date)
	dow := int(date.Weekday())

	var standing, override *models.WeeklyShiftRule
	var overrideFrom time.Time

	for i := range rules {
		r := &rules[i]
		if r.ResourceRef != resourceRef || r.DayOfWeek != dow {
			continue
		}
		if r.IsStanding() {
			if standing == nil {
				standing = r
			}
			continue
		}
		from := sameDateIn(*r.EffectiveFrom, date.Location())
		if from.After(weekStart) {
			continue
		}
		if override == nil || from.After(overrideFrom) {
			override = r
			overrideFrom = from
		}
	}

	if override != nil {
		return override
	}
	return standing
}

// RulesForWeek returns the effective rule of each weekday of the week containing weekStart
// for every resource present in rules. Days without any rule are omitted.
func RulesForWeek(rules []models.WeeklyShiftRule, weekStart time.Time) []models.WeeklyShiftRule {
	start := WeekStart(weekStart)
	seen := make(map[string]bool)
	var resources []string
	for _, r := range rules {
		if !seen[r.ResourceRef] {
			seen[r.ResourceRef] = true
			resources = append(resources, r.ResourceRef)
		}
	}

	var out []models.WeeklyShiftRule
	for _, ref := range resources {
		for d := 0; d < 7; d++ {
			if rule := ResolveEffectiveRule(rules, ref, start.AddDate(0, 0, d)); rule != nil {
				out = append(out, *rule)
			}
		}
	}
	return out
}

// ShiftWindow returns the working window of rule on date. ok is false for day-off rules.
func ShiftWindow(rule *models.WeeklyShiftRule, date time.Time) (start, end time.Time, ok bool) {
	if rule == nil || rule.IsDayOff {
		return time.Time{}, time.Time{}, false
	}
	start, end, err := rule.Window(date)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

// IsCurrentSlot reports whether now falls within [slotStart, slotStart+slotDuration).
func IsCurrentSlot(now, slotStart time.Time, slotDuration time.Duration) bool {
	return !now.Before(slotStart) && now.Before(slotStart.Add(slotDuration))
}

func sameDateIn(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
