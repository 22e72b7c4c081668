package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spadesk/internal/models"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func datePtr(y int, m time.Month, d int) *time.Time {
	t := date(y, m, d)
	return &t
}

func TestWeekStart(t *testing.T) {
	// 2025-03-12 is a Wednesday; its week starts Sunday 2025-03-09.
	assert.Equal(t, date(2025, 3, 9), WeekStart(time.Date(2025, 3, 12, 15, 4, 0, 0, time.UTC)))
	assert.Equal(t, date(2025, 3, 9), WeekStart(date(2025, 3, 9)))
	assert.Equal(t, date(2025, 3, 9), WeekStart(time.Date(2025, 3, 15, 23, 59, 0, 0, time.UTC)))
}

func TestResolveEffectiveRule(t *testing.T) {
	wed := int(time.Wednesday)
	rules := []models.WeeklyShiftRule{
		{ID: "standing", ResourceRef: "s1", DayOfWeek: wed, StartTime: "09:00", EndTime: "18:00"},
		{ID: "march", ResourceRef: "s1", DayOfWeek: wed, StartTime: "10:00", EndTime: "16:00", EffectiveFrom: datePtr(2025, 3, 2)},
		{ID: "april", ResourceRef: "s1", DayOfWeek: wed, IsDayOff: true, EffectiveFrom: datePtr(2025, 4, 6)},
		// Mid-week effective date only applies from the following week.
		{ID: "midweek", ResourceRef: "s1", DayOfWeek: wed, StartTime: "12:00", EndTime: "20:00", EffectiveFrom: datePtr(2025, 3, 11)},
		{ID: "other", ResourceRef: "s2", DayOfWeek: wed, IsDayOff: true},
	}

	tests := []struct {
		name     string
		resource string
		date     time.Time
		wantID   string
	}{
		{"before any override", "s1", date(2025, 2, 26), "standing"},
		{"first override week", "s1", date(2025, 3, 5), "march"},
		{"midweek start not yet effective", "s1", date(2025, 3, 12), "march"},
		{"midweek start effective next week", "s1", date(2025, 3, 19), "midweek"},
		{"latest override wins", "s1", date(2025, 4, 9), "april"},
		{"other resource", "s2", date(2025, 4, 9), "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveEffectiveRule(rules, tt.resource, tt.date)
			require.NotNil(t, got)
			assert.Equal(t, tt.wantID, got.ID)
		})
	}

	t.Run("no rule means always available", func(t *testing.T) {
		assert.Nil(t, ResolveEffectiveRule(rules, "s1", date(2025, 3, 13)))
		assert.Nil(t, ResolveEffectiveRule(rules, "s9", date(2025, 3, 12)))
	})
}

func TestRulesForWeek(t *testing.T) {
	rules := []models.WeeklyShiftRule{
		{ID: "mon", ResourceRef: "s1", DayOfWeek: 1, StartTime: "09:00", EndTime: "17:00"},
		{ID: "mon-new", ResourceRef: "s1", DayOfWeek: 1, StartTime: "11:00", EndTime: "19:00", EffectiveFrom: datePtr(2025, 3, 9)},
		{ID: "tue", ResourceRef: "s1", DayOfWeek: 2, IsDayOff: true},
	}

	got := RulesForWeek(rules, date(2025, 3, 12))
	require.Len(t, got, 2)
	assert.Equal(t, "mon-new", got[0].ID)
	assert.Equal(t, "tue", got[1].ID)

	got = RulesForWeek(rules, date(2025, 3, 4))
	require.Len(t, got, 2)
	assert.Equal(t, "mon", got[0].ID)
}

func TestShiftWindow(t *testing.T) {
	rule := &models.WeeklyShiftRule{DayOfWeek: 3, StartTime: "09:30", EndTime: "18:00"}
	start, end, ok := ShiftWindow(rule, date(2025, 3, 12))
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 3, 12, 9, 30, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2025, 3, 12, 18, 0, 0, 0, time.UTC), end)

	_, _, ok = ShiftWindow(&models.WeeklyShiftRule{IsDayOff: true}, date(2025, 3, 12))
	assert.False(t, ok)
	_, _, ok = ShiftWindow(nil, date(2025, 3, 12))
	assert.False(t, ok)
}

func TestIsCurrentSlot(t *testing.T) {
	slot := time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC)
	d := 30 * time.Minute

	assert.True(t, IsCurrentSlot(slot, slot, d))
	assert.True(t, IsCurrentSlot(slot.Add(29*time.Minute), slot, d))
	assert.False(t, IsCurrentSlot(slot.Add(d), slot, d))
	assert.False(t, IsCurrentSlot(slot.Add(-time.Second), slot, d))
}
