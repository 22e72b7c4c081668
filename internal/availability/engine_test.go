package availability

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spadesk/internal/models"
	"spadesk/internal/repository"
)

// 2025-03-12 is a Wednesday.
func at(h, m int) time.Time {
	return time.Date(2025, 3, 12, h, m, 0, 0, time.UTC)
}

type fixture struct {
	store  *repository.MemoryStore
	engine *Engine
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := repository.NewMemoryStore()
	require.NoError(t, store.SyncLocations(ctx, []models.Location{
		{Ref: "room-1", Capacity: 1, AllowedServices: []string{"massage", "facial"}},
		{Ref: "suite", Capacity: 2},
	}))
	require.NoError(t, store.UpsertShiftRule(ctx, models.WeeklyShiftRule{ID: "wed", ResourceRef: "s1", DayOfWeek: 3, StartTime: "09:00", EndTime: "18:00"}))
	require.NoError(t, store.UpsertShiftRule(ctx, models.WeeklyShiftRule{ID: "wed-off", ResourceRef: "s2", DayOfWeek: 3, IsDayOff: true}))

	logger := zerolog.New(io.Discard)
	engine := NewEngine(store, store, store, Config{Location: time.UTC}, &logger)
	return &fixture{store: store, engine: engine, now: at(0, 0).AddDate(0, 0, -1)}
}

func (f *fixture) book(t *testing.T, id, location string, start, end time.Time, status models.Status) {
	t.Helper()
	require.NoError(t, f.store.Commit(context.Background(), repository.Change{
		Create: true,
		Reservation: &models.Reservation{
			ID: id, LocationRef: location, Status: status, Version: 1,
			Interval: models.Interval{Start: start, End: end},
		},
	}))
}

func TestEngine_Check(t *testing.T) {
	f := newFixture(t)
	f.book(t, "existing", "room-1", at(14, 0), at(15, 0), models.StatusBooked)
	f.book(t, "cancelled", "room-1", at(16, 0), at(17, 0), models.StatusCancelled)
	f.book(t, "suite-1", "suite", at(10, 0), at(11, 0), models.StatusBooked)

	tests := []struct {
		name   string
		p      Proposal
		now    time.Time
		reason models.Reason
	}{
		{
			name: "available",
			p:    Proposal{ResourceRef: "s1", LocationRef: "room-1", Interval: models.Interval{Start: at(10, 0), End: at(11, 0)}, ServiceRefs: []string{"massage"}},
		},
		{
			name:   "day off",
			p:      Proposal{ResourceRef: "s2", Interval: models.Interval{Start: at(10, 30), End: at(11, 30)}},
			reason: models.ReasonEmployeeDayOff,
		},
		{
			name:   "starts before shift",
			p:      Proposal{ResourceRef: "s1", Interval: models.Interval{Start: at(8, 30), End: at(9, 30)}},
			reason: models.ReasonOutsideWorkingHours,
		},
		{
			name:   "ends after shift",
			p:      Proposal{ResourceRef: "s1", Interval: models.Interval{Start: at(17, 30), End: at(18, 30)}},
			reason: models.ReasonOutsideWorkingHours,
		},
		{
			name: "ends exactly at shift end",
			p:    Proposal{ResourceRef: "s1", Interval: models.Interval{Start: at(17, 0), End: at(18, 0)}},
		},
		{
			name: "resource without rules is always available",
			p:    Proposal{ResourceRef: "s9", Interval: models.Interval{Start: at(22, 0), End: at(23, 0)}},
		},
		{
			name:   "capacity reached",
			p:      Proposal{LocationRef: "room-1", Interval: models.Interval{Start: at(14, 30), End: at(15, 30)}},
			reason: models.ReasonCapacityReached,
		},
		{
			name: "cancelled reservation frees capacity",
			p:    Proposal{LocationRef: "room-1", Interval: models.Interval{Start: at(16, 0), End: at(17, 0)}},
		},
		{
			name: "excluded reservation not counted",
			p:    Proposal{LocationRef: "room-1", Interval: models.Interval{Start: at(14, 30), End: at(15, 30)}, ExcludeReservationID: "existing"},
		},
		{
			name: "suite has room for two",
			p:    Proposal{LocationRef: "suite", Interval: models.Interval{Start: at(10, 0), End: at(11, 0)}},
		},
		{
			name:   "incompatible service",
			p:      Proposal{LocationRef: "room-1", Interval: models.Interval{Start: at(10, 0), End: at(11, 0)}, ServiceRefs: []string{"massage", "pedicure"}},
			reason: models.ReasonIncompatibleRoom,
		},
		{
			name:   "too soon",
			p:      Proposal{Interval: models.Interval{Start: at(10, 0), End: at(11, 0)}},
			now:    at(9, 30),
			reason: models.ReasonOutsideBookingWindow,
		},
		{
			name: "exactly min advance",
			p:    Proposal{Interval: models.Interval{Start: at(10, 0), End: at(11, 0)}},
			now:  at(9, 0),
		},
		{
			name:   "too far ahead",
			p:      Proposal{Interval: models.Interval{Start: at(10, 0), End: at(11, 0)}},
			now:    at(9, 0).AddDate(0, 0, -61),
			reason: models.ReasonOutsideBookingWindow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := tt.now
			if now.IsZero() {
				now = f.now
			}
			res, err := f.engine.Check(context.Background(), tt.p, now)
			require.NoError(t, err)
			if tt.reason == "" {
				assert.True(t, res.Available, "unexpected rejection: %s %s", res.Reason, res.Detail)
				assert.NoError(t, res.Err())
				return
			}
			assert.False(t, res.Available)
			assert.Equal(t, tt.reason, res.Reason)

			var pv *models.PolicyViolation
			require.True(t, errors.As(res.Err(), &pv))
			assert.Equal(t, tt.reason, pv.Reason)
		})
	}
}

func TestEngine_OutOfService(t *testing.T) {
	f := newFixture(t)
	yes := true
	require.NoError(t, f.store.Commit(context.Background(), repository.Change{
		LocationStatus: []models.LocationStatus{{Ref: "room-1", OutOfService: &yes}},
	}))

	res, err := f.engine.Check(context.Background(), Proposal{LocationRef: "room-1", Interval: models.Interval{Start: at(10, 0), End: at(11, 0)}}, f.now)
	require.NoError(t, err)
	assert.Equal(t, models.ReasonOutOfService, res.Reason)
}

func TestEngine_ShortCircuitOrder(t *testing.T) {
	f := newFixture(t)
	// Day off, too soon and incompatible all at once: day off is reported.
	p := Proposal{
		ResourceRef: "s2",
		LocationRef: "room-1",
		Interval:    models.Interval{Start: at(10, 0), End: at(11, 0)},
		ServiceRefs: []string{"pedicure"},
	}
	res, err := f.engine.Check(context.Background(), p, at(9, 59))
	require.NoError(t, err)
	assert.Equal(t, models.ReasonEmployeeDayOff, res.Reason)

	p.ResourceRef = "s1"
	res, err = f.engine.Check(context.Background(), p, at(9, 59))
	require.NoError(t, err)
	assert.Equal(t, models.ReasonIncompatibleRoom, res.Reason)
}

func TestEngine_Options(t *testing.T) {
	f := newFixture(t)
	p := Proposal{ResourceRef: "s2", Interval: models.Interval{Start: at(10, 0), End: at(11, 0)}}

	res, err := f.engine.CheckWith(context.Background(), p, at(10, 30), Options{SkipShift: true, SkipBookingWindow: true})
	require.NoError(t, err)
	assert.True(t, res.Available)
}

func TestEngine_Errors(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Check(context.Background(), Proposal{Interval: models.Interval{Start: at(11, 0), End: at(10, 0)}}, f.now)
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = f.engine.Check(context.Background(), Proposal{LocationRef: "ghost", Interval: models.Interval{Start: at(10, 0), End: at(11, 0)}}, f.now)
	assert.ErrorIs(t, err, models.ErrNotFound)
}
