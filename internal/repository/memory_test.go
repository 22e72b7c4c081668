package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spadesk/internal/models"
)

func at(h, m int) time.Time {
	return time.Date(2025, 3, 12, h, m, 0, 0, time.UTC)
}

func seedReservation(id string, start, end time.Time) *models.Reservation {
	return &models.Reservation{
		ID:          id,
		ResourceRef: "s1",
		LocationRef: "room-1",
		Interval:    models.Interval{Start: start, End: end},
		Status:      models.StatusBooked,
		Version:     1,
	}
}

func TestMemoryStore_CommitReservation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	r := seedReservation("r1", at(10, 0), at(11, 0))
	require.NoError(t, s.Commit(ctx, Change{Reservation: r, Create: true}))

	t.Run("duplicate create fails", func(t *testing.T) {
		assert.Error(t, s.Commit(ctx, Change{Reservation: r, Create: true}))
	})

	t.Run("stale version rejected", func(t *testing.T) {
		upd := r.Clone()
		upd.Interval = models.Interval{Start: at(12, 0), End: at(13, 0)}
		upd.Version = 3
		err := s.Commit(ctx, Change{Reservation: &upd, ExpectedVersion: 2})
		assert.ErrorIs(t, err, models.ErrConcurrentModification)

		got, err := s.GetReservation(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, at(10, 0), got.Interval.Start)
	})

	t.Run("matching version applied", func(t *testing.T) {
		upd := r.Clone()
		upd.Interval = models.Interval{Start: at(12, 0), End: at(13, 0)}
		upd.Version = 2
		require.NoError(t, s.Commit(ctx, Change{Reservation: &upd, ExpectedVersion: 1}))

		got, err := s.GetReservation(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Version)
		assert.Equal(t, at(12, 0), got.Interval.Start)
	})

	t.Run("update of unknown reservation", func(t *testing.T) {
		err := s.Commit(ctx, Change{Reservation: seedReservation("nope", at(9, 0), at(10, 0))})
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestMemoryStore_CommitIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.SyncLocations(ctx, []models.Location{{Ref: "room-1", Capacity: 1}}))

	dirty := true
	err := s.Commit(ctx, Change{
		Reservation: seedReservation("r1", at(10, 0), at(11, 0)),
		Create:      true,
		Blocks:      []models.Block{{ID: "b1", LocationRef: "room-1", Interval: models.Interval{Start: at(11, 0), End: at(11, 10)}}},
		LocationStatus: []models.LocationStatus{
			{Ref: "room-1", Dirty: &dirty},
			{Ref: "missing", Dirty: &dirty},
		},
	})
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = s.GetReservation(ctx, "r1")
	assert.ErrorIs(t, err, models.ErrNotFound)
	blocks, err := s.ListBlocks(ctx, models.BlockFilter{})
	require.NoError(t, err)
	assert.Empty(t, blocks)
	loc, err := s.GetLocation(ctx, "room-1")
	require.NoError(t, err)
	assert.False(t, loc.Dirty)
}

func TestMemoryStore_ListReservations(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Commit(ctx, Change{Reservation: seedReservation("b", at(14, 0), at(15, 0)), Create: true}))
	require.NoError(t, s.Commit(ctx, Change{Reservation: seedReservation("a", at(10, 0), at(11, 0)), Create: true}))
	cancelled := seedReservation("c", at(10, 30), at(11, 30))
	cancelled.Status = models.StatusCancelled
	require.NoError(t, s.Commit(ctx, Change{Reservation: cancelled, Create: true}))

	all, err := s.ListReservations(ctx, models.ReservationFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].ID)

	active, err := s.ListReservations(ctx, models.ReservationFilter{ActiveOnly: true, Range: &models.Interval{Start: at(10, 0), End: at(12, 0)}})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "a", active[0].ID)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	r := seedReservation("r1", at(10, 0), at(11, 0))
	r.Services = []models.ServiceLine{{ServiceRef: "massage", DurationMinutes: 60, Quantity: 1}}
	require.NoError(t, s.Commit(ctx, Change{Reservation: r, Create: true}))

	got, err := s.GetReservation(ctx, "r1")
	require.NoError(t, err)
	got.Services[0].ServiceRef = "changed"
	got.Status = models.StatusCancelled

	again, err := s.GetReservation(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "massage", again.Services[0].ServiceRef)
	assert.Equal(t, models.StatusBooked, again.Status)
}

func TestMemoryStore_ShiftRules(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	from := time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.UpsertShiftRule(ctx, models.WeeklyShiftRule{ID: "1", ResourceRef: "s1", DayOfWeek: 1, StartTime: "09:00", EndTime: "17:00"}))
	require.NoError(t, s.UpsertShiftRule(ctx, models.WeeklyShiftRule{ID: "2", ResourceRef: "s1", DayOfWeek: 1, IsDayOff: true, EffectiveFrom: &from}))
	// Same slot as rule 1 replaces it.
	require.NoError(t, s.UpsertShiftRule(ctx, models.WeeklyShiftRule{ID: "3", ResourceRef: "s1", DayOfWeek: 1, StartTime: "10:00", EndTime: "18:00"}))
	require.NoError(t, s.UpsertShiftRule(ctx, models.WeeklyShiftRule{ID: "4", ResourceRef: "s2", DayOfWeek: 1, IsDayOff: true}))

	rules, err := s.ListShiftRules(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "2", rules[0].ID)
	assert.Equal(t, "3", rules[1].ID)

	all, err := s.ListShiftRules(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMemoryStore_SyncLocationsKeepsFlags(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.SyncLocations(ctx, []models.Location{{Ref: "room-1", Capacity: 1}}))

	yes := true
	require.NoError(t, s.Commit(ctx, Change{LocationStatus: []models.LocationStatus{{Ref: "room-1", OutOfService: &yes}}}))
	require.NoError(t, s.SyncLocations(ctx, []models.Location{{Ref: "room-1", Capacity: 2, AllowedServices: []string{"massage"}}}))

	loc, err := s.GetLocation(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, 2, loc.Capacity)
	assert.True(t, loc.OutOfService)
}

func TestMemoryStore_Assignments(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Commit(ctx, Change{UpsertAssignments: []models.Assignment{
		{ID: "a1", ReservationID: "r1", ResourceRef: "s1", Role: models.RolePrimary},
		{ID: "a2", ReservationID: "r1", ResourceRef: "s2", Role: models.RoleAssistant},
	}}))
	require.NoError(t, s.Commit(ctx, Change{DeleteAssignments: []string{"a2"}}))

	list, err := s.ListAssignments(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "s1", list[0].ResourceRef)
}
