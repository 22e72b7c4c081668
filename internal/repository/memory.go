package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"spadesk/internal/models"
)

// MemoryStore keeps everything in maps behind a RWMutex.
type MemoryStore struct {
	mu           sync.RWMutex
	reservations map[string]models.Reservation
	blocks       map[string]models.Block
	assignments  map[string]models.Assignment
	deposits     map[string]models.DepositRecord
	shiftRules   map[string]models.WeeklyShiftRule
	locations    map[string]models.Location
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reservations: make(map[string]models.Reservation),
		blocks:       make(map[string]models.Block),
		assignments:  make(map[string]models.Assignment),
		deposits:     make(map[string]models.DepositRecord),
		shiftRules:   make(map[string]models.WeeklyShiftRule),
		locations:    make(map[string]models.Location),
	}
}

func (s *MemoryStore) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reservations[id]
	if !ok {
		return nil, fmt.Errorf("reservation %s: %w", id, models.ErrNotFound)
	}
	out := r.Clone()
	return &out, nil
}

func (s *MemoryStore) ListReservations(ctx context.Context, filter models.ReservationFilter) ([]models.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Reservation
	for _, r := range s.reservations {
		if filter.Matches(&r) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Interval.Start.Equal(out[j].Interval.Start) {
			return out[i].Interval.Start.Before(out[j].Interval.Start)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) ListBlocks(ctx context.Context, filter models.BlockFilter) ([]models.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Block
	for _, b := range s.blocks {
		if filter.Matches(&b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Interval.Start.Before(out[j].Interval.Start) })
	return out, nil
}

func (s *MemoryStore) ListAssignments(ctx context.Context, reservationID string) ([]models.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Assignment
	for _, a := range s.assignments {
		if a.ReservationID == reservationID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetDeposit(ctx context.Context, reservationID string) (*models.DepositRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deposits[reservationID]
	if !ok {
		return nil, fmt.Errorf("deposit %s: %w", reservationID, models.ErrNotFound)
	}
	return &d, nil
}

func (s *MemoryStore) ListShiftRules(ctx context.Context, resourceRef string) ([]models.WeeklyShiftRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.WeeklyShiftRule
	for _, r := range s.shiftRules {
		if resourceRef == "" || r.ResourceRef == resourceRef {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ResourceRef != out[j].ResourceRef {
			return out[i].ResourceRef < out[j].ResourceRef
		}
		if out[i].DayOfWeek != out[j].DayOfWeek {
			return out[i].DayOfWeek < out[j].DayOfWeek
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// UpsertShiftRule stores rule keyed by ID. A rule for the same resource, day and
// EffectiveFrom replaces the previous one.
func (s *MemoryStore) UpsertShiftRule(ctx context.Context, rule models.WeeklyShiftRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.shiftRules {
		if id != rule.ID && sameRuleSlot(existing, rule) {
			delete(s.shiftRules, id)
		}
	}
	s.shiftRules[rule.ID] = rule
	return nil
}

func sameRuleSlot(a, b models.WeeklyShiftRule) bool {
	if a.ResourceRef != b.ResourceRef || a.DayOfWeek != b.DayOfWeek {
		return false
	}
	if a.EffectiveFrom == nil || b.EffectiveFrom == nil {
		return a.EffectiveFrom == nil && b.EffectiveFrom == nil
	}
	return models.DateOnly(*a.EffectiveFrom).Equal(models.DateOnly(*b.EffectiveFrom))
}

func (s *MemoryStore) GetLocation(ctx context.Context, ref string) (*models.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.locations[ref]
	if !ok {
		return nil, fmt.Errorf("location %s: %w", ref, models.ErrNotFound)
	}
	return &l, nil
}

func (s *MemoryStore) ListLocations(ctx context.Context) ([]models.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Location, 0, len(s.locations))
	for _, l := range s.locations {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref < out[j].Ref })
	return out, nil
}

func (s *MemoryStore) SyncLocations(ctx context.Context, locations []models.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range locations {
		if existing, ok := s.locations[l.Ref]; ok {
			l.Dirty = existing.Dirty
			l.OutOfService = existing.OutOfService
		}
		s.locations[l.Ref] = l
	}
	return nil
}

// Commit validates the whole change before touching any map.
func (s *MemoryStore) Commit(ctx context.Context, change Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if r := change.Reservation; r != nil {
		existing, ok := s.reservations[r.ID]
		switch {
		case change.Create && ok:
			return fmt.Errorf("reservation %s already exists", r.ID)
		case !change.Create && !ok:
			return fmt.Errorf("reservation %s: %w", r.ID, models.ErrNotFound)
		case !change.Create && existing.Version != change.ExpectedVersion:
			return fmt.Errorf("reservation %s: %w", r.ID, models.ErrConcurrentModification)
		}
	}
	for _, st := range change.LocationStatus {
		if _, ok := s.locations[st.Ref]; !ok {
			return fmt.Errorf("location %s: %w", st.Ref, models.ErrNotFound)
		}
	}

	if r := change.Reservation; r != nil {
		s.reservations[r.ID] = r.Clone()
	}
	if d := change.Deposit; d != nil {
		s.deposits[d.ReservationID] = *d
	}
	for _, b := range change.Blocks {
		s.blocks[b.ID] = b
	}
	for _, st := range change.LocationStatus {
		l := s.locations[st.Ref]
		if st.Dirty != nil {
			l.Dirty = *st.Dirty
		}
		if st.OutOfService != nil {
			l.OutOfService = *st.OutOfService
		}
		s.locations[st.Ref] = l
	}
	for _, id := range change.DeleteAssignments {
		delete(s.assignments, id)
	}
	for _, a := range change.UpsertAssignments {
		s.assignments[a.ID] = a
	}
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (s *MemoryStore) Close() error { return nil }
