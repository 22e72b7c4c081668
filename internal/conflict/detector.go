// Package conflict enforces mutual exclusion of reservations and blocks on
// resources and locations.
package conflict

import (
	"context"
	"fmt"
	"time"

	"spadesk/internal/models"
)

// Source is the read side the detector needs.
type Source interface {
	ListReservations(ctx context.Context, filter models.ReservationFilter) ([]models.Reservation, error)
	ListBlocks(ctx context.Context, filter models.BlockFilter) ([]models.Block, error)
	GetLocation(ctx context.Context, ref string) (*models.Location, error)
}

// Proposal is the slot being claimed.
type Proposal struct {
	ResourceRef string          `json:"resource_ref,omitempty"`
	LocationRef string          `json:"location_ref,omitempty"`
	Interval    models.Interval `json:"interval"`
}

// Result lists what the proposal collides with.
type Result struct {
	Conflict       bool     `json:"conflict"`
	ReservationIDs []string `json:"reservation_ids,omitempty"`
	BlockIDs       []string `json:"block_ids,omitempty"`
}

// Err returns a *models.ConflictError for a conflicting result.
func (r Result) Err() error {
	if !r.Conflict {
		return nil
	}
	return &models.ConflictError{ReservationIDs: r.ReservationIDs, BlockIDs: r.BlockIDs}
}

// Detector checks proposals against committed state.
type Detector struct {
	source Source
}

// NewDetector creates a detector.
func NewDetector(source Source) *Detector {
	return &Detector{source: source}
}

// Detect reports reservations and blocks that prevent p. excludeID is the
// reservation being edited and never conflicts with itself.
//
// Any overlap on the resource conflicts. Overlaps on the location conflict
// once their number reaches the location's capacity. Blocks always conflict.
func (d *Detector) Detect(ctx context.Context, p Proposal, excludeID string) (Result, error) {
	if err := p.Interval.Validate(); err != nil {
		return Result{}, models.InvalidInput("%v", err)
	}

	var res Result
	seen := make(map[string]bool)
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			res.ReservationIDs = append(res.ReservationIDs, id)
		}
	}

	if p.ResourceRef != "" {
		overlapping, err := d.overlapping(ctx, models.ReservationFilter{ResourceRef: p.ResourceRef}, p.Interval, excludeID)
		if err != nil {
			return Result{}, err
		}
		for _, id := range overlapping {
			add(id)
		}
	}

	if p.LocationRef != "" {
		loc, err := d.source.GetLocation(ctx, p.LocationRef)
		if err != nil {
			return Result{}, fmt.Errorf("get location %s: %w", p.LocationRef, err)
		}
		overlapping, err := d.overlapping(ctx, models.ReservationFilter{LocationRef: p.LocationRef}, p.Interval, excludeID)
		if err != nil {
			return Result{}, err
		}
		if len(overlapping) >= loc.EffectiveCapacity() {
			for _, id := range overlapping {
				add(id)
			}
		}
	}

	if p.ResourceRef != "" || p.LocationRef != "" {
		blocks, err := d.source.ListBlocks(ctx, models.BlockFilter{
			ResourceRef: p.ResourceRef,
			LocationRef: p.LocationRef,
			Range:       &p.Interval,
		})
		if err != nil {
			return Result{}, fmt.Errorf("list blocks: %w", err)
		}
		for _, b := range blocks {
			if b.Interval.Overlaps(p.Interval) {
				res.BlockIDs = append(res.BlockIDs, b.ID)
			}
		}
	}

	res.Conflict = len(res.ReservationIDs) > 0 || len(res.BlockIDs) > 0
	return res, nil
}

func (d *Detector) overlapping(ctx context.Context, filter models.ReservationFilter, iv models.Interval, excludeID string) ([]string, error) {
	filter.Range = &iv
	filter.ActiveOnly = true
	list, err := d.source.ListReservations(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	var ids []string
	for i := range list {
		if list[i].ID == excludeID || list[i].Status.ReleasesSlot() {
			continue
		}
		if list[i].Interval.Overlaps(iv) {
			ids = append(ids, list[i].ID)
		}
	}
	return ids, nil
}

// IsSlotBooked reports whether anything on resourceRef overlaps [start, end).
// It lets the detector back the day calendar.
func (d *Detector) IsSlotBooked(ctx context.Context, resourceRef string, start, end time.Time) (bool, error) {
	res, err := d.Detect(ctx, Proposal{ResourceRef: resourceRef, Interval: models.Interval{Start: start, End: end}}, "")
	if err != nil {
		return false, err
	}
	return res.Conflict, nil
}
