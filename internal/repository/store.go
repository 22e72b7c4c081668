// Package repository defines the storage port of the engine and an in-memory implementation.
package repository

import (
	"context"

	"spadesk/internal/models"
)

// Store is the persistence port. Reads never block writers for long; every
// write goes through Commit, which applies a Change all-or-nothing.
type Store interface {
	GetReservation(ctx context.Context, id string) (*models.Reservation, error)
	ListReservations(ctx context.Context, filter models.ReservationFilter) ([]models.Reservation, error)
	ListBlocks(ctx context.Context, filter models.BlockFilter) ([]models.Block, error)
	ListAssignments(ctx context.Context, reservationID string) ([]models.Assignment, error)
	GetDeposit(ctx context.Context, reservationID string) (*models.DepositRecord, error)

	ListShiftRules(ctx context.Context, resourceRef string) ([]models.WeeklyShiftRule, error)
	UpsertShiftRule(ctx context.Context, rule models.WeeklyShiftRule) error

	GetLocation(ctx context.Context, ref string) (*models.Location, error)
	ListLocations(ctx context.Context) ([]models.Location, error)
	// SyncLocations replaces the configured fields of the given locations and keeps their runtime flags.
	SyncLocations(ctx context.Context, locations []models.Location) error

	Commit(ctx context.Context, change Change) error
	Ping(ctx context.Context) error
	Close() error
}

// Change is one atomic unit of work.
//
// When Reservation is set and Create is false, the stored row must still carry
// ExpectedVersion, otherwise Commit fails with models.ErrConcurrentModification
// and nothing is written.
type Change struct {
	Reservation     *models.Reservation
	Create          bool
	ExpectedVersion int64

	Deposit           *models.DepositRecord
	Blocks            []models.Block
	LocationStatus    []models.LocationStatus
	UpsertAssignments []models.Assignment
	DeleteAssignments []string
}

// IsEmpty reports whether the change writes nothing.
func (c *Change) IsEmpty() bool {
	return c.Reservation == nil && c.Deposit == nil && len(c.Blocks) == 0 &&
		len(c.LocationStatus) == 0 && len(c.UpsertAssignments) == 0 && len(c.DeleteAssignments) == 0
}
