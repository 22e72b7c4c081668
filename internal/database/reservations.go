package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"spadesk/internal/models"
)

const reservationColumns = `id, guest_ref, resource_ref, location_ref, start_ns, end_ns, services, status,
	deposit_required, deposit_amount, deposit_paid, deposit_refunded, first_visit, cancellation_reason_ref,
	checked_in_ns, service_started_ns, completed_ns, checked_out_ns, cancelled_ns, no_show_ns,
	version, created_ns, updated_ns`

type rowScanner interface {
	Scan(dest ...any) error
}

// GetReservation returns a reservation by id.
func (db *DB) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	row := db.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id)
	r, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reservation %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get reservation %s: %w", id, err)
	}
	return r, nil
}

// ListReservations returns reservations matching filter ordered by start.
func (db *DB) ListReservations(ctx context.Context, filter models.ReservationFilter) ([]models.Reservation, error) {
	var where []string
	var args []any
	if filter.ResourceRef != "" {
		where = append(where, "resource_ref = ?")
		args = append(args, filter.ResourceRef)
	}
	if filter.LocationRef != "" {
		where = append(where, "location_ref = ?")
		args = append(args, filter.LocationRef)
	}
	if filter.GuestRef != "" {
		where = append(where, "guest_ref = ?")
		args = append(args, filter.GuestRef)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if filter.ActiveOnly {
		where = append(where, "status NOT IN (?, ?)")
		args = append(args, string(models.StatusCancelled), string(models.StatusNoShow))
	}
	if filter.Range != nil {
		where = append(where, "start_ns < ? AND end_ns > ?")
		args = append(args, filter.Range.End.UnixNano(), filter.Range.Start.UnixNano())
	}

	query := `SELECT ` + reservationColumns + ` FROM reservations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_ns, id"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	defer rows.Close()

	var out []models.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanReservation(row rowScanner) (*models.Reservation, error) {
	var (
		r                                                    models.Reservation
		startNs, endNs, createdNs, updatedNs                 int64
		services, status                                     string
		checkedIn, started, completed, checkedOut, cancelled sql.NullInt64
		noShow                                               sql.NullInt64
	)
	err := row.Scan(
		&r.ID, &r.GuestRef, &r.ResourceRef, &r.LocationRef, &startNs, &endNs, &services, &status,
		&r.DepositRequired, &r.DepositAmount, &r.DepositPaid, &r.DepositRefunded, &r.IsFirstVisitForGuest,
		&r.CancellationReasonRef,
		&checkedIn, &started, &completed, &checkedOut, &cancelled, &noShow,
		&r.Version, &createdNs, &updatedNs,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(services), &r.Services); err != nil {
		return nil, fmt.Errorf("decode services of %s: %w", r.ID, err)
	}
	r.Status = models.Status(status)
	r.Interval = models.Interval{Start: fromNanos(startNs), End: fromNanos(endNs)}
	r.CheckedInAt = fromNullNanos(checkedIn)
	r.ServiceStartedAt = fromNullNanos(started)
	r.CompletedAt = fromNullNanos(completed)
	r.CheckedOutAt = fromNullNanos(checkedOut)
	r.CancelledAt = fromNullNanos(cancelled)
	r.NoShowAt = fromNullNanos(noShow)
	r.CreatedAt = fromNanos(createdNs)
	r.UpdatedAt = fromNanos(updatedNs)
	return &r, nil
}

func insertReservation(ctx context.Context, tx *sql.Tx, r *models.Reservation) error {
	services, err := json.Marshal(r.Services)
	if err != nil {
		return fmt.Errorf("encode services: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO reservations (`+reservationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.GuestRef, r.ResourceRef, r.LocationRef,
		r.Interval.Start.UnixNano(), r.Interval.End.UnixNano(), string(services), string(r.Status),
		r.DepositRequired, r.DepositAmount, r.DepositPaid, r.DepositRefunded, r.IsFirstVisitForGuest,
		r.CancellationReasonRef,
		toNullNanos(r.CheckedInAt), toNullNanos(r.ServiceStartedAt), toNullNanos(r.CompletedAt),
		toNullNanos(r.CheckedOutAt), toNullNanos(r.CancelledAt), toNullNanos(r.NoShowAt),
		r.Version, r.CreatedAt.UnixNano(), r.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert reservation %s: %w", r.ID, err)
	}
	return nil
}

// updateReservation writes r only if the stored row still carries expectedVersion.
func updateReservation(ctx context.Context, tx *sql.Tx, r *models.Reservation, expectedVersion int64) error {
	services, err := json.Marshal(r.Services)
	if err != nil {
		return fmt.Errorf("encode services: %w", err)
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE reservations SET
			guest_ref = ?, resource_ref = ?, location_ref = ?, start_ns = ?, end_ns = ?, services = ?, status = ?,
			deposit_required = ?, deposit_amount = ?, deposit_paid = ?, deposit_refunded = ?, first_visit = ?,
			cancellation_reason_ref = ?,
			checked_in_ns = ?, service_started_ns = ?, completed_ns = ?, checked_out_ns = ?, cancelled_ns = ?, no_show_ns = ?,
			version = ?, updated_ns = ?
		WHERE id = ? AND version = ?`,
		r.GuestRef, r.ResourceRef, r.LocationRef, r.Interval.Start.UnixNano(), r.Interval.End.UnixNano(),
		string(services), string(r.Status),
		r.DepositRequired, r.DepositAmount, r.DepositPaid, r.DepositRefunded, r.IsFirstVisitForGuest,
		r.CancellationReasonRef,
		toNullNanos(r.CheckedInAt), toNullNanos(r.ServiceStartedAt), toNullNanos(r.CompletedAt),
		toNullNanos(r.CheckedOutAt), toNullNanos(r.CancelledAt), toNullNanos(r.NoShowAt),
		r.Version, r.UpdatedAt.UnixNano(),
		r.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update reservation %s: %w", r.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update reservation %s: %w", r.ID, err)
	}
	if affected > 0 {
		return nil
	}

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM reservations WHERE id = ?`, r.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check reservation %s: %w", r.ID, err)
	}
	if exists == 0 {
		return fmt.Errorf("reservation %s: %w", r.ID, models.ErrNotFound)
	}
	return fmt.Errorf("reservation %s: %w", r.ID, models.ErrConcurrentModification)
}

func fromNanos(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

func fromNullNanos(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromNanos(v.Int64)
	return &t
}

func toNullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}
