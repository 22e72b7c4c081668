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
	"spadesk/internal/repository"
)

const dateLayout = "2006-01-02"

// ListBlocks returns blocks matching filter. Resource and location are OR-ed.
func (db *DB) ListBlocks(ctx context.Context, filter models.BlockFilter) ([]models.Block, error) {
	var where []string
	var args []any
	switch {
	case filter.ResourceRef != "" && filter.LocationRef != "":
		where = append(where, "(resource_ref = ? OR location_ref = ?)")
		args = append(args, filter.ResourceRef, filter.LocationRef)
	case filter.ResourceRef != "":
		where = append(where, "resource_ref = ?")
		args = append(args, filter.ResourceRef)
	case filter.LocationRef != "":
		where = append(where, "location_ref = ?")
		args = append(args, filter.LocationRef)
	}
	if filter.Range != nil {
		where = append(where, "start_ns < ? AND end_ns > ?")
		args = append(args, filter.Range.End.UnixNano(), filter.Range.Start.UnixNano())
	}

	query := `SELECT id, resource_ref, location_ref, start_ns, end_ns, kind, source_reservation_id, created_ns FROM blocks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_ns, id"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	defer rows.Close()

	var out []models.Block
	for rows.Next() {
		var b models.Block
		var startNs, endNs, createdNs int64
		var kind string
		if err := rows.Scan(&b.ID, &b.ResourceRef, &b.LocationRef, &startNs, &endNs, &kind, &b.SourceReservationID, &createdNs); err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		b.Interval = models.Interval{Start: fromNanos(startNs), End: fromNanos(endNs)}
		b.Kind = models.BlockKind(kind)
		b.CreatedAt = fromNanos(createdNs)
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListAssignments returns the staff assignments of a reservation.
func (db *DB) ListAssignments(ctx context.Context, reservationID string) ([]models.Assignment, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, reservation_id, resource_ref, role FROM assignments
		WHERE reservation_id = ? ORDER BY id`, reservationID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	var out []models.Assignment
	for rows.Next() {
		var a models.Assignment
		var role string
		if err := rows.Scan(&a.ID, &a.ReservationID, &a.ResourceRef, &role); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		a.Role = models.AssignmentRole(role)
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetDeposit returns the deposit record of a reservation.
func (db *DB) GetDeposit(ctx context.Context, reservationID string) (*models.DepositRecord, error) {
	var d models.DepositRecord
	var method string
	var paid, refunded sql.NullInt64
	err := db.QueryRowContext(ctx, `
		SELECT reservation_id, amount_required, amount_paid, method, reference, paid_ns, refunded_ns
		FROM deposits WHERE reservation_id = ?`, reservationID,
	).Scan(&d.ReservationID, &d.AmountRequired, &d.AmountPaid, &method, &d.Reference, &paid, &refunded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("deposit %s: %w", reservationID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get deposit %s: %w", reservationID, err)
	}
	d.Method = models.PaymentMethod(method)
	d.PaidAt = fromNullNanos(paid)
	d.RefundedAt = fromNullNanos(refunded)
	return &d, nil
}

// ListShiftRules returns rules of resourceRef, or all rules when it is empty.
func (db *DB) ListShiftRules(ctx context.Context, resourceRef string) ([]models.WeeklyShiftRule, error) {
	query := `SELECT id, resource_ref, day_of_week, is_day_off, start_time, end_time, effective_from FROM shift_rules`
	var args []any
	if resourceRef != "" {
		query += " WHERE resource_ref = ?"
		args = append(args, resourceRef)
	}
	query += " ORDER BY resource_ref, day_of_week, id"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list shift rules: %w", err)
	}
	defer rows.Close()

	var out []models.WeeklyShiftRule
	for rows.Next() {
		var r models.WeeklyShiftRule
		var from sql.NullString
		if err := rows.Scan(&r.ID, &r.ResourceRef, &r.DayOfWeek, &r.IsDayOff, &r.StartTime, &r.EndTime, &from); err != nil {
			return nil, fmt.Errorf("scan shift rule: %w", err)
		}
		if from.Valid {
			d, err := time.Parse(dateLayout, from.String)
			if err != nil {
				return nil, fmt.Errorf("shift rule %s: bad effective_from %q: %w", r.ID, from.String, err)
			}
			r.EffectiveFrom = &d
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertShiftRule stores rule, replacing any rule in the same resource/day/effective-from slot.
func (db *DB) UpsertShiftRule(ctx context.Context, rule models.WeeklyShiftRule) error {
	var from sql.NullString
	if rule.EffectiveFrom != nil {
		from = sql.NullString{String: rule.EffectiveFrom.Format(dateLayout), Valid: true}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM shift_rules
		WHERE id <> ? AND resource_ref = ? AND day_of_week = ? AND COALESCE(effective_from, '') = ?`,
		rule.ID, rule.ResourceRef, rule.DayOfWeek, from.String,
	)
	if err != nil {
		return fmt.Errorf("replace shift rule: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO shift_rules (id, resource_ref, day_of_week, is_day_off, start_time, end_time, effective_from)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			resource_ref = excluded.resource_ref, day_of_week = excluded.day_of_week,
			is_day_off = excluded.is_day_off, start_time = excluded.start_time,
			end_time = excluded.end_time, effective_from = excluded.effective_from`,
		rule.ID, rule.ResourceRef, rule.DayOfWeek, rule.IsDayOff, rule.StartTime, rule.EndTime, from,
	)
	if err != nil {
		return fmt.Errorf("upsert shift rule: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetLocation returns a location by ref.
func (db *DB) GetLocation(ctx context.Context, ref string) (*models.Location, error) {
	row := db.QueryRowContext(ctx, `
		SELECT ref, name, capacity, allowed_services, dirty, out_of_service
		FROM locations WHERE ref = ?`, ref)
	l, err := scanLocation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("location %s: %w", ref, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get location %s: %w", ref, err)
	}
	return l, nil
}

// ListLocations returns every location ordered by ref.
func (db *DB) ListLocations(ctx context.Context) ([]models.Location, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT ref, name, capacity, allowed_services, dirty, out_of_service
		FROM locations ORDER BY ref`)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	defer rows.Close()

	out := []models.Location{}
	for rows.Next() {
		l, err := scanLocation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func scanLocation(row rowScanner) (*models.Location, error) {
	var l models.Location
	var allowed string
	if err := row.Scan(&l.Ref, &l.Name, &l.Capacity, &allowed, &l.Dirty, &l.OutOfService); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(allowed), &l.AllowedServices); err != nil {
		return nil, fmt.Errorf("decode allowed services of %s: %w", l.Ref, err)
	}
	if len(l.AllowedServices) == 0 {
		l.AllowedServices = nil
	}
	return &l, nil
}

// SyncLocations writes the configured fields of locations; runtime flags of
// existing rows are kept.
func (db *DB) SyncLocations(ctx context.Context, locations []models.Location) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixNano()
	for _, l := range locations {
		allowed := l.AllowedServices
		if allowed == nil {
			allowed = []string{}
		}
		raw, err := json.Marshal(allowed)
		if err != nil {
			return fmt.Errorf("encode allowed services: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO locations (ref, name, capacity, allowed_services, dirty, out_of_service, updated_ns)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(ref) DO UPDATE SET
				name = excluded.name, capacity = excluded.capacity,
				allowed_services = excluded.allowed_services, updated_ns = excluded.updated_ns`,
			l.Ref, l.Name, l.Capacity, string(raw), l.Dirty, l.OutOfService, now,
		)
		if err != nil {
			return fmt.Errorf("sync location %s: %w", l.Ref, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	db.logger.Info().Int("count", len(locations)).Msg("Locations synced")
	return nil
}

// Commit applies change in one transaction.
func (db *DB) Commit(ctx context.Context, change repository.Change) error {
	if change.IsEmpty() {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if r := change.Reservation; r != nil {
		if change.Create {
			err = insertReservation(ctx, tx, r)
		} else {
			err = updateReservation(ctx, tx, r, change.ExpectedVersion)
		}
		if err != nil {
			return err
		}
	}
	if d := change.Deposit; d != nil {
		if err := upsertDeposit(ctx, tx, d); err != nil {
			return err
		}
	}
	for i := range change.Blocks {
		if err := insertBlock(ctx, tx, &change.Blocks[i]); err != nil {
			return err
		}
	}
	for _, st := range change.LocationStatus {
		if err := updateLocationStatus(ctx, tx, st); err != nil {
			return err
		}
	}
	for _, id := range change.DeleteAssignments {
		if _, err := tx.ExecContext(ctx, `DELETE FROM assignments WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete assignment %s: %w", id, err)
		}
	}
	for _, a := range change.UpsertAssignments {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO assignments (id, reservation_id, resource_ref, role) VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				reservation_id = excluded.reservation_id, resource_ref = excluded.resource_ref, role = excluded.role`,
			a.ID, a.ReservationID, a.ResourceRef, string(a.Role),
		)
		if err != nil {
			return fmt.Errorf("upsert assignment %s: %w", a.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func upsertDeposit(ctx context.Context, tx *sql.Tx, d *models.DepositRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO deposits (reservation_id, amount_required, amount_paid, method, reference, paid_ns, refunded_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(reservation_id) DO UPDATE SET
			amount_required = excluded.amount_required, amount_paid = excluded.amount_paid,
			method = excluded.method, reference = excluded.reference,
			paid_ns = excluded.paid_ns, refunded_ns = excluded.refunded_ns`,
		d.ReservationID, d.AmountRequired, d.AmountPaid, string(d.Method), d.Reference,
		toNullNanos(d.PaidAt), toNullNanos(d.RefundedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert deposit %s: %w", d.ReservationID, err)
	}
	return nil
}

func insertBlock(ctx context.Context, tx *sql.Tx, b *models.Block) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO blocks (id, resource_ref, location_ref, start_ns, end_ns, kind, source_reservation_id, created_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.ResourceRef, b.LocationRef, b.Interval.Start.UnixNano(), b.Interval.End.UnixNano(),
		string(b.Kind), b.SourceReservationID, b.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert block %s: %w", b.ID, err)
	}
	return nil
}

func updateLocationStatus(ctx context.Context, tx *sql.Tx, st models.LocationStatus) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE locations SET
			dirty = COALESCE(?, dirty),
			out_of_service = COALESCE(?, out_of_service),
			updated_ns = ?
		WHERE ref = ?`,
		nullBool(st.Dirty), nullBool(st.OutOfService), time.Now().UnixNano(), st.Ref,
	)
	if err != nil {
		return fmt.Errorf("update location %s: %w", st.Ref, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update location %s: %w", st.Ref, err)
	}
	if affected == 0 {
		return fmt.Errorf("location %s: %w", st.Ref, models.ErrNotFound)
	}
	return nil
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}
