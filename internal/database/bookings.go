package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"rentflow/internal/domain"
	"rentflow/internal/models"
)

const bookingColumns = `b.id, b.property_id, b.renter_id, b.start_date, b.end_date, b.monthly_rent, b.total_amount,
	b.status, b.cancel_until, b.created_at, b.confirmed_at, b.completed_at, b.updated_at, b.version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(s rowScanner) (*models.Booking, error) {
	var (
		b           models.Booking
		status      string
		cancelUntil sql.NullTime
		confirmedAt sql.NullTime
		completedAt sql.NullTime
	)
	err := s.Scan(
		&b.ID, &b.PropertyID, &b.RenterID, &b.StartDate, &b.EndDate, &b.MonthlyRent, &b.TotalAmount,
		&status, &cancelUntil, &b.CreatedAt, &confirmedAt, &completedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}
	b.Status = models.BookingStatus(status)
	b.StartDate = models.DateOf(b.StartDate)
	b.EndDate = models.DateOf(b.EndDate)
	if cancelUntil.Valid {
		d := models.DateOf(cancelUntil.Time)
		b.CancelUntil = &d
	}
	b.ConfirmedAt = timePtr(confirmedAt)
	b.CompletedAt = timePtr(completedAt)
	return &b, nil
}

func scanBookings(rows *sql.Rows) ([]*models.Booking, error) {
	defer rows.Close()
	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bookings: %w", err)
	}
	return bookings, nil
}

// CreateBooking inserts a new booking and fills its id, timestamps and version.
func (db *DB) CreateBooking(ctx context.Context, booking *models.Booking) error {
	query := `INSERT INTO bookings (
				property_id, renter_id, start_date, end_date, monthly_rent, total_amount,
				status, cancel_until, created_at, updated_at, version
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id`

	now := booking.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	var id int64
	err := db.QueryRowContext(ctx, db.dialect.q(query),
		booking.PropertyID,
		booking.RenterID,
		models.FormatDate(booking.StartDate),
		models.FormatDate(booking.EndDate),
		booking.MonthlyRent.StringFixed(2),
		booking.TotalAmount.StringFixed(2),
		string(booking.Status),
		nullDate(booking.CancelUntil),
		now,
		now,
		1,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}

	booking.ID = id
	booking.CreatedAt = now
	booking.UpdatedAt = now
	booking.Version = 1
	return nil
}

func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings b WHERE b.id = ?`
	b, err := scanBooking(db.QueryRowContext(ctx, db.dialect.q(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("booking %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

// ListBookings returns bookings matching filter, newest first.
func (db *DB) ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		where = append(where, "b.status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.PropertyID != 0 {
		where = append(where, "b.property_id = ?")
		args = append(args, filter.PropertyID)
	}
	if filter.RenterID != 0 {
		where = append(where, "b.renter_id = ?")
		args = append(args, filter.RenterID)
	}
	if filter.OwnerID != 0 {
		where = append(where, "p.owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	addDate := func(cond string, t *time.Time) {
		if t != nil {
			where = append(where, cond)
			args = append(args, models.FormatDate(*t))
		}
	}
	addDate("b.start_date >= ?", filter.StartDateFrom)
	addDate("b.start_date <= ?", filter.StartDateTo)
	addDate("b.end_date >= ?", filter.EndDateFrom)
	addDate("b.end_date <= ?", filter.EndDateTo)

	query := `SELECT ` + bookingColumns + ` FROM bookings b JOIN properties p ON p.id = b.property_id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = models.DefaultListLimit
	}
	query += " ORDER BY b.created_at DESC, b.id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := db.QueryContext(ctx, db.dialect.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	return scanBookings(rows)
}

// GetBookingsByStartRange returns bookings starting within [start, end], ordered by start date.
func (db *DB) GetBookingsByStartRange(ctx context.Context, start, end time.Time, propertyID int64) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings b WHERE b.start_date >= ? AND b.start_date <= ?`
	args := []any{models.FormatDate(start), models.FormatDate(end)}
	if propertyID != 0 {
		query += " AND b.property_id = ?"
		args = append(args, propertyID)
	}
	query += " ORDER BY b.start_date, b.id"

	rows, err := db.QueryContext(ctx, db.dialect.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get bookings by date range: %w", err)
	}
	return scanBookings(rows)
}

func (db *DB) HasOverlap(ctx context.Context, q models.OverlapQuery) (bool, error) {
	return hasOverlap(ctx, db.DB, db.dialect, q)
}

func hasOverlap(ctx context.Context, r queryRunner, d dialect, q models.OverlapQuery) (bool, error) {
	if len(q.Statuses) == 0 {
		return false, nil
	}
	query := `SELECT EXISTS (
				SELECT 1 FROM bookings
				WHERE property_id = ?
				AND status IN (` + placeholders(len(q.Statuses)) + `)
				AND start_date < ?
				AND end_date > ?`
	args := []any{q.PropertyID}
	for _, s := range q.Statuses {
		args = append(args, string(s))
	}
	args = append(args, models.FormatDate(q.End), models.FormatDate(q.Start))
	if q.ExcludeID != 0 {
		query += ` AND id <> ?`
		args = append(args, q.ExcludeID)
	}
	query += `)`

	var exists bool
	if err := r.QueryRowContext(ctx, d.q(query), args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to query overlap: %w", err)
	}
	return exists, nil
}

func (t *Tx) HasOverlap(ctx context.Context, q models.OverlapQuery) (bool, error) {
	return hasOverlap(ctx, t.tx, t.dialect, q)
}

func (t *Tx) LockProperty(ctx context.Context, propertyID int64) error {
	var id int64
	err := t.tx.QueryRowContext(ctx, t.dialect.q(`SELECT id FROM properties WHERE id = ?`+t.dialect.forUpdate), propertyID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("property %d: %w", propertyID, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to lock property: %w", err)
	}
	return nil
}

func (t *Tx) LockBooking(ctx context.Context, id int64) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings b WHERE b.id = ?` + t.dialect.forUpdate
	b, err := scanBooking(t.tx.QueryRowContext(ctx, t.dialect.q(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("booking %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock booking: %w", err)
	}
	return b, nil
}

// LockBookings locks the listed rows in id order. Missing ids are skipped.
func (t *Tx) LockBookings(ctx context.Context, ids []int64) ([]*models.Booking, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + bookingColumns + ` FROM bookings b WHERE b.id IN (` + placeholders(len(ids)) + `) ORDER BY b.id` +
		t.dialect.forUpdate
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := t.tx.QueryContext(ctx, t.dialect.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to lock bookings: %w", err)
	}
	return scanBookings(rows)
}

// UpdateBookingStatus writes the status and lifecycle timestamps of booking,
// provided the stored status still equals from.
func (t *Tx) UpdateBookingStatus(ctx context.Context, booking *models.Booking, from models.BookingStatus) error {
	if from.IsTerminal() {
		return fmt.Errorf("booking %d is %s: %w", booking.ID, from, ErrTerminalStatus)
	}
	query := `UPDATE bookings
			SET status = ?, confirmed_at = ?, completed_at = ?, updated_at = ?, version = version + 1
			WHERE id = ? AND status = ?`
	updatedAt := booking.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	result, err := t.tx.ExecContext(ctx, t.dialect.q(query),
		string(booking.Status),
		nullTime(booking.ConfirmedAt),
		nullTime(booking.CompletedAt),
		updatedAt,
		booking.ID,
		string(from),
	)
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrConcurrentModification
	}

	booking.UpdatedAt = updatedAt
	booking.Version++
	return nil
}
