package database

import (
	"context"
	"fmt"
	"time"

	"rentflow/internal/models"
)

// Completion candidates are confirmed bookings with end_date < today.
// A non-zero cutoff additionally requires end_date >= cutoff.
func candidateWhere(today, cutoff time.Time) (string, []any) {
	where := `status = ? AND end_date < ?`
	args := []any{string(models.StatusConfirmed), models.FormatDate(today)}
	if !cutoff.IsZero() {
		where += ` AND end_date >= ?`
		args = append(args, models.FormatDate(cutoff))
	}
	return where, args
}

func (db *DB) CountCompletionCandidates(ctx context.Context, today, cutoff time.Time) (int, error) {
	where, args := candidateWhere(today, cutoff)
	var n int
	if err := db.QueryRowContext(ctx, db.dialect.q(`SELECT COUNT(*) FROM bookings WHERE `+where), args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count completion candidates: %w", err)
	}
	return n, nil
}

// SampleCompletionCandidates returns the oldest candidates by end date.
func (db *DB) SampleCompletionCandidates(ctx context.Context, today, cutoff time.Time, limit int) ([]models.CompletionCandidate, error) {
	where, args := candidateWhere(today, cutoff)
	query := `SELECT id, end_date FROM bookings WHERE ` + where + ` ORDER BY end_date, id LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, db.dialect.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to sample completion candidates: %w", err)
	}
	defer rows.Close()

	var sample []models.CompletionCandidate
	for rows.Next() {
		var c models.CompletionCandidate
		if err := rows.Scan(&c.ID, &c.EndDate); err != nil {
			return nil, fmt.Errorf("failed to scan completion candidate: %w", err)
		}
		c.EndDate = models.DateOf(c.EndDate)
		sample = append(sample, c)
	}
	return sample, rows.Err()
}

// CompletionCandidateIDs pages through candidates by id, starting after afterID.
func (db *DB) CompletionCandidateIDs(ctx context.Context, today, cutoff time.Time, afterID int64, limit int) ([]int64, error) {
	where, args := candidateWhere(today, cutoff)
	query := `SELECT id FROM bookings WHERE ` + where + ` AND id > ? ORDER BY id LIMIT ?`
	args = append(args, afterID, limit)

	rows, err := db.QueryContext(ctx, db.dialect.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select completion candidates: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan candidate id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
