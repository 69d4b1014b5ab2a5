package database

import (
	"context"
	"fmt"
	"time"

	"rentflow/internal/models"
)

// CreateReview returns ErrDuplicate when the user already reviewed the property.
func (db *DB) CreateReview(ctx context.Context, review *models.Review) error {
	query := `INSERT INTO reviews (booking_id, property_id, user_id, rating, comment, created_at)
			VALUES (?, ?, ?, ?, ?, ?) RETURNING id`
	if review.CreatedAt.IsZero() {
		review.CreatedAt = time.Now().UTC()
	}
	err := db.QueryRowContext(ctx, db.dialect.q(query),
		review.BookingID, review.PropertyID, review.UserID, review.Rating, review.Comment, review.CreatedAt,
	).Scan(&review.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("review for property %d: %w", review.PropertyID, ErrDuplicate)
		}
		return fmt.Errorf("failed to create review: %w", err)
	}
	return nil
}

func (db *DB) HasReview(ctx context.Context, propertyID, userID int64) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM reviews WHERE property_id = ? AND user_id = ?)`
	if err := db.QueryRowContext(ctx, db.dialect.q(query), propertyID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check review: %w", err)
	}
	return exists, nil
}

// ListReviews returns the reviews of one property, newest first.
func (db *DB) ListReviews(ctx context.Context, propertyID int64) ([]*models.Review, error) {
	query := `SELECT id, booking_id, property_id, user_id, rating, comment, created_at
			FROM reviews WHERE property_id = ? ORDER BY created_at DESC, id DESC`
	rows, err := db.QueryContext(ctx, db.dialect.q(query), propertyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}
	defer rows.Close()

	var reviews []*models.Review
	for rows.Next() {
		var r models.Review
		if err := rows.Scan(&r.ID, &r.BookingID, &r.PropertyID, &r.UserID, &r.Rating, &r.Comment, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}
		reviews = append(reviews, &r)
	}
	return reviews, rows.Err()
}
