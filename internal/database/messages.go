package database

import (
	"context"
	"fmt"
	"time"

	"rentflow/internal/models"
)

// CreateMessage appends msg to its booking's thread. It runs inside the
// transaction holding the booking lock, so the status seen by the caller is
// still current when the row is written.
func (t *Tx) CreateMessage(ctx context.Context, msg *models.Message) error {
	query := `INSERT INTO messages (booking_id, sender_id, receiver_id, text, created_at)
			VALUES (?, ?, ?, ?, ?) RETURNING id`
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	err := t.tx.QueryRowContext(ctx, t.dialect.q(query),
		msg.BookingID, msg.SenderID, msg.ReceiverID, msg.Text, msg.CreatedAt,
	).Scan(&msg.ID)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// ListMessages returns the thread of one booking in the order it was written.
func (db *DB) ListMessages(ctx context.Context, bookingID int64) ([]*models.Message, error) {
	query := `SELECT id, booking_id, sender_id, receiver_id, text, created_at
			FROM messages WHERE booking_id = ? ORDER BY created_at, id`
	rows, err := db.QueryContext(ctx, db.dialect.q(query), bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.BookingID, &m.SenderID, &m.ReceiverID, &m.Text, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}
