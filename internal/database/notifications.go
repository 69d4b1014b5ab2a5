package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"rentflow/internal/domain"
	"rentflow/internal/models"
)

const notificationColumns = `id, event_id, recipient_id, kind, summary, payload, is_read, created_at,
	delivery_status, retry_count, last_error, next_retry_at`

func scanNotification(s rowScanner) (*models.Notification, error) {
	var (
		n         models.Notification
		kind      string
		payload   string
		lastError sql.NullString
		nextRetry sql.NullTime
	)
	err := s.Scan(&n.ID, &n.EventID, &n.RecipientID, &kind, &n.Summary, &payload, &n.IsRead, &n.CreatedAt,
		&n.DeliveryStatus, &n.RetryCount, &lastError, &nextRetry)
	if err != nil {
		return nil, err
	}
	n.Kind = models.NotificationKind(kind)
	if err := json.Unmarshal([]byte(payload), &n.Payload); err != nil {
		return nil, fmt.Errorf("decode payload of notification %d: %w", n.ID, err)
	}
	n.LastError = lastError.String
	n.NextRetryAt = timePtr(nextRetry)
	return &n, nil
}

func scanNotifications(rows *sql.Rows) ([]*models.Notification, error) {
	defer rows.Close()
	var out []*models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notifications: %w", err)
	}
	return out, nil
}

// CreateNotification stores an inbox entry that is also pending delivery.
func (db *DB) CreateNotification(ctx context.Context, n *models.Notification) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return fmt.Errorf("encode notification payload: %w", err)
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if n.DeliveryStatus == "" {
		n.DeliveryStatus = models.DeliveryPending
	}

	query := `INSERT INTO notifications (event_id, recipient_id, kind, summary, payload, is_read, created_at, delivery_status, retry_count)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`
	err = db.QueryRowContext(ctx, db.dialect.q(query),
		n.EventID, n.RecipientID, string(n.Kind), n.Summary, string(payload), n.IsRead, n.CreatedAt,
		n.DeliveryStatus, n.RetryCount,
	).Scan(&n.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("notification %s: %w", n.EventID, ErrDuplicate)
		}
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (db *DB) ListNotifications(ctx context.Context, filter models.NotificationFilter) ([]*models.Notification, error) {
	where := []string{"recipient_id = ?"}
	args := []any{filter.RecipientID}
	if filter.IsRead != nil {
		where = append(where, "is_read = ?")
		args = append(args, *filter.IsRead)
	}
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = models.DefaultListLimit
	}
	args = append(args, limit)

	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY created_at DESC, id DESC LIMIT ?`
	rows, err := db.QueryContext(ctx, db.dialect.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return scanNotifications(rows)
}

// MarkNotificationRead only touches notifications owned by recipientID.
func (db *DB) MarkNotificationRead(ctx context.Context, recipientID, id int64) error {
	result, err := db.ExecContext(ctx, db.dialect.q(`UPDATE notifications SET is_read = ? WHERE id = ? AND recipient_id = ?`),
		true, id, recipientID)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("notification %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (db *DB) MarkAllNotificationsRead(ctx context.Context, recipientID int64) (int64, error) {
	result, err := db.ExecContext(ctx, db.dialect.q(`UPDATE notifications SET is_read = ? WHERE recipient_id = ? AND is_read = ?`),
		true, recipientID, false)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return result.RowsAffected()
}

// GetPendingDeliveries returns outbox rows that are due for a delivery attempt.
func (db *DB) GetPendingDeliveries(ctx context.Context, now time.Time, limit int) ([]*models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications
			WHERE delivery_status IN (?, ?) AND (next_retry_at IS NULL OR next_retry_at <= ?)
			ORDER BY created_at ASC, id ASC LIMIT ?`
	rows, err := db.QueryContext(ctx, db.dialect.q(query), models.DeliveryPending, models.DeliveryRetry, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending deliveries: %w", err)
	}
	return scanNotifications(rows)
}

// GetFailedDeliveries lists dead-lettered notifications, newest first.
func (db *DB) GetFailedDeliveries(ctx context.Context) ([]*models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE delivery_status = ? ORDER BY created_at DESC`
	rows, err := db.QueryContext(ctx, db.dialect.q(query), models.DeliveryFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to get failed deliveries: %w", err)
	}
	return scanNotifications(rows)
}

// UpdateDeliveryStatus records the outcome of one delivery attempt.
func (db *DB) UpdateDeliveryStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var (
		query string
		args  []any
	)
	lastError := sql.NullString{String: errMsg, Valid: errMsg != ""}

	switch status {
	case models.DeliveryRetry:
		query = `UPDATE notifications SET delivery_status = ?, last_error = ?, next_retry_at = ?, retry_count = retry_count + 1 WHERE id = ?`
		args = []any{status, lastError, nullTime(nextRetryAt), id}
	case models.DeliveryDelivered, models.DeliveryFailed:
		now := time.Now().UTC()
		query = `UPDATE notifications SET delivery_status = ?, last_error = ?, next_retry_at = NULL, delivered_at = ? WHERE id = ?`
		delivered := sql.NullTime{}
		if status == models.DeliveryDelivered {
			delivered = sql.NullTime{Time: now, Valid: true}
		}
		args = []any{status, lastError, delivered, id}
	default:
		query = `UPDATE notifications SET delivery_status = ?, last_error = ?, next_retry_at = ? WHERE id = ?`
		args = []any{status, lastError, nullTime(nextRetryAt), id}
	}

	if _, err := db.ExecContext(ctx, db.dialect.q(query), args...); err != nil {
		return fmt.Errorf("failed to update delivery status: %w", err)
	}
	return nil
}

// RequeueFailedDeliveries puts every dead-lettered notification back into the
// outbox with a fresh retry budget.
func (db *DB) RequeueFailedDeliveries(ctx context.Context) (int64, error) {
	query := `UPDATE notifications SET delivery_status = ?, retry_count = 0, next_retry_at = NULL, delivered_at = NULL
			WHERE delivery_status = ?`
	result, err := db.ExecContext(ctx, db.dialect.q(query), models.DeliveryPending, models.DeliveryFailed)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue deliveries: %w", err)
	}
	return result.RowsAffected()
}
