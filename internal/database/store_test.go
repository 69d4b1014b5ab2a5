package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"rentflow/internal/config"
	"rentflow/internal/domain"
	"rentflow/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "mysql"}, nil)
	assert.Error(t, err)
}

func TestDialectRebind(t *testing.T) {
	assert.Equal(t, "SELECT 1 WHERE a = ? AND b = ?", sqliteDialect.q("SELECT 1 WHERE a = ? AND b = ?"))
	assert.Equal(t, "SELECT 1 WHERE a = $1 AND b IN ($2, $3)", postgresDialect.q("SELECT 1 WHERE a = ? AND b IN ("+placeholders(2)+")"))
	assert.Equal(t, "", placeholders(0))
}

func TestProperties(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	p, err := db.GetProperty(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, testOwnerID, p.OwnerID)
	assert.True(t, p.MonthlyRent.Equal(decimal.RequireFromString("2000")))
	assert.True(t, p.IsActive)

	_, err = db.GetProperty(ctx, 404)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// resync replaces cached values
	err = db.SyncProperties(ctx, []models.Property{
		{ID: 1, OwnerID: testOwnerID, Title: "Loft", MonthlyRent: decimal.RequireFromString("2500.50"), IsActive: false},
	})
	require.NoError(t, err)

	p, err = db.GetProperty(ctx, 1)
	require.NoError(t, err)
	assert.True(t, p.MonthlyRent.Equal(decimal.RequireFromString("2500.50")))
	assert.False(t, p.IsActive)

	all, err := db.ListProperties(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMessages(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	b := insertBooking(t, db, 1, "2026-06-01", "2026-06-10", models.StatusPending)

	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	for i, text := range []string{"hello", "hi", "when can I check in?"} {
		msg := &models.Message{
			BookingID:  b.ID,
			SenderID:   testRenterID,
			ReceiverID: testOwnerID,
			Text:       text,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, db.WithTx(ctx, func(tx domain.BookingTx) error {
			return tx.CreateMessage(ctx, msg)
		}))
		assert.NotZero(t, msg.ID)
	}

	thread, err := db.ListMessages(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, thread, 3)
	assert.Equal(t, "hello", thread[0].Text)
	assert.Equal(t, "when can I check in?", thread[2].Text)

	empty, err := db.ListMessages(ctx, 9999)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestReviews(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	b := insertBooking(t, db, 1, "2026-01-01", "2026-01-10", models.StatusCompleted)

	has, err := db.HasReview(ctx, 1, testRenterID)
	require.NoError(t, err)
	assert.False(t, has)

	review := &models.Review{BookingID: b.ID, PropertyID: 1, UserID: testRenterID, Rating: 5, Comment: "great"}
	require.NoError(t, db.CreateReview(ctx, review))
	assert.NotZero(t, review.ID)

	has, err = db.HasReview(ctx, 1, testRenterID)
	require.NoError(t, err)
	assert.True(t, has)

	dup := &models.Review{BookingID: b.ID, PropertyID: 1, UserID: testRenterID, Rating: 3}
	assert.ErrorIs(t, db.CreateReview(ctx, dup), ErrDuplicate)

	reviews, err := db.ListReviews(ctx, 1)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, 5, reviews[0].Rating)
}

func TestNotifications(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	n := &models.Notification{
		EventID:     "evt-1",
		RecipientID: testOwnerID,
		Kind:        models.KindBookingNew,
		Summary:     "New booking request",
		Payload:     models.NotificationPayload{BookingID: 7, PropertyID: 1, Status: models.StatusPending},
	}
	require.NoError(t, db.CreateNotification(ctx, n))
	assert.Equal(t, models.DeliveryPending, n.DeliveryStatus)

	dup := *n
	dup.ID = 0
	assert.ErrorIs(t, db.CreateNotification(ctx, &dup), ErrDuplicate)

	require.NoError(t, db.CreateNotification(ctx, &models.Notification{
		EventID: "evt-2", RecipientID: testOwnerID, Kind: models.KindMessageNew, Summary: "New message",
	}))
	require.NoError(t, db.CreateNotification(ctx, &models.Notification{
		EventID: "evt-3", RecipientID: testRenterID, Kind: models.KindBookingConfirmed, Summary: "Confirmed",
	}))

	inbox, err := db.ListNotifications(ctx, models.NotificationFilter{RecipientID: testOwnerID})
	require.NoError(t, err)
	require.Len(t, inbox, 2)
	assert.Equal(t, "evt-2", inbox[0].EventID)
	assert.Equal(t, int64(7), inbox[1].Payload.BookingID)

	// cannot mark someone else's notification
	assert.ErrorIs(t, db.MarkNotificationRead(ctx, testRenterID, n.ID), domain.ErrNotFound)
	require.NoError(t, db.MarkNotificationRead(ctx, testOwnerID, n.ID))

	unread := false
	left, err := db.ListNotifications(ctx, models.NotificationFilter{RecipientID: testOwnerID, IsRead: &unread})
	require.NoError(t, err)
	require.Len(t, left, 1)

	count, err := db.MarkAllNotificationsRead(ctx, testOwnerID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestDeliveryOutbox(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	n := &models.Notification{EventID: "evt-out", RecipientID: testOwnerID, Kind: models.KindBookingNew, Summary: "x"}
	require.NoError(t, db.CreateNotification(ctx, n))

	now := time.Now().UTC()
	due, err := db.GetPendingDeliveries(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	next := now.Add(time.Hour)
	require.NoError(t, db.UpdateDeliveryStatus(ctx, n.ID, models.DeliveryRetry, "boom", &next))

	due, err = db.GetPendingDeliveries(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = db.GetPendingDeliveries(ctx, next.Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 1, due[0].RetryCount)
	assert.Equal(t, "boom", due[0].LastError)

	require.NoError(t, db.UpdateDeliveryStatus(ctx, n.ID, models.DeliveryFailed, "gave up", nil))
	failed, err := db.GetFailedDeliveries(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, models.DeliveryFailed, failed[0].DeliveryStatus)

	due, err = db.GetPendingDeliveries(ctx, next.Add(time.Second), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	count, err := db.RequeueFailedDeliveries(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	due, err = db.GetPendingDeliveries(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Zero(t, due[0].RetryCount)
	assert.Equal(t, models.DeliveryPending, due[0].DeliveryStatus)

	failed, err = db.GetFailedDeliveries(ctx)
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestCompletionCandidates(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	old := insertBooking(t, db, 1, "2026-01-01", "2026-01-10", models.StatusConfirmed)
	recent := insertBooking(t, db, 1, "2026-03-01", "2026-03-10", models.StatusConfirmed)
	insertBooking(t, db, 1, "2026-04-01", "2026-04-20", models.StatusConfirmed) // ends after today
	insertBooking(t, db, 2, "2026-03-01", "2026-03-05", models.StatusPending)

	today := date(t, "2026-04-15")

	n, err := db.CountCompletionCandidates(ctx, today, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = db.CountCompletionCandidates(ctx, today, date(t, "2026-02-01"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	sample, err := db.SampleCompletionCandidates(ctx, today, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, sample, 2)
	assert.Equal(t, old.ID, sample[0].ID)
	assert.True(t, sample[0].EndDate.Equal(date(t, "2026-01-10")))

	ids, err := db.CompletionCandidateIDs(ctx, today, time.Time{}, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{old.ID}, ids)

	ids, err = db.CompletionCandidateIDs(ctx, today, time.Time{}, old.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{recent.ID}, ids)
}

func TestBackupService(t *testing.T) {
	db := newTestDB(t)
	storage := filepath.Join(t.TempDir(), "backups")
	logger := zerolog.Nop()
	s := NewBackupService(db, config.BackupConfig{Enabled: true, StoragePath: storage, RetentionDays: 1}, &logger)

	path, err := s.PerformBackup(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, path)

	oldFile := filepath.Join(storage, "backup_old.db")
	require.NoError(t, os.WriteFile(oldFile, []byte("old"), 0o644))
	oldTime := time.Now().AddDate(0, 0, -2)
	require.NoError(t, os.Chtimes(oldFile, oldTime, oldTime))

	assert.Equal(t, 1, s.CleanupOldBackups())
	assert.NoFileExists(t, oldFile)
	assert.FileExists(t, path)
}

func TestBackupService_Disabled(_ *testing.T) {
	logger := zerolog.Nop()
	s := NewBackupService(nil, config.BackupConfig{Enabled: false}, &logger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Start(ctx)
}
