package worker

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"rentflow/internal/config"
	"rentflow/internal/database"
	"rentflow/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu          sync.Mutex
	err         error
	published   []string
	deadLetters []string
}

func (f *fakeTransport) Publish(_ context.Context, n *models.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, n.EventID)
	return nil
}

func (f *fakeTransport) DeadLetter(_ context.Context, n *models.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deadLetters = append(f.deadLetters, n.EventID)
	return nil
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) publishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "worker.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func storeNotification(t *testing.T, db *database.DB, eventID string) *models.Notification {
	t.Helper()
	n := &models.Notification{
		EventID:     eventID,
		RecipientID: 10,
		Kind:        models.KindBookingNew,
		Summary:     "New booking request",
		Payload:     models.NotificationPayload{BookingID: 1, PropertyID: 2},
	}
	require.NoError(t, db.CreateNotification(context.Background(), n))
	return n
}

func TestProcessPending_Success(t *testing.T) {
	db := newTestDB(t)
	transport := &fakeTransport{}
	w := NewNotificationWorker(db, transport, Options{}, nil)

	storeNotification(t, db, "evt-1")

	n, err := w.ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"evt-1"}, transport.published)

	// delivered rows are not picked up again
	n, err = w.ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestProcessPending_RetryThenDeadLetter(t *testing.T) {
	db := newTestDB(t)
	transport := &fakeTransport{err: errors.New("boom")}
	w := NewNotificationWorker(db, transport, Options{
		Retry: RetryPolicy{MaxRetries: 2, InitialDelay: time.Minute},
	}, nil)

	now := time.Now().UTC()
	w.now = func() time.Time { return now }
	storeNotification(t, db, "evt-retry")

	_, err := w.ProcessPending(context.Background())
	require.NoError(t, err)

	due, err := db.GetPendingDeliveries(context.Background(), now, 10)
	require.NoError(t, err)
	assert.Empty(t, due, "retry must be scheduled in the future")

	// second attempt after the backoff reaches MaxRetries
	now = now.Add(2 * time.Minute)
	_, err = w.ProcessPending(context.Background())
	require.NoError(t, err)

	failed, err := db.GetFailedDeliveries(context.Background())
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "boom", failed[0].LastError)
	assert.Equal(t, []string{"evt-retry"}, transport.deadLetters)
}

func TestStart_WakesOnEnqueue(t *testing.T) {
	db := newTestDB(t)
	transport := &fakeTransport{}
	w := NewNotificationWorker(db, transport, Options{PollInterval: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	n := storeNotification(t, db, "evt-wake")
	assert.True(t, w.Enqueue(n))
	assert.True(t, w.Enqueue(n))

	require.Eventually(t, func() bool { return transport.publishedCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestRetryPolicy(t *testing.T) {
	p := RetryPolicy{InitialDelay: time.Second, MaxDelay: 5 * time.Second, BackoffFactor: 2}
	assert.Equal(t, time.Second, p.NextDelay(0))
	assert.Equal(t, time.Second, p.NextDelay(1))
	assert.Equal(t, 2*time.Second, p.NextDelay(2))
	assert.Equal(t, 4*time.Second, p.NextDelay(3))
	assert.Equal(t, 5*time.Second, p.NextDelay(4))

	def := PolicyFromConfig(config.RetryConfig{})
	assert.Equal(t, 5, def.MaxRetries)
	assert.Equal(t, 2*time.Second, def.InitialDelay)
	assert.Equal(t, time.Minute, def.MaxDelay)
}

func TestRedisTransport(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	tr := NewRedisTransport(client, "notifications:queue", "notifications:deadletter")
	n := &models.Notification{EventID: "evt-r", RecipientID: 7, Kind: models.KindBookingConfirmed, Summary: "ok"}

	require.NoError(t, tr.Publish(context.Background(), n))
	require.NoError(t, tr.DeadLetter(context.Background(), n))

	items, err := s.List("notifications:queue")
	require.NoError(t, err)
	require.Len(t, items, 1)

	var rec EventRecord
	require.NoError(t, json.Unmarshal([]byte(items[0]), &rec))
	assert.Equal(t, "evt-r", rec.EventID)
	assert.Equal(t, int64(7), rec.RecipientID)
	assert.Equal(t, models.KindBookingConfirmed, rec.Kind)
	assert.Equal(t, 1, rec.Attempt)

	dead, err := s.List("notifications:deadletter")
	require.NoError(t, err)
	assert.Len(t, dead, 1)
}

func TestNewTransport(t *testing.T) {
	tr, err := NewTransport(config.NotificationsConfig{Transport: config.TransportNone}, config.AMQPConfig{}, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &LogTransport{}, tr)

	_, err = NewTransport(config.NotificationsConfig{Transport: config.TransportRedis}, config.AMQPConfig{}, nil, nil)
	assert.Error(t, err)

	_, err = NewTransport(config.NotificationsConfig{Transport: config.TransportAMQP}, config.AMQPConfig{URL: "http://not-amqp", Queue: "q"}, nil, nil)
	assert.Error(t, err)

	_, err = NewTransport(config.NotificationsConfig{Transport: "smtp"}, config.AMQPConfig{}, nil, nil)
	assert.Error(t, err)
}
