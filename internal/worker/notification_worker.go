package worker

import (
	"context"
	"errors"
	"time"

	"rentflow/internal/domain"
	"rentflow/internal/metrics"
	"rentflow/internal/models"

	"github.com/rs/zerolog"
)

// Outbox is the persisted delivery queue.
type Outbox interface {
	GetPendingDeliveries(ctx context.Context, now time.Time, limit int) ([]*models.Notification, error)
	UpdateDeliveryStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
}

// NotificationWorker delivers outbox rows to the external notification service.
// The outbox is the only source of work; Enqueue merely wakes the loop so a
// fresh notification does not wait for the next poll.
type NotificationWorker struct {
	outbox       Outbox
	transport    domain.Transport
	retryPolicy  RetryPolicy
	wake         chan struct{}
	pollInterval time.Duration
	batchSize    int
	logger       *zerolog.Logger
	now          func() time.Time
}

type Options struct {
	Retry        RetryPolicy
	PollInterval time.Duration
	BatchSize    int
}

func NewNotificationWorker(outbox Outbox, transport domain.Transport, opts Options, logger *zerolog.Logger) *NotificationWorker {
	if opts.Retry.MaxRetries == 0 {
		opts.Retry.MaxRetries = 5
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &NotificationWorker{
		outbox:       outbox,
		transport:    transport,
		retryPolicy:  opts.Retry,
		wake:         make(chan struct{}, 1),
		pollInterval: opts.PollInterval,
		batchSize:    opts.BatchSize,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue signals that n has been stored and is ready for delivery.
func (w *NotificationWorker) Enqueue(_ *models.Notification) bool {
	select {
	case w.wake <- struct{}{}:
	default:
		// a wake-up is already pending
	}
	return true
}

// Start runs the delivery loop until ctx is done.
func (w *NotificationWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("notification worker started")
	defer w.logger.Info().Msg("notification worker stopped")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.wake:
		case <-timer.C:
		}

		n, err := w.ProcessPending(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error().Err(err).Msg("fetch pending deliveries")
		}

		next := w.pollInterval
		if n == w.batchSize {
			next = 0
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(next)
	}
}

// ProcessPending delivers one batch of due notifications and returns how many it handled.
func (w *NotificationWorker) ProcessPending(ctx context.Context) (int, error) {
	due, err := w.outbox.GetPendingDeliveries(ctx, w.now(), w.batchSize)
	if err != nil {
		return 0, err
	}
	for _, n := range due {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		w.deliver(ctx, n)
	}
	return len(due), nil
}

func (w *NotificationWorker) deliver(ctx context.Context, n *models.Notification) {
	if err := w.transport.Publish(ctx, n); err != nil {
		w.retryOrFail(ctx, n, err)
		return
	}

	if err := w.outbox.UpdateDeliveryStatus(ctx, n.ID, models.DeliveryDelivered, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("notification_id", n.ID).Msg("mark delivered")
		return
	}
	metrics.IncNotification(string(n.Kind), models.DeliveryDelivered)
}

func (w *NotificationWorker) retryOrFail(ctx context.Context, n *models.Notification, cause error) {
	attempt := n.RetryCount + 1
	log := w.logger.Warn().Err(cause).Int64("notification_id", n.ID).Str("kind", string(n.Kind)).Int("attempt", attempt)

	if attempt >= w.retryPolicy.MaxRetries {
		log.Msg("delivery failed, moving to dead letter")
		if err := w.outbox.UpdateDeliveryStatus(ctx, n.ID, models.DeliveryFailed, cause.Error(), nil); err != nil {
			w.logger.Error().Err(err).Int64("notification_id", n.ID).Msg("mark failed")
		}
		if err := w.transport.DeadLetter(ctx, n); err != nil {
			w.logger.Error().Err(err).Int64("notification_id", n.ID).Msg("dead letter push")
		}
		metrics.IncNotification(string(n.Kind), models.DeliveryFailed)
		return
	}

	next := w.now().Add(w.retryPolicy.NextDelay(attempt))
	log.Time("next_retry_at", next).Msg("delivery failed, will retry")
	if err := w.outbox.UpdateDeliveryStatus(ctx, n.ID, models.DeliveryRetry, cause.Error(), &next); err != nil {
		w.logger.Error().Err(err).Int64("notification_id", n.ID).Msg("mark retry")
	}
	metrics.IncNotification(string(n.Kind), models.DeliveryRetry)
}
