// Package notify turns committed lifecycle events into notification records.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rentflow/internal/domain"
	"rentflow/internal/metrics"
	"rentflow/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrUnroutable      = errors.New("no notification route for action")
	ErrIncompleteEvent = errors.New("event is missing data required by its route")
)

// Store persists notification records, which double as the delivery outbox.
type Store interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
}

// Enqueuer hands a stored record to the delivery worker.
type Enqueuer interface {
	Enqueue(n *models.Notification) bool
}

type recipient int

const (
	toLandlord recipient = iota
	toRenter
	toMessageReceiver
)

type route struct {
	kind      models.NotificationKind
	recipient recipient
}

// routes is the static action -> kind table.
var routes = map[models.Action]route{
	models.ActionCreate:   {models.KindBookingNew, toLandlord},
	models.ActionConfirm:  {models.KindBookingConfirmed, toRenter},
	models.ActionReject:   {models.KindBookingRejected, toRenter},
	models.ActionCancel:   {models.KindBookingCancelled, toLandlord},
	models.ActionComplete: {models.KindBookingCompleted, toRenter},
	models.ActionMessage:  {models.KindMessageNew, toMessageReceiver},
	models.ActionReview:   {models.KindReviewNew, toLandlord},
}

// KindFor returns the notification kind emitted for action.
func KindFor(action models.Action) (models.NotificationKind, bool) {
	r, ok := routes[action]
	return r.kind, ok
}

type Dispatcher struct {
	store  Store
	queue  Enqueuer
	logger *zerolog.Logger
	newID  func() string
	now    func() time.Time
}

func NewDispatcher(store Store, queue Enqueuer, logger *zerolog.Logger) *Dispatcher {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Dispatcher{
		store:  store,
		queue:  queue,
		logger: logger,
		newID:  uuid.NewString,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Notify implements domain.Notifier directly; failures are logged only.
func (d *Dispatcher) Notify(ctx context.Context, ev domain.Event) {
	if err := d.Handle(ctx, ev); err != nil {
		d.logger.Warn().Err(err).Str("action", string(ev.Action)).Msg("notification dispatch failed")
	}
}

// Handle stores one notification for ev and schedules its delivery.
// Events whose status did not change are ignored.
func (d *Dispatcher) Handle(ctx context.Context, ev domain.Event) error {
	if isNoop(ev) {
		return nil
	}
	n, err := d.build(ev)
	if err != nil {
		metrics.IncNotification(string(ev.Action), "error")
		return err
	}

	if err := d.store.CreateNotification(ctx, n); err != nil {
		metrics.IncNotification(string(n.Kind), "error")
		return fmt.Errorf("store %s notification: %w", n.Kind, err)
	}
	metrics.IncNotification(string(n.Kind), "stored")

	if d.queue != nil && !d.queue.Enqueue(n) {
		d.logger.Debug().Int64("notification_id", n.ID).Msg("delivery queue full, left for polling")
	}

	d.logger.Debug().
		Str("kind", string(n.Kind)).
		Int64("recipient_id", n.RecipientID).
		Int64("booking_id", n.Payload.BookingID).
		Msg("notification dispatched")
	return nil
}

// isNoop reports a booking save without a status change. Messages and reviews
// are always genuine events.
func isNoop(ev domain.Event) bool {
	switch ev.Action {
	case models.ActionMessage, models.ActionReview:
		return false
	case models.ActionCreate:
		return ev.To == ""
	default:
		return ev.From == ev.To
	}
}

func (d *Dispatcher) build(ev domain.Event) (*models.Notification, error) {
	r, ok := routes[ev.Action]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnroutable, ev.Action)
	}
	if ev.Booking == nil {
		return nil, fmt.Errorf("%w: booking", ErrIncompleteEvent)
	}
	b := ev.Booking

	var ownerID int64
	if ev.Property != nil {
		ownerID = ev.Property.OwnerID
	}

	payload := models.NotificationPayload{
		BookingID:  b.ID,
		PropertyID: b.PropertyID,
		Status:     b.Status,
	}
	var recipientID int64
	switch r.recipient {
	case toLandlord:
		if ownerID == 0 {
			return nil, fmt.Errorf("%w: property owner", ErrIncompleteEvent)
		}
		recipientID = ownerID
		payload.CounterpartID = b.RenterID
	case toRenter:
		recipientID = b.RenterID
		payload.CounterpartID = ownerID
	case toMessageReceiver:
		if ev.Message == nil {
			return nil, fmt.Errorf("%w: message", ErrIncompleteEvent)
		}
		recipientID = ev.Message.ReceiverID
		payload.CounterpartID = ev.Message.SenderID
		payload.MessageID = ev.Message.ID
	}

	if ev.Review != nil {
		payload.ReviewID = ev.Review.ID
		payload.Rating = ev.Review.Rating
	}

	return &models.Notification{
		EventID:        d.newID(),
		RecipientID:    recipientID,
		Kind:           r.kind,
		Summary:        summary(r.kind, ev),
		Payload:        payload,
		CreatedAt:      d.now(),
		DeliveryStatus: models.DeliveryPending,
	}, nil
}

func summary(kind models.NotificationKind, ev domain.Event) string {
	b := ev.Booking
	title := fmt.Sprintf("property #%d", b.PropertyID)
	if ev.Property != nil && ev.Property.Title != "" {
		title = ev.Property.Title
	}
	period := fmt.Sprintf("%s to %s", models.FormatDate(b.StartDate), models.FormatDate(b.EndDate))

	switch kind {
	case models.KindBookingNew:
		return fmt.Sprintf("New booking request for %s from %s", title, period)
	case models.KindBookingConfirmed:
		return fmt.Sprintf("Your booking of %s from %s was confirmed", title, period)
	case models.KindBookingRejected:
		return fmt.Sprintf("Your booking request for %s from %s was rejected", title, period)
	case models.KindBookingCancelled:
		return fmt.Sprintf("Booking #%d of %s was cancelled by the renter", b.ID, title)
	case models.KindBookingCompleted:
		return fmt.Sprintf("Your stay at %s has been completed", title)
	case models.KindMessageNew:
		return fmt.Sprintf("New message about booking #%d", b.ID)
	case models.KindReviewNew:
		rating := 0
		if ev.Review != nil {
			rating = ev.Review.Rating
		}
		return fmt.Sprintf("New %d-star review for %s", rating, title)
	default:
		return string(kind)
	}
}
