package domain

import (
	"context"
	"time"

	"rentflow/internal/models"
)

// BookingStore persists bookings. Implementations must provide snapshot
// isolation for WithTx and exclusive locks for the Lock* calls.
type BookingStore interface {
	CreateBooking(ctx context.Context, booking *models.Booking) error
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error)
	HasOverlap(ctx context.Context, q models.OverlapQuery) (bool, error)
	WithTx(ctx context.Context, fn func(tx BookingTx) error) error
}

// BookingTx is the locked view of the store inside one transaction.
type BookingTx interface {
	// LockProperty serialises confirmations for one property.
	LockProperty(ctx context.Context, propertyID int64) error
	LockBooking(ctx context.Context, id int64) (*models.Booking, error)
	LockBookings(ctx context.Context, ids []int64) ([]*models.Booking, error)
	HasOverlap(ctx context.Context, q models.OverlapQuery) (bool, error)
	UpdateBookingStatus(ctx context.Context, booking *models.Booking, from models.BookingStatus) error
	CreateMessage(ctx context.Context, msg *models.Message) error
}

// SweepStore selects completion candidates for the sweeper.
type SweepStore interface {
	WithTx(ctx context.Context, fn func(tx BookingTx) error) error
	CountCompletionCandidates(ctx context.Context, today, cutoff time.Time) (int, error)
	SampleCompletionCandidates(ctx context.Context, today, cutoff time.Time, limit int) ([]models.CompletionCandidate, error)
	CompletionCandidateIDs(ctx context.Context, today, cutoff time.Time, afterID int64, limit int) ([]int64, error)
}

type MessageStore interface {
	ListMessages(ctx context.Context, bookingID int64) ([]*models.Message, error)
}

type ReviewStore interface {
	CreateReview(ctx context.Context, review *models.Review) error
	HasReview(ctx context.Context, propertyID, userID int64) (bool, error)
	ListReviews(ctx context.Context, propertyID int64) ([]*models.Review, error)
}

type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, filter models.NotificationFilter) ([]*models.Notification, error)
	MarkNotificationRead(ctx context.Context, recipientID, id int64) error
	MarkAllNotificationsRead(ctx context.Context, recipientID int64) (int64, error)
}

// PropertyCatalog is the read side of the listing collaborator.
type PropertyCatalog interface {
	GetProperty(ctx context.Context, id int64) (*models.Property, error)
}

// Event is one committed lifecycle change handed to the notifier.
// From and To are captured by the caller around the mutation.
type Event struct {
	Action   models.Action
	Booking  *models.Booking
	Property *models.Property
	From     models.BookingStatus
	To       models.BookingStatus
	Message  *models.Message
	Review   *models.Review
}

// Notifier dispatches events best-effort. It never reports failure to the caller.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// Limiter backs per-key rate limits and exclusive run leases.
type Limiter interface {
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	AcquireLease(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, key, owner string) error
}

// Transport hands notification records to the external notification service.
type Transport interface {
	Publish(ctx context.Context, n *models.Notification) error
	DeadLetter(ctx context.Context, n *models.Notification) error
	Close() error
}
