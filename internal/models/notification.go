package models

import (
	"fmt"
	"time"
)

// NotificationKind is the closed set of events delivered to users.
type NotificationKind string

const (
	KindBookingNew       NotificationKind = "booking_new"
	KindBookingConfirmed NotificationKind = "booking_confirmed"
	KindBookingRejected  NotificationKind = "booking_rejected"
	KindBookingCancelled NotificationKind = "booking_cancelled"
	KindBookingCompleted NotificationKind = "booking_completed"
	KindMessageNew       NotificationKind = "message_new"
	KindReviewNew        NotificationKind = "review_new"
)

var notificationKinds = map[NotificationKind]struct{}{
	KindBookingNew:       {},
	KindBookingConfirmed: {},
	KindBookingRejected:  {},
	KindBookingCancelled: {},
	KindBookingCompleted: {},
	KindMessageNew:       {},
	KindReviewNew:        {},
}

func ParseNotificationKind(raw string) (NotificationKind, error) {
	k := NotificationKind(raw)
	if _, ok := notificationKinds[k]; !ok {
		return "", fmt.Errorf("unknown notification kind %q", raw)
	}
	return k, nil
}

// Delivery states of the notification outbox.
const (
	DeliveryPending   = "pending"
	DeliveryRetry     = "retry"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
)

// NotificationPayload is the structured part of an event record.
type NotificationPayload struct {
	BookingID     int64         `json:"booking_id,omitempty"`
	PropertyID    int64         `json:"property_id,omitempty"`
	CounterpartID int64         `json:"counterpart_id,omitempty"`
	Status        BookingStatus `json:"status,omitempty"`
	MessageID     int64         `json:"message_id,omitempty"`
	ReviewID      int64         `json:"review_id,omitempty"`
	Rating        int           `json:"rating,omitempty"`
}

// Notification is both the recipient's inbox entry and the outbox row
// delivered to the external notification service.
type Notification struct {
	ID             int64               `json:"id"`
	EventID        string              `json:"event_id"`
	RecipientID    int64               `json:"recipient_id"`
	Kind           NotificationKind    `json:"kind"`
	Summary        string              `json:"summary"`
	Payload        NotificationPayload `json:"payload"`
	IsRead         bool                `json:"is_read"`
	CreatedAt      time.Time           `json:"created_at"`
	DeliveryStatus string              `json:"-"`
	RetryCount     int                 `json:"-"`
	LastError      string              `json:"-"`
	NextRetryAt    *time.Time          `json:"-"`
}

// NotificationFilter narrows inbox listings.
type NotificationFilter struct {
	RecipientID int64
	IsRead      *bool
	Kind        NotificationKind
	Limit       int
}
