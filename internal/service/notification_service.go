package service

import (
	"context"
	"fmt"

	"rentflow/internal/domain"
	"rentflow/internal/models"
)

// NotificationService is the recipient-side view of the notification inbox.
type NotificationService struct {
	store domain.NotificationStore
}

func NewNotificationService(store domain.NotificationStore) *NotificationService {
	return &NotificationService{store: store}
}

func (s *NotificationService) List(ctx context.Context, actor models.Actor, isRead *bool, kind string, limit int) ([]*models.Notification, error) {
	if actor.ID == 0 {
		return nil, fmt.Errorf("anonymous inbox: %w", domain.ErrForbidden)
	}
	filter := models.NotificationFilter{RecipientID: actor.ID, IsRead: isRead, Limit: limit}
	if kind != "" {
		k, err := models.ParseNotificationKind(kind)
		if err != nil {
			return nil, domain.NewValidationError("kind", err.Error())
		}
		filter.Kind = k
	}
	return s.store.ListNotifications(ctx, filter)
}

func (s *NotificationService) MarkRead(ctx context.Context, actor models.Actor, id int64) error {
	return s.store.MarkNotificationRead(ctx, actor.ID, id)
}

// MarkAllRead returns how many notifications changed.
func (s *NotificationService) MarkAllRead(ctx context.Context, actor models.Actor) (int64, error) {
	return s.store.MarkAllNotificationsRead(ctx, actor.ID)
}
