package service

import (
	"context"
	"testing"

	"rentflow/internal/domain"
	"rentflow/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestNotificationService(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := NewNotificationService(f.db)

	for i, kind := range []models.NotificationKind{models.KindBookingNew, models.KindMessageNew} {
		require.NoError(t, f.db.CreateNotification(ctx, &models.Notification{
			EventID:     "evt-" + string(kind),
			RecipientID: ownerID,
			Kind:        kind,
			Summary:     "n",
			Payload:     models.NotificationPayload{BookingID: int64(i + 1)},
		}))
	}

	all, err := svc.List(ctx, owner, nil, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)

	messages, err := svc.List(ctx, owner, nil, string(models.KindMessageNew), 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	_, err = svc.List(ctx, owner, nil, "booking_exploded", 0)
	assert.ErrorIs(t, err, domain.ErrValidation)

	assert.ErrorIs(t, svc.MarkRead(ctx, renter, messages[0].ID), domain.ErrNotFound)
	require.NoError(t, svc.MarkRead(ctx, owner, messages[0].ID))

	n, err := svc.MarkAllRead(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	unread := false
	left, err := svc.List(ctx, owner, &unread, "", 0)
	require.NoError(t, err)
	assert.Empty(t, left)
}

type mockPropertyRepo struct {
	mock.Mock
}

func (m *mockPropertyRepo) SyncProperties(ctx context.Context, properties []models.Property) error {
	return m.Called(ctx, properties).Error(0)
}

func (m *mockPropertyRepo) ListProperties(ctx context.Context) ([]models.Property, error) {
	args := m.Called(ctx)
	return args.Get(0).([]models.Property), args.Error(1)
}

func TestPropertyService(t *testing.T) {
	repo := new(mockPropertyRepo)
	logger := zerolog.Nop()
	svc := NewPropertyService(repo, &logger)
	ctx := context.Background()

	props := []models.Property{
		{ID: 1, OwnerID: ownerID, Title: "Loft", MonthlyRent: decimal.RequireFromString("2000"), IsActive: true},
		{ID: 2, OwnerID: ownerID, Title: "Old", MonthlyRent: decimal.RequireFromString("900"), IsActive: false},
	}
	repo.On("SyncProperties", ctx, props).Return(nil).Once()
	repo.On("ListProperties", ctx).Return(props, nil).Once()

	require.NoError(t, svc.Sync(ctx, props))

	active, err := svc.GetActiveProperties(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, int64(1), active[0].ID)

	err = svc.Sync(ctx, []models.Property{{ID: 3, MonthlyRent: decimal.RequireFromString("-1")}})
	assert.Error(t, err)
	repo.AssertExpectations(t)
}
