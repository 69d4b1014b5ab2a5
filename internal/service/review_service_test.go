package service

import (
	"context"
	"testing"

	"rentflow/internal/domain"
	"rentflow/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completedBooking(t *testing.T, f *fixture, actor models.Actor) *models.Booking {
	t.Helper()
	b := &models.Booking{
		PropertyID:  1,
		RenterID:    actor.ID,
		StartDate:   day(-40),
		EndDate:     day(-10),
		MonthlyRent: decimal.RequireFromString("2000.00"),
		TotalAmount: decimal.RequireFromString("1971.09"),
		Status:      models.StatusCompleted,
	}
	require.NoError(t, f.db.CreateBooking(context.Background(), b))
	return b
}

func newReviewService(f *fixture) *ReviewService {
	logger := zerolog.Nop()
	return NewReviewService(f.bookings, f.db, f.notifier, &logger)
}

func TestSubmitReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := newReviewService(f)
	b := completedBooking(t, f, renter)

	el, err := svc.ReviewEligibility(ctx, renter, b.ID)
	require.NoError(t, err)
	assert.True(t, el.Eligible)

	review, err := svc.SubmitReview(ctx, renter, b.ID, 5, " quiet street ")
	require.NoError(t, err)
	assert.Equal(t, int64(1), review.PropertyID)
	assert.Equal(t, "quiet street", review.Comment)
	assert.Equal(t, models.ActionReview, f.notifier.last().Action)

	el, err = svc.ReviewEligibility(ctx, renter, b.ID)
	require.NoError(t, err)
	assert.False(t, el.Eligible)
	assert.Equal(t, ReasonAlreadyReviewed, el.Reason)

	// one review per property, even across stays
	second := completedBooking(t, f, renter)
	_, err = svc.SubmitReview(ctx, renter, second.ID, 4, "")
	assert.ErrorIs(t, err, domain.ErrStateConflict)

	listed, err := svc.ListReviews(ctx, 1)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, review.ID, listed[0].ID)
	assert.Equal(t, 5, listed[0].Rating)

	_, err = svc.ListReviews(ctx, 404)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSubmitReview_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := newReviewService(f)
	done := completedBooking(t, f, renter)
	pending := f.create(t, renter, 10, 20)

	_, err := svc.SubmitReview(ctx, renter, done.ID, 0, "")
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = svc.SubmitReview(ctx, renter, done.ID, 6, "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.SubmitReview(ctx, owner, done.ID, 3, "")
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = svc.SubmitReview(ctx, renterB, done.ID, 3, "")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = svc.SubmitReview(ctx, renter, pending.ID, 3, "")
	assert.ErrorIs(t, err, domain.ErrStateConflict)

	el, err := svc.ReviewEligibility(ctx, renter, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, ReasonNotCompleted, el.Reason)

	el, err = svc.ReviewEligibility(ctx, owner, done.ID)
	require.NoError(t, err)
	assert.Equal(t, ReasonNotRenter, el.Reason)
}
