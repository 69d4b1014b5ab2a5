package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"rentflow/internal/database"
	"rentflow/internal/domain"
	"rentflow/internal/metrics"
	"rentflow/internal/models"

	"github.com/rs/zerolog"
)

// Reasons reported by ReviewEligibility.
const (
	ReasonNotRenter       = "not_renter"
	ReasonNotCompleted    = "not_completed"
	ReasonAlreadyReviewed = "already_reviewed"
)

type Eligibility struct {
	Eligible bool   `json:"eligible"`
	Reason   string `json:"reason,omitempty"`
}

type ReviewService struct {
	bookings *BookingService
	reviews  domain.ReviewStore
	notifier domain.Notifier
	logger   *zerolog.Logger
}

func NewReviewService(bookings *BookingService, reviews domain.ReviewStore, notifier domain.Notifier, logger *zerolog.Logger) *ReviewService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &ReviewService{bookings: bookings, reviews: reviews, notifier: notifier, logger: logger}
}

// ReviewEligibility reports whether actor may review the booking's property.
// A booking is eligible once completed, for its renter only, and only while the
// renter has not reviewed that property yet.
func (s *ReviewService) ReviewEligibility(ctx context.Context, actor models.Actor, bookingID int64) (Eligibility, error) {
	b, property, err := s.bookings.load(ctx, bookingID)
	if err != nil {
		return Eligibility{}, err
	}
	if !isParticipant(actor, b, property) {
		return Eligibility{}, fmt.Errorf("booking %d: %w", bookingID, domain.ErrForbidden)
	}
	return s.eligibility(ctx, actor, b)
}

func (s *ReviewService) eligibility(ctx context.Context, actor models.Actor, b *models.Booking) (Eligibility, error) {
	if !actor.IsRenter() || b.RenterID != actor.ID {
		return Eligibility{Reason: ReasonNotRenter}, nil
	}
	if b.Status != models.StatusCompleted {
		return Eligibility{Reason: ReasonNotCompleted}, nil
	}
	reviewed, err := s.reviews.HasReview(ctx, b.PropertyID, actor.ID)
	if err != nil {
		return Eligibility{}, err
	}
	if reviewed {
		return Eligibility{Reason: ReasonAlreadyReviewed}, nil
	}
	return Eligibility{Eligible: true}, nil
}

// SubmitReview stores the renter's rating of a completed stay.
func (s *ReviewService) SubmitReview(ctx context.Context, actor models.Actor, bookingID int64, rating int, comment string) (*models.Review, error) {
	if rating < models.MinReviewRating || rating > models.MaxReviewRating {
		return nil, domain.NewValidationError("rating", fmt.Sprintf("must be between %d and %d", models.MinReviewRating, models.MaxReviewRating))
	}

	b, property, err := s.bookings.load(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !isParticipant(actor, b, property) {
		return nil, fmt.Errorf("review of booking %d: %w", bookingID, domain.ErrForbidden)
	}

	el, err := s.eligibility(ctx, actor, b)
	if err != nil {
		return nil, err
	}
	switch el.Reason {
	case ReasonNotRenter:
		return nil, fmt.Errorf("only the renter can review: %w", domain.ErrForbidden)
	case ReasonNotCompleted:
		return nil, domain.NewStateConflict(b.Status, models.ActionReview, "stay is not completed")
	case ReasonAlreadyReviewed:
		return nil, domain.NewStateConflict(b.Status, models.ActionReview, "property already reviewed")
	}

	review := &models.Review{
		BookingID:  b.ID,
		PropertyID: b.PropertyID,
		UserID:     actor.ID,
		Rating:     rating,
		Comment:    strings.TrimSpace(comment),
		CreatedAt:  s.bookings.now(),
	}
	if err := s.reviews.CreateReview(ctx, review); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return nil, domain.NewStateConflict(b.Status, models.ActionReview, "property already reviewed")
		}
		return nil, fmt.Errorf("store review: %w", err)
	}
	metrics.IncTransition(string(models.ActionReview), "ok")

	if s.notifier != nil {
		s.notifier.Notify(ctx, domain.Event{
			Action:   models.ActionReview,
			Booking:  b,
			Property: property,
			From:     b.Status,
			To:       b.Status,
			Review:   review,
		})
	}
	return review, nil
}

// ListReviews returns the reviews of a property, newest first.
func (s *ReviewService) ListReviews(ctx context.Context, propertyID int64) ([]*models.Review, error) {
	if _, err := s.bookings.catalog.GetProperty(ctx, propertyID); err != nil {
		return nil, err
	}
	return s.reviews.ListReviews(ctx, propertyID)
}
