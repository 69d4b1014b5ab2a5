// Package availability decides whether a date range is free for a property.
package availability

import (
	"context"
	"fmt"
	"time"

	"rentflow/internal/models"
)

var (
	// CreationStatuses are the reservations a new request must not overlap.
	CreationStatuses = []models.BookingStatus{models.StatusPending, models.StatusConfirmed}

	// ConfirmationStatuses are the reservations a confirmation must not overlap.
	ConfirmationStatuses = []models.BookingStatus{models.StatusConfirmed}
)

// Source runs the overlap query, either on the store or inside a locked transaction.
type Source interface {
	HasOverlap(ctx context.Context, q models.OverlapQuery) (bool, error)
}

// Checker is the overlap predicate used by the lifecycle controller.
type Checker interface {
	HasOverlap(ctx context.Context, src Source, q models.OverlapQuery) (bool, error)
}

type StoreChecker struct{}

func NewChecker() *StoreChecker {
	return &StoreChecker{}
}

// HasOverlap reports whether [q.Start, q.End) intersects a booking of q.PropertyID
// in one of q.Statuses, other than q.ExcludeID.
func (c *StoreChecker) HasOverlap(ctx context.Context, src Source, q models.OverlapQuery) (bool, error) {
	if len(q.Statuses) == 0 {
		return false, nil
	}
	if !models.DateOf(q.Start).Before(models.DateOf(q.End)) {
		return false, fmt.Errorf("invalid range %s..%s", models.FormatDate(q.Start), models.FormatDate(q.End))
	}
	overlap, err := src.HasOverlap(ctx, q)
	if err != nil {
		return false, fmt.Errorf("failed to check overlap: %w", err)
	}
	return overlap, nil
}

// ForCreation builds the creation-time query.
func ForCreation(propertyID int64, start, end time.Time) models.OverlapQuery {
	return models.OverlapQuery{
		PropertyID: propertyID,
		Start:      start,
		End:        end,
		Statuses:   CreationStatuses,
	}
}

// ForConfirmation builds the confirmation-time query excluding the booking itself.
func ForConfirmation(b *models.Booking) models.OverlapQuery {
	return models.OverlapQuery{
		PropertyID: b.PropertyID,
		Start:      b.StartDate,
		End:        b.EndDate,
		Statuses:   ConfirmationStatuses,
		ExcludeID:  b.ID,
	}
}
