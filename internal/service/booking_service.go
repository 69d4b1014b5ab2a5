package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rentflow/internal/availability"
	"rentflow/internal/database"
	"rentflow/internal/domain"
	"rentflow/internal/metrics"
	"rentflow/internal/models"
	"rentflow/internal/pricing"

	"github.com/rs/zerolog"
)

// CreateBookingRequest is a renter's reservation request.
type CreateBookingRequest struct {
	PropertyID  int64
	StartDate   time.Time
	EndDate     time.Time
	CancelUntil *time.Time
}

// BookingService is the lifecycle controller: it authorises actors, enforces
// the transition graph and hands committed changes to the notifier.
type BookingService struct {
	store          domain.BookingStore
	catalog        domain.PropertyCatalog
	checker        availability.Checker
	notifier       domain.Notifier
	maxAdvanceDays int
	now            func() time.Time
	logger         *zerolog.Logger
}

type BookingServiceOption func(*BookingService)

// WithClock overrides the time source used for "today".
func WithClock(now func() time.Time) BookingServiceOption {
	return func(s *BookingService) { s.now = now }
}

func WithChecker(c availability.Checker) BookingServiceOption {
	return func(s *BookingService) { s.checker = c }
}

// WithMaxAdvanceDays limits how far ahead a stay may start. Zero disables the limit.
func WithMaxAdvanceDays(days int) BookingServiceOption {
	return func(s *BookingService) { s.maxAdvanceDays = days }
}

func NewBookingService(store domain.BookingStore, catalog domain.PropertyCatalog, notifier domain.Notifier, logger *zerolog.Logger, opts ...BookingServiceOption) *BookingService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	s := &BookingService{
		store:    store,
		catalog:  catalog,
		checker:  availability.NewChecker(),
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *BookingService) today() time.Time {
	return models.DateOf(s.now())
}

// CreateBooking validates the request, locks the price and stores a pending booking.
func (s *BookingService) CreateBooking(ctx context.Context, actor models.Actor, req CreateBookingRequest) (*models.Booking, error) {
	if !actor.IsRenter() {
		metrics.IncTransition(string(models.ActionCreate), "forbidden")
		return nil, fmt.Errorf("only renters can request bookings: %w", domain.ErrForbidden)
	}

	booking, property, err := s.prepareBooking(ctx, actor, req)
	if err != nil {
		metrics.IncTransition(string(models.ActionCreate), resultLabel(err))
		return nil, err
	}

	if err := s.store.CreateBooking(ctx, booking); err != nil {
		metrics.IncTransition(string(models.ActionCreate), "error")
		return nil, fmt.Errorf("create booking: %w", err)
	}
	metrics.IncTransition(string(models.ActionCreate), "ok")

	s.logger.Info().
		Int64("booking_id", booking.ID).
		Int64("property_id", booking.PropertyID).
		Int64("actor_id", actor.ID).
		Str("total", booking.TotalAmount.StringFixed(2)).
		Msg("booking created")

	s.notify(ctx, domain.Event{
		Action:   models.ActionCreate,
		Booking:  booking,
		Property: property,
		To:       booking.Status,
	})
	return booking, nil
}

func (s *BookingService) prepareBooking(ctx context.Context, actor models.Actor, req CreateBookingRequest) (*models.Booking, *models.Property, error) {
	if req.PropertyID == 0 {
		return nil, nil, domain.NewValidationError("property_id", "is required")
	}
	if req.StartDate.IsZero() {
		return nil, nil, domain.NewValidationError("start_date", "is required")
	}
	if req.EndDate.IsZero() {
		return nil, nil, domain.NewValidationError("end_date", "is required")
	}
	start, end := models.DateOf(req.StartDate), models.DateOf(req.EndDate)
	if !start.Before(end) {
		return nil, nil, domain.NewValidationError("end_date", "must be after start_date")
	}

	today := s.today()
	if start.Before(today) {
		return nil, nil, domain.NewValidationError("start_date", "must not be in the past")
	}
	if s.maxAdvanceDays > 0 && start.After(today.AddDate(0, 0, s.maxAdvanceDays)) {
		return nil, nil, domain.NewValidationError("start_date", fmt.Sprintf("must be within %d days", s.maxAdvanceDays))
	}

	cancelUntil := start
	if req.CancelUntil != nil {
		cancelUntil = models.DateOf(*req.CancelUntil)
		if cancelUntil.After(start) {
			return nil, nil, domain.NewValidationError("cancel_until", "must not be after start_date")
		}
		if cancelUntil.Before(today) {
			return nil, nil, domain.NewValidationError("cancel_until", "must not be in the past")
		}
	}

	property, err := s.catalog.GetProperty(ctx, req.PropertyID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil, domain.NewValidationError("property_id", "property does not exist")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load property: %w", err)
	}
	if !property.IsActive {
		return nil, nil, domain.NewValidationError("property_id", "property is not available for booking")
	}
	if property.OwnerID == actor.ID {
		return nil, nil, domain.NewValidationError("property_id", "owners cannot book their own property")
	}

	overlap, err := s.checker.HasOverlap(ctx, s.store, availability.ForCreation(property.ID, start, end))
	if err != nil {
		return nil, nil, err
	}
	if overlap {
		return nil, nil, domain.NewValidationError("start_date", "dates overlap an existing reservation")
	}

	total, err := pricing.ComputeTotal(property.MonthlyRent, start, end)
	if err != nil {
		return nil, nil, domain.NewValidationError("monthly_rent", err.Error())
	}

	now := s.now()
	return &models.Booking{
		PropertyID:  property.ID,
		RenterID:    actor.ID,
		StartDate:   start,
		EndDate:     end,
		MonthlyRent: property.MonthlyRent,
		TotalAmount: total,
		Status:      models.StatusPending,
		CancelUntil: &cancelUntil,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, property, nil
}

// GetBooking returns a booking visible to actor. Bookings the actor does not
// take part in are reported as not found.
func (s *BookingService) GetBooking(ctx context.Context, actor models.Actor, id int64) (*models.Booking, error) {
	b, property, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !isParticipant(actor, b, property) {
		return nil, fmt.Errorf("booking %d: %w", id, domain.ErrNotFound)
	}
	return b, nil
}

// ListBookings scopes the filter to the actor: renters see their own bookings,
// landlords the bookings on their properties.
func (s *BookingService) ListBookings(ctx context.Context, actor models.Actor, filter models.BookingFilter) ([]*models.Booking, error) {
	switch actor.Role {
	case models.RoleRenter:
		filter.RenterID = actor.ID
	case models.RoleLandlord:
		filter.OwnerID = actor.ID
	default:
		return nil, fmt.Errorf("role %q cannot list bookings: %w", actor.Role, domain.ErrForbidden)
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, domain.NewValidationError("status", "unknown booking status")
	}
	return s.store.ListBookings(ctx, filter)
}

// ConfirmBooking accepts a pending request. The overlap re-check against
// confirmed bookings runs under the property lock, so of two overlapping
// requests confirmed at once only one succeeds.
func (s *BookingService) ConfirmBooking(ctx context.Context, actor models.Actor, id int64) (*models.Booking, error) {
	return s.transition(ctx, actor, id, models.ActionConfirm, authorizeOwner, func(ctx context.Context, tx domain.BookingTx, b *models.Booking) error {
		overlap, err := s.checker.HasOverlap(ctx, tx, availability.ForConfirmation(b))
		if err != nil {
			return err
		}
		if overlap {
			return domain.NewStateConflict(b.Status, models.ActionConfirm, "dates overlap a confirmed booking")
		}
		return nil
	})
}

func (s *BookingService) RejectBooking(ctx context.Context, actor models.Actor, id int64) (*models.Booking, error) {
	return s.transition(ctx, actor, id, models.ActionReject, authorizeOwner, nil)
}

func (s *BookingService) CancelBooking(ctx context.Context, actor models.Actor, id int64) (*models.Booking, error) {
	return s.transition(ctx, actor, id, models.ActionCancel, authorizeRenter, nil)
}

type authorizer func(actor models.Actor, b *models.Booking, property *models.Property) bool

func authorizeOwner(actor models.Actor, _ *models.Booking, property *models.Property) bool {
	return actor.IsLandlord() && property.OwnerID == actor.ID
}

func authorizeRenter(actor models.Actor, b *models.Booking, _ *models.Property) bool {
	return actor.IsRenter() && b.RenterID == actor.ID
}

// transition runs one actor-driven status change inside a transaction:
// lock, re-read, guard, write. Notification happens only after commit.
func (s *BookingService) transition(
	ctx context.Context,
	actor models.Actor,
	id int64,
	action models.Action,
	authorize authorizer,
	guard func(ctx context.Context, tx domain.BookingTx, b *models.Booking) error,
) (*models.Booking, error) {
	b, property, err := s.load(ctx, id)
	if err != nil {
		metrics.IncTransition(string(action), resultLabel(err))
		return nil, err
	}
	if !authorize(actor, b, property) {
		metrics.IncTransition(string(action), "forbidden")
		return nil, fmt.Errorf("%s booking %d: %w", action, id, domain.ErrForbidden)
	}

	var from, to models.BookingStatus
	var updated *models.Booking
	err = s.store.WithTx(ctx, func(tx domain.BookingTx) error {
		if action == models.ActionConfirm {
			if err := tx.LockProperty(ctx, b.PropertyID); err != nil {
				return err
			}
		}
		locked, err := tx.LockBooking(ctx, id)
		if err != nil {
			return err
		}
		if !domain.CanTransition(locked.Status, action) {
			return domain.NewStateConflict(locked.Status, action, "")
		}
		if guard != nil {
			if err := guard(ctx, tx, locked); err != nil {
				return err
			}
		}

		from, to, err = domain.Transition(locked, action, s.now())
		if err != nil {
			return err
		}
		if err := tx.UpdateBookingStatus(ctx, locked, from); err != nil {
			if errors.Is(err, database.ErrConcurrentModification) {
				return domain.NewStateConflict(from, action, "booking was changed concurrently")
			}
			return err
		}
		updated = locked
		return nil
	})
	if err != nil {
		metrics.IncTransition(string(action), resultLabel(err))
		s.logger.Debug().Err(err).Int64("booking_id", id).Str("action", string(action)).Msg("transition refused")
		return nil, err
	}
	metrics.IncTransition(string(action), "ok")

	s.logger.Info().
		Int64("booking_id", id).
		Int64("actor_id", actor.ID).
		Str("action", string(action)).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("booking transitioned")

	s.notify(ctx, domain.Event{
		Action:   action,
		Booking:  updated,
		Property: property,
		From:     from,
		To:       to,
	})
	return updated, nil
}

func (s *BookingService) load(ctx context.Context, id int64) (*models.Booking, *models.Property, error) {
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	property, err := s.catalog.GetProperty(ctx, b.PropertyID)
	if err != nil {
		return nil, nil, fmt.Errorf("load property of booking %d: %w", id, err)
	}
	return b, property, nil
}

func (s *BookingService) notify(ctx context.Context, ev domain.Event) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, ev)
}

func isParticipant(actor models.Actor, b *models.Booking, property *models.Property) bool {
	switch actor.Role {
	case models.RoleRenter:
		return b.RenterID == actor.ID
	case models.RoleLandlord:
		return property.OwnerID == actor.ID
	default:
		return false
	}
}

// counterpart returns the other participant of the booking.
func counterpart(actor models.Actor, b *models.Booking, property *models.Property) int64 {
	if actor.IsRenter() {
		return property.OwnerID
	}
	return b.RenterID
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return "invalid"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrStateConflict):
		return "conflict"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	default:
		return "error"
	}
}
