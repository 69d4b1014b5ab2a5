package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"rentflow/internal/domain"
	"rentflow/internal/models"
	"rentflow/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

const timeLayout = time.RFC3339

type BookingAPI interface {
	CreateBooking(ctx context.Context, actor models.Actor, req service.CreateBookingRequest) (*models.Booking, error)
	GetBooking(ctx context.Context, actor models.Actor, id int64) (*models.Booking, error)
	ListBookings(ctx context.Context, actor models.Actor, filter models.BookingFilter) ([]*models.Booking, error)
	ConfirmBooking(ctx context.Context, actor models.Actor, id int64) (*models.Booking, error)
	RejectBooking(ctx context.Context, actor models.Actor, id int64) (*models.Booking, error)
	CancelBooking(ctx context.Context, actor models.Actor, id int64) (*models.Booking, error)
}

type MessageAPI interface {
	SendMessage(ctx context.Context, actor models.Actor, bookingID int64, text string) (*models.Message, error)
	ListMessages(ctx context.Context, actor models.Actor, bookingID int64) ([]*models.Message, error)
}

type ReviewAPI interface {
	ReviewEligibility(ctx context.Context, actor models.Actor, bookingID int64) (service.Eligibility, error)
	SubmitReview(ctx context.Context, actor models.Actor, bookingID int64, rating int, comment string) (*models.Review, error)
	ListReviews(ctx context.Context, propertyID int64) ([]*models.Review, error)
}

type PropertyAPI interface {
	GetActiveProperties(ctx context.Context) ([]models.Property, error)
}

type NotificationAPI interface {
	List(ctx context.Context, actor models.Actor, isRead *bool, kind string, limit int) ([]*models.Notification, error)
	MarkRead(ctx context.Context, actor models.Actor, id int64) error
	MarkAllRead(ctx context.Context, actor models.Actor) (int64, error)
}

type createBookingRequest struct {
	PropertyID  int64  `json:"property_id" validate:"required,gt=0"`
	StartDate   string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate     string `json:"end_date" validate:"required,datetime=2006-01-02"`
	CancelUntil string `json:"cancel_until" validate:"omitempty,datetime=2006-01-02"`
}

type messageRequest struct {
	Text string `json:"text" validate:"required,max=4000"`
}

type reviewRequest struct {
	Rating  int    `json:"rating" validate:"required,min=1,max=5"`
	Comment string `json:"comment" validate:"max=2000"`
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if !s.decode(w, r, &req) {
		return
	}

	in := service.CreateBookingRequest{PropertyID: req.PropertyID}
	// the validator has already checked the layout
	in.StartDate, _ = models.ParseDate(req.StartDate)
	in.EndDate, _ = models.ParseDate(req.EndDate)
	if req.CancelUntil != "" {
		cu, _ := models.ParseDate(req.CancelUntil)
		in.CancelUntil = &cu
	}

	b, err := s.bookings.CreateBooking(r.Context(), actor(r), in)
	if err != nil {
		writeDomainError(w, r, s.logger, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, toBookingResponse(b))
}

func (s *HTTPServer) handleListBookings(w http.ResponseWriter, r *http.Request) {
	filter, err := bookingFilterFromQuery(r)
	if err != nil {
		writeDomainError(w, r, s.logger, err)
		return
	}
	bookings, err := s.bookings.ListBookings(r.Context(), actor(r), filter)
	if err != nil {
		writeDomainError(w, r, s.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"bookings": toBookingResponses(bookings)})
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	b, err := s.bookings.GetBooking(r.Context(), actor(r), id)
	if err != nil {
		writeDomainError(w, r, s.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toBookingResponse(b))
}

type transitionFunc func(ctx context.Context, actor models.Actor, id int64) (*models.Booking, error)

func (s *HTTPServer) handleTransition(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.pathID(w, r)
		if !ok {
			return
		}
		b, err := fn(r.Context(), actor(r), id)
		if err != nil {
			writeDomainError(w, r, s.logger, err)
			return
		}
		writeJSON(w, r, http.StatusOK, toBookingResponse(b))
	}
}

func (s *HTTPServer) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	msgs, err := s.messages.ListMessages(r.Context(), actor(r), id)
	if err != nil {
		writeDomainError(w, r, s.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *HTTPServer) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req messageRequest
	if !s.decode(w, r, &req) {
		return
	}
	msg, err := s.messages.SendMessage(r.Context(), actor(r), id, req.Text)
	if err != nil {
		writeDomainError(w, r, s.logger, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, msg)
}

func (s *HTTPServer) handleReviewEligibility(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	el, err := s.reviews.ReviewEligibility(r.Context(), actor(r), id)
	if err != nil {
		writeDomainError(w, r, s.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, el)
}

func (s *HTTPServer) handleSubmitReview(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req reviewRequest
	if !s.decode(w, r, &req) {
		return
	}
	review, err := s.reviews.SubmitReview(r.Context(), actor(r), id, req.Rating, req.Comment)
	if err != nil {
		writeDomainError(w, r, s.logger, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, review)
}

func (s *HTTPServer) handleListProperties(w http.ResponseWriter, r *http.Request) {
	properties, err := s.properties.GetActiveProperties(r.Context())
	if err != nil {
		writeDomainError(w, r, s.logger, err)
		return
	}
	resp := make([]propertyResponse, 0, len(properties))
	for _, p := range properties {
		resp = append(resp, toPropertyResponse(p))
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (s *HTTPServer) handleListReviews(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	reviews, err := s.reviews.ListReviews(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, s.logger, err)
		return
	}
	if reviews == nil {
		reviews = []*models.Review{}
	}
	writeJSON(w, r, http.StatusOK, reviews)
}

func (s *HTTPServer) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var isRead *bool
	if raw := strings.TrimSpace(q.Get("is_read")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "must be true or false", "is_read")
			return
		}
		isRead = &v
	}
	limit, err := intParam(q.Get("limit"), "limit")
	if err != nil {
		writeDomainError(w, r, s.logger, err)
		return
	}

	list, err := s.notifications.List(r.Context(), actor(r), isRead, strings.TrimSpace(q.Get("kind")), limit)
	if err != nil {
		writeDomainError(w, r, s.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"notifications": list})
}

func (s *HTTPServer) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.notifications.MarkRead(r.Context(), actor(r), id); err != nil {
		writeDomainError(w, r, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := s.notifications.MarkAllRead(r.Context(), actor(r))
	if err != nil {
		writeDomainError(w, r, s.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]int64{"updated": n})
}

func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := render.DecodeJSON(r.Body, dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "failed to decode request", "")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeDomainError(w, r, s.logger, validationError(err))
		return false
	}
	return true
}

func (s *HTTPServer) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, "invalid id", "id")
		return 0, false
	}
	return id, true
}

func actor(r *http.Request) models.Actor {
	a, _ := ActorFrom(r.Context())
	return a
}

func bookingFilterFromQuery(r *http.Request) (models.BookingFilter, error) {
	q := r.URL.Query()
	var f models.BookingFilter
	var err error

	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		if f.Status, err = models.ParseBookingStatus(raw); err != nil {
			return f, domain.NewValidationError("status", "unknown booking status")
		}
	}
	if f.PropertyID, err = int64Param(q.Get("property_id"), "property_id"); err != nil {
		return f, err
	}
	if f.RenterID, err = int64Param(q.Get("renter_id"), "renter_id"); err != nil {
		return f, err
	}
	for name, dst := range map[string]**time.Time{
		"start_date_from": &f.StartDateFrom,
		"start_date_to":   &f.StartDateTo,
		"end_date_from":   &f.EndDateFrom,
		"end_date_to":     &f.EndDateTo,
	} {
		raw := strings.TrimSpace(q.Get(name))
		if raw == "" {
			continue
		}
		d, err := models.ParseDate(raw)
		if err != nil {
			return f, domain.NewValidationError(name, "must be a date in YYYY-MM-DD format")
		}
		*dst = &d
	}
	if f.Limit, err = intParam(q.Get("limit"), "limit"); err != nil {
		return f, err
	}
	if f.Offset, err = intParam(q.Get("offset"), "offset"); err != nil {
		return f, err
	}
	return f, nil
}

func int64Param(raw, name string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, domain.NewValidationError(name, "must be a non-negative integer")
	}
	return v, nil
}

func intParam(raw, name string) (int, error) {
	v, err := int64Param(raw, name)
	return int(v), err
}
