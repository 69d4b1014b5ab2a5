package api

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"rentflow/internal/domain"
	"rentflow/internal/models"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	render.Status(r, status)
	render.JSON(w, r, payload)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message, field string) {
	writeJSON(w, r, status, errorResponse{Error: message, Field: field})
}

// writeDomainError maps the service error kinds onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *zerolog.Logger, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, r, http.StatusBadRequest, verr.Message, verr.Field)
	case errors.Is(err, domain.ErrValidation):
		writeError(w, r, http.StatusBadRequest, err.Error(), "")
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden", "")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found", "")
	case errors.Is(err, domain.ErrStateConflict):
		writeError(w, r, http.StatusConflict, err.Error(), "")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded", "")
	default:
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, r, http.StatusInternalServerError, "internal error", "")
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationError turns the first failed rule into a field error.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return domain.NewValidationError("", "invalid request")
	}
	fe := verrs[0]
	var msg string
	switch fe.Tag() {
	case "required":
		msg = "is required"
	case "datetime":
		msg = "must be a date in YYYY-MM-DD format"
	case "min", "gte", "gt":
		msg = "must be at least " + fe.Param()
	case "max", "lte":
		msg = "must be at most " + fe.Param()
	default:
		msg = "is invalid"
	}
	return domain.NewValidationError(fe.Field(), msg)
}

type propertyResponse struct {
	ID          int64  `json:"id"`
	OwnerID     int64  `json:"owner_id"`
	Title       string `json:"title"`
	MonthlyRent string `json:"monthly_rent"`
}

func toPropertyResponse(p models.Property) propertyResponse {
	return propertyResponse{
		ID:          p.ID,
		OwnerID:     p.OwnerID,
		Title:       p.Title,
		MonthlyRent: p.MonthlyRent.StringFixed(2),
	}
}

type bookingResponse struct {
	ID          int64                `json:"id"`
	PropertyID  int64                `json:"property_id"`
	RenterID    int64                `json:"renter_id"`
	StartDate   string               `json:"start_date"`
	EndDate     string               `json:"end_date"`
	Days        int                  `json:"days"`
	MonthlyRent string               `json:"monthly_rent"`
	TotalAmount string               `json:"total_amount"`
	Status      models.BookingStatus `json:"status"`
	CancelUntil string               `json:"cancel_until,omitempty"`
	CreatedAt   string               `json:"created_at"`
	ConfirmedAt string               `json:"confirmed_at,omitempty"`
	CompletedAt string               `json:"completed_at,omitempty"`
}

func toBookingResponse(b *models.Booking) bookingResponse {
	resp := bookingResponse{
		ID:          b.ID,
		PropertyID:  b.PropertyID,
		RenterID:    b.RenterID,
		StartDate:   models.FormatDate(b.StartDate),
		EndDate:     models.FormatDate(b.EndDate),
		Days:        b.Days(),
		MonthlyRent: b.MonthlyRent.StringFixed(2),
		TotalAmount: b.TotalAmount.StringFixed(2),
		Status:      b.Status,
		CreatedAt:   b.CreatedAt.UTC().Format(timeLayout),
	}
	if b.CancelUntil != nil {
		resp.CancelUntil = models.FormatDate(*b.CancelUntil)
	}
	if b.ConfirmedAt != nil {
		resp.ConfirmedAt = b.ConfirmedAt.UTC().Format(timeLayout)
	}
	if b.CompletedAt != nil {
		resp.CompletedAt = b.CompletedAt.UTC().Format(timeLayout)
	}
	return resp
}

func toBookingResponses(bookings []*models.Booking) []bookingResponse {
	out := make([]bookingResponse, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, toBookingResponse(b))
	}
	return out
}
