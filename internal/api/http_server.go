package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"rentflow/internal/config"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Services are the use cases exposed over HTTP.
type Services struct {
	Bookings      BookingAPI
	Messages      MessageAPI
	Reviews       ReviewAPI
	Notifications NotificationAPI
	Properties    PropertyAPI
}

// HTTPServer exposes the booking lifecycle as a JSON API.
type HTTPServer struct {
	cfg    config.APIConfig
	server *http.Server
	router chi.Router
	auth   *HTTPAuth

	bookings      BookingAPI
	messages      MessageAPI
	reviews       ReviewAPI
	notifications NotificationAPI
	properties    PropertyAPI

	validate *validator.Validate
	logger   *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, svc Services, logger *zerolog.Logger) *HTTPServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "http").Logger()

	srv := &HTTPServer{
		cfg:           cfg,
		auth:          NewHTTPAuth(cfg),
		bookings:      svc.Bookings,
		messages:      svc.Messages,
		reviews:       svc.Reviews,
		notifications: svc.Notifications,
		properties:    svc.Properties,
		validate:      newValidator(),
		logger:        &l,
	}
	srv.router = srv.routes()

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	return srv
}

func (s *HTTPServer) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(LoggingMiddleware(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.auth.Wrap)

		r.Route("/bookings", func(r chi.Router) {
			r.Post("/", s.handleCreateBooking)
			r.Get("/", s.handleListBookings)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetBooking)
				r.Post("/confirm", s.handleTransition(s.bookings.ConfirmBooking))
				r.Post("/reject", s.handleTransition(s.bookings.RejectBooking))
				r.Post("/cancel", s.handleTransition(s.bookings.CancelBooking))
				r.Get("/messages", s.handleListMessages)
				r.Post("/messages", s.handleSendMessage)
				r.Get("/review-eligibility", s.handleReviewEligibility)
				r.Post("/reviews", s.handleSubmitReview)
			})
		})

		r.Get("/properties", s.handleListProperties)
		r.Get("/properties/{id}/reviews", s.handleListReviews)

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", s.handleListNotifications)
			r.Post("/read-all", s.handleMarkAllRead)
			r.Post("/{id}/read", s.handleMarkRead)
		})
	})
	return r
}

// Handler returns the routed handler, for tests and embedding.
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
