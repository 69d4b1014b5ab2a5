package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"rentflow/internal/domain"
	"rentflow/internal/metrics"
	"rentflow/internal/models"

	"github.com/rs/zerolog"
)

// MaxMessageLength bounds a single message body in characters.
const MaxMessageLength = 4000

// MessageService gates the conversation thread of a booking on its lifecycle.
type MessageService struct {
	bookings *BookingService
	messages domain.MessageStore
	limiter  domain.Limiter
	notifier domain.Notifier
	limit    int
	window   time.Duration
	logger   *zerolog.Logger
}

func NewMessageService(
	bookings *BookingService,
	messages domain.MessageStore,
	limiter domain.Limiter,
	notifier domain.Notifier,
	limit int,
	window time.Duration,
	logger *zerolog.Logger,
) *MessageService {
	if limit <= 0 {
		limit = models.RateLimitMessages
	}
	if window <= 0 {
		window = time.Duration(models.RateLimitWindow) * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &MessageService{
		bookings: bookings,
		messages: messages,
		limiter:  limiter,
		notifier: notifier,
		limit:    limit,
		window:   window,
		logger:   logger,
	}
}

// SendMessage appends a message from one participant to the other.
func (s *MessageService) SendMessage(ctx context.Context, actor models.Actor, bookingID int64, text string) (*models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.NewValidationError("text", "must not be empty")
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return nil, domain.NewValidationError("text", fmt.Sprintf("must be at most %d characters", MaxMessageLength))
	}

	b, property, err := s.participantView(ctx, actor, bookingID)
	if err != nil {
		return nil, err
	}
	if !isOpen(b.Status) {
		metrics.IncTransition(string(models.ActionMessage), "conflict")
		return nil, domain.NewStateConflict(b.Status, models.ActionMessage, "conversation is closed")
	}

	if s.limiter != nil {
		allowed, err := s.limiter.CheckRateLimit(ctx, fmt.Sprintf("messages:%d", actor.ID), s.limit, s.window)
		if err != nil {
			// fail open
			s.logger.Warn().Err(err).Int64("actor_id", actor.ID).Msg("message rate limit check failed")
		} else if !allowed {
			metrics.IncTransition(string(models.ActionMessage), "rate_limited")
			return nil, fmt.Errorf("messages from user %d: %w", actor.ID, domain.ErrRateLimited)
		}
	}

	msg := &models.Message{
		BookingID:  b.ID,
		SenderID:   actor.ID,
		ReceiverID: counterpart(actor, b, property),
		Text:       text,
		CreatedAt:  s.bookings.now(),
	}
	// re-check under the booking lock: a transition may have closed the
	// conversation since the first read
	err = s.bookings.store.WithTx(ctx, func(tx domain.BookingTx) error {
		locked, err := tx.LockBooking(ctx, b.ID)
		if err != nil {
			return err
		}
		if !isOpen(locked.Status) {
			return domain.NewStateConflict(locked.Status, models.ActionMessage, "conversation is closed")
		}
		b.Status = locked.Status
		return tx.CreateMessage(ctx, msg)
	})
	if errors.Is(err, domain.ErrStateConflict) {
		metrics.IncTransition(string(models.ActionMessage), "conflict")
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("store message: %w", err)
	}
	metrics.IncTransition(string(models.ActionMessage), "ok")

	if s.notifier != nil {
		s.notifier.Notify(ctx, domain.Event{
			Action:   models.ActionMessage,
			Booking:  b,
			Property: property,
			From:     b.Status,
			To:       b.Status,
			Message:  msg,
		})
	}
	return msg, nil
}

// ListMessages returns the thread to either participant, whatever the booking status.
func (s *MessageService) ListMessages(ctx context.Context, actor models.Actor, bookingID int64) ([]*models.Message, error) {
	if _, _, err := s.participantView(ctx, actor, bookingID); err != nil {
		return nil, err
	}
	return s.messages.ListMessages(ctx, bookingID)
}

func (s *MessageService) participantView(ctx context.Context, actor models.Actor, bookingID int64) (*models.Booking, *models.Property, error) {
	b, property, err := s.bookings.load(ctx, bookingID)
	if err != nil {
		return nil, nil, err
	}
	if !isParticipant(actor, b, property) {
		metrics.IncTransition(string(models.ActionMessage), "forbidden")
		return nil, nil, fmt.Errorf("messages of booking %d: %w", bookingID, domain.ErrForbidden)
	}
	return b, property, nil
}

func isOpen(status models.BookingStatus) bool {
	return status == models.StatusPending || status == models.StatusConfirmed
}
