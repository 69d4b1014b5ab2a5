// Package events fans committed lifecycle events out to in-process subscribers.
package events

import (
	"context"
	"fmt"
	"sync"

	"rentflow/internal/domain"
	"rentflow/internal/models"

	"github.com/rs/zerolog"
)

// Handler reacts to an event. Returned errors are logged by the bus.
type Handler func(ctx context.Context, ev domain.Event) error

// Bus is the Notifier handed to the services. Handlers run synchronously in
// subscription order, after the triggering transaction has committed.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[models.Action][]Handler
	all         []Handler
	logger      *zerolog.Logger
}

func NewBus(logger *zerolog.Logger) *Bus {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Bus{
		subscribers: make(map[models.Action][]Handler),
		logger:      logger,
	}
}

// Subscribe registers a handler for one action.
func (b *Bus) Subscribe(action models.Action, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[action] = append(b.subscribers[action], handler)
}

// SubscribeAll registers a handler for every action.
func (b *Bus) SubscribeAll(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, handler)
}

// Notify never fails: handler errors and panics are logged and dropped.
func (b *Bus) Notify(ctx context.Context, ev domain.Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.all)+len(b.subscribers[ev.Action]))
	handlers = append(handlers, b.all...)
	handlers = append(handlers, b.subscribers[ev.Action]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := b.safeCall(ctx, h, ev); err != nil {
			l := b.logger.Warn().Err(err).Str("action", string(ev.Action))
			if ev.Booking != nil {
				l = l.Int64("booking_id", ev.Booking.ID)
			}
			l.Msg("event handler failed")
		}
	}
}

func (b *Bus) safeCall(ctx context.Context, h Handler, ev domain.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, ev)
}

// AuditLog writes one structured line per committed event.
func AuditLog(logger *zerolog.Logger) Handler {
	return func(_ context.Context, ev domain.Event) error {
		l := logger.Info().Str("action", string(ev.Action))
		if ev.Booking != nil {
			l = l.Int64("booking_id", ev.Booking.ID).Int64("property_id", ev.Booking.PropertyID)
		}
		if ev.From != ev.To {
			l = l.Str("from", string(ev.From)).Str("to", string(ev.To))
		}
		l.Msg("booking event")
		return nil
	}
}
