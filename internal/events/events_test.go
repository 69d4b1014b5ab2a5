package events

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"rentflow/internal/domain"
	"rentflow/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestBus_RoutesByAction(t *testing.T) {
	bus := NewBus(nil)

	var confirms, all int
	bus.Subscribe(models.ActionConfirm, func(_ context.Context, _ domain.Event) error {
		confirms++
		return nil
	})
	bus.SubscribeAll(func(_ context.Context, _ domain.Event) error {
		all++
		return nil
	})

	bus.Notify(context.Background(), domain.Event{Action: models.ActionConfirm})
	bus.Notify(context.Background(), domain.Event{Action: models.ActionReject})

	assert.Equal(t, 1, confirms)
	assert.Equal(t, 2, all)
}

func TestBus_HandlerFailuresAreSwallowed(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	bus := NewBus(&logger)

	var reached bool
	bus.SubscribeAll(func(_ context.Context, _ domain.Event) error {
		return errors.New("downstream unavailable")
	})
	bus.SubscribeAll(func(_ context.Context, _ domain.Event) error {
		panic("boom")
	})
	bus.SubscribeAll(func(_ context.Context, _ domain.Event) error {
		reached = true
		return nil
	})

	assert.NotPanics(t, func() {
		bus.Notify(context.Background(), domain.Event{
			Action:  models.ActionCreate,
			Booking: &models.Booking{ID: 7},
		})
	})
	assert.True(t, reached)
	assert.Contains(t, buf.String(), "downstream unavailable")
	assert.Contains(t, buf.String(), "handler panic")
}

func TestAuditLog(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	err := AuditLog(&logger)(context.Background(), domain.Event{
		Action:  models.ActionCancel,
		Booking: &models.Booking{ID: 3, PropertyID: 9},
		From:    models.StatusConfirmed,
		To:      models.StatusCancelled,
	})
	assert.NoError(t, err)
	assert.Contains(t, buf.String(), `"booking_id":3`)
	assert.Contains(t, buf.String(), `"to":"cancelled"`)
}
