package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"rentflow/internal/availability"
	"rentflow/internal/database"
	"rentflow/internal/domain"
	"rentflow/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	ownerID    int64 = 100
	renterID   int64 = 200
	renterBID  int64 = 201
	strangerID int64 = 300
)

var (
	owner    = models.Actor{ID: ownerID, Role: models.RoleLandlord}
	renter   = models.Actor{ID: renterID, Role: models.RoleRenter}
	renterB  = models.Actor{ID: renterBID, Role: models.RoleRenter}
	stranger = models.Actor{ID: strangerID, Role: models.RoleLandlord}
)

// fixedToday is the clock used by every service test.
var fixedToday = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.Event
}

func (n *recordingNotifier) Notify(_ context.Context, ev domain.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) actions() []models.Action {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]models.Action, 0, len(n.events))
	for _, ev := range n.events {
		out = append(out, ev.Action)
	}
	return out
}

func (n *recordingNotifier) last() domain.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.events[len(n.events)-1]
}

type fixture struct {
	db       *database.DB
	notifier *recordingNotifier
	bookings *BookingService
	clock    *clock
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newFixture(t *testing.T, opts ...BookingServiceOption) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "service.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	err = db.SyncProperties(context.Background(), []models.Property{
		{ID: 1, OwnerID: ownerID, Title: "Loft", MonthlyRent: decimal.RequireFromString("2000.00"), IsActive: true},
		{ID: 2, OwnerID: ownerID, Title: "Archived", MonthlyRent: decimal.RequireFromString("900.00"), IsActive: false},
	})
	require.NoError(t, err)

	c := &clock{now: fixedToday}
	notifier := &recordingNotifier{}
	opts = append([]BookingServiceOption{WithClock(c.Now)}, opts...)
	return &fixture{
		db:       db,
		notifier: notifier,
		bookings: NewBookingService(db, db, notifier, &logger, opts...),
		clock:    c,
	}
}

func day(offset int) time.Time {
	return models.DateOf(fixedToday).AddDate(0, 0, offset)
}

func (f *fixture) create(t *testing.T, actor models.Actor, start, end int) *models.Booking {
	t.Helper()
	b, err := f.bookings.CreateBooking(context.Background(), actor, CreateBookingRequest{
		PropertyID: 1,
		StartDate:  day(start),
		EndDate:    day(end),
	})
	require.NoError(t, err)
	return b
}

// barrierChecker holds the first n overlap checks until all of them have
// queried the store, so concurrent creations all run before any of them writes.
// Later checks pass straight through.
type barrierChecker struct {
	inner availability.Checker
	mu    sync.Mutex
	left  int
	gate  chan struct{}
}

func newBarrierChecker(n int) *barrierChecker {
	return &barrierChecker{inner: availability.NewChecker(), left: n, gate: make(chan struct{})}
}

func (c *barrierChecker) HasOverlap(ctx context.Context, src availability.Source, q models.OverlapQuery) (bool, error) {
	overlap, err := c.inner.HasOverlap(ctx, src, q)

	c.mu.Lock()
	if c.left == 0 {
		c.mu.Unlock()
		return overlap, err
	}
	c.left--
	if c.left == 0 {
		close(c.gate)
	}
	c.mu.Unlock()

	select {
	case <-c.gate:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	return overlap, err
}
