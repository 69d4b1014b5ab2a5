package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"rentflow/internal/domain"
	"rentflow/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateBooking_LocksPrice(t *testing.T) {
	f := newFixture(t)

	b := f.create(t, renter, 10, 40)

	assert.Equal(t, models.StatusPending, b.Status)
	assert.Equal(t, renterID, b.RenterID)
	assert.True(t, b.MonthlyRent.Equal(decimal.RequireFromString("2000.00")))
	assert.Equal(t, "1971.09", b.TotalAmount.StringFixed(2))
	require.NotNil(t, b.CancelUntil)
	assert.True(t, b.CancelUntil.Equal(day(10)), "cancel_until defaults to the start date")

	// a later rent change does not touch the stored booking
	require.NoError(t, f.db.SyncProperties(context.Background(), []models.Property{
		{ID: 1, OwnerID: ownerID, Title: "Loft", MonthlyRent: decimal.RequireFromString("3000.00"), IsActive: true},
	}))
	stored, err := f.bookings.GetBooking(context.Background(), renter, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "1971.09", stored.TotalAmount.StringFixed(2))

	ev := f.notifier.last()
	assert.Equal(t, models.ActionCreate, ev.Action)
	assert.Equal(t, models.BookingStatus(""), ev.From)
	assert.Equal(t, models.StatusPending, ev.To)
}

func TestCreateBooking_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	after := day(12)
	past := day(-5)

	f.create(t, renter, 20, 30)

	tests := []struct {
		name  string
		actor models.Actor
		req   CreateBookingRequest
		field string
		err   error
	}{
		{name: "landlord cannot book", actor: owner, req: CreateBookingRequest{PropertyID: 1, StartDate: day(1), EndDate: day(5)}, err: domain.ErrForbidden},
		{name: "missing property", actor: renter, req: CreateBookingRequest{StartDate: day(1), EndDate: day(5)}, field: "property_id"},
		{name: "missing start", actor: renter, req: CreateBookingRequest{PropertyID: 1, EndDate: day(5)}, field: "start_date"},
		{name: "empty range", actor: renter, req: CreateBookingRequest{PropertyID: 1, StartDate: day(5), EndDate: day(5)}, field: "end_date"},
		{name: "reversed range", actor: renter, req: CreateBookingRequest{PropertyID: 1, StartDate: day(5), EndDate: day(1)}, field: "end_date"},
		{name: "in the past", actor: renter, req: CreateBookingRequest{PropertyID: 1, StartDate: day(-1), EndDate: day(5)}, field: "start_date"},
		{name: "cancel_until after start", actor: renter, req: CreateBookingRequest{PropertyID: 1, StartDate: day(10), EndDate: day(15), CancelUntil: &after}, field: "cancel_until"},
		{name: "cancel_until in the past", actor: renter, req: CreateBookingRequest{PropertyID: 1, StartDate: day(10), EndDate: day(15), CancelUntil: &past}, field: "cancel_until"},
		{name: "unknown property", actor: renter, req: CreateBookingRequest{PropertyID: 404, StartDate: day(1), EndDate: day(5)}, field: "property_id"},
		{name: "inactive property", actor: renter, req: CreateBookingRequest{PropertyID: 2, StartDate: day(1), EndDate: day(5)}, field: "property_id"},
		{name: "overlaps pending", actor: renterB, req: CreateBookingRequest{PropertyID: 1, StartDate: day(25), EndDate: day(35)}, field: "start_date"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.bookings.CreateBooking(ctx, tt.actor, tt.req)
			require.Error(t, err)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	// adjacent stays share a boundary day
	b, err := f.bookings.CreateBooking(ctx, renterB, CreateBookingRequest{PropertyID: 1, StartDate: day(30), EndDate: day(40)})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, b.Status)

	// a deadline of today is still usable
	today := day(0)
	b, err = f.bookings.CreateBooking(ctx, renter, CreateBookingRequest{PropertyID: 1, StartDate: day(50), EndDate: day(55), CancelUntil: &today})
	require.NoError(t, err)
	require.NotNil(t, b.CancelUntil)
	assert.True(t, b.CancelUntil.Equal(today))
}

func TestCreateBooking_MaxAdvance(t *testing.T) {
	f := newFixture(t, WithMaxAdvanceDays(30))

	_, err := f.bookings.CreateBooking(context.Background(), renter, CreateBookingRequest{PropertyID: 1, StartDate: day(31), EndDate: day(40)})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "start_date", verr.Field)

	f.create(t, renter, 30, 40)
}

// Two overlapping requests submitted together are both accepted; only the
// first confirmation wins.
func TestOverlappingRequests_ConfirmOnlyOne(t *testing.T) {
	f := newFixture(t, WithChecker(newBarrierChecker(2)))
	ctx := context.Background()

	var wg sync.WaitGroup
	created := make([]*models.Booking, 2)
	errs := make([]error, 2)
	for i, actor := range []models.Actor{renter, renterB} {
		wg.Add(1)
		go func(i int, actor models.Actor) {
			defer wg.Done()
			created[i], errs[i] = f.bookings.CreateBooking(ctx, actor, CreateBookingRequest{
				PropertyID: 1,
				StartDate:  day(10),
				EndDate:    day(20),
			})
		}(i, actor)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	a, b := created[0], created[1]
	confirmed, err := f.bookings.ConfirmBooking(ctx, owner, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, confirmed.Status)
	assert.NotNil(t, confirmed.ConfirmedAt)

	_, err = f.bookings.ConfirmBooking(ctx, owner, b.ID)
	assert.ErrorIs(t, err, domain.ErrStateConflict)

	still, err := f.bookings.GetBooking(ctx, owner, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, still.Status)

	// the loser can still be rejected
	rejected, err := f.bookings.RejectBooking(ctx, owner, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, rejected.Status)
}

func TestConcurrentConfirmations(t *testing.T) {
	f := newFixture(t, WithChecker(newBarrierChecker(2)))
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]int64, 2)
	for i, actor := range []models.Actor{renter, renterB} {
		wg.Add(1)
		go func(i int, actor models.Actor) {
			defer wg.Done()
			b, err := f.bookings.CreateBooking(ctx, actor, CreateBookingRequest{PropertyID: 1, StartDate: day(5), EndDate: day(15)})
			if err == nil {
				ids[i] = b.ID
			}
		}(i, actor)
	}
	wg.Wait()
	require.NotZero(t, ids[0])
	require.NotZero(t, ids[1])

	results := make(chan error, 2)
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := f.bookings.ConfirmBooking(ctx, owner, id)
			results <- err
		}(id)
	}
	wg.Wait()
	close(results)

	var ok, conflicts int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrStateConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)
}

func TestCancelBooking_Deadline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	deadline := day(5)

	book := func(start, end int) *models.Booking {
		b, err := f.bookings.CreateBooking(ctx, renter, CreateBookingRequest{
			PropertyID:  1,
			StartDate:   day(start),
			EndDate:     day(end),
			CancelUntil: &deadline,
		})
		require.NoError(t, err)
		_, err = f.bookings.ConfirmBooking(ctx, owner, b.ID)
		require.NoError(t, err)
		return b
	}
	onTime := book(10, 20)
	late := book(20, 30)

	f.clock.Set(deadline.Add(23 * time.Hour))
	cancelled, err := f.bookings.CancelBooking(ctx, renter, onTime.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)

	f.clock.Set(deadline.AddDate(0, 0, 1))
	_, err = f.bookings.CancelBooking(ctx, renter, late.ID)
	assert.ErrorIs(t, err, domain.ErrStateConflict)

	stored, err := f.bookings.GetBooking(ctx, renter, late.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, stored.Status)
}

func TestTransitions_Authorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.create(t, renter, 10, 20)

	_, err := f.bookings.ConfirmBooking(ctx, renter, b.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.bookings.ConfirmBooking(ctx, stranger, b.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.bookings.CancelBooking(ctx, owner, b.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.bookings.CancelBooking(ctx, renterB, b.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.bookings.GetBooking(ctx, stranger, b.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.bookings.ConfirmBooking(ctx, owner, 9999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTransitions_IllegalFromStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.create(t, renter, 10, 20)

	_, err := f.bookings.RejectBooking(ctx, owner, b.ID)
	require.NoError(t, err)

	notified := len(f.notifier.actions())

	for name, call := range map[string]func() (*models.Booking, error){
		"confirm": func() (*models.Booking, error) { return f.bookings.ConfirmBooking(ctx, owner, b.ID) },
		"reject":  func() (*models.Booking, error) { return f.bookings.RejectBooking(ctx, owner, b.ID) },
		"cancel":  func() (*models.Booking, error) { return f.bookings.CancelBooking(ctx, renter, b.ID) },
	} {
		_, err := call()
		var conflict *domain.StateConflictError
		require.ErrorAs(t, err, &conflict, name)
		assert.Equal(t, models.StatusRejected, conflict.Status, name)
	}
	assert.Len(t, f.notifier.actions(), notified, "refused transitions must not notify")
}

func TestTransitions_NotifyAfterCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.create(t, renter, 10, 20)

	_, err := f.bookings.ConfirmBooking(ctx, owner, b.ID)
	require.NoError(t, err)
	_, err = f.bookings.CancelBooking(ctx, renter, b.ID)
	require.NoError(t, err)

	assert.Equal(t, []models.Action{models.ActionCreate, models.ActionConfirm, models.ActionCancel}, f.notifier.actions())
	ev := f.notifier.last()
	assert.Equal(t, models.StatusConfirmed, ev.From)
	assert.Equal(t, models.StatusCancelled, ev.To)
	assert.Equal(t, ownerID, ev.Property.OwnerID)
}

func TestListBookings_Scoped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, renter, 10, 20)
	f.create(t, renterB, 30, 40)

	mine, err := f.bookings.ListBookings(ctx, renter, models.BookingFilter{})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, renterID, mine[0].RenterID)

	all, err := f.bookings.ListBookings(ctx, owner, models.BookingFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	none, err := f.bookings.ListBookings(ctx, stranger, models.BookingFilter{})
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = f.bookings.ListBookings(ctx, owner, models.BookingFilter{Status: "archived"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.bookings.ListBookings(ctx, models.SystemActor, models.BookingFilter{})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}
