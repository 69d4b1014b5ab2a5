package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Booking is a renter's reservation of a property for the half-open range [StartDate, EndDate).
type Booking struct {
	ID          int64           `json:"id"`
	PropertyID  int64           `json:"property_id"`
	RenterID    int64           `json:"renter_id"`
	StartDate   time.Time       `json:"start_date"`
	EndDate     time.Time       `json:"end_date"`
	MonthlyRent decimal.Decimal `json:"monthly_rent"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Status      BookingStatus   `json:"status"`
	CancelUntil *time.Time      `json:"cancel_until,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ConfirmedAt *time.Time      `json:"confirmed_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Version     int64           `json:"version"`
}

// Days returns the length of the booking in days.
func (b *Booking) Days() int {
	return DaysBetween(b.StartDate, b.EndDate)
}

// CanCancel reports whether the renter may still cancel on the given day.
// A booking is cancellable while it is pending or confirmed, strictly before
// its start date and no later than cancel_until when that is set.
func (b *Booking) CanCancel(today time.Time) bool {
	if b.Status != StatusPending && b.Status != StatusConfirmed {
		return false
	}
	today = DateOf(today)
	if !today.Before(DateOf(b.StartDate)) {
		return false
	}
	if b.CancelUntil == nil {
		return true
	}
	return !today.After(DateOf(*b.CancelUntil))
}

// BookingFilter narrows booking listings. Zero values are ignored.
type BookingFilter struct {
	Status        BookingStatus
	PropertyID    int64
	RenterID      int64
	OwnerID       int64
	StartDateFrom *time.Time
	StartDateTo   *time.Time
	EndDateFrom   *time.Time
	EndDateTo     *time.Time
	Limit         int
	Offset        int
}

// OverlapQuery asks whether any booking of the property in one of Statuses
// intersects [Start, End). ExcludeID skips one booking, usually the one being confirmed.
type OverlapQuery struct {
	PropertyID int64
	Start      time.Time
	End        time.Time
	Statuses   []BookingStatus
	ExcludeID  int64
}

// CompletionCandidate is a confirmed booking whose end date has passed.
type CompletionCandidate struct {
	ID      int64     `json:"id"`
	EndDate time.Time `json:"end_date"`
}
