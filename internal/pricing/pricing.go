// Package pricing derives the total price of a stay from a monthly rate.
package pricing

import (
	"errors"
	"time"

	"rentflow/internal/models"

	"github.com/shopspring/decimal"
)

// MeanMonthDays is the average month length used to prorate monthly rent.
var MeanMonthDays = decimal.RequireFromString("30.44")

var (
	ErrInvalidRange = errors.New("end date must be after start date")
	ErrNegativeRent = errors.New("monthly rent must not be negative")
)

// ComputeTotal returns monthlyRent * days / 30.44 rounded half-up to cents,
// where days is the number of calendar days in [start, end).
func ComputeTotal(monthlyRent decimal.Decimal, start, end time.Time) (decimal.Decimal, error) {
	if monthlyRent.IsNegative() {
		return decimal.Zero, ErrNegativeRent
	}
	days := models.DaysBetween(start, end)
	if days <= 0 {
		return decimal.Zero, ErrInvalidRange
	}
	// Multiplying before dividing keeps the only rounding step at the end.
	total := monthlyRent.Mul(decimal.NewFromInt(int64(days))).DivRound(MeanMonthDays, 2)
	return total, nil
}
