package pricing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(offset int) time.Time {
	return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
}

func TestComputeTotal(t *testing.T) {
	tests := []struct {
		name  string
		rent  string
		start time.Time
		end   time.Time
		want  string
	}{
		{name: "thirty days", rent: "2000.00", start: day(10), end: day(40), want: "1971.09"},
		{name: "one day", rent: "3044.00", start: day(0), end: day(1), want: "100"},
		{name: "half cent rounds up", rent: "0.1522", start: day(0), end: day(1), want: "0.01"},
		{name: "zero rent", rent: "0", start: day(0), end: day(5), want: "0"},
		{name: "one mean month", rent: "1000", start: day(0), end: day(30), want: "985.55"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComputeTotal(decimal.RequireFromString(tt.rent), tt.start, tt.end)
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "got %s want %s", got, tt.want)
		})
	}
}

func TestComputeTotal_Deterministic(t *testing.T) {
	rent := decimal.RequireFromString("1234.56")
	first, err := ComputeTotal(rent, day(3), day(47))
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := ComputeTotal(rent, day(3), day(47))
		require.NoError(t, err)
		assert.True(t, first.Equal(again))
	}
	assert.Equal(t, "1784.52", first.StringFixed(2))
}

func TestComputeTotal_Errors(t *testing.T) {
	_, err := ComputeTotal(decimal.NewFromInt(100), day(5), day(5))
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = ComputeTotal(decimal.NewFromInt(100), day(6), day(5))
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = ComputeTotal(decimal.NewFromInt(-1), day(0), day(5))
	assert.ErrorIs(t, err, ErrNegativeRent)
}
