package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Property is the catalog view of a listing the booking engine needs.
type Property struct {
	ID          int64           `json:"id" yaml:"id"`
	OwnerID     int64           `json:"owner_id" yaml:"owner_id"`
	Title       string          `json:"title" yaml:"title"`
	MonthlyRent decimal.Decimal `json:"monthly_rent" yaml:"monthly_rent"`
	IsActive    bool            `json:"is_active" yaml:"is_active"`
	UpdatedAt   time.Time       `json:"updated_at" yaml:"-"`
}
