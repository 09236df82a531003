// Package pricing computes nightly prices from a unit policy. It has
// no storage or transport concerns so the same code backs real-time
// quotes, calendar pushes, and booking totals.
package pricing

import (
	"time"

	"github.com/google/uuid"
)

const (
	DefaultTimezone = "Asia/Riyadh"
	DefaultCurrency = "SAR"
)

// DefaultWeekendDays are Friday and Saturday in the partner day
// numbering (Monday=0 .. Sunday=6).
var DefaultWeekendDays = []int{4, 5}

// Policy is the per-unit pricing configuration. Percentages are whole
// numbers (10 means 10%).
type Policy struct {
	ID                   uuid.UUID `json:"id"`
	UnitID               uuid.UUID `json:"unit_id"`
	BasePrice            float64   `json:"base_price"`
	WeekendMarkupPercent float64   `json:"weekend_markup_percent"`
	Discount16Percent    float64   `json:"discount_16_percent"`
	Discount21Percent    float64   `json:"discount_21_percent"`
	Discount23Percent    float64   `json:"discount_23_percent"`
	WeekendDays          []int     `json:"weekend_days"`
	Timezone             string    `json:"timezone"`
	Currency             string    `json:"currency"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Location resolves the policy timezone, falling back to the default
// when the zone is missing or unknown.
func (p Policy) Location() *time.Location {
	name := p.Timezone
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		loc, err = time.LoadLocation(DefaultTimezone)
		if err != nil {
			return time.UTC
		}
	}
	return loc
}

// IsWeekend reports whether t falls on a policy weekend day, evaluated
// in the policy timezone.
func (p Policy) IsWeekend(t time.Time) bool {
	day := partnerWeekday(t.In(p.Location()))
	days := p.WeekendDays
	if len(days) == 0 {
		days = DefaultWeekendDays
	}
	for _, d := range days {
		if d == day {
			return true
		}
	}
	return false
}

// partnerWeekday maps time.Weekday (Sunday=0) to the partner numbering
// (Monday=0 .. Sunday=6).
func partnerWeekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}
