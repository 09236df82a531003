package httpdto

import (
	"time"

	"github.com/google/uuid"

	"staysync/internal/pricing"
)

type UpsertPolicyRequest struct {
	BasePrice            float64 `json:"base_price" binding:"required"`
	WeekendMarkupPercent float64 `json:"weekend_markup_percent"`
	Discount16Percent    float64 `json:"discount_16_percent"`
	Discount21Percent    float64 `json:"discount_21_percent"`
	Discount23Percent    float64 `json:"discount_23_percent"`
	WeekendDays          []int   `json:"weekend_days"`
	Timezone             string  `json:"timezone"`
	Currency             string  `json:"currency"`
}

type PolicyResponse struct {
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
	UpdatedAt            time.Time `json:"updated_at"`
}

func FromPolicy(p *pricing.Policy) PolicyResponse {
	return PolicyResponse{
		ID:                   p.ID,
		UnitID:               p.UnitID,
		BasePrice:            p.BasePrice,
		WeekendMarkupPercent: p.WeekendMarkupPercent,
		Discount16Percent:    p.Discount16Percent,
		Discount21Percent:    p.Discount21Percent,
		Discount23Percent:    p.Discount23Percent,
		WeekendDays:          p.WeekendDays,
		Timezone:             p.Timezone,
		Currency:             p.Currency,
		UpdatedAt:            p.UpdatedAt,
	}
}

type QuoteResponse struct {
	Date            string  `json:"date"`
	BasePrice       float64 `json:"base_price"`
	DayPrice        float64 `json:"day_price"`
	FinalPrice      float64 `json:"final_price"`
	IsWeekend       bool    `json:"is_weekend"`
	DiscountPercent float64 `json:"discount_percent"`
	Bucket          string  `json:"bucket,omitempty"`
	Currency        string  `json:"currency"`
}

func FromQuote(q *pricing.Quote) QuoteResponse {
	return QuoteResponse{
		Date:            q.Date.Format("2006-01-02"),
		BasePrice:       q.BasePrice,
		DayPrice:        q.DayPrice,
		FinalPrice:      q.FinalPrice,
		IsWeekend:       q.IsWeekend,
		DiscountPercent: q.DiscountPercent,
		Bucket:          q.Bucket,
		Currency:        q.Currency,
	}
}

func FromQuoteSlice(quotes []pricing.Quote) []QuoteResponse {
	out := make([]QuoteResponse, 0, len(quotes))
	for i := range quotes {
		out = append(out, FromQuote(&quotes[i]))
	}
	return out
}

type CalendarResponse struct {
	UnitID uuid.UUID       `json:"unit_id"`
	From   string          `json:"from"`
	Days   int             `json:"days"`
	Quotes []QuoteResponse `json:"quotes"`
}

type StayQuoteResponse struct {
	UnitID   uuid.UUID       `json:"unit_id"`
	CheckIn  string          `json:"check_in"`
	CheckOut string          `json:"check_out"`
	Total    float64         `json:"total"`
	Currency string          `json:"currency"`
	Nights   []QuoteResponse `json:"nights"`
}
