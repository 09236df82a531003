package pricing

import (
	"math"
	"time"
)

// calendarReferenceHour fixes the time of day used when pricing whole
// calendar dates. 10:00 local falls outside every discount bucket, so
// calendar prices carry the weekend markup but never a same-day
// discount.
const calendarReferenceHour = 10

// Quote is the price breakdown for a single night.
type Quote struct {
	Date            time.Time `json:"date"`
	BasePrice       float64   `json:"base_price"`
	DayPrice        float64   `json:"day_price"`
	FinalPrice      float64   `json:"final_price"`
	IsWeekend       bool      `json:"is_weekend"`
	DiscountPercent float64   `json:"discount_percent"`
	Bucket          string    `json:"bucket,omitempty"`
	Currency        string    `json:"currency"`
}

// PriceAt prices one night as seen from the instant at: the weekend
// markup of the local day, then the discount bucket of the local hour.
func PriceAt(p Policy, at time.Time) Quote {
	local := at.In(p.Location())
	currency := p.Currency
	if currency == "" {
		currency = DefaultCurrency
	}
	q := Quote{
		Date:      time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location()),
		BasePrice: p.BasePrice,
		IsWeekend: p.IsWeekend(local),
		Currency:  currency,
	}
	day := p.BasePrice
	if q.IsWeekend {
		day = p.BasePrice * (1 + p.WeekendMarkupPercent/100)
	}
	q.DayPrice = round2(day)
	q.Bucket, q.DiscountPercent = discountBucket(p, local.Hour())
	q.FinalPrice = round2(day * (1 - q.DiscountPercent/100))
	return q
}

// DayQuote prices a calendar date at the fixed reference hour.
func DayQuote(p Policy, date time.Time) Quote {
	loc := p.Location()
	ref := time.Date(date.Year(), date.Month(), date.Day(), calendarReferenceHour, 0, 0, 0, loc)
	return PriceAt(p, ref)
}

// Calendar prices every date in [from, to] inclusive.
func Calendar(p Policy, from, to time.Time) []Quote {
	var quotes []Quote
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		quotes = append(quotes, DayQuote(p, d))
	}
	return quotes
}

// CalendarDays prices days consecutive dates starting at from.
func CalendarDays(p Policy, from time.Time, days int) []Quote {
	if days <= 0 {
		return nil
	}
	return Calendar(p, from, from.AddDate(0, 0, days-1))
}

// Total prices a stay over the nights [checkIn, checkOut).
func Total(p Policy, checkIn, checkOut time.Time) (float64, []Quote) {
	var total float64
	var nights []Quote
	for d := checkIn; d.Before(checkOut); d = d.AddDate(0, 0, 1) {
		q := DayQuote(p, d)
		nights = append(nights, q)
		total += q.FinalPrice
	}
	return round2(total), nights
}

func discountBucket(p Policy, hour int) (string, float64) {
	switch {
	case hour >= 23:
		return "23:00-23:59", p.Discount23Percent
	case hour >= 21:
		return "21:00-22:59", p.Discount21Percent
	case hour >= 16:
		return "16:00-20:59", p.Discount16Percent
	default:
		return "", 0
	}
}

// round2 rounds half away from zero to two decimals; prices are never
// negative so this matches half-up.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
