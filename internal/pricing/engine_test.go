package pricing

import (
	"math"
	"testing"
	"time"
)

func testPolicy() Policy {
	return Policy{
		BasePrice:            100,
		WeekendMarkupPercent: 150,
		Discount16Percent:    10,
		Discount21Percent:    20,
		Discount23Percent:    30,
		WeekendDays:          []int{4}, // Friday only
		Timezone:             "Asia/Riyadh",
	}
}

func riyadh(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Riyadh")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return loc
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestPriceAt(t *testing.T) {
	loc := riyadh(t)
	p := testPolicy()

	tests := []struct {
		name      string
		at        time.Time
		final     float64
		dayPrice  float64
		isWeekend bool
	}{
		{
			// Friday 18:00: weekend markup then 16:00 bucket discount.
			name:      "weekend evening",
			at:        time.Date(2025, 1, 3, 18, 0, 0, 0, loc),
			final:     225.00,
			dayPrice:  250.00,
			isWeekend: true,
		},
		{
			// Sunday morning: no markup, no bucket.
			name:     "weekday morning",
			at:       time.Date(2025, 1, 5, 10, 0, 0, 0, loc),
			final:    100.00,
			dayPrice: 100.00,
		},
		{
			// Friday 22:00: weekend markup then 21:00 bucket discount.
			name:      "weekend late",
			at:        time.Date(2025, 1, 3, 22, 0, 0, 0, loc),
			final:     200.00,
			dayPrice:  250.00,
			isWeekend: true,
		},
		{
			// Friday 23:30: deepest bucket.
			name:      "weekend deepest bucket",
			at:        time.Date(2025, 1, 3, 23, 30, 0, 0, loc),
			final:     175.00,
			dayPrice:  250.00,
			isWeekend: true,
		},
		{
			// 15:59 is still outside every bucket.
			name:     "before first bucket",
			at:       time.Date(2025, 1, 6, 15, 59, 0, 0, loc),
			final:    100.00,
			dayPrice: 100.00,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := PriceAt(p, tt.at)
			if !almostEqual(q.FinalPrice, tt.final) {
				t.Errorf("final price = %v, want %v", q.FinalPrice, tt.final)
			}
			if !almostEqual(q.DayPrice, tt.dayPrice) {
				t.Errorf("day price = %v, want %v", q.DayPrice, tt.dayPrice)
			}
			if q.IsWeekend != tt.isWeekend {
				t.Errorf("is weekend = %v, want %v", q.IsWeekend, tt.isWeekend)
			}
			if q.Currency != DefaultCurrency {
				t.Errorf("currency = %q, want %q", q.Currency, DefaultCurrency)
			}
		})
	}
}

func TestPriceAtTimezoneBoundary(t *testing.T) {
	// 21:00 UTC Thursday is already 00:00 Friday in Riyadh: the weekend
	// markup must follow the policy timezone, not the query timezone.
	p := testPolicy()
	at := time.Date(2025, 1, 2, 21, 0, 0, 0, time.UTC)
	q := PriceAt(p, at)
	if !q.IsWeekend {
		t.Fatal("expected weekend pricing for Riyadh Friday midnight")
	}
	if !almostEqual(q.FinalPrice, 250.00) {
		t.Errorf("final price = %v, want 250.00", q.FinalPrice)
	}
}

func TestRoundHalfUp(t *testing.T) {
	p := Policy{BasePrice: 100.01, Discount16Percent: 10.5, Timezone: "UTC", WeekendDays: []int{6}}
	loc, _ := time.LoadLocation("UTC")
	// 100.01 * 0.895 = 89.50895 -> 89.51
	q := PriceAt(p, time.Date(2025, 1, 6, 17, 0, 0, 0, loc))
	if !almostEqual(q.FinalPrice, 89.51) {
		t.Errorf("final price = %v, want 89.51", q.FinalPrice)
	}
}

func TestCalendarNeverDiscounts(t *testing.T) {
	p := testPolicy()
	loc := riyadh(t)
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, loc) // Wednesday
	quotes := Calendar(p, from, from.AddDate(0, 0, 6))
	if len(quotes) != 7 {
		t.Fatalf("calendar length = %d, want 7", len(quotes))
	}
	for _, q := range quotes {
		if q.DiscountPercent != 0 || q.Bucket != "" {
			t.Errorf("%s: calendar quote carries discount %v (%q)", q.Date.Format("2006-01-02"), q.DiscountPercent, q.Bucket)
		}
		want := 100.00
		if q.IsWeekend {
			want = 250.00
		}
		if !almostEqual(q.FinalPrice, want) {
			t.Errorf("%s: final price = %v, want %v", q.Date.Format("2006-01-02"), q.FinalPrice, want)
		}
	}
	// Exactly one Friday in the window.
	weekends := 0
	for _, q := range quotes {
		if q.IsWeekend {
			weekends++
		}
	}
	if weekends != 1 {
		t.Errorf("weekend days = %d, want 1", weekends)
	}
}

func TestCalendarDays(t *testing.T) {
	p := testPolicy()
	loc := riyadh(t)
	from := time.Date(2025, 3, 10, 0, 0, 0, 0, loc)
	if got := CalendarDays(p, from, 30); len(got) != 30 {
		t.Errorf("calendar days = %d, want 30", len(got))
	}
	if got := CalendarDays(p, from, 0); got != nil {
		t.Errorf("expected nil calendar for zero days")
	}
}

func TestTotal(t *testing.T) {
	p := testPolicy()
	loc := riyadh(t)
	// Thu 2 Jan -> Sun 5 Jan: Thu 100 + Fri 250 + Sat 100.
	checkIn := time.Date(2025, 1, 2, 0, 0, 0, 0, loc)
	checkOut := time.Date(2025, 1, 5, 0, 0, 0, 0, loc)
	total, nights := Total(p, checkIn, checkOut)
	if len(nights) != 3 {
		t.Fatalf("nights = %d, want 3", len(nights))
	}
	if !almostEqual(total, 450.00) {
		t.Errorf("total = %v, want 450.00", total)
	}
}

func TestDefaultWeekendDays(t *testing.T) {
	p := Policy{BasePrice: 100, WeekendMarkupPercent: 50, Timezone: "Asia/Riyadh"}
	loc := riyadh(t)
	fri := time.Date(2025, 1, 3, 12, 0, 0, 0, loc)
	sat := time.Date(2025, 1, 4, 12, 0, 0, 0, loc)
	sun := time.Date(2025, 1, 5, 12, 0, 0, 0, loc)
	if !p.IsWeekend(fri) || !p.IsWeekend(sat) {
		t.Error("Friday and Saturday should default to weekend")
	}
	if p.IsWeekend(sun) {
		t.Error("Sunday should not default to weekend")
	}
}

func TestUnknownTimezoneFallsBack(t *testing.T) {
	p := Policy{BasePrice: 100, Timezone: "Not/AZone"}
	if got := p.Location().String(); got != DefaultTimezone {
		t.Errorf("location = %q, want %q", got, DefaultTimezone)
	}
}
