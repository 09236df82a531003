package services

import (
	"context"
	"fmt"
	"time"

	"staysync/internal/channex"
	"staysync/internal/domain/outbox"
	"staysync/internal/pricing"
)

const dateLayout = "2006-01-02"

// buildRateValues prices the unit's calendar for the event's horizon.
// Property and rate plan ids are stamped in by the client.
func (w *OutboxWorker) buildRateValues(ctx context.Context, event *outbox.Event) ([]channex.RateValue, error) {
	policy, err := w.pricingRepo.GetByUnit(ctx, *event.UnitID)
	if err != nil {
		return nil, err
	}
	days := w.daysAhead(event)
	from := w.today(policy.Location())
	values := make([]channex.RateValue, 0, days)
	for _, q := range pricing.CalendarDays(*policy, from, days) {
		values = append(values, channex.RateValue{
			Date: q.Date.Format(dateLayout),
			Rate: fmt.Sprintf("%.2f", q.FinalPrice),
		})
	}
	return values, nil
}

// buildAvailabilityValues marks each date in the horizon 0 when an
// active booking covers that night and 1 otherwise. Single-unit
// inventory, so availability is binary.
func (w *OutboxWorker) buildAvailabilityValues(ctx context.Context, event *outbox.Event) ([]channex.AvailabilityValue, error) {
	days := w.daysAhead(event)
	from := w.today(time.UTC)
	to := from.AddDate(0, 0, days)

	bookings, err := w.bookingRepo.ListActiveForUnit(ctx, *event.UnitID, from, to)
	if err != nil {
		return nil, err
	}

	values := make([]channex.AvailabilityValue, 0, days)
	for d := from; d.Before(to); d = d.AddDate(0, 0, 1) {
		avail := 1
		for _, b := range bookings {
			if b.Overlaps(d, d.AddDate(0, 0, 1)) {
				avail = 0
				break
			}
		}
		values = append(values, channex.AvailabilityValue{
			Date:         d.Format(dateLayout),
			Availability: avail,
		})
	}
	return values, nil
}

func (w *OutboxWorker) today(loc *time.Location) time.Time {
	now := w.now().In(loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
}
