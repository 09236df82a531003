package webhook

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type EventKind string

const (
	EventBookingNew       EventKind = "booking.new"
	EventBookingModified  EventKind = "booking.modified"
	EventBookingCancelled EventKind = "booking.cancelled"
	EventUnknown          EventKind = "unknown"
)

// Envelope is the partner delivery body. Partner payloads vary between
// dot-notation events ("booking.new") and split event/event_type
// fields, and between id/event_id/webhook_id identifiers, so every
// alias is kept and normalized through methods.
type Envelope struct {
	Event      string      `json:"event"`
	EventType  string      `json:"event_type"`
	ID         string      `json:"id"`
	EventIDRaw string      `json:"event_id"`
	WebhookID  string      `json:"webhook_id"`
	PropertyID string      `json:"property_id"`
	Timestamp  string      `json:"timestamp"`
	CreatedAt  string      `json:"created_at"`
	Data       BookingData `json:"data"`
}

type BookingData struct {
	ID            string          `json:"id"`
	ReservationID string          `json:"reservation_id"`
	BookingID     string          `json:"booking_id"`
	RevisionID    string          `json:"revision_id"`
	PropertyID    string          `json:"property_id"`
	RoomTypeID    string          `json:"room_type_id"`
	RatePlanID    string          `json:"rate_plan_id"`
	ArrivalDate   string          `json:"arrival_date"`
	DepartureDate string          `json:"departure_date"`
	CheckIn       string          `json:"check_in"`
	CheckOut      string          `json:"check_out"`
	Status        string          `json:"status"`
	TotalPrice    json.Number     `json:"total_price"`
	Amount        json.Number     `json:"amount"`
	Currency      string          `json:"currency"`
	OTAName       string          `json:"ota_name"`
	Channel       string          `json:"channel"`
	UpdatedAt     string          `json:"updated_at"`
	Timestamp     string          `json:"timestamp"`
	Guest         Guest           `json:"guest"`
	Customer      Guest           `json:"customer"`
	Raw           json.RawMessage `json:"-"`
}

type Guest struct {
	Name      string `json:"name"`
	FullName  string `json:"full_name"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
	Country   string `json:"country"`
}

// ParseEnvelope decodes a delivery body, keeping the raw data block for
// audit storage.
func ParseEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("malformed webhook payload: %w", err)
	}
	var rawData struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &rawData); err == nil {
		env.Data.Raw = rawData.Data
	}
	return env, nil
}

// EventID returns the first non-empty delivery identifier alias.
func (e Envelope) EventID() string {
	switch {
	case e.ID != "":
		return e.ID
	case e.EventIDRaw != "":
		return e.EventIDRaw
	default:
		return e.WebhookID
	}
}

// Kind normalizes the event/event_type aliases into one dotted kind.
func (e Envelope) Kind() EventKind {
	var name string
	switch {
	case strings.Contains(e.Event, "."):
		name = e.Event
	case strings.Contains(e.EventType, "."):
		name = e.EventType
	case e.Event != "" && e.EventType != "":
		name = e.Event + "." + e.EventType
	case e.Event != "":
		name = e.Event
	default:
		name = e.EventType
	}
	switch name {
	case "booking.new", "booking_created":
		return EventBookingNew
	case "booking.modified", "booking_updated":
		return EventBookingModified
	case "booking.cancelled", "booking_cancelled":
		return EventBookingCancelled
	default:
		return EventUnknown
	}
}

// KindName returns the normalized dotted name, falling back to the raw
// fields for unknown events so the record stays searchable.
func (e Envelope) KindName() string {
	if k := e.Kind(); k != EventUnknown {
		return string(k)
	}
	switch {
	case e.Event != "" && e.EventType != "":
		return e.Event + "." + e.EventType
	case e.Event != "":
		return e.Event
	case e.EventType != "":
		return e.EventType
	default:
		return string(EventUnknown)
	}
}

// Property returns the partner property id from either level of the
// payload.
func (e Envelope) Property() string {
	if e.PropertyID != "" {
		return e.PropertyID
	}
	return e.Data.PropertyID
}

// EventTime parses the delivery timestamp used by the replay check.
func (e Envelope) EventTime() (time.Time, bool) {
	for _, raw := range []string{e.Timestamp, e.CreatedAt, e.Data.Timestamp, e.Data.UpdatedAt} {
		if raw == "" {
			continue
		}
		if t, ok := parseTime(raw); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// ReservationID returns the first non-empty reservation alias.
func (d BookingData) ReservationRef() string {
	switch {
	case d.ID != "":
		return d.ID
	case d.ReservationID != "":
		return d.ReservationID
	default:
		return d.BookingID
	}
}

// CheckInDate parses the arrival date aliases.
func (d BookingData) CheckInDate() (time.Time, bool) {
	return parseDateAlias(d.ArrivalDate, d.CheckIn)
}

// CheckOutDate parses the departure date aliases.
func (d BookingData) CheckOutDate() (time.Time, bool) {
	return parseDateAlias(d.DepartureDate, d.CheckOut)
}

// Price returns the total_price/amount alias as a float.
func (d BookingData) Price() (float64, bool) {
	for _, n := range []json.Number{d.TotalPrice, d.Amount} {
		if n == "" {
			continue
		}
		if v, err := n.Float64(); err == nil {
			return v, true
		}
	}
	return 0, false
}

// GuestInfo merges the guest/customer aliases and derives a display
// name, defaulting when the partner sends none.
func (d BookingData) GuestInfo() Guest {
	g := d.Guest
	if g == (Guest{}) {
		g = d.Customer
	}
	switch {
	case g.Name != "":
	case g.FullName != "":
		g.Name = g.FullName
	default:
		g.Name = strings.TrimSpace(g.FirstName + " " + g.LastName)
	}
	if g.Name == "" {
		g.Name = "OTA Guest"
	}
	return g
}

// RevisionTime parses the modification timestamp used for out-of-order
// protection.
func (d BookingData) RevisionTime() (time.Time, bool) {
	for _, raw := range []string{d.UpdatedAt, d.Timestamp} {
		if raw == "" {
			continue
		}
		if t, ok := parseTime(raw); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseDateAlias(values ...string) (time.Time, bool) {
	for _, raw := range values {
		if raw == "" {
			continue
		}
		if t, err := time.Parse("2006-01-02", raw); err == nil {
			return t, true
		}
		if t, ok := parseTime(raw); ok {
			return t.Truncate(24 * time.Hour), true
		}
	}
	return time.Time{}, false
}

func parseTime(raw string) (time.Time, bool) {
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
