// Package booking holds the reservation entity mutated by inbound
// partner events.
package booking

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusConfirmed  Status = "confirmed"
	StatusCancelled  Status = "cancelled"
	StatusCheckedIn  Status = "checked_in"
	StatusCheckedOut Status = "checked_out"
)

type SourceType string

const (
	SourceDirect  SourceType = "direct"
	SourceChannel SourceType = "channel"
)

type Booking struct {
	ID                    uuid.UUID  `json:"id"`
	UnitID                uuid.UUID  `json:"unit_id"`
	GuestName             string     `json:"guest_name"`
	GuestPhone            string     `json:"guest_phone,omitempty"`
	GuestEmail            string     `json:"guest_email,omitempty"`
	CheckInDate           time.Time  `json:"check_in_date"`
	CheckOutDate          time.Time  `json:"check_out_date"`
	TotalPrice            float64    `json:"total_price"`
	Currency              string     `json:"currency"`
	Status                Status     `json:"status"`
	SourceType            SourceType `json:"source_type"`
	ChannelSource         string     `json:"channel_source,omitempty"`
	ExternalReservationID string     `json:"external_reservation_id,omitempty"`
	ExternalRevisionID    string     `json:"external_revision_id,omitempty"`
	LastAppliedRevisionAt *time.Time `json:"last_applied_revision_at,omitempty"`
	Notes                 string     `json:"notes,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// Active reports whether the booking blocks its unit's dates.
func (b Booking) Active() bool {
	return b.Status != StatusCancelled
}

// Overlaps reports whether the stay intersects [from, to). Check-out
// day does not block.
func (b Booking) Overlaps(from, to time.Time) bool {
	return b.CheckInDate.Before(to) && b.CheckOutDate.After(from)
}

// MapStatus normalizes a partner reservation status.
func MapStatus(raw string) Status {
	switch strings.ToLower(raw) {
	case "cancelled", "canceled":
		return StatusCancelled
	case "checked_in":
		return StatusCheckedIn
	case "checked_out":
		return StatusCheckedOut
	default:
		return StatusConfirmed
	}
}

// MapChannelSource normalizes the OTA name reported by the partner.
func MapChannelSource(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "airbnb":
		return "airbnb"
	case "booking.com", "booking_com", "bookingcom", "booking":
		return "booking_com"
	case "expedia":
		return "expedia"
	case "agoda":
		return "agoda"
	case "":
		return "other_ota"
	default:
		return "other_ota"
	}
}

// Revision is the audit trail of partner modifications, including the
// ones skipped as out of order.
type Revision struct {
	ID                uuid.UUID `json:"id"`
	BookingID         uuid.UUID `json:"booking_id"`
	ExternalBookingID string    `json:"external_booking_id"`
	RevisionID        string    `json:"revision_id"`
	EventType         string    `json:"event_type"`
	Payload           []byte    `json:"payload,omitempty"`
	Applied           bool      `json:"applied"`
	CreatedAt         time.Time `json:"created_at"`
}
