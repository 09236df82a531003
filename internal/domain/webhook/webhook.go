// Package webhook holds the persisted record of inbound partner
// deliveries and the idempotency bookkeeping that makes replays safe.
package webhook

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusReceived   Status = "received"
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

// Actions recorded after a delivery has been applied.
const (
	ActionCreated    = "created"
	ActionUpdated    = "updated"
	ActionCancelled  = "cancelled"
	ActionSkipped    = "skipped"
	ActionNotFound   = "not_found"
	ActionUnmatched  = "unmatched"
	ActionOutOfOrder = "skipped_out_of_order"
	ActionInvalid    = "validation_failed"
	ActionConflict   = "conflict"
	ActionIgnored    = "ignored"
)

// Record is one accepted delivery attempt. Rows are immutable once
// processed; failed rows stay for manual replay.
type Record struct {
	ID          uuid.UUID  `json:"id"`
	Provider    string     `json:"provider"`
	EventID     string     `json:"event_id"`
	EventType   string     `json:"event_type"`
	Payload     []byte     `json:"payload,omitempty"`
	SourceIP    string     `json:"source_ip,omitempty"`
	ReceivedAt  time.Time  `json:"received_at"`
	Status      Status     `json:"status"`
	Action      string     `json:"action,omitempty"`
	Error       string     `json:"error,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// IdempotencyRecord pins the outcome of one partner event id so a
// replayed delivery is answered without touching bookings again.
type IdempotencyRecord struct {
	ID            uuid.UUID  `json:"id"`
	Provider      string     `json:"provider"`
	EventID       string     `json:"event_id"`
	ReservationID string     `json:"reservation_id,omitempty"`
	RevisionID    string     `json:"revision_id,omitempty"`
	Action        string     `json:"action"`
	BookingID     *uuid.UUID `json:"booking_id,omitempty"`
	ProcessedAt   time.Time  `json:"processed_at"`
}
