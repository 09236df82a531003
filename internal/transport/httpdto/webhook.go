package httpdto

import (
	"time"

	"github.com/google/uuid"
)

// WebhookAck is the body the partner sees on an accepted delivery.
type WebhookAck struct {
	ReceiptID uuid.UUID `json:"receipt_id"`
	EventID   string    `json:"event_id"`
	Status    string    `json:"status"`
}

type WebhookRecordResponse struct {
	ID          uuid.UUID  `json:"id"`
	Provider    string     `json:"provider"`
	EventID     string     `json:"event_id"`
	EventType   string     `json:"event_type"`
	SourceIP    string     `json:"source_ip,omitempty"`
	Status      string     `json:"status"`
	Action      string     `json:"action,omitempty"`
	Error       string     `json:"error,omitempty"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}
