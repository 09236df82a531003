// Package ledger is the append-only audit trail of integration
// traffic. Entries store payload hashes rather than payloads.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

type EntityType string

const (
	EntityRate         EntityType = "rate"
	EntityAvailability EntityType = "availability"
	EntityBooking      EntityType = "booking"
	EntityFullSync     EntityType = "full_sync"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

type Entry struct {
	ID           uuid.UUID  `json:"id"`
	ConnectionID *uuid.UUID `json:"connection_id,omitempty"`
	Direction    Direction  `json:"direction"`
	EntityType   EntityType `json:"entity_type"`
	ExternalID   string     `json:"external_id,omitempty"`
	UnitID       *uuid.UUID `json:"unit_id,omitempty"`
	PayloadHash  string     `json:"payload_hash,omitempty"`
	PayloadSize  int        `json:"payload_size"`
	RecordCount  int        `json:"record_count"`
	Status       string     `json:"status"`
	Error        string     `json:"error,omitempty"`
	RetryCount   int        `json:"retry_count"`
	DurationMs   int64      `json:"duration_ms"`
	RequestID    string     `json:"request_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// HashPayload returns the hex SHA-256 digest stored in place of the
// payload body.
func HashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
