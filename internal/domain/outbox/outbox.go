package outbox

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRetrying   Status = "retrying"
)

type Kind string

const (
	KindPriceUpdate Kind = "price_update"
	KindAvailUpdate Kind = "availability_update"
	KindFullSync    Kind = "full_sync"
)

// DefaultMaxAttempts bounds transient retries per event. Rate-limit
// denials do not count toward it.
const DefaultMaxAttempts = 5

// Event is one pending outbound effect, created in the same transaction
// as the domain change that requires it and mutated only by the worker.
type Event struct {
	ID             uuid.UUID  `json:"id"`
	ConnectionID   uuid.UUID  `json:"connection_id"`
	UnitID         *uuid.UUID `json:"unit_id,omitempty"`
	Kind           Kind       `json:"kind"`
	Payload        []byte     `json:"payload,omitempty"`
	DateFrom       *time.Time `json:"date_from,omitempty"`
	DateTo         *time.Time `json:"date_to,omitempty"`
	Status         Status     `json:"status"`
	Attempts       int        `json:"attempts"`
	MaxAttempts    int        `json:"max_attempts"`
	NextAttemptAt  time.Time  `json:"next_attempt_at"`
	LastError      string     `json:"last_error,omitempty"`
	IdempotencyKey string     `json:"idempotency_key"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Terminal reports whether the event can no longer change state.
func (e Event) Terminal() bool {
	return e.Status == StatusCompleted || e.Status == StatusFailed
}

// MergeKey groups events that supersede each other: within a poll
// batch, a newer event for the same connection, unit and kind makes
// the older ones obsolete.
func (e Event) MergeKey() string {
	unit := ""
	if e.UnitID != nil {
		unit = e.UnitID.String()
	}
	return e.ConnectionID.String() + "|" + unit + "|" + string(e.Kind)
}
