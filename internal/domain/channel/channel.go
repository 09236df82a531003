// Package channel holds the entities describing one account with the
// distribution partner and the unit-to-room mappings under it.
package channel

import (
	"time"

	"github.com/google/uuid"
)

type ConnectionStatus string

const (
	ConnectionPending  ConnectionStatus = "pending"
	ConnectionActive   ConnectionStatus = "active"
	ConnectionInactive ConnectionStatus = "inactive"
	ConnectionError    ConnectionStatus = "error"
)

// ErrorThreshold is the consecutive dispatch-failure count after which
// a connection is flipped to the error status.
const ErrorThreshold = 5

// Connection scopes one partner account to a single partner property.
// APIKey and WebhookSecret never leave the process in API responses.
type Connection struct {
	ID            uuid.UUID        `json:"id"`
	ProjectID     uuid.UUID        `json:"project_id"`
	Provider      string           `json:"provider"`
	PropertyID    string           `json:"property_id"`
	APIKey        string           `json:"-"`
	WebhookSecret string           `json:"-"`
	Status        ConnectionStatus `json:"status"`
	LastSyncAt    *time.Time       `json:"last_sync_at,omitempty"`
	LastError     string           `json:"last_error,omitempty"`
	ErrorCount    int              `json:"error_count"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// Mapping ties an internal unit to the partner room type and rate plan
// identifiers under one connection.
type Mapping struct {
	ID              uuid.UUID  `json:"id"`
	ConnectionID    uuid.UUID  `json:"connection_id"`
	UnitID          uuid.UUID  `json:"unit_id"`
	RoomTypeID      string     `json:"room_type_id"`
	RatePlanID      string     `json:"rate_plan_id"`
	Active          bool       `json:"active"`
	LastPriceSyncAt *time.Time `json:"last_price_sync_at,omitempty"`
	LastAvailSyncAt *time.Time `json:"last_avail_sync_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}
