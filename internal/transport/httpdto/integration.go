package httpdto

import (
	"time"

	"github.com/google/uuid"

	"staysync/internal/domain/channel"
	"staysync/internal/domain/ledger"
	"staysync/internal/domain/outbox"
)

type CreateConnectionRequest struct {
	Provider      string `json:"provider" binding:"required"`
	ProjectID     string `json:"project_id"`
	PropertyID    string `json:"property_id" binding:"required"`
	APIKey        string `json:"api_key" binding:"required"`
	WebhookSecret string `json:"webhook_secret"`
}

type UpdateConnectionStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// ConnectionResponse never echoes credentials.
type ConnectionResponse struct {
	ID         uuid.UUID  `json:"id"`
	Provider   string     `json:"provider"`
	PropertyID string     `json:"property_id"`
	Status     string     `json:"status"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	ErrorCount int        `json:"error_count"`
	CreatedAt  time.Time  `json:"created_at"`
}

func FromConnection(c *channel.Connection) ConnectionResponse {
	return ConnectionResponse{
		ID:         c.ID,
		Provider:   c.Provider,
		PropertyID: c.PropertyID,
		Status:     string(c.Status),
		LastSyncAt: c.LastSyncAt,
		LastError:  c.LastError,
		ErrorCount: c.ErrorCount,
		CreatedAt:  c.CreatedAt,
	}
}

func FromConnectionSlice(conns []channel.Connection) []ConnectionResponse {
	out := make([]ConnectionResponse, 0, len(conns))
	for i := range conns {
		out = append(out, FromConnection(&conns[i]))
	}
	return out
}

type ListConnectionsResponse struct {
	Connections []ConnectionResponse `json:"connections"`
	Total       int                  `json:"total"`
}

type CreateMappingRequest struct {
	UnitID     string `json:"unit_id" binding:"required"`
	RoomTypeID string `json:"room_type_id" binding:"required"`
	RatePlanID string `json:"rate_plan_id" binding:"required"`
}

type MappingResponse struct {
	ID              uuid.UUID  `json:"id"`
	ConnectionID    uuid.UUID  `json:"connection_id"`
	UnitID          uuid.UUID  `json:"unit_id"`
	RoomTypeID      string     `json:"room_type_id"`
	RatePlanID      string     `json:"rate_plan_id"`
	Active          bool       `json:"active"`
	LastPriceSyncAt *time.Time `json:"last_price_sync_at,omitempty"`
	LastAvailSyncAt *time.Time `json:"last_avail_sync_at,omitempty"`
}

func FromMapping(m *channel.Mapping) MappingResponse {
	return MappingResponse{
		ID:              m.ID,
		ConnectionID:    m.ConnectionID,
		UnitID:          m.UnitID,
		RoomTypeID:      m.RoomTypeID,
		RatePlanID:      m.RatePlanID,
		Active:          m.Active,
		LastPriceSyncAt: m.LastPriceSyncAt,
		LastAvailSyncAt: m.LastAvailSyncAt,
	}
}

type TriggerSyncRequest struct {
	DaysAhead int `json:"days_ahead"`
}

type OutboxEventResponse struct {
	ID            uuid.UUID  `json:"id"`
	ConnectionID  uuid.UUID  `json:"connection_id"`
	UnitID        *uuid.UUID `json:"unit_id,omitempty"`
	Kind          string     `json:"kind"`
	Status        string     `json:"status"`
	Attempts      int        `json:"attempts"`
	MaxAttempts   int        `json:"max_attempts"`
	NextAttemptAt time.Time  `json:"next_attempt_at"`
	LastError     string     `json:"last_error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func FromOutboxEvent(e *outbox.Event) OutboxEventResponse {
	return OutboxEventResponse{
		ID:            e.ID,
		ConnectionID:  e.ConnectionID,
		UnitID:        e.UnitID,
		Kind:          string(e.Kind),
		Status:        string(e.Status),
		Attempts:      e.Attempts,
		MaxAttempts:   e.MaxAttempts,
		NextAttemptAt: e.NextAttemptAt,
		LastError:     e.LastError,
		CreatedAt:     e.CreatedAt,
	}
}

func FromOutboxEventSlice(events []outbox.Event) []OutboxEventResponse {
	out := make([]OutboxEventResponse, 0, len(events))
	for i := range events {
		out = append(out, FromOutboxEvent(&events[i]))
	}
	return out
}

type ListOutboxResponse struct {
	Events []OutboxEventResponse `json:"events"`
	Total  int                   `json:"total"`
}

type LedgerEntryResponse struct {
	ID           uuid.UUID  `json:"id"`
	ConnectionID *uuid.UUID `json:"connection_id,omitempty"`
	Direction    string     `json:"direction"`
	EntityType   string     `json:"entity_type"`
	ExternalID   string     `json:"external_id,omitempty"`
	UnitID       *uuid.UUID `json:"unit_id,omitempty"`
	PayloadHash  string     `json:"payload_hash,omitempty"`
	PayloadSize  int        `json:"payload_size"`
	RecordCount  int        `json:"record_count"`
	Status       string     `json:"status"`
	Error        string     `json:"error,omitempty"`
	DurationMs   int64      `json:"duration_ms"`
	CreatedAt    time.Time  `json:"created_at"`
}

func FromLedgerEntry(e *ledger.Entry) LedgerEntryResponse {
	return LedgerEntryResponse{
		ID:           e.ID,
		ConnectionID: e.ConnectionID,
		Direction:    string(e.Direction),
		EntityType:   string(e.EntityType),
		ExternalID:   e.ExternalID,
		UnitID:       e.UnitID,
		PayloadHash:  e.PayloadHash,
		PayloadSize:  e.PayloadSize,
		RecordCount:  e.RecordCount,
		Status:       e.Status,
		Error:        e.Error,
		DurationMs:   e.DurationMs,
		CreatedAt:    e.CreatedAt,
	}
}

func FromLedgerEntrySlice(entries []ledger.Entry) []LedgerEntryResponse {
	out := make([]LedgerEntryResponse, 0, len(entries))
	for i := range entries {
		out = append(out, FromLedgerEntry(&entries[i]))
	}
	return out
}

type ListLedgerResponse struct {
	Entries []LedgerEntryResponse `json:"entries"`
	Total   int                   `json:"total"`
}
