package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"staysync/internal/domain/booking"
	"staysync/internal/domain/channel"
	"staysync/internal/domain/ledger"
	"staysync/internal/domain/outbox"
	"staysync/internal/domain/ratestate"
	"staysync/internal/domain/webhook"
	"staysync/internal/pricing"
)

// OutboxRepository owns the outbound event queue. Create takes the
// caller's transaction so the event commits atomically with the domain
// change that requires it; everything else is worker-side state
// movement.
type OutboxRepository interface {
	Create(ctx context.Context, tx DBTX, event *outbox.Event) error
	GetByID(ctx context.Context, id uuid.UUID) (*outbox.Event, error)
	GetDue(ctx context.Context, now time.Time, limit int) ([]outbox.Event, error)
	// Claim moves a pending/retrying event to processing. The compare
	// on status makes concurrent workers safe: only one claim wins.
	Claim(ctx context.Context, id uuid.UUID) (bool, error)
	MarkCompleted(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, errorMsg string) error
	// RescheduleRetry counts an attempt; Requeue does not (rate-limit
	// denials and pauses are not the event's fault).
	RescheduleRetry(ctx context.Context, id uuid.UUID, next time.Time, errorMsg string) error
	Requeue(ctx context.Context, id uuid.UUID, next time.Time, reason string) error
	MarkMerged(ctx context.Context, id uuid.UUID, winnerID uuid.UUID) error
	ReapStale(ctx context.Context, olderThan time.Time) (int64, error)
	Reset(ctx context.Context, id uuid.UUID) error
	ListByStatus(ctx context.Context, status outbox.Status, limit int) ([]outbox.Event, error)
}

// RateStateRepository persists the shared token buckets. Save applies
// an optimistic version check and reports whether the write won.
type RateStateRepository interface {
	GetOrCreate(ctx context.Context, propertyID string, metric ratestate.Metric, capacity float64) (*ratestate.State, error)
	Save(ctx context.Context, state *ratestate.State) (bool, error)
}

type ChannelRepository interface {
	CreateConnection(ctx context.Context, tx DBTX, conn *channel.Connection) error
	GetConnection(ctx context.Context, id uuid.UUID) (*channel.Connection, error)
	GetConnectionByProperty(ctx context.Context, propertyID string) (*channel.Connection, error)
	ListConnections(ctx context.Context) ([]channel.Connection, error)
	UpdateConnectionStatus(ctx context.Context, id uuid.UUID, status channel.ConnectionStatus, lastError string) error
	RecordSyncSuccess(ctx context.Context, id uuid.UUID, at time.Time) error
	RecordSyncFailure(ctx context.Context, id uuid.UUID, errorMsg string) error

	CreateMapping(ctx context.Context, tx DBTX, m *channel.Mapping) error
	GetMapping(ctx context.Context, connectionID, unitID uuid.UUID) (*channel.Mapping, error)
	FindMappingByRoomType(ctx context.Context, connectionID uuid.UUID, roomTypeID string) (*channel.Mapping, error)
	FindMappingByRatePlan(ctx context.Context, connectionID uuid.UUID, ratePlanID string) (*channel.Mapping, error)
	ListActiveMappings(ctx context.Context, connectionID uuid.UUID) ([]channel.Mapping, error)
	ListMappingsForUnit(ctx context.Context, unitID uuid.UUID) ([]channel.Mapping, error)
	TouchPriceSync(ctx context.Context, mappingID uuid.UUID, at time.Time) error
	TouchAvailSync(ctx context.Context, mappingID uuid.UUID, at time.Time) error
}

type WebhookRepository interface {
	Create(ctx context.Context, rec *webhook.Record) error
	GetByID(ctx context.Context, id uuid.UUID) (*webhook.Record, error)
	HasActive(ctx context.Context, provider, eventID string) (bool, error)
	GetReceived(ctx context.Context, limit int) ([]webhook.Record, error)
	// Claim moves a received, failed or skipped record to processing;
	// the latter two exist for manual replay.
	Claim(ctx context.Context, id uuid.UUID) (bool, error)
	ReapStale(ctx context.Context, olderThan time.Time) (int64, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, action string) error
	MarkSkipped(ctx context.Context, id uuid.UUID, action string) error
	MarkFailed(ctx context.Context, id uuid.UUID, errorMsg string) error

	CreateIdempotency(ctx context.Context, tx DBTX, rec *webhook.IdempotencyRecord) error
	GetIdempotency(ctx context.Context, provider, eventID string) (*webhook.IdempotencyRecord, error)
}

type BookingRepository interface {
	Create(ctx context.Context, tx DBTX, b *booking.Booking) error
	Update(ctx context.Context, tx DBTX, b *booking.Booking) error
	GetByExternalID(ctx context.Context, reservationID string) (*booking.Booking, error)
	ListActiveForUnit(ctx context.Context, unitID uuid.UUID, from, to time.Time) ([]booking.Booking, error)
	CreateRevision(ctx context.Context, tx DBTX, rev *booking.Revision) error
	HasRevision(ctx context.Context, externalBookingID, revisionID string) (bool, error)
}

type PricingRepository interface {
	Upsert(ctx context.Context, tx DBTX, p *pricing.Policy) error
	GetByUnit(ctx context.Context, unitID uuid.UUID) (*pricing.Policy, error)
}

type LedgerRepository interface {
	Append(ctx context.Context, entry *ledger.Entry) error
	List(ctx context.Context, connectionID *uuid.UUID, limit int) ([]ledger.Entry, error)
}
