package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"staysync/internal/domain/channel"
	"staysync/internal/domain/ledger"
	"staysync/internal/domain/outbox"
	"staysync/internal/repository"
	sync_errors "staysync/pkg/errors"
	"staysync/pkg/logger"
)

// ChannelService manages partner connections and unit mappings and
// exposes the manual sync controls. Writes that must reach the partner
// queue their outbox events in the same transaction.
type ChannelService struct {
	channels    repository.ChannelRepository
	outbox      repository.OutboxRepository
	ledgers     repository.LedgerRepository
	syncDays    int
	maxAttempts int
	log         *logger.Logger

	inTx func(ctx context.Context, fn func(repository.DBTX) error) error
	now  func() time.Time
}

func NewChannelService(
	db repository.DBTX,
	channels repository.ChannelRepository,
	outboxRepo repository.OutboxRepository,
	ledgers repository.LedgerRepository,
	syncDays int,
	maxAttempts int,
	log *logger.Logger,
) *ChannelService {
	if syncDays <= 0 {
		syncDays = 30
	}
	return &ChannelService{
		channels:    channels,
		outbox:      outboxRepo,
		ledgers:     ledgers,
		syncDays:    syncDays,
		maxAttempts: maxAttempts,
		log:         log,
		inTx: func(ctx context.Context, fn func(repository.DBTX) error) error {
			return repository.WithTx(ctx, db, fn)
		},
		now: time.Now,
	}
}

// CreateConnection registers a partner account. The connection starts
// active with an initial full sync already queued.
func (s *ChannelService) CreateConnection(ctx context.Context, conn *channel.Connection) error {
	if conn.Provider == "" || conn.PropertyID == "" || conn.APIKey == "" {
		return fmt.Errorf("%w: provider, property id and api key are required", sync_errors.ErrInvalidInput)
	}
	if existing, err := s.channels.GetConnectionByProperty(ctx, conn.PropertyID); err == nil && existing != nil {
		return fmt.Errorf("%w: property %s already connected", sync_errors.ErrConflict, conn.PropertyID)
	} else if err != nil && !errors.Is(err, sync_errors.ErrNotFound) {
		return err
	}

	now := s.now()
	if conn.ID == uuid.Nil {
		conn.ID = uuid.New()
	}
	conn.Status = channel.ConnectionActive
	conn.CreatedAt = now
	conn.UpdatedAt = now

	err := s.inTx(ctx, func(tx repository.DBTX) error {
		if err := s.channels.CreateConnection(ctx, tx, conn); err != nil {
			return err
		}
		_, err := EnqueueFullSync(ctx, s.outbox, tx, conn.ID, s.syncDays, s.version(now), s.maxAttempts)
		return err
	})
	if err != nil {
		return err
	}
	s.log.Infof("connection %s created for property %s", conn.ID, conn.PropertyID)
	return nil
}

func (s *ChannelService) GetConnection(ctx context.Context, id uuid.UUID) (*channel.Connection, error) {
	return s.channels.GetConnection(ctx, id)
}

func (s *ChannelService) ListConnections(ctx context.Context) ([]channel.Connection, error) {
	return s.channels.ListConnections(ctx)
}

// UpdateConnectionStatus flips a connection between active and
// inactive. Reactivating clears the recorded error state.
func (s *ChannelService) UpdateConnectionStatus(ctx context.Context, id uuid.UUID, status channel.ConnectionStatus) error {
	switch status {
	case channel.ConnectionActive, channel.ConnectionInactive:
	default:
		return fmt.Errorf("%w: status must be active or inactive", sync_errors.ErrInvalidInput)
	}
	if _, err := s.channels.GetConnection(ctx, id); err != nil {
		return err
	}
	return s.channels.UpdateConnectionStatus(ctx, id, status, "")
}

// CreateMapping ties a unit to partner room identifiers and queues the
// first price and availability pushes for it.
func (s *ChannelService) CreateMapping(ctx context.Context, m *channel.Mapping) error {
	if m.ConnectionID == uuid.Nil || m.UnitID == uuid.Nil || m.RoomTypeID == "" || m.RatePlanID == "" {
		return fmt.Errorf("%w: connection, unit, room type and rate plan are required", sync_errors.ErrInvalidInput)
	}
	if _, err := s.channels.GetConnection(ctx, m.ConnectionID); err != nil {
		return err
	}

	now := s.now()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.Active = true
	m.CreatedAt = now
	m.UpdatedAt = now

	err := s.inTx(ctx, func(tx repository.DBTX) error {
		if err := s.channels.CreateMapping(ctx, tx, m); err != nil {
			return err
		}
		if _, err := EnqueuePriceUpdate(ctx, s.outbox, tx, m.ConnectionID, m.UnitID, s.syncDays, s.version(now), s.maxAttempts); err != nil {
			return err
		}
		_, err := EnqueueAvailabilityUpdate(ctx, s.outbox, tx, m.ConnectionID, m.UnitID, s.syncDays, s.version(now), s.maxAttempts)
		return err
	})
	if err != nil {
		return err
	}
	s.log.Infof("mapping %s created: unit %s -> room %s / plan %s", m.ID, m.UnitID, m.RoomTypeID, m.RatePlanID)
	return nil
}

// ListMappings returns the active mappings under a connection.
func (s *ChannelService) ListMappings(ctx context.Context, connectionID uuid.UUID) ([]channel.Mapping, error) {
	if _, err := s.channels.GetConnection(ctx, connectionID); err != nil {
		return nil, err
	}
	return s.channels.ListActiveMappings(ctx, connectionID)
}

// TriggerFullSync queues a connection-wide resync. Returns the queued
// event, or nil when an identical sync is already pending.
func (s *ChannelService) TriggerFullSync(ctx context.Context, connectionID uuid.UUID, days int) (*outbox.Event, error) {
	conn, err := s.channels.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if conn.Status == channel.ConnectionInactive {
		return nil, fmt.Errorf("%w: connection %s is inactive", sync_errors.ErrConnectionInactive, connectionID)
	}
	if days <= 0 {
		days = s.syncDays
	}
	var event *outbox.Event
	err = s.inTx(ctx, func(tx repository.DBTX) error {
		var err error
		event, err = EnqueueFullSync(ctx, s.outbox, tx, connectionID, days, s.version(s.now()), s.maxAttempts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

// RetryEvent requeues a permanently failed outbox event for a fresh
// attempt cycle.
func (s *ChannelService) RetryEvent(ctx context.Context, id uuid.UUID) (*outbox.Event, error) {
	if err := s.outbox.Reset(ctx, id); err != nil {
		return nil, err
	}
	return s.outbox.GetByID(ctx, id)
}

// ListOutbox returns events in the given status for inspection.
func (s *ChannelService) ListOutbox(ctx context.Context, status outbox.Status, limit int) ([]outbox.Event, error) {
	switch status {
	case outbox.StatusPending, outbox.StatusProcessing, outbox.StatusCompleted,
		outbox.StatusFailed, outbox.StatusRetrying:
	default:
		return nil, fmt.Errorf("%w: unknown outbox status %q", sync_errors.ErrInvalidInput, status)
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.outbox.ListByStatus(ctx, status, limit)
}

// ListLedger returns the most recent integration ledger entries,
// optionally scoped to one connection.
func (s *ChannelService) ListLedger(ctx context.Context, connectionID *uuid.UUID, limit int) ([]ledger.Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.ledgers.List(ctx, connectionID, limit)
}

func (s *ChannelService) version(at time.Time) string {
	return strconv.FormatInt(at.UnixNano(), 10)
}
