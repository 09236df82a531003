package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"staysync/internal/domain/outbox"
	"staysync/internal/repository"
	sync_errors "staysync/pkg/errors"
)

// syncScope is the payload carried by sync events.
type syncScope struct {
	UnitID    string `json:"unit_id,omitempty"`
	DaysAhead int    `json:"days_ahead,omitempty"`
}

// EnqueuePriceUpdate queues a price push for one unit in the caller's
// transaction. version should identify the change that triggered it
// (e.g. the policy's updated timestamp) so duplicate enqueues of the
// same change collapse onto one event. maxAttempts <= 0 falls back to
// the queue default.
func EnqueuePriceUpdate(ctx context.Context, repo repository.OutboxRepository, tx repository.DBTX, connectionID, unitID uuid.UUID, daysAhead int, version string, maxAttempts int) (*outbox.Event, error) {
	uid := unitID
	return enqueueOutboxEvent(ctx, repo, tx, connectionID, &uid, outbox.KindPriceUpdate,
		syncScope{UnitID: unitID.String(), DaysAhead: daysAhead}, version, maxAttempts)
}

// EnqueueAvailabilityUpdate queues an availability push for one unit
// in the caller's transaction.
func EnqueueAvailabilityUpdate(ctx context.Context, repo repository.OutboxRepository, tx repository.DBTX, connectionID, unitID uuid.UUID, daysAhead int, version string, maxAttempts int) (*outbox.Event, error) {
	uid := unitID
	return enqueueOutboxEvent(ctx, repo, tx, connectionID, &uid, outbox.KindAvailUpdate,
		syncScope{UnitID: unitID.String(), DaysAhead: daysAhead}, version, maxAttempts)
}

// EnqueueFullSync queues a whole-connection sync; the worker fans it
// out to per-unit price and availability events.
func EnqueueFullSync(ctx context.Context, repo repository.OutboxRepository, tx repository.DBTX, connectionID uuid.UUID, daysAhead int, version string, maxAttempts int) (*outbox.Event, error) {
	return enqueueOutboxEvent(ctx, repo, tx, connectionID, nil, outbox.KindFullSync,
		syncScope{DaysAhead: daysAhead}, version, maxAttempts)
}

func enqueueOutboxEvent(ctx context.Context, repo repository.OutboxRepository, tx repository.DBTX, connectionID uuid.UUID, unitID *uuid.UUID, kind outbox.Kind, payload interface{}, version string, maxAttempts int) (*outbox.Event, error) {
	data := []byte("{}")
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			data = raw
		}
	}
	if maxAttempts <= 0 {
		maxAttempts = outbox.DefaultMaxAttempts
	}
	now := time.Now()
	event := &outbox.Event{
		ID:             uuid.New(),
		ConnectionID:   connectionID,
		UnitID:         unitID,
		Kind:           kind,
		Payload:        data,
		Status:         outbox.StatusPending,
		MaxAttempts:    maxAttempts,
		NextAttemptAt:  now,
		IdempotencyKey: idempotencyKey(connectionID, unitID, kind, version),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := repo.Create(ctx, tx, event)
	if errors.Is(err, sync_errors.ErrAlreadyExists) {
		// The same change is already queued; nothing new to deliver.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return event, nil
}

// idempotencyKey hashes the event scope and the version of the change
// behind it. Deterministic on purpose: re-enqueues of an unchanged
// scope hit the unique index instead of queueing twice.
func idempotencyKey(connectionID uuid.UUID, unitID *uuid.UUID, kind outbox.Kind, version string) string {
	unit := ""
	if unitID != nil {
		unit = unitID.String()
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s", connectionID, unit, kind, version)))
	return hex.EncodeToString(sum[:])
}
