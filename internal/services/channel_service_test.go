package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"staysync/internal/domain/channel"
	"staysync/internal/domain/outbox"
	"staysync/internal/repository"
	sync_errors "staysync/pkg/errors"
	"staysync/pkg/logger"
)

func newChannelHarness(t *testing.T) (*ChannelService, *fakeChannelRepo, *fakeOutboxRepo) {
	t.Helper()
	channels := newFakeChannelRepo()
	events := newFakeOutboxRepo()
	svc := NewChannelService(nil, channels, events, &fakeLedgerRepo{}, 30, 0, logger.New(logger.DevelopmentMode))
	svc.inTx = func(ctx context.Context, fn func(repository.DBTX) error) error {
		return fn(nil)
	}
	return svc, channels, events
}

func TestCreateConnectionQueuesInitialSync(t *testing.T) {
	svc, channels, events := newChannelHarness(t)

	conn := &channel.Connection{Provider: "channex", PropertyID: "prop-1", APIKey: "key"}
	if err := svc.CreateConnection(context.Background(), conn); err != nil {
		t.Fatal(err)
	}
	if conn.Status != channel.ConnectionActive {
		t.Fatalf("status = %s, want active", conn.Status)
	}
	if _, ok := channels.conns[conn.ID]; !ok {
		t.Fatal("connection not persisted")
	}
	queued, _ := events.ListByStatus(context.Background(), outbox.StatusPending, 10)
	if len(queued) != 1 || queued[0].Kind != outbox.KindFullSync {
		t.Fatalf("expected one queued full sync, got %+v", queued)
	}

	// A second connection for the same property is a conflict.
	err := svc.CreateConnection(context.Background(), &channel.Connection{Provider: "channex", PropertyID: "prop-1", APIKey: "key2"})
	if !errors.Is(err, sync_errors.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestCreateConnectionValidatesInput(t *testing.T) {
	svc, _, _ := newChannelHarness(t)
	err := svc.CreateConnection(context.Background(), &channel.Connection{Provider: "channex"})
	if !errors.Is(err, sync_errors.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestCreateMappingQueuesBothPushes(t *testing.T) {
	svc, channels, events := newChannelHarness(t)
	connID := uuid.New()
	channels.conns[connID] = &channel.Connection{ID: connID, PropertyID: "prop-1", Status: channel.ConnectionActive}

	m := &channel.Mapping{ConnectionID: connID, UnitID: uuid.New(), RoomTypeID: "room-1", RatePlanID: "plan-1"}
	if err := svc.CreateMapping(context.Background(), m); err != nil {
		t.Fatal(err)
	}
	if !m.Active {
		t.Fatal("new mappings should start active")
	}
	queued, _ := events.ListByStatus(context.Background(), outbox.StatusPending, 10)
	kinds := map[outbox.Kind]int{}
	for _, e := range queued {
		kinds[e.Kind]++
	}
	if kinds[outbox.KindPriceUpdate] != 1 || kinds[outbox.KindAvailUpdate] != 1 {
		t.Fatalf("expected one price and one availability event, got %v", kinds)
	}
}

func TestConfiguredMaxAttemptsReachQueuedEvents(t *testing.T) {
	channels := newFakeChannelRepo()
	events := newFakeOutboxRepo()
	svc := NewChannelService(nil, channels, events, &fakeLedgerRepo{}, 30, 7, logger.New(logger.DevelopmentMode))
	svc.inTx = func(ctx context.Context, fn func(repository.DBTX) error) error {
		return fn(nil)
	}
	connID := uuid.New()
	channels.conns[connID] = &channel.Connection{ID: connID, PropertyID: "prop-1", Status: channel.ConnectionActive}

	event, err := svc.TriggerFullSync(context.Background(), connID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if event.MaxAttempts != 7 {
		t.Fatalf("queued event max attempts = %d, want the configured 7", event.MaxAttempts)
	}

	// An unset budget falls back to the queue default.
	defaulted, channelsDefault, eventsDefault := newChannelHarness(t)
	connID2 := uuid.New()
	channelsDefault.conns[connID2] = &channel.Connection{ID: connID2, PropertyID: "prop-2", Status: channel.ConnectionActive}
	if _, err := defaulted.TriggerFullSync(context.Background(), connID2, 0); err != nil {
		t.Fatal(err)
	}
	queued, _ := eventsDefault.ListByStatus(context.Background(), outbox.StatusPending, 10)
	if len(queued) != 1 || queued[0].MaxAttempts != outbox.DefaultMaxAttempts {
		t.Fatalf("unset budget should default, got %+v", queued)
	}
}

func TestTriggerFullSyncRejectsInactiveConnection(t *testing.T) {
	svc, channels, _ := newChannelHarness(t)
	connID := uuid.New()
	channels.conns[connID] = &channel.Connection{ID: connID, PropertyID: "prop-1", Status: channel.ConnectionInactive}

	_, err := svc.TriggerFullSync(context.Background(), connID, 0)
	if !errors.Is(err, sync_errors.ErrConnectionInactive) {
		t.Fatalf("err = %v, want ErrConnectionInactive", err)
	}
}

func TestRetryEventOnlyFromFailed(t *testing.T) {
	svc, _, events := newChannelHarness(t)

	event := &outbox.Event{
		ID:             uuid.New(),
		ConnectionID:   uuid.New(),
		Kind:           outbox.KindPriceUpdate,
		Status:         outbox.StatusFailed,
		Attempts:       5,
		MaxAttempts:    5,
		IdempotencyKey: uuid.NewString(),
		CreatedAt:      time.Now(),
	}
	if err := events.Create(context.Background(), nil, event); err != nil {
		t.Fatal(err)
	}

	reset, err := svc.RetryEvent(context.Background(), event.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reset.Status != outbox.StatusPending || reset.Attempts != 0 {
		t.Fatalf("reset event = %s/%d attempts, want pending/0", reset.Status, reset.Attempts)
	}

	// A completed event cannot be retried.
	done := &outbox.Event{
		ID:             uuid.New(),
		ConnectionID:   uuid.New(),
		Kind:           outbox.KindPriceUpdate,
		Status:         outbox.StatusCompleted,
		IdempotencyKey: uuid.NewString(),
	}
	if err := events.Create(context.Background(), nil, done); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.RetryEvent(context.Background(), done.ID); !errors.Is(err, sync_errors.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}
