package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"staysync/internal/domain/booking"
	"staysync/internal/domain/channel"
	"staysync/internal/domain/outbox"
	"staysync/internal/domain/webhook"
	"staysync/internal/repository"
	sync_errors "staysync/pkg/errors"
	"staysync/pkg/logger"
)

type processorHarness struct {
	proc     *WebhookProcessor
	webhooks *fakeWebhookRepo
	bookings *fakeBookingRepo
	channels *fakeChannelRepo
	outbox   *fakeOutboxRepo
	entries  *fakeLedgerRepo
	clock    time.Time

	connID uuid.UUID
	unitID uuid.UUID
}

func newProcessorHarness(t *testing.T) *processorHarness {
	t.Helper()
	h := &processorHarness{
		webhooks: newFakeWebhookRepo(),
		bookings: &fakeBookingRepo{},
		channels: newFakeChannelRepo(),
		outbox:   newFakeOutboxRepo(),
		entries:  &fakeLedgerRepo{},
		clock:    time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC),
		connID:   uuid.New(),
		unitID:   uuid.New(),
	}
	h.channels.conns[h.connID] = &channel.Connection{
		ID:         h.connID,
		Provider:   "channex",
		PropertyID: "prop-1",
		Status:     channel.ConnectionActive,
	}
	h.channels.mappings = append(h.channels.mappings, &channel.Mapping{
		ID:           uuid.New(),
		ConnectionID: h.connID,
		UnitID:       h.unitID,
		RoomTypeID:   "room-1",
		RatePlanID:   "plan-1",
		Active:       true,
	})

	log := logger.New(logger.DevelopmentMode)
	h.proc = NewWebhookProcessor(nil, h.webhooks, h.bookings, h.channels, h.outbox, h.entries,
		ProcessorConfig{SyncDays: 3}, log)
	h.proc.now = func() time.Time { return h.clock }
	h.proc.inTx = func(ctx context.Context, fn func(repository.DBTX) error) error {
		return fn(nil)
	}
	return h
}

func (h *processorHarness) seedRecord(t *testing.T, eventID, payload string) *webhook.Record {
	t.Helper()
	env, err := webhook.ParseEnvelope([]byte(payload))
	if err != nil {
		t.Fatal(err)
	}
	rec := &webhook.Record{
		ID:         uuid.New(),
		Provider:   "channex",
		EventID:    eventID,
		EventType:  env.KindName(),
		Payload:    []byte(payload),
		ReceivedAt: h.clock,
		Status:     webhook.StatusReceived,
	}
	if err := h.webhooks.Create(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	return h.webhooks.get(rec.ID)
}

func bookingPayload(event, reservationID, revisionID, updatedAt string) string {
	return fmt.Sprintf(`{
		"event": %q,
		"id": "evt-%s-%s",
		"property_id": "prop-1",
		"timestamp": "2025-06-02T11:59:00Z",
		"data": {
			"id": %q,
			"revision_id": %q,
			"room_type_id": "room-1",
			"arrival_date": "2025-06-10",
			"departure_date": "2025-06-12",
			"status": "new",
			"total_price": 450.50,
			"currency": "SAR",
			"ota_name": "Airbnb",
			"updated_at": %q,
			"guest": {"name": "Lina Hassan", "phone": "+966500000000"}
		}
	}`, event, reservationID, revisionID, reservationID, revisionID, updatedAt)
}

func TestProcessCreatesBookingAndQueuesAvailability(t *testing.T) {
	h := newProcessorHarness(t)
	rec := h.seedRecord(t, "evt-new-1", bookingPayload("booking.new", "res-1", "rev-1", "2025-06-02T11:58:00Z"))

	h.proc.Process(context.Background(), rec)

	if rec.Status != webhook.StatusProcessed || rec.Action != webhook.ActionCreated {
		t.Fatalf("record = %s/%s, want processed/created", rec.Status, rec.Action)
	}
	if len(h.bookings.bookings) != 1 {
		t.Fatalf("expected one booking, got %d", len(h.bookings.bookings))
	}
	b := h.bookings.bookings[0]
	if b.ExternalReservationID != "res-1" || b.UnitID != h.unitID {
		t.Fatalf("booking scope wrong: %+v", b)
	}
	if b.GuestName != "Lina Hassan" || b.TotalPrice != 450.50 || b.ChannelSource != "airbnb" {
		t.Fatalf("booking fields wrong: %+v", b)
	}
	if b.Status != booking.StatusConfirmed || b.SourceType != booking.SourceChannel {
		t.Fatalf("booking status/source wrong: %+v", b)
	}
	if len(h.bookings.revisions) != 1 || !h.bookings.revisions[0].Applied {
		t.Fatalf("applied revision should be recorded, got %+v", h.bookings.revisions)
	}

	queued, _ := h.outbox.ListByStatus(context.Background(), outbox.StatusPending, 10)
	if len(queued) != 1 || queued[0].Kind != outbox.KindAvailUpdate {
		t.Fatalf("a reciprocal availability event should be queued, got %+v", queued)
	}
	if queued[0].UnitID == nil || *queued[0].UnitID != h.unitID {
		t.Fatal("availability event should target the mapped unit")
	}
}

func TestProcessReplayAnswersFromIdempotencyTable(t *testing.T) {
	h := newProcessorHarness(t)
	payload := bookingPayload("booking.new", "res-2", "rev-1", "2025-06-02T11:58:00Z")
	first := h.seedRecord(t, "evt-replay", payload)
	h.proc.Process(context.Background(), first)

	// Same partner event id delivered again.
	replay := h.seedRecord(t, "evt-replay", payload)
	h.proc.Process(context.Background(), replay)

	if replay.Status != webhook.StatusProcessed || replay.Action != webhook.ActionCreated {
		t.Fatalf("replay = %s/%s, want processed/created", replay.Status, replay.Action)
	}
	if len(h.bookings.bookings) != 1 {
		t.Fatalf("replay must not create a second booking, got %d", len(h.bookings.bookings))
	}
	queued, _ := h.outbox.ListByStatus(context.Background(), outbox.StatusPending, 10)
	if len(queued) != 1 {
		t.Fatalf("replay must not queue a second availability event, got %d", len(queued))
	}
}

func TestModifiedForUnknownReservationCreates(t *testing.T) {
	h := newProcessorHarness(t)
	rec := h.seedRecord(t, "evt-mod-1", bookingPayload("booking.modified", "res-3", "rev-1", "2025-06-02T11:58:00Z"))

	h.proc.Process(context.Background(), rec)

	if rec.Action != webhook.ActionCreated {
		t.Fatalf("action = %s, want created for an unseen reservation", rec.Action)
	}
	if len(h.bookings.bookings) != 1 {
		t.Fatalf("expected one booking, got %d", len(h.bookings.bookings))
	}
}

func TestModifiedUpdatesExistingBooking(t *testing.T) {
	h := newProcessorHarness(t)
	create := h.seedRecord(t, "evt-up-1", bookingPayload("booking.new", "res-4", "rev-1", "2025-06-02T11:00:00Z"))
	h.proc.Process(context.Background(), create)

	update := h.seedRecord(t, "evt-up-2", bookingPayload("booking.modified", "res-4", "rev-2", "2025-06-02T11:30:00Z"))
	h.proc.Process(context.Background(), update)

	if update.Action != webhook.ActionUpdated {
		t.Fatalf("action = %s, want updated", update.Action)
	}
	if len(h.bookings.bookings) != 1 {
		t.Fatalf("update must not duplicate the booking, got %d", len(h.bookings.bookings))
	}
	if h.bookings.bookings[0].ExternalRevisionID != "rev-2" {
		t.Fatalf("revision id not advanced: %+v", h.bookings.bookings[0])
	}
}

func TestDuplicateRevisionSkipped(t *testing.T) {
	h := newProcessorHarness(t)
	first := h.seedRecord(t, "evt-rev-1", bookingPayload("booking.new", "res-5", "rev-1", "2025-06-02T11:00:00Z"))
	h.proc.Process(context.Background(), first)

	// Different event id, same revision of the same reservation.
	dup := h.seedRecord(t, "evt-rev-2", bookingPayload("booking.modified", "res-5", "rev-1", "2025-06-02T11:00:00Z"))
	h.proc.Process(context.Background(), dup)

	if dup.Status != webhook.StatusSkipped || dup.Action != webhook.ActionSkipped {
		t.Fatalf("record = %s/%s, want skipped/skipped", dup.Status, dup.Action)
	}
	queued, _ := h.outbox.ListByStatus(context.Background(), outbox.StatusPending, 10)
	if len(queued) != 1 {
		t.Fatalf("duplicate revision must not queue more sync work, got %d events", len(queued))
	}
}

func TestOutOfOrderRevisionSkipped(t *testing.T) {
	h := newProcessorHarness(t)
	current := h.seedRecord(t, "evt-ooo-1", bookingPayload("booking.modified", "res-6", "rev-5", "2025-06-02T11:30:00Z"))
	h.proc.Process(context.Background(), current)

	// An older revision arriving late must not roll the booking back.
	late := h.seedRecord(t, "evt-ooo-2", bookingPayload("booking.modified", "res-6", "rev-4", "2025-06-02T10:00:00Z"))
	h.proc.Process(context.Background(), late)

	if late.Action != webhook.ActionOutOfOrder {
		t.Fatalf("action = %s, want %s", late.Action, webhook.ActionOutOfOrder)
	}
	if h.bookings.bookings[0].ExternalRevisionID != "rev-5" {
		t.Fatalf("stale revision applied: %+v", h.bookings.bookings[0])
	}
	last := h.bookings.revisions[len(h.bookings.revisions)-1]
	if last.RevisionID != "rev-4" || last.Applied {
		t.Fatalf("stale revision should be stored unapplied, got %+v", last)
	}
}

func TestCancelFreesDatesAndQueuesAvailability(t *testing.T) {
	h := newProcessorHarness(t)
	create := h.seedRecord(t, "evt-cxl-1", bookingPayload("booking.new", "res-7", "rev-1", "2025-06-02T11:00:00Z"))
	h.proc.Process(context.Background(), create)

	cancel := h.seedRecord(t, "evt-cxl-2", bookingPayload("booking.cancelled", "res-7", "rev-2", "2025-06-02T11:30:00Z"))
	h.proc.Process(context.Background(), cancel)

	if cancel.Action != webhook.ActionCancelled {
		t.Fatalf("action = %s, want cancelled", cancel.Action)
	}
	if h.bookings.bookings[0].Status != booking.StatusCancelled {
		t.Fatalf("booking not cancelled: %+v", h.bookings.bookings[0])
	}
	queued, _ := h.outbox.ListByStatus(context.Background(), outbox.StatusPending, 10)
	if len(queued) != 2 {
		t.Fatalf("cancellation should queue its own availability event, got %d", len(queued))
	}
}

func TestCancelUnknownReservationRecordsNotFound(t *testing.T) {
	h := newProcessorHarness(t)
	rec := h.seedRecord(t, "evt-cxl-3", bookingPayload("booking.cancelled", "res-ghost", "rev-1", "2025-06-02T11:30:00Z"))

	h.proc.Process(context.Background(), rec)

	if rec.Status != webhook.StatusSkipped || rec.Action != webhook.ActionNotFound {
		t.Fatalf("record = %s/%s, want skipped/not_found", rec.Status, rec.Action)
	}
	idem, err := h.webhooks.GetIdempotency(context.Background(), "channex", "evt-cxl-3")
	if err != nil || idem.Action != webhook.ActionNotFound {
		t.Fatalf("outcome should be pinned for replays, got %+v, %v", idem, err)
	}
}

func TestUnmatchedPropertySkipped(t *testing.T) {
	h := newProcessorHarness(t)
	payload := `{"event":"booking.new","id":"evt-um-1","property_id":"prop-unknown","data":{"id":"res-8","arrival_date":"2025-06-10","departure_date":"2025-06-12"}}`
	rec := h.seedRecord(t, "evt-um-1", payload)

	h.proc.Process(context.Background(), rec)

	if rec.Status != webhook.StatusSkipped || rec.Action != webhook.ActionUnmatched {
		t.Fatalf("record = %s/%s, want skipped/unmatched", rec.Status, rec.Action)
	}
	if len(h.bookings.bookings) != 0 {
		t.Fatal("unmatched event must not touch bookings")
	}
	// The property may get connected later, so the outcome stays open
	// and a replay re-evaluates the event.
	if _, err := h.webhooks.GetIdempotency(context.Background(), "channex", "evt-um-1"); !errors.Is(err, sync_errors.ErrNotFound) {
		t.Fatalf("unmatched outcome must not be pinned, got %v", err)
	}
}

func TestUnmappedRoomTypeFailsUntilMappingExists(t *testing.T) {
	h := newProcessorHarness(t)
	// No mappings at all, so not even the single-mapping fallback can
	// resolve the room.
	h.channels.mappings = nil
	rec := h.seedRecord(t, "evt-map-1", bookingPayload("booking.new", "res-map", "rev-1", "2025-06-02T11:58:00Z"))

	h.proc.Process(context.Background(), rec)

	if rec.Status != webhook.StatusFailed {
		t.Fatalf("record status = %s, want failed", rec.Status)
	}
	if !strings.Contains(rec.Error, "unmapped_room_type") {
		t.Fatalf("record error = %q, want the unmapped_room_type marker", rec.Error)
	}
	if len(h.bookings.bookings) != 0 {
		t.Fatal("unmapped event must not touch bookings")
	}
	if _, err := h.webhooks.GetIdempotency(context.Background(), "channex", "evt-map-1"); !errors.Is(err, sync_errors.ErrNotFound) {
		t.Fatalf("failed outcome must not be pinned, got %v", err)
	}

	// The operator creates the mapping and replays the failed record.
	h.channels.mappings = append(h.channels.mappings, &channel.Mapping{
		ID:           uuid.New(),
		ConnectionID: h.connID,
		UnitID:       h.unitID,
		RoomTypeID:   "room-1",
		RatePlanID:   "plan-1",
		Active:       true,
	})
	h.proc.Process(context.Background(), rec)

	if rec.Status != webhook.StatusProcessed || rec.Action != webhook.ActionCreated {
		t.Fatalf("replayed record = %s/%s, want processed/created", rec.Status, rec.Action)
	}
	if len(h.bookings.bookings) != 1 {
		t.Fatalf("replay should apply the booking, got %d", len(h.bookings.bookings))
	}
}

func TestStuckProcessingRecordRequeued(t *testing.T) {
	h := newProcessorHarness(t)
	stuck := h.seedRecord(t, "evt-stuck-1", bookingPayload("booking.new", "res-stuck", "rev-1", "2025-06-02T11:58:00Z"))
	// A crashed processor left the claim behind long ago.
	stuck.Status = webhook.StatusProcessing
	stuck.ReceivedAt = h.clock.Add(-time.Hour)

	fresh := h.seedRecord(t, "evt-stuck-2", bookingPayload("booking.new", "res-live", "rev-1", "2025-06-02T11:58:00Z"))
	fresh.Status = webhook.StatusProcessing

	h.proc.processBatch()

	if stuck.Status != webhook.StatusProcessed || stuck.Action != webhook.ActionCreated {
		t.Fatalf("stale record = %s/%s, want processed/created after requeue", stuck.Status, stuck.Action)
	}
	if fresh.Status != webhook.StatusProcessing {
		t.Fatalf("recently claimed record must stay claimed, got %s", fresh.Status)
	}
}

func TestOverlappingBookingConflicts(t *testing.T) {
	h := newProcessorHarness(t)
	h.bookings.bookings = append(h.bookings.bookings, booking.Booking{
		ID:                    uuid.New(),
		UnitID:                h.unitID,
		Status:                booking.StatusConfirmed,
		ExternalReservationID: "res-other",
		CheckInDate:           time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC),
		CheckOutDate:          time.Date(2025, 6, 13, 0, 0, 0, 0, time.UTC),
	})
	rec := h.seedRecord(t, "evt-cfl-1", bookingPayload("booking.new", "res-9", "rev-1", "2025-06-02T11:00:00Z"))

	h.proc.Process(context.Background(), rec)

	if rec.Status != webhook.StatusSkipped || rec.Action != webhook.ActionConflict {
		t.Fatalf("record = %s/%s, want skipped/conflict", rec.Status, rec.Action)
	}
	if len(h.bookings.bookings) != 1 {
		t.Fatal("conflicting event must not create a booking")
	}
}

func TestUnknownEventKindIgnored(t *testing.T) {
	h := newProcessorHarness(t)
	payload := `{"event":"property.updated","id":"evt-ig-1","property_id":"prop-1","data":{}}`
	rec := h.seedRecord(t, "evt-ig-1", payload)

	h.proc.Process(context.Background(), rec)

	if rec.Status != webhook.StatusSkipped || rec.Action != webhook.ActionIgnored {
		t.Fatalf("record = %s/%s, want skipped/ignored", rec.Status, rec.Action)
	}
}

func TestMissingDatesInvalid(t *testing.T) {
	h := newProcessorHarness(t)
	payload := `{"event":"booking.new","id":"evt-inv-1","property_id":"prop-1","data":{"id":"res-10","room_type_id":"room-1"}}`
	rec := h.seedRecord(t, "evt-inv-1", payload)

	h.proc.Process(context.Background(), rec)

	if rec.Status != webhook.StatusSkipped || rec.Action != webhook.ActionInvalid {
		t.Fatalf("record = %s/%s, want skipped/%s", rec.Status, rec.Action, webhook.ActionInvalid)
	}
}
