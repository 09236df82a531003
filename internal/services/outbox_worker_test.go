package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"staysync/internal/channex"
	"staysync/internal/domain/booking"
	"staysync/internal/domain/channel"
	"staysync/internal/domain/ledger"
	"staysync/internal/domain/outbox"
	"staysync/internal/domain/ratestate"
	"staysync/internal/pricing"
	"staysync/internal/ratelimit"
	"staysync/internal/repository"
	sync_errors "staysync/pkg/errors"
	"staysync/pkg/logger"
)

// ---- in-memory fakes with the same state semantics as the SQL repos ----

type fakeOutboxRepo struct {
	events []*outbox.Event
	merged map[uuid.UUID]uuid.UUID
}

func newFakeOutboxRepo() *fakeOutboxRepo {
	return &fakeOutboxRepo{merged: map[uuid.UUID]uuid.UUID{}}
}

func (f *fakeOutboxRepo) get(id uuid.UUID) *outbox.Event {
	for _, e := range f.events {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func (f *fakeOutboxRepo) Create(_ context.Context, _ repository.DBTX, event *outbox.Event) error {
	for _, e := range f.events {
		if e.IdempotencyKey == event.IdempotencyKey {
			return sync_errors.ErrAlreadyExists
		}
	}
	clone := *event
	f.events = append(f.events, &clone)
	return nil
}

func (f *fakeOutboxRepo) GetByID(_ context.Context, id uuid.UUID) (*outbox.Event, error) {
	if e := f.get(id); e != nil {
		clone := *e
		return &clone, nil
	}
	return nil, sync_errors.ErrNotFound
}

func (f *fakeOutboxRepo) GetDue(_ context.Context, now time.Time, limit int) ([]outbox.Event, error) {
	var due []outbox.Event
	for _, e := range f.events {
		if (e.Status == outbox.StatusPending || e.Status == outbox.StatusRetrying) &&
			!e.NextAttemptAt.After(now) && e.Attempts < e.MaxAttempts {
			due = append(due, *e)
			if len(due) == limit {
				break
			}
		}
	}
	return due, nil
}

func (f *fakeOutboxRepo) Claim(_ context.Context, id uuid.UUID) (bool, error) {
	e := f.get(id)
	if e == nil || (e.Status != outbox.StatusPending && e.Status != outbox.StatusRetrying) {
		return false, nil
	}
	e.Status = outbox.StatusProcessing
	return true, nil
}

func (f *fakeOutboxRepo) MarkCompleted(_ context.Context, id uuid.UUID) error {
	e := f.get(id)
	e.Status = outbox.StatusCompleted
	now := time.Now()
	e.CompletedAt = &now
	return nil
}

func (f *fakeOutboxRepo) MarkFailed(_ context.Context, id uuid.UUID, errorMsg string) error {
	e := f.get(id)
	e.Status = outbox.StatusFailed
	e.LastError = errorMsg
	return nil
}

func (f *fakeOutboxRepo) RescheduleRetry(_ context.Context, id uuid.UUID, next time.Time, errorMsg string) error {
	e := f.get(id)
	e.Status = outbox.StatusRetrying
	e.Attempts++
	e.NextAttemptAt = next
	e.LastError = errorMsg
	return nil
}

func (f *fakeOutboxRepo) Requeue(_ context.Context, id uuid.UUID, next time.Time, reason string) error {
	e := f.get(id)
	e.Status = outbox.StatusRetrying
	e.NextAttemptAt = next
	e.LastError = reason
	return nil
}

func (f *fakeOutboxRepo) MarkMerged(_ context.Context, id uuid.UUID, winnerID uuid.UUID) error {
	e := f.get(id)
	e.Status = outbox.StatusCompleted
	f.merged[id] = winnerID
	return nil
}

func (f *fakeOutboxRepo) ReapStale(_ context.Context, _ time.Time) (int64, error) { return 0, nil }

func (f *fakeOutboxRepo) Reset(_ context.Context, id uuid.UUID) error {
	e := f.get(id)
	if e == nil || e.Status != outbox.StatusFailed {
		return sync_errors.ErrInvalidInput
	}
	e.Status = outbox.StatusPending
	e.Attempts = 0
	return nil
}

func (f *fakeOutboxRepo) ListByStatus(_ context.Context, status outbox.Status, limit int) ([]outbox.Event, error) {
	var out []outbox.Event
	for _, e := range f.events {
		if e.Status == status {
			out = append(out, *e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

type fakeChannelRepo struct {
	conns    map[uuid.UUID]*channel.Connection
	mappings []*channel.Mapping

	syncSuccesses int
	syncFailures  []string
	priceTouches  int
	availTouches  int
}

func newFakeChannelRepo() *fakeChannelRepo {
	return &fakeChannelRepo{conns: map[uuid.UUID]*channel.Connection{}}
}

func (f *fakeChannelRepo) CreateConnection(_ context.Context, _ repository.DBTX, conn *channel.Connection) error {
	f.conns[conn.ID] = conn
	return nil
}

func (f *fakeChannelRepo) GetConnection(_ context.Context, id uuid.UUID) (*channel.Connection, error) {
	if c, ok := f.conns[id]; ok {
		return c, nil
	}
	return nil, sync_errors.ErrNotFound
}

func (f *fakeChannelRepo) GetConnectionByProperty(_ context.Context, propertyID string) (*channel.Connection, error) {
	for _, c := range f.conns {
		if c.PropertyID == propertyID {
			return c, nil
		}
	}
	return nil, sync_errors.ErrNotFound
}

func (f *fakeChannelRepo) ListConnections(_ context.Context) ([]channel.Connection, error) {
	var out []channel.Connection
	for _, c := range f.conns {
		out = append(out, *c)
	}
	return out, nil
}

func (f *fakeChannelRepo) UpdateConnectionStatus(_ context.Context, id uuid.UUID, status channel.ConnectionStatus, lastError string) error {
	f.conns[id].Status = status
	f.conns[id].LastError = lastError
	return nil
}

func (f *fakeChannelRepo) RecordSyncSuccess(_ context.Context, id uuid.UUID, at time.Time) error {
	f.syncSuccesses++
	f.conns[id].LastSyncAt = &at
	f.conns[id].ErrorCount = 0
	return nil
}

func (f *fakeChannelRepo) RecordSyncFailure(_ context.Context, id uuid.UUID, errorMsg string) error {
	f.syncFailures = append(f.syncFailures, errorMsg)
	f.conns[id].ErrorCount++
	return nil
}

func (f *fakeChannelRepo) CreateMapping(_ context.Context, _ repository.DBTX, m *channel.Mapping) error {
	f.mappings = append(f.mappings, m)
	return nil
}

func (f *fakeChannelRepo) GetMapping(_ context.Context, connectionID, unitID uuid.UUID) (*channel.Mapping, error) {
	for _, m := range f.mappings {
		if m.ConnectionID == connectionID && m.UnitID == unitID {
			return m, nil
		}
	}
	return nil, sync_errors.ErrNotFound
}

func (f *fakeChannelRepo) FindMappingByRoomType(_ context.Context, connectionID uuid.UUID, roomTypeID string) (*channel.Mapping, error) {
	for _, m := range f.mappings {
		if m.ConnectionID == connectionID && m.RoomTypeID == roomTypeID {
			return m, nil
		}
	}
	return nil, sync_errors.ErrNotFound
}

func (f *fakeChannelRepo) FindMappingByRatePlan(_ context.Context, connectionID uuid.UUID, ratePlanID string) (*channel.Mapping, error) {
	for _, m := range f.mappings {
		if m.ConnectionID == connectionID && m.RatePlanID == ratePlanID {
			return m, nil
		}
	}
	return nil, sync_errors.ErrNotFound
}

func (f *fakeChannelRepo) ListActiveMappings(_ context.Context, connectionID uuid.UUID) ([]channel.Mapping, error) {
	var out []channel.Mapping
	for _, m := range f.mappings {
		if m.ConnectionID == connectionID && m.Active {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (f *fakeChannelRepo) ListMappingsForUnit(_ context.Context, unitID uuid.UUID) ([]channel.Mapping, error) {
	var out []channel.Mapping
	for _, m := range f.mappings {
		if m.UnitID == unitID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (f *fakeChannelRepo) TouchPriceSync(_ context.Context, _ uuid.UUID, _ time.Time) error {
	f.priceTouches++
	return nil
}

func (f *fakeChannelRepo) TouchAvailSync(_ context.Context, _ uuid.UUID, _ time.Time) error {
	f.availTouches++
	return nil
}

type fakeBookingRepo struct {
	bookings  []booking.Booking
	revisions []booking.Revision
}

func (f *fakeBookingRepo) Create(_ context.Context, _ repository.DBTX, b *booking.Booking) error {
	f.bookings = append(f.bookings, *b)
	return nil
}

func (f *fakeBookingRepo) Update(_ context.Context, _ repository.DBTX, b *booking.Booking) error {
	for i := range f.bookings {
		if f.bookings[i].ID == b.ID {
			f.bookings[i] = *b
			return nil
		}
	}
	return sync_errors.ErrNotFound
}

func (f *fakeBookingRepo) GetByExternalID(_ context.Context, reservationID string) (*booking.Booking, error) {
	for i := range f.bookings {
		if f.bookings[i].ExternalReservationID == reservationID {
			clone := f.bookings[i]
			return &clone, nil
		}
	}
	return nil, sync_errors.ErrNotFound
}

func (f *fakeBookingRepo) ListActiveForUnit(_ context.Context, unitID uuid.UUID, from, to time.Time) ([]booking.Booking, error) {
	var out []booking.Booking
	for _, b := range f.bookings {
		if b.UnitID == unitID && b.Active() && b.Overlaps(from, to) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeBookingRepo) CreateRevision(_ context.Context, _ repository.DBTX, rev *booking.Revision) error {
	f.revisions = append(f.revisions, *rev)
	return nil
}

func (f *fakeBookingRepo) HasRevision(_ context.Context, externalBookingID, revisionID string) (bool, error) {
	for _, r := range f.revisions {
		if r.ExternalBookingID == externalBookingID && r.RevisionID == revisionID {
			return true, nil
		}
	}
	return false, nil
}

type fakePricingRepo struct {
	policies map[uuid.UUID]*pricing.Policy
}

func (f *fakePricingRepo) Upsert(_ context.Context, _ repository.DBTX, p *pricing.Policy) error {
	f.policies[p.UnitID] = p
	return nil
}

func (f *fakePricingRepo) GetByUnit(_ context.Context, unitID uuid.UUID) (*pricing.Policy, error) {
	if p, ok := f.policies[unitID]; ok {
		return p, nil
	}
	return nil, sync_errors.ErrNotFound
}

type fakeLedgerRepo struct {
	entries []ledger.Entry
}

func (f *fakeLedgerRepo) Append(_ context.Context, entry *ledger.Entry) error {
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeLedgerRepo) List(_ context.Context, _ *uuid.UUID, _ int) ([]ledger.Entry, error) {
	return f.entries, nil
}

// fakePusher replays scripted results, defaulting to success.
type fakePusher struct {
	results    []*channex.Result
	rateCalls  [][]channex.RateValue
	availCalls [][]channex.AvailabilityValue
}

func (p *fakePusher) next() *channex.Result {
	if len(p.results) == 0 {
		return &channex.Result{StatusCode: 200, Success: true}
	}
	r := p.results[0]
	p.results = p.results[1:]
	return r
}

func (p *fakePusher) PushRates(_ context.Context, _ string, values []channex.RateValue) (*channex.Result, error) {
	p.rateCalls = append(p.rateCalls, values)
	return p.next(), nil
}

func (p *fakePusher) PushAvailability(_ context.Context, _ string, values []channex.AvailabilityValue) (*channex.Result, error) {
	p.availCalls = append(p.availCalls, values)
	return p.next(), nil
}

// ---- harness ----

type workerHarness struct {
	worker   *OutboxWorker
	outbox   *fakeOutboxRepo
	channels *fakeChannelRepo
	bookings *fakeBookingRepo
	policies *fakePricingRepo
	entries  *fakeLedgerRepo
	states   *fakeStateStore
	pusher   *fakePusher
	clock    time.Time

	connID uuid.UUID
	unitID uuid.UUID
}

type fakeStateStore struct {
	states map[string]*ratestate.State
}

func (f *fakeStateStore) GetOrCreate(_ context.Context, propertyID string, metric ratestate.Metric, capacity float64) (*ratestate.State, error) {
	k := propertyID + "|" + string(metric)
	if s, ok := f.states[k]; ok {
		clone := *s
		return &clone, nil
	}
	s := &ratestate.State{
		PropertyID:   propertyID,
		Metric:       metric,
		Tokens:       capacity,
		Capacity:     capacity,
		LastRefillAt: time.Now(),
	}
	f.states[k] = s
	clone := *s
	return &clone, nil
}

func (f *fakeStateStore) Save(_ context.Context, state *ratestate.State) (bool, error) {
	k := state.PropertyID + "|" + string(state.Metric)
	stored, ok := f.states[k]
	if !ok || stored.Version != state.Version {
		return false, nil
	}
	clone := *state
	clone.Version++
	f.states[k] = &clone
	state.Version++
	return true, nil
}

func newWorkerHarness(t *testing.T) *workerHarness {
	t.Helper()
	h := &workerHarness{
		outbox:   newFakeOutboxRepo(),
		channels: newFakeChannelRepo(),
		bookings: &fakeBookingRepo{},
		policies: &fakePricingRepo{policies: map[uuid.UUID]*pricing.Policy{}},
		entries:  &fakeLedgerRepo{},
		states:   &fakeStateStore{states: map[string]*ratestate.State{}},
		pusher:   &fakePusher{},
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
	h.policies.policies[h.unitID] = &pricing.Policy{
		UnitID:    h.unitID,
		BasePrice: 100,
		Timezone:  "UTC",
	}

	log := logger.New(logger.DevelopmentMode)
	limiter := ratelimit.New(h.states, log)
	h.worker = NewOutboxWorker(
		h.outbox, h.channels, h.bookings, h.policies, h.entries,
		limiter,
		func(_ *channel.Connection) ARIPusher { return h.pusher },
		WorkerConfig{
			Interval:    time.Second,
			BatchSize:   50,
			BackoffBase: time.Minute,
			BackoffCap:  time.Hour,
			SyncDays:    3,
			MaxPayload:  51200,
		},
		log,
	)
	h.worker.now = func() time.Time { return h.clock }
	return h
}

func (h *workerHarness) seedEvent(t *testing.T, kind outbox.Kind, createdAt time.Time) *outbox.Event {
	t.Helper()
	var unit *uuid.UUID
	if kind != outbox.KindFullSync {
		uid := h.unitID
		unit = &uid
	}
	payload, _ := json.Marshal(syncScope{DaysAhead: 3})
	event := &outbox.Event{
		ID:             uuid.New(),
		ConnectionID:   h.connID,
		UnitID:         unit,
		Kind:           kind,
		Payload:        payload,
		Status:         outbox.StatusPending,
		MaxAttempts:    outbox.DefaultMaxAttempts,
		NextAttemptAt:  createdAt,
		IdempotencyKey: uuid.NewString(),
		CreatedAt:      createdAt,
	}
	if err := h.outbox.Create(context.Background(), nil, event); err != nil {
		t.Fatal(err)
	}
	return h.outbox.get(event.ID)
}

// ---- tests ----

func TestMergeKeepsNewestEvent(t *testing.T) {
	h := newWorkerHarness(t)
	older := h.seedEvent(t, outbox.KindPriceUpdate, h.clock.Add(-2*time.Minute))
	newer := h.seedEvent(t, outbox.KindPriceUpdate, h.clock.Add(-time.Minute))

	h.worker.processBatch()

	if older.Status != outbox.StatusCompleted {
		t.Fatalf("older event status = %s, want completed", older.Status)
	}
	if winner, ok := h.outbox.merged[older.ID]; !ok || winner != newer.ID {
		t.Fatalf("older event should be merged into %s, got %v", newer.ID, winner)
	}
	if newer.Status != outbox.StatusCompleted {
		t.Fatalf("newer event status = %s, want completed", newer.Status)
	}
	if len(h.pusher.rateCalls) != 1 {
		t.Fatalf("partner should be called once, got %d calls", len(h.pusher.rateCalls))
	}
}

func TestDispatchSuccessCompletesAndRecords(t *testing.T) {
	h := newWorkerHarness(t)
	event := h.seedEvent(t, outbox.KindPriceUpdate, h.clock.Add(-time.Minute))

	h.worker.processBatch()

	if event.Status != outbox.StatusCompleted {
		t.Fatalf("event status = %s, want completed", event.Status)
	}
	if len(h.pusher.rateCalls) != 1 {
		t.Fatalf("expected one rate push, got %d", len(h.pusher.rateCalls))
	}
	values := h.pusher.rateCalls[0]
	if len(values) != 3 {
		t.Fatalf("expected 3 nightly rates, got %d", len(values))
	}
	if values[0].Rate != "100.00" {
		t.Fatalf("rate = %q, want two-decimal string \"100.00\"", values[0].Rate)
	}
	if h.channels.syncSuccesses != 1 || h.channels.priceTouches != 1 {
		t.Fatalf("sync success/touch not recorded: %d/%d", h.channels.syncSuccesses, h.channels.priceTouches)
	}
	if len(h.entries.entries) != 1 {
		t.Fatalf("expected one ledger entry, got %d", len(h.entries.entries))
	}
	entry := h.entries.entries[0]
	if entry.Status != ledger.StatusSuccess || entry.EntityType != ledger.EntityRate || entry.Direction != ledger.DirectionOutbound {
		t.Fatalf("unexpected ledger entry %+v", entry)
	}
	if entry.RecordCount != 3 || entry.PayloadHash == "" {
		t.Fatalf("ledger entry should carry record count and payload hash, got %+v", entry)
	}
}

func TestAvailabilityReflectsActiveBookings(t *testing.T) {
	h := newWorkerHarness(t)
	// One booking covering the second night of the horizon.
	h.bookings.bookings = append(h.bookings.bookings, booking.Booking{
		ID:           uuid.New(),
		UnitID:       h.unitID,
		Status:       booking.StatusConfirmed,
		CheckInDate:  time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC),
		CheckOutDate: time.Date(2025, 6, 4, 0, 0, 0, 0, time.UTC),
	})
	event := h.seedEvent(t, outbox.KindAvailUpdate, h.clock.Add(-time.Minute))

	h.worker.processBatch()

	if event.Status != outbox.StatusCompleted {
		t.Fatalf("event status = %s, want completed", event.Status)
	}
	if len(h.pusher.availCalls) != 1 {
		t.Fatalf("expected one availability push, got %d", len(h.pusher.availCalls))
	}
	values := h.pusher.availCalls[0]
	want := []int{1, 0, 1}
	for i, v := range values {
		if v.Availability != want[i] {
			t.Fatalf("availability[%d] (%s) = %d, want %d", i, v.Date, v.Availability, want[i])
		}
	}
	if h.channels.availTouches != 1 {
		t.Fatalf("availability touch not recorded")
	}
}

func TestPartnerThrottleRequeuesWithoutAttempt(t *testing.T) {
	h := newWorkerHarness(t)
	event := h.seedEvent(t, outbox.KindPriceUpdate, h.clock.Add(-time.Minute))
	h.pusher.results = []*channex.Result{
		{StatusCode: 429, RateLimited: true, Retryable: true, Err: "rate limited by partner"},
	}

	h.worker.processBatch()

	if event.Status != outbox.StatusRetrying {
		t.Fatalf("event status = %s, want retrying", event.Status)
	}
	if event.Attempts != 0 {
		t.Fatalf("a 429 must not count as an attempt, got %d", event.Attempts)
	}
	next := event.NextAttemptAt.Sub(h.clock)
	if next != 60*time.Second {
		t.Fatalf("requeue delay = %v, want first pause of 60s", next)
	}
	state := h.states.states["prop-1|price"]
	if state == nil || state.PauseCount != 1 {
		t.Fatalf("throttle should be registered on the shared bucket, got %+v", state)
	}
}

func TestTransientFailureSchedulesBackoff(t *testing.T) {
	h := newWorkerHarness(t)
	event := h.seedEvent(t, outbox.KindPriceUpdate, h.clock.Add(-time.Minute))
	h.pusher.results = []*channex.Result{
		{StatusCode: 502, Retryable: true, Err: "server error 502"},
		{StatusCode: 502, Retryable: true, Err: "server error 502"},
	}

	h.worker.processBatch()
	if event.Status != outbox.StatusRetrying || event.Attempts != 1 {
		t.Fatalf("after first failure: status=%s attempts=%d", event.Status, event.Attempts)
	}
	if got := event.NextAttemptAt.Sub(h.clock); got != time.Minute {
		t.Fatalf("first backoff = %v, want 1m", got)
	}

	h.clock = event.NextAttemptAt.Add(time.Second)
	h.worker.processBatch()
	if event.Attempts != 2 {
		t.Fatalf("after second failure: attempts=%d, want 2", event.Attempts)
	}
	if got := event.NextAttemptAt.Sub(h.clock); got != 2*time.Minute {
		t.Fatalf("second backoff = %v, want 2m", got)
	}
}

func TestTransientFailureExhaustsAttempts(t *testing.T) {
	h := newWorkerHarness(t)
	event := h.seedEvent(t, outbox.KindPriceUpdate, h.clock.Add(-time.Minute))
	event.Attempts = outbox.DefaultMaxAttempts - 1
	h.pusher.results = []*channex.Result{
		{StatusCode: 503, Retryable: true, Err: "server error 503"},
	}

	h.worker.processBatch()

	if event.Status != outbox.StatusFailed {
		t.Fatalf("event status = %s, want failed after exhausting attempts", event.Status)
	}
	if len(h.channels.syncFailures) != 1 {
		t.Fatalf("connection failure should be recorded, got %v", h.channels.syncFailures)
	}
}

func TestPermanentClientErrorFailsImmediately(t *testing.T) {
	h := newWorkerHarness(t)
	event := h.seedEvent(t, outbox.KindPriceUpdate, h.clock.Add(-time.Minute))
	h.pusher.results = []*channex.Result{
		{StatusCode: 422, Err: "client error 422: invalid rate plan"},
	}

	h.worker.processBatch()

	if event.Status != outbox.StatusFailed {
		t.Fatalf("event status = %s, want failed", event.Status)
	}
	if event.Attempts != 0 {
		t.Fatalf("permanent failure should not wait for retries, attempts=%d", event.Attempts)
	}
	if len(h.channels.syncFailures) != 1 {
		t.Fatalf("connection failure should be recorded")
	}
}

func TestMissingMappingFailsPermanently(t *testing.T) {
	h := newWorkerHarness(t)
	h.channels.mappings = nil
	event := h.seedEvent(t, outbox.KindPriceUpdate, h.clock.Add(-time.Minute))

	h.worker.processBatch()

	if event.Status != outbox.StatusFailed {
		t.Fatalf("event status = %s, want failed", event.Status)
	}
	if len(h.pusher.rateCalls) != 0 {
		t.Fatalf("partner must not be called without a mapping")
	}
}

func TestInactiveConnectionFailsEvent(t *testing.T) {
	h := newWorkerHarness(t)
	h.channels.conns[h.connID].Status = channel.ConnectionInactive
	event := h.seedEvent(t, outbox.KindPriceUpdate, h.clock.Add(-time.Minute))

	h.worker.processBatch()

	if event.Status != outbox.StatusFailed {
		t.Fatalf("event status = %s, want failed", event.Status)
	}
	if len(h.pusher.rateCalls) != 0 {
		t.Fatalf("partner must not be called on an inactive connection")
	}
}

func TestLimiterPauseDefersDispatch(t *testing.T) {
	h := newWorkerHarness(t)
	until := time.Now().Add(time.Hour)
	h.states.states["prop-1|price"] = &ratestate.State{
		PropertyID:   "prop-1",
		Metric:       ratestate.MetricPrice,
		Tokens:       10,
		Capacity:     10,
		LastRefillAt: time.Now(),
		PausedUntil:  &until,
		PauseCount:   1,
	}
	event := h.seedEvent(t, outbox.KindPriceUpdate, h.clock.Add(-time.Minute))

	h.worker.processBatch()

	if event.Status != outbox.StatusRetrying {
		t.Fatalf("event status = %s, want retrying", event.Status)
	}
	if event.Attempts != 0 {
		t.Fatalf("a limiter denial must not count as an attempt, got %d", event.Attempts)
	}
	if len(h.pusher.rateCalls) != 0 {
		t.Fatalf("partner must not be called while paused")
	}
}

func TestFullSyncFansOutPerMapping(t *testing.T) {
	h := newWorkerHarness(t)
	secondUnit := uuid.New()
	h.channels.mappings = append(h.channels.mappings, &channel.Mapping{
		ID:           uuid.New(),
		ConnectionID: h.connID,
		UnitID:       secondUnit,
		RoomTypeID:   "room-2",
		RatePlanID:   "plan-2",
		Active:       true,
	})
	event := h.seedEvent(t, outbox.KindFullSync, h.clock.Add(-time.Minute))

	h.worker.processBatch()

	if event.Status != outbox.StatusCompleted {
		t.Fatalf("full sync status = %s, want completed", event.Status)
	}
	pending, _ := h.outbox.ListByStatus(context.Background(), outbox.StatusPending, 100)
	if len(pending) != 4 {
		t.Fatalf("fan-out should queue 4 events (2 units x 2 kinds), got %d", len(pending))
	}
	kinds := map[outbox.Kind]int{}
	for _, e := range pending {
		kinds[e.Kind]++
		if e.UnitID == nil {
			t.Fatal("fanned-out events must be unit scoped")
		}
	}
	if kinds[outbox.KindPriceUpdate] != 2 || kinds[outbox.KindAvailUpdate] != 2 {
		t.Fatalf("fan-out kinds = %v", kinds)
	}
}

func TestChunkValuesRespectsByteLimit(t *testing.T) {
	values := make([]channex.RateValue, 10)
	for i := range values {
		values[i] = channex.RateValue{Date: "2025-06-01", Rate: "100.00"}
	}
	one, _ := json.Marshal(values[0])
	// Room for three items per chunk.
	chunks := chunkValues(values, (len(one)+1)*3+2)

	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(chunks))
	}
	total := 0
	for _, c := range chunks {
		if len(c) > 3 {
			t.Fatalf("chunk holds %d items, want at most 3", len(c))
		}
		total += len(c)
	}
	if total != 10 {
		t.Fatalf("chunking lost items: %d of 10", total)
	}
}
