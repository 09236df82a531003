package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"staysync/internal/channex"
	"staysync/internal/domain/channel"
	"staysync/internal/domain/ledger"
	"staysync/internal/domain/outbox"
	"staysync/internal/domain/ratestate"
	"staysync/internal/metrics"
	"staysync/internal/ratelimit"
	"staysync/internal/repository"
	sync_errors "staysync/pkg/errors"
	"staysync/pkg/logger"

	"github.com/google/uuid"
)

// ARIPusher is the partner capability the worker dispatches through.
type ARIPusher interface {
	PushRates(ctx context.Context, ratePlanID string, values []channex.RateValue) (*channex.Result, error)
	PushAvailability(ctx context.Context, roomTypeID string, values []channex.AvailabilityValue) (*channex.Result, error)
}

// ClientFactory builds a partner client for one connection.
type ClientFactory func(conn *channel.Connection) ARIPusher

type WorkerConfig struct {
	Interval     time.Duration
	BatchSize    int
	StaleAfter   time.Duration
	BackoffBase  time.Duration
	BackoffCap   time.Duration
	SyncDays     int
	MaxAttempts  int
	MaxPayload   int
	RateCapacity float64
}

// OutboxWorker polls the outbox table, merges superseded events,
// gates dispatches on the shared rate limiter and pushes batches to
// the partner.
type OutboxWorker struct {
	outboxRepo  repository.OutboxRepository
	channelRepo repository.ChannelRepository
	bookingRepo repository.BookingRepository
	pricingRepo repository.PricingRepository
	ledgerRepo  repository.LedgerRepository
	limiter     *ratelimit.Limiter
	clients     ClientFactory
	log         *logger.Logger
	cfg         WorkerConfig

	stopChan chan struct{}
	wg       sync.WaitGroup
	now      func() time.Time
}

func NewOutboxWorker(
	outboxRepo repository.OutboxRepository,
	channelRepo repository.ChannelRepository,
	bookingRepo repository.BookingRepository,
	pricingRepo repository.PricingRepository,
	ledgerRepo repository.LedgerRepository,
	limiter *ratelimit.Limiter,
	clients ClientFactory,
	cfg WorkerConfig,
	log *logger.Logger,
) *OutboxWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 10 * time.Minute
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Minute
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = time.Hour
	}
	if cfg.SyncDays <= 0 {
		cfg.SyncDays = 30
	}
	if cfg.MaxPayload <= 0 {
		cfg.MaxPayload = 51200
	}
	if cfg.RateCapacity <= 0 {
		cfg.RateCapacity = ratestate.DefaultCapacity
	}
	return &OutboxWorker{
		outboxRepo:  outboxRepo,
		channelRepo: channelRepo,
		bookingRepo: bookingRepo,
		pricingRepo: pricingRepo,
		ledgerRepo:  ledgerRepo,
		limiter:     limiter,
		clients:     clients,
		log:         log,
		cfg:         cfg,
		stopChan:    make(chan struct{}),
		now:         time.Now,
	}
}

// Start begins the worker loop
func (w *OutboxWorker) Start() {
	w.wg.Add(1)
	go w.run()
}

// Stop gracefully shuts down
func (w *OutboxWorker) Stop() {
	close(w.stopChan)
	w.wg.Wait()
}

func (w *OutboxWorker) run() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.processBatch()
		}
	}
}

func (w *OutboxWorker) processBatch() {
	ctx := context.Background()
	now := w.now()

	reaped, err := w.outboxRepo.ReapStale(ctx, now.Add(-w.cfg.StaleAfter))
	if err != nil {
		w.log.Errorf("outbox reap failed: %v", err)
	} else if reaped > 0 {
		w.log.Warnf("requeued %d outbox events stuck in processing", reaped)
	}

	events, err := w.outboxRepo.GetDue(ctx, now, w.cfg.BatchSize)
	if err != nil {
		w.log.Errorf("outbox poll failed: %v", err)
		return
	}
	if len(events) == 0 {
		return
	}

	for _, event := range w.mergeSuperseded(ctx, events) {
		w.processEvent(ctx, &event)
	}
}

// mergeSuperseded collapses each (connection, unit, kind) group onto
// its newest event; the rest complete without a network call. Last
// write wins because every event pushes absolute state, not a delta.
func (w *OutboxWorker) mergeSuperseded(ctx context.Context, events []outbox.Event) []outbox.Event {
	latest := make(map[string]int, len(events))
	for i, e := range events {
		key := e.MergeKey()
		if j, ok := latest[key]; !ok || e.CreatedAt.After(events[j].CreatedAt) {
			latest[key] = i
		}
	}

	survivors := make([]outbox.Event, 0, len(latest))
	for i, e := range events {
		if latest[e.MergeKey()] == i {
			survivors = append(survivors, e)
			continue
		}
		winner := events[latest[e.MergeKey()]]
		if err := w.outboxRepo.MarkMerged(ctx, e.ID, winner.ID); err != nil {
			w.log.Errorf("merge of outbox event %s failed: %v", e.ID, err)
			continue
		}
		metrics.OutboxMerged.Inc()
	}
	return survivors
}

func (w *OutboxWorker) processEvent(ctx context.Context, event *outbox.Event) {
	claimed, err := w.outboxRepo.Claim(ctx, event.ID)
	if err != nil {
		w.log.Errorf("claim of outbox event %s failed: %v", event.ID, err)
		return
	}
	if !claimed {
		// another worker won the claim
		return
	}

	conn, err := w.channelRepo.GetConnection(ctx, event.ConnectionID)
	if err != nil {
		w.failPermanent(ctx, event, nil, "connection not found")
		return
	}
	if conn.Status == channel.ConnectionInactive {
		w.failPermanent(ctx, event, conn, "connection inactive")
		return
	}

	switch event.Kind {
	case outbox.KindFullSync:
		w.processFullSync(ctx, event, conn)
	case outbox.KindPriceUpdate:
		w.dispatch(ctx, event, conn, ratestate.MetricPrice)
	case outbox.KindAvailUpdate:
		w.dispatch(ctx, event, conn, ratestate.MetricAvailability)
	default:
		w.failPermanent(ctx, event, conn, fmt.Sprintf("unknown event kind %q", event.Kind))
	}
}

// processFullSync fans a connection-wide sync out into per-unit price
// and availability events. No partner call happens here, so the rate
// limiter is not consulted.
func (w *OutboxWorker) processFullSync(ctx context.Context, event *outbox.Event, conn *channel.Connection) {
	mappings, err := w.channelRepo.ListActiveMappings(ctx, conn.ID)
	if err != nil {
		w.retryTransient(ctx, event, conn, fmt.Sprintf("list mappings: %v", err))
		return
	}

	days := w.daysAhead(event)
	version := event.ID.String()
	for _, m := range mappings {
		if _, err := EnqueuePriceUpdate(ctx, w.outboxRepo, nil, conn.ID, m.UnitID, days, version, w.cfg.MaxAttempts); err != nil {
			w.retryTransient(ctx, event, conn, fmt.Sprintf("enqueue price for unit %s: %v", m.UnitID, err))
			return
		}
		if _, err := EnqueueAvailabilityUpdate(ctx, w.outboxRepo, nil, conn.ID, m.UnitID, days, version, w.cfg.MaxAttempts); err != nil {
			w.retryTransient(ctx, event, conn, fmt.Sprintf("enqueue availability for unit %s: %v", m.UnitID, err))
			return
		}
	}

	if err := w.outboxRepo.MarkCompleted(ctx, event.ID); err != nil {
		w.log.Errorf("complete of outbox event %s failed: %v", event.ID, err)
		return
	}
	w.appendLedger(ctx, event, conn, ledger.EntityFullSync, ledger.StatusSuccess, "", nil, len(mappings)*2, 0)
	metrics.OutboxDispatches.WithLabelValues(string(event.Kind), "completed").Inc()
	w.log.Infof("full sync %s fanned out to %d units", event.ID, len(mappings))
}

func (w *OutboxWorker) dispatch(ctx context.Context, event *outbox.Event, conn *channel.Connection, metric ratestate.Metric) {
	if event.UnitID == nil {
		w.failPermanent(ctx, event, conn, "event missing unit")
		return
	}
	mapping, err := w.channelRepo.GetMapping(ctx, conn.ID, *event.UnitID)
	if err != nil {
		if errors.Is(err, sync_errors.ErrNotFound) {
			w.failPermanent(ctx, event, conn, "missing channel mapping")
			return
		}
		w.retryTransient(ctx, event, conn, fmt.Sprintf("load mapping: %v", err))
		return
	}
	if !mapping.Active {
		w.failPermanent(ctx, event, conn, "channel mapping inactive")
		return
	}

	decision, err := w.limiter.TryAcquire(ctx, conn.PropertyID, metric, w.cfg.RateCapacity)
	if err != nil {
		w.retryTransient(ctx, event, conn, fmt.Sprintf("rate limiter: %v", err))
		return
	}
	if !decision.Granted {
		metrics.RateLimiterDenied.WithLabelValues(string(metric)).Inc()
		next := w.now().Add(decision.RetryAfter)
		if err := w.outboxRepo.Requeue(ctx, event.ID, next, "rate limiter denied"); err != nil {
			w.log.Errorf("requeue of outbox event %s failed: %v", event.ID, err)
		}
		return
	}

	client := w.clients(conn)
	start := w.now()
	result, payload, records, buildErr := w.push(ctx, event, mapping, metric, client)
	elapsed := w.now().Sub(start)
	if buildErr != nil {
		if errors.Is(buildErr, sync_errors.ErrNotFound) {
			w.failPermanent(ctx, event, conn, "no pricing policy for unit")
			return
		}
		w.retryTransient(ctx, event, conn, buildErr.Error())
		return
	}
	metrics.PushDuration.WithLabelValues(string(metric)).Observe(elapsed.Seconds())

	entity := ledger.EntityRate
	if metric == ratestate.MetricAvailability {
		entity = ledger.EntityAvailability
	}

	switch {
	case result.Success:
		if err := w.limiter.RegisterSuccess(ctx, conn.PropertyID, metric, w.cfg.RateCapacity); err != nil {
			w.log.Errorf("rate limiter success reset failed: %v", err)
		}
		if err := w.outboxRepo.MarkCompleted(ctx, event.ID); err != nil {
			w.log.Errorf("complete of outbox event %s failed: %v", event.ID, err)
			return
		}
		now := w.now()
		if err := w.channelRepo.RecordSyncSuccess(ctx, conn.ID, now); err != nil {
			w.log.Errorf("connection sync-success update failed: %v", err)
		}
		if metric == ratestate.MetricPrice {
			_ = w.channelRepo.TouchPriceSync(ctx, mapping.ID, now)
		} else {
			_ = w.channelRepo.TouchAvailSync(ctx, mapping.ID, now)
		}
		w.appendLedger(ctx, event, conn, entity, ledger.StatusSuccess, "", payload, records, elapsed)
		metrics.OutboxDispatches.WithLabelValues(string(event.Kind), "completed").Inc()

	case result.RateLimited:
		pause, err := w.limiter.RegisterThrottle(ctx, conn.PropertyID, metric, w.cfg.RateCapacity)
		if err != nil {
			w.log.Errorf("rate limiter throttle registration failed: %v", err)
			pause = ratestate.BasePause
		}
		// 429 does not count toward the retry ceiling.
		if err := w.outboxRepo.Requeue(ctx, event.ID, w.now().Add(pause), result.Err); err != nil {
			w.log.Errorf("requeue of outbox event %s failed: %v", event.ID, err)
		}
		w.appendLedger(ctx, event, conn, entity, ledger.StatusFailed, result.Err, payload, records, elapsed)
		metrics.OutboxDispatches.WithLabelValues(string(event.Kind), "rate_limited").Inc()

	case result.Retryable:
		w.retryTransient(ctx, event, conn, result.Err)
		w.appendLedger(ctx, event, conn, entity, ledger.StatusFailed, result.Err, payload, records, elapsed)

	default:
		w.failPermanent(ctx, event, conn, result.Err)
		w.appendLedger(ctx, event, conn, entity, ledger.StatusFailed, result.Err, payload, records, elapsed)
	}
}

// push builds the value batch for the event and sends it in chunks
// under the payload size limit, stopping at the first failed chunk.
func (w *OutboxWorker) push(ctx context.Context, event *outbox.Event, mapping *channel.Mapping, metric ratestate.Metric, client ARIPusher) (*channex.Result, []byte, int, error) {
	if metric == ratestate.MetricPrice {
		values, err := w.buildRateValues(ctx, event)
		if err != nil {
			return nil, nil, 0, err
		}
		payload, _ := json.Marshal(values)
		if len(values) == 0 {
			return &channex.Result{Success: true}, payload, 0, nil
		}
		var result *channex.Result
		for _, chunk := range chunkValues(values, w.cfg.MaxPayload) {
			result, err = client.PushRates(ctx, mapping.RatePlanID, chunk)
			if err != nil {
				return nil, payload, len(values), err
			}
			if !result.Success {
				break
			}
		}
		return result, payload, len(values), nil
	}

	values, err := w.buildAvailabilityValues(ctx, event)
	if err != nil {
		return nil, nil, 0, err
	}
	payload, _ := json.Marshal(values)
	if len(values) == 0 {
		return &channex.Result{Success: true}, payload, 0, nil
	}
	var result *channex.Result
	for _, chunk := range chunkValues(values, w.cfg.MaxPayload) {
		result, err = client.PushAvailability(ctx, mapping.RoomTypeID, chunk)
		if err != nil {
			return nil, payload, len(values), err
		}
		if !result.Success {
			break
		}
	}
	return result, payload, len(values), nil
}

func (w *OutboxWorker) retryTransient(ctx context.Context, event *outbox.Event, conn *channel.Connection, errMsg string) {
	attempts := event.Attempts + 1
	if attempts >= event.MaxAttempts {
		w.failPermanent(ctx, event, conn, errMsg)
		return
	}
	next := w.now().Add(w.backoff(attempts))
	if err := w.outboxRepo.RescheduleRetry(ctx, event.ID, next, errMsg); err != nil {
		w.log.Errorf("retry schedule of outbox event %s failed: %v", event.ID, err)
		return
	}
	metrics.OutboxDispatches.WithLabelValues(string(event.Kind), "retrying").Inc()
	w.log.Warnf("outbox event %s attempt %d/%d failed: %s", event.ID, attempts, event.MaxAttempts, errMsg)
}

func (w *OutboxWorker) failPermanent(ctx context.Context, event *outbox.Event, conn *channel.Connection, errMsg string) {
	if err := w.outboxRepo.MarkFailed(ctx, event.ID, errMsg); err != nil {
		w.log.Errorf("fail of outbox event %s failed: %v", event.ID, err)
		return
	}
	if conn != nil {
		if err := w.channelRepo.RecordSyncFailure(ctx, conn.ID, errMsg); err != nil {
			w.log.Errorf("connection sync-failure update failed: %v", err)
		}
	}
	metrics.OutboxDispatches.WithLabelValues(string(event.Kind), "failed").Inc()
	w.log.Errorf("outbox event %s failed permanently: %s", event.ID, errMsg)
}

func (w *OutboxWorker) backoff(attempts int) time.Duration {
	delay := w.cfg.BackoffBase
	for i := 1; i < attempts && delay < w.cfg.BackoffCap; i++ {
		delay *= 2
	}
	if delay > w.cfg.BackoffCap {
		delay = w.cfg.BackoffCap
	}
	return delay
}

func (w *OutboxWorker) daysAhead(event *outbox.Event) int {
	var scope syncScope
	if len(event.Payload) > 0 {
		if err := json.Unmarshal(event.Payload, &scope); err == nil && scope.DaysAhead > 0 {
			return scope.DaysAhead
		}
	}
	return w.cfg.SyncDays
}

func (w *OutboxWorker) appendLedger(ctx context.Context, event *outbox.Event, conn *channel.Connection, entity ledger.EntityType, status, errMsg string, payload []byte, records int, elapsed time.Duration) {
	entry := &ledger.Entry{
		ID:          uuid.New(),
		Direction:   ledger.DirectionOutbound,
		EntityType:  entity,
		ExternalID:  event.ID.String(),
		UnitID:      event.UnitID,
		PayloadSize: len(payload),
		RecordCount: records,
		Status:      status,
		Error:       errMsg,
		RetryCount:  event.Attempts,
		DurationMs:  elapsed.Milliseconds(),
		CreatedAt:   w.now(),
	}
	if conn != nil {
		id := conn.ID
		entry.ConnectionID = &id
	}
	if len(payload) > 0 {
		entry.PayloadHash = ledger.HashPayload(payload)
	}
	if err := w.ledgerRepo.Append(ctx, entry); err != nil {
		w.log.Errorf("ledger append failed: %v", err)
	}
}

// chunkValues splits values so each serialized chunk stays under
// maxBytes. A single oversized item still goes out alone.
func chunkValues[T any](values []T, maxBytes int) [][]T {
	var chunks [][]T
	var current []T
	size := 2
	for _, v := range values {
		raw, err := json.Marshal(v)
		itemSize := len(raw) + 1
		if err != nil {
			itemSize = len(strconv.Quote(fmt.Sprint(v))) + 1
		}
		if len(current) > 0 && size+itemSize > maxBytes {
			chunks = append(chunks, current)
			current = nil
			size = 2
		}
		current = append(current, v)
		size += itemSize
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}
