package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"staysync/internal/domain/booking"
	"staysync/internal/domain/channel"
	"staysync/internal/domain/ledger"
	"staysync/internal/domain/webhook"
	"staysync/internal/metrics"
	"staysync/internal/pricing"
	"staysync/internal/repository"
	sync_errors "staysync/pkg/errors"
	"staysync/pkg/logger"
)

type ProcessorConfig struct {
	Provider    string
	Interval    time.Duration
	Batch       int
	SyncDays    int
	MaxAttempts int
	StaleAfter  time.Duration
}

// WebhookProcessor drains accepted webhook records and applies booking
// mutations. Every mutation commits atomically with its revision row,
// its idempotency record and the reciprocal availability event, so a
// crash between steps can only replay, never half-apply.
type WebhookProcessor struct {
	webhooks repository.WebhookRepository
	bookings repository.BookingRepository
	channels repository.ChannelRepository
	outbox   repository.OutboxRepository
	ledgers  repository.LedgerRepository
	cfg      ProcessorConfig
	log      *logger.Logger

	inTx     func(ctx context.Context, fn func(repository.DBTX) error) error
	stopChan chan struct{}
	wg       sync.WaitGroup
	now      func() time.Time
}

func NewWebhookProcessor(
	db repository.DBTX,
	webhooks repository.WebhookRepository,
	bookings repository.BookingRepository,
	channels repository.ChannelRepository,
	outbox repository.OutboxRepository,
	ledgers repository.LedgerRepository,
	cfg ProcessorConfig,
	log *logger.Logger,
) *WebhookProcessor {
	if cfg.Provider == "" {
		cfg.Provider = "channex"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 20
	}
	if cfg.SyncDays <= 0 {
		cfg.SyncDays = 30
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 10 * time.Minute
	}
	return &WebhookProcessor{
		webhooks: webhooks,
		bookings: bookings,
		channels: channels,
		outbox:   outbox,
		ledgers:  ledgers,
		cfg:      cfg,
		log:      log,
		inTx: func(ctx context.Context, fn func(repository.DBTX) error) error {
			return repository.WithTx(ctx, db, fn)
		},
		stopChan: make(chan struct{}),
		now:      time.Now,
	}
}

// Start begins the processing loop
func (p *WebhookProcessor) Start() {
	p.wg.Add(1)
	go p.run()
}

// Stop gracefully shuts down
func (p *WebhookProcessor) Stop() {
	close(p.stopChan)
	p.wg.Wait()
}

func (p *WebhookProcessor) run() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
			p.processBatch()
		}
	}
}

func (p *WebhookProcessor) processBatch() {
	ctx := context.Background()

	reaped, err := p.webhooks.ReapStale(ctx, p.now().Add(-p.cfg.StaleAfter))
	if err != nil {
		p.log.Errorf("webhook reap failed: %v", err)
	} else if reaped > 0 {
		p.log.Warnf("requeued %d webhooks stuck in processing", reaped)
	}

	records, err := p.webhooks.GetReceived(ctx, p.cfg.Batch)
	if err != nil {
		p.log.Errorf("webhook poll failed: %v", err)
		return
	}
	for i := range records {
		p.Process(ctx, &records[i])
	}
}

// Process applies one accepted delivery. Safe to call again for the
// same record: a replay is answered from the idempotency table.
func (p *WebhookProcessor) Process(ctx context.Context, rec *webhook.Record) {
	claimed, err := p.webhooks.Claim(ctx, rec.ID)
	if err != nil {
		p.log.Errorf("claim of webhook %s failed: %v", rec.ID, err)
		return
	}
	if !claimed {
		return
	}

	action, err := p.apply(ctx, rec)
	if err != nil {
		if markErr := p.webhooks.MarkFailed(ctx, rec.ID, err.Error()); markErr != nil {
			p.log.Errorf("fail of webhook %s failed: %v", rec.ID, markErr)
		}
		p.appendLedger(ctx, rec, ledger.StatusFailed, err.Error())
		p.log.Errorf("webhook %s failed: %v", rec.ID, err)
		return
	}

	if isSkipAction(action) {
		err = p.webhooks.MarkSkipped(ctx, rec.ID, action)
	} else {
		err = p.webhooks.MarkProcessed(ctx, rec.ID, action)
	}
	if err != nil {
		p.log.Errorf("finish of webhook %s failed: %v", rec.ID, err)
		return
	}
	status := ledger.StatusSuccess
	if isSkipAction(action) {
		status = ledger.StatusSkipped
	}
	p.appendLedger(ctx, rec, status, "")
	metrics.WebhookProcessed.WithLabelValues(action).Inc()
	p.log.Infof("webhook %s processed: %s", rec.EventID, action)
}

func (p *WebhookProcessor) apply(ctx context.Context, rec *webhook.Record) (string, error) {
	// A replayed event id is answered with its recorded outcome.
	if prior, err := p.webhooks.GetIdempotency(ctx, p.cfg.Provider, rec.EventID); err == nil && prior != nil {
		return prior.Action, nil
	} else if err != nil && !errors.Is(err, sync_errors.ErrNotFound) {
		return "", err
	}

	env, err := webhook.ParseEnvelope(rec.Payload)
	if err != nil {
		return webhook.ActionInvalid, nil
	}

	kind := env.Kind()
	if kind == webhook.EventUnknown {
		return webhook.ActionIgnored, nil
	}

	conn, err := p.channels.GetConnectionByProperty(ctx, env.Property())
	if err != nil {
		if errors.Is(err, sync_errors.ErrNotFound) {
			return webhook.ActionUnmatched, nil
		}
		return "", err
	}

	// A mapping may simply not exist yet; fail the record so an
	// operator can create the mapping and replay it.
	mapping, err := p.resolveMapping(ctx, conn, env.Data)
	if err != nil {
		if errors.Is(err, sync_errors.ErrNotFound) {
			return "", fmt.Errorf("unmapped_room_type: %w", sync_errors.ErrMissingMapping)
		}
		return "", err
	}

	ref := env.Data.ReservationRef()
	if ref == "" {
		return webhook.ActionInvalid, nil
	}

	// A revision already on file means this exact change was applied.
	if env.Data.RevisionID != "" {
		seen, err := p.bookings.HasRevision(ctx, ref, env.Data.RevisionID)
		if err != nil {
			return "", err
		}
		if seen {
			return p.conclude(ctx, rec, env, nil, webhook.ActionSkipped)
		}
	}

	existing, err := p.bookings.GetByExternalID(ctx, ref)
	if err != nil && !errors.Is(err, sync_errors.ErrNotFound) {
		return "", err
	}

	switch kind {
	case webhook.EventBookingCancelled:
		return p.applyCancel(ctx, rec, env, conn, mapping, existing)
	default:
		return p.applyUpsert(ctx, rec, env, conn, mapping, existing)
	}
}

// applyUpsert handles booking.new and booking.modified. The two kinds
// share one path: a new event for a known reservation updates it, and a
// modification for an unknown one creates it, so deliveries arriving in
// any order converge on the same state.
func (p *WebhookProcessor) applyUpsert(ctx context.Context, rec *webhook.Record, env webhook.Envelope, conn *channel.Connection, mapping *channel.Mapping, existing *booking.Booking) (string, error) {
	data := env.Data
	checkIn, okIn := data.CheckInDate()
	checkOut, okOut := data.CheckOutDate()
	if !okIn || !okOut || !checkIn.Before(checkOut) {
		return webhook.ActionInvalid, nil
	}

	revAt, hasRevAt := data.RevisionTime()
	if existing != nil && hasRevAt && existing.LastAppliedRevisionAt != nil && revAt.Before(*existing.LastAppliedRevisionAt) {
		// Stale modification. Keep the revision for audit, unapplied.
		err := p.inTx(ctx, func(tx repository.DBTX) error {
			if err := p.saveRevision(ctx, tx, existing.ID, env, false); err != nil {
				return err
			}
			return p.saveIdempotency(ctx, tx, rec, env, webhook.ActionOutOfOrder, &existing.ID)
		})
		if err != nil {
			return "", err
		}
		return webhook.ActionOutOfOrder, nil
	}

	if existing == nil {
		conflict, err := p.hasConflict(ctx, mapping.UnitID, ref(env), checkIn, checkOut)
		if err != nil {
			return "", err
		}
		if conflict {
			return webhook.ActionConflict, nil
		}
	}

	action := webhook.ActionUpdated
	target := existing
	now := p.now()
	if target == nil {
		action = webhook.ActionCreated
		target = &booking.Booking{
			ID:                    uuid.New(),
			UnitID:                mapping.UnitID,
			SourceType:            booking.SourceChannel,
			ExternalReservationID: ref(env),
			CreatedAt:             now,
		}
	}
	guest := data.GuestInfo()
	target.GuestName = guest.Name
	target.GuestPhone = guest.Phone
	target.GuestEmail = guest.Email
	target.CheckInDate = checkIn
	target.CheckOutDate = checkOut
	target.Status = booking.MapStatus(data.Status)
	target.ChannelSource = booking.MapChannelSource(firstNonEmpty(data.OTAName, data.Channel))
	if price, ok := data.Price(); ok {
		target.TotalPrice = price
	}
	target.Currency = firstNonEmpty(data.Currency, pricing.DefaultCurrency)
	target.ExternalRevisionID = data.RevisionID
	if hasRevAt {
		target.LastAppliedRevisionAt = &revAt
	} else {
		target.LastAppliedRevisionAt = &now
	}
	target.UpdatedAt = now

	err := p.inTx(ctx, func(tx repository.DBTX) error {
		var err error
		if action == webhook.ActionCreated {
			err = p.bookings.Create(ctx, tx, target)
		} else {
			err = p.bookings.Update(ctx, tx, target)
		}
		if err != nil {
			return err
		}
		if err := p.saveRevision(ctx, tx, target.ID, env, true); err != nil {
			return err
		}
		if err := p.saveIdempotency(ctx, tx, rec, env, action, &target.ID); err != nil {
			return err
		}
		// Dates just changed hands, so the partner calendar must follow.
		_, err = EnqueueAvailabilityUpdate(ctx, p.outbox, tx, conn.ID, mapping.UnitID, p.cfg.SyncDays, rec.EventID, p.cfg.MaxAttempts)
		return err
	})
	if err != nil {
		return "", err
	}
	return action, nil
}

func (p *WebhookProcessor) applyCancel(ctx context.Context, rec *webhook.Record, env webhook.Envelope, conn *channel.Connection, mapping *channel.Mapping, existing *booking.Booking) (string, error) {
	if existing == nil {
		// Cancellation for a reservation never seen. Record the outcome
		// so replays stay cheap, but there is nothing to free.
		return p.conclude(ctx, rec, env, nil, webhook.ActionNotFound)
	}
	if existing.Status == booking.StatusCancelled {
		return p.conclude(ctx, rec, env, &existing.ID, webhook.ActionSkipped)
	}

	now := p.now()
	existing.Status = booking.StatusCancelled
	existing.ExternalRevisionID = env.Data.RevisionID
	if revAt, ok := env.Data.RevisionTime(); ok {
		existing.LastAppliedRevisionAt = &revAt
	} else {
		existing.LastAppliedRevisionAt = &now
	}
	existing.UpdatedAt = now

	err := p.inTx(ctx, func(tx repository.DBTX) error {
		if err := p.bookings.Update(ctx, tx, existing); err != nil {
			return err
		}
		if err := p.saveRevision(ctx, tx, existing.ID, env, true); err != nil {
			return err
		}
		if err := p.saveIdempotency(ctx, tx, rec, env, webhook.ActionCancelled, &existing.ID); err != nil {
			return err
		}
		// The freed dates go back on sale.
		_, err := EnqueueAvailabilityUpdate(ctx, p.outbox, tx, conn.ID, mapping.UnitID, p.cfg.SyncDays, rec.EventID, p.cfg.MaxAttempts)
		return err
	})
	if err != nil {
		return "", err
	}
	return webhook.ActionCancelled, nil
}

// conclude pins a no-op-safe terminal outcome in the idempotency table
// so a replay of the event id answers without re-evaluation. Outcomes
// that may become applicable later (unmatched, invalid, conflict) are
// never pinned; replaying them re-evaluates from scratch.
func (p *WebhookProcessor) conclude(ctx context.Context, rec *webhook.Record, env webhook.Envelope, bookingID *uuid.UUID, action string) (string, error) {
	err := p.inTx(ctx, func(tx repository.DBTX) error {
		return p.saveIdempotency(ctx, tx, rec, env, action, bookingID)
	})
	if err != nil {
		return "", err
	}
	return action, nil
}

func (p *WebhookProcessor) saveRevision(ctx context.Context, tx repository.DBTX, bookingID uuid.UUID, env webhook.Envelope, applied bool) error {
	revID := env.Data.RevisionID
	if revID == "" {
		revID = env.EventID()
	}
	return p.bookings.CreateRevision(ctx, tx, &booking.Revision{
		ID:                uuid.New(),
		BookingID:         bookingID,
		ExternalBookingID: ref(env),
		RevisionID:        revID,
		EventType:         env.KindName(),
		Payload:           env.Data.Raw,
		Applied:           applied,
		CreatedAt:         p.now(),
	})
}

func (p *WebhookProcessor) saveIdempotency(ctx context.Context, tx repository.DBTX, rec *webhook.Record, env webhook.Envelope, action string, bookingID *uuid.UUID) error {
	err := p.webhooks.CreateIdempotency(ctx, tx, &webhook.IdempotencyRecord{
		ID:            uuid.New(),
		Provider:      p.cfg.Provider,
		EventID:       rec.EventID,
		ReservationID: ref(env),
		RevisionID:    env.Data.RevisionID,
		Action:        action,
		BookingID:     bookingID,
		ProcessedAt:   p.now(),
	})
	if errors.Is(err, sync_errors.ErrAlreadyExists) {
		return nil
	}
	return err
}

func (p *WebhookProcessor) resolveMapping(ctx context.Context, conn *channel.Connection, data webhook.BookingData) (*channel.Mapping, error) {
	if data.RoomTypeID != "" {
		if m, err := p.channels.FindMappingByRoomType(ctx, conn.ID, data.RoomTypeID); err == nil {
			return m, nil
		} else if !errors.Is(err, sync_errors.ErrNotFound) {
			return nil, err
		}
	}
	if data.RatePlanID != "" {
		if m, err := p.channels.FindMappingByRatePlan(ctx, conn.ID, data.RatePlanID); err == nil {
			return m, nil
		} else if !errors.Is(err, sync_errors.ErrNotFound) {
			return nil, err
		}
	}
	// Single-mapping connections need no room identifiers at all.
	mappings, err := p.channels.ListActiveMappings(ctx, conn.ID)
	if err != nil {
		return nil, err
	}
	if len(mappings) == 1 {
		return &mappings[0], nil
	}
	return nil, sync_errors.ErrNotFound
}

// hasConflict reports whether another active booking already blocks the
// stay's dates.
func (p *WebhookProcessor) hasConflict(ctx context.Context, unitID uuid.UUID, ref string, checkIn, checkOut time.Time) (bool, error) {
	others, err := p.bookings.ListActiveForUnit(ctx, unitID, checkIn, checkOut)
	if err != nil {
		return false, err
	}
	for _, b := range others {
		if b.ExternalReservationID != ref {
			return true, nil
		}
	}
	return false, nil
}

func (p *WebhookProcessor) appendLedger(ctx context.Context, rec *webhook.Record, status, errMsg string) {
	entry := &ledger.Entry{
		ID:          uuid.New(),
		Direction:   ledger.DirectionInbound,
		EntityType:  ledger.EntityBooking,
		ExternalID:  rec.EventID,
		PayloadSize: len(rec.Payload),
		RecordCount: 1,
		Status:      status,
		Error:       errMsg,
		CreatedAt:   p.now(),
	}
	if len(rec.Payload) > 0 {
		entry.PayloadHash = ledger.HashPayload(rec.Payload)
	}
	if err := p.ledgers.Append(ctx, entry); err != nil {
		p.log.Errorf("ledger append failed: %v", err)
	}
}

func isSkipAction(action string) bool {
	switch action {
	case webhook.ActionSkipped, webhook.ActionNotFound, webhook.ActionUnmatched,
		webhook.ActionOutOfOrder, webhook.ActionInvalid, webhook.ActionConflict,
		webhook.ActionIgnored:
		return true
	}
	return false
}

func ref(env webhook.Envelope) string {
	return env.Data.ReservationRef()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
