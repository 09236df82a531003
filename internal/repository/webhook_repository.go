package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"staysync/internal/domain/webhook"
	sync_errors "staysync/pkg/errors"
)

type webhookRepository struct {
	db DBTX
}

func NewWebhookRepository(db DBTX) WebhookRepository {
	return &webhookRepository{db: db}
}

const webhookColumns = `id, provider, event_id, event_type, payload, source_ip, received_at, status, action, error, processed_at`

func (r *webhookRepository) Create(ctx context.Context, rec *webhook.Record) error {
	_, err := r.db.ExecContext(ctx, `
        INSERT INTO webhook_records (`+webhookColumns+`)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
    `,
		rec.ID, rec.Provider, rec.EventID, rec.EventType, rec.Payload,
		rec.SourceIP, rec.ReceivedAt, rec.Status, rec.Action, rec.Error,
		rec.ProcessedAt,
	)
	return err
}

func (r *webhookRepository) GetByID(ctx context.Context, id uuid.UUID) (*webhook.Record, error) {
	row := r.db.QueryRowContext(ctx, `
        SELECT `+webhookColumns+`
        FROM webhook_records
        WHERE id = $1
    `, id)
	rec, err := scanWebhookRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sync_errors.ErrNotFound
	}
	return rec, err
}

// HasActive reports whether the event id is already processed or in
// flight, so a duplicate delivery can be acknowledged without work.
func (r *webhookRepository) HasActive(ctx context.Context, provider, eventID string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
        SELECT COUNT(1)
        FROM webhook_records
        WHERE provider = $1 AND event_id = $2 AND status IN ($3, $4, $5)
    `, provider, eventID, webhook.StatusReceived, webhook.StatusProcessing, webhook.StatusProcessed).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *webhookRepository) GetReceived(ctx context.Context, limit int) ([]webhook.Record, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT `+webhookColumns+`
        FROM webhook_records
        WHERE status = $1
        ORDER BY received_at ASC
        LIMIT $2
    `, webhook.StatusReceived, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []webhook.Record
	for rows.Next() {
		rec, err := scanWebhookRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// Claim takes a record for processing. Besides fresh deliveries it
// accepts failed and skipped records, so a manual replay can pick up
// exactly the records left behind for remediation; the idempotency
// table keeps reprocessing safe.
func (r *webhookRepository) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
        UPDATE webhook_records
        SET status = $1
        WHERE id = $2 AND status IN ($3, $4, $5)
    `, webhook.StatusProcessing, id, webhook.StatusReceived, webhook.StatusFailed, webhook.StatusSkipped)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	return affected == 1, err
}

// ReapStale returns records stuck in processing to received so the
// poller retries them after a processor crash.
func (r *webhookRepository) ReapStale(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
        UPDATE webhook_records
        SET status = $1
        WHERE status = $2 AND received_at < $3
    `, webhook.StatusReceived, webhook.StatusProcessing, olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *webhookRepository) MarkProcessed(ctx context.Context, id uuid.UUID, action string) error {
	return r.finish(ctx, id, webhook.StatusProcessed, action, "")
}

func (r *webhookRepository) MarkSkipped(ctx context.Context, id uuid.UUID, action string) error {
	return r.finish(ctx, id, webhook.StatusSkipped, action, "")
}

func (r *webhookRepository) MarkFailed(ctx context.Context, id uuid.UUID, errorMsg string) error {
	return r.finish(ctx, id, webhook.StatusFailed, "", errorMsg)
}

func (r *webhookRepository) finish(ctx context.Context, id uuid.UUID, status webhook.Status, action, errorMsg string) error {
	now := time.Now()
	_, err := r.db.ExecContext(ctx, `
        UPDATE webhook_records
        SET status = $1, action = $2, error = $3, processed_at = $4
        WHERE id = $5
    `, status, action, errorMsg, &now, id)
	return err
}

func (r *webhookRepository) CreateIdempotency(ctx context.Context, tx DBTX, rec *webhook.IdempotencyRecord) error {
	execDB := tx
	if execDB == nil {
		execDB = r.db
	}
	_, err := execDB.ExecContext(ctx, `
        INSERT INTO webhook_idempotency (id, provider, event_id, reservation_id, revision_id, action, booking_id, processed_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
    `,
		rec.ID, rec.Provider, rec.EventID, rec.ReservationID,
		rec.RevisionID, rec.Action, rec.BookingID, rec.ProcessedAt,
	)
	if err != nil && isUniqueViolation(err) {
		return sync_errors.ErrAlreadyExists
	}
	return err
}

func (r *webhookRepository) GetIdempotency(ctx context.Context, provider, eventID string) (*webhook.IdempotencyRecord, error) {
	var rec webhook.IdempotencyRecord
	err := r.db.QueryRowContext(ctx, `
        SELECT id, provider, event_id, reservation_id, revision_id, action, booking_id, processed_at
        FROM webhook_idempotency
        WHERE provider = $1 AND event_id = $2
    `, provider, eventID).Scan(
		&rec.ID, &rec.Provider, &rec.EventID, &rec.ReservationID,
		&rec.RevisionID, &rec.Action, &rec.BookingID, &rec.ProcessedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sync_errors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func scanWebhookRecord(row rowScanner) (*webhook.Record, error) {
	var rec webhook.Record
	err := row.Scan(
		&rec.ID, &rec.Provider, &rec.EventID, &rec.EventType, &rec.Payload,
		&rec.SourceIP, &rec.ReceivedAt, &rec.Status, &rec.Action, &rec.Error,
		&rec.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
