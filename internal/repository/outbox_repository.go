package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"staysync/internal/domain/outbox"
	sync_errors "staysync/pkg/errors"
)

type outboxRepository struct {
	db DBTX
}

func NewOutboxRepository(db DBTX) OutboxRepository {
	return &outboxRepository{db: db}
}

const outboxColumns = `id, connection_id, unit_id, kind, payload, date_from, date_to, status, attempts, max_attempts, next_attempt_at, last_error, idempotency_key, completed_at, created_at, updated_at`

func (r *outboxRepository) Create(ctx context.Context, tx DBTX, event *outbox.Event) error {
	execDB := tx
	if execDB == nil {
		execDB = r.db
	}
	_, err := execDB.ExecContext(ctx, `
        INSERT INTO outbox_events (`+outboxColumns+`)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
    `,
		event.ID,
		event.ConnectionID,
		event.UnitID,
		event.Kind,
		event.Payload,
		event.DateFrom,
		event.DateTo,
		event.Status,
		event.Attempts,
		event.MaxAttempts,
		event.NextAttemptAt,
		event.LastError,
		event.IdempotencyKey,
		event.CompletedAt,
		event.CreatedAt,
		event.UpdatedAt,
	)
	if err != nil && isUniqueViolation(err) {
		return sync_errors.ErrAlreadyExists
	}
	return err
}

func (r *outboxRepository) GetByID(ctx context.Context, id uuid.UUID) (*outbox.Event, error) {
	row := r.db.QueryRowContext(ctx, `
        SELECT `+outboxColumns+`
        FROM outbox_events
        WHERE id = $1
    `, id)
	event, err := scanOutboxEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sync_errors.ErrNotFound
	}
	return event, err
}

func (r *outboxRepository) GetDue(ctx context.Context, now time.Time, limit int) ([]outbox.Event, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT `+outboxColumns+`
        FROM outbox_events
        WHERE status IN ($1, $2) AND next_attempt_at <= $3 AND attempts < max_attempts
        ORDER BY created_at ASC
        LIMIT $4
    `, outbox.StatusPending, outbox.StatusRetrying, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []outbox.Event
	for rows.Next() {
		event, err := scanOutboxEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
	}
	return events, rows.Err()
}

func (r *outboxRepository) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
        UPDATE outbox_events
        SET status = $1, updated_at = $2
        WHERE id = $3 AND status IN ($4, $5)
    `, outbox.StatusProcessing, time.Now(), id, outbox.StatusPending, outbox.StatusRetrying)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	return affected == 1, err
}

func (r *outboxRepository) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	_, err := r.db.ExecContext(ctx, `
        UPDATE outbox_events
        SET status = $1, completed_at = $2, last_error = '', updated_at = $3
        WHERE id = $4
    `, outbox.StatusCompleted, &now, now, id)
	return err
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
        UPDATE outbox_events
        SET status = $1, last_error = $2, updated_at = $3
        WHERE id = $4
    `, outbox.StatusFailed, errorMsg, time.Now(), id)
	return err
}

func (r *outboxRepository) RescheduleRetry(ctx context.Context, id uuid.UUID, next time.Time, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
        UPDATE outbox_events
        SET status = $1, attempts = attempts + 1, next_attempt_at = $2, last_error = $3, updated_at = $4
        WHERE id = $5
    `, outbox.StatusRetrying, next, errorMsg, time.Now(), id)
	return err
}

func (r *outboxRepository) Requeue(ctx context.Context, id uuid.UUID, next time.Time, reason string) error {
	_, err := r.db.ExecContext(ctx, `
        UPDATE outbox_events
        SET status = $1, next_attempt_at = $2, last_error = $3, updated_at = $4
        WHERE id = $5
    `, outbox.StatusRetrying, next, reason, time.Now(), id)
	return err
}

func (r *outboxRepository) MarkMerged(ctx context.Context, id uuid.UUID, winnerID uuid.UUID) error {
	now := time.Now()
	_, err := r.db.ExecContext(ctx, `
        UPDATE outbox_events
        SET status = $1, completed_at = $2, last_error = $3, updated_at = $4
        WHERE id = $5
    `, outbox.StatusCompleted, &now, "merged into "+winnerID.String(), now, id)
	return err
}

// ReapStale returns events stuck in processing to the retry queue,
// covering workers that died mid-dispatch.
func (r *outboxRepository) ReapStale(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
        UPDATE outbox_events
        SET status = $1, last_error = 'reaped: worker timed out', updated_at = $2
        WHERE status = $3 AND updated_at < $4
    `, outbox.StatusRetrying, time.Now(), outbox.StatusProcessing, olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Reset requeues a failed event for manual retry, clearing its attempt
// count.
func (r *outboxRepository) Reset(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	res, err := r.db.ExecContext(ctx, `
        UPDATE outbox_events
        SET status = $1, attempts = 0, next_attempt_at = $2, last_error = '', updated_at = $3
        WHERE id = $4 AND status = $5
    `, outbox.StatusPending, now, now, id, outbox.StatusFailed)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sync_errors.ErrInvalidInput
	}
	return nil
}

func (r *outboxRepository) ListByStatus(ctx context.Context, status outbox.Status, limit int) ([]outbox.Event, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT `+outboxColumns+`
        FROM outbox_events
        WHERE status = $1
        ORDER BY created_at DESC
        LIMIT $2
    `, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []outbox.Event
	for rows.Next() {
		event, err := scanOutboxEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
	}
	return events, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOutboxEvent(row rowScanner) (*outbox.Event, error) {
	var event outbox.Event
	err := row.Scan(
		&event.ID,
		&event.ConnectionID,
		&event.UnitID,
		&event.Kind,
		&event.Payload,
		&event.DateFrom,
		&event.DateTo,
		&event.Status,
		&event.Attempts,
		&event.MaxAttempts,
		&event.NextAttemptAt,
		&event.LastError,
		&event.IdempotencyKey,
		&event.CompletedAt,
		&event.CreatedAt,
		&event.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &event, nil
}
