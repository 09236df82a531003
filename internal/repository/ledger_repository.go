package repository

import (
	"context"

	"github.com/google/uuid"

	"staysync/internal/domain/ledger"
)

type ledgerRepository struct {
	db DBTX
}

func NewLedgerRepository(db DBTX) LedgerRepository {
	return &ledgerRepository{db: db}
}

const ledgerColumns = `id, connection_id, direction, entity_type, external_id, unit_id, payload_hash, payload_size, record_count, status, error, retry_count, duration_ms, request_id, created_at`

func (r *ledgerRepository) Append(ctx context.Context, entry *ledger.Entry) error {
	_, err := r.db.ExecContext(ctx, `
        INSERT INTO integration_ledger (`+ledgerColumns+`)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
    `,
		entry.ID, entry.ConnectionID, entry.Direction, entry.EntityType,
		entry.ExternalID, entry.UnitID, entry.PayloadHash, entry.PayloadSize,
		entry.RecordCount, entry.Status, entry.Error, entry.RetryCount,
		entry.DurationMs, entry.RequestID, entry.CreatedAt,
	)
	return err
}

func (r *ledgerRepository) List(ctx context.Context, connectionID *uuid.UUID, limit int) ([]ledger.Entry, error) {
	query := `
        SELECT ` + ledgerColumns + `
        FROM integration_ledger
    `
	args := []interface{}{}
	if connectionID != nil {
		query += ` WHERE connection_id = $1 ORDER BY created_at DESC LIMIT $2`
		args = append(args, *connectionID, limit)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		if err := rows.Scan(
			&e.ID, &e.ConnectionID, &e.Direction, &e.EntityType,
			&e.ExternalID, &e.UnitID, &e.PayloadHash, &e.PayloadSize,
			&e.RecordCount, &e.Status, &e.Error, &e.RetryCount,
			&e.DurationMs, &e.RequestID, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
