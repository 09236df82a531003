package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"staysync/internal/domain/ratestate"
)

type rateStateRepository struct {
	db DBTX
}

func NewRateStateRepository(db DBTX) RateStateRepository {
	return &rateStateRepository{db: db}
}

const rateStateColumns = `id, property_id, metric, tokens, capacity, last_refill_at, paused_until, pause_count, total_requests, total_throttled, version, created_at, updated_at`

func (r *rateStateRepository) GetOrCreate(ctx context.Context, propertyID string, metric ratestate.Metric, capacity float64) (*ratestate.State, error) {
	state, err := r.get(ctx, propertyID, metric)
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	now := time.Now()
	fresh := &ratestate.State{
		ID:           uuid.New(),
		PropertyID:   propertyID,
		Metric:       metric,
		Tokens:       capacity,
		Capacity:     capacity,
		LastRefillAt: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	_, err = r.db.ExecContext(ctx, `
        INSERT INTO rate_states (`+rateStateColumns+`)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
    `,
		fresh.ID, fresh.PropertyID, fresh.Metric, fresh.Tokens, fresh.Capacity,
		fresh.LastRefillAt, fresh.PausedUntil, fresh.PauseCount,
		fresh.TotalRequests, fresh.TotalThrottled, fresh.Version,
		fresh.CreatedAt, fresh.UpdatedAt,
	)
	if err != nil {
		// A concurrent worker created the row first; read theirs.
		if isUniqueViolation(err) {
			return r.get(ctx, propertyID, metric)
		}
		return nil, err
	}
	return fresh, nil
}

// Save writes the state back only if nobody else has since: the version
// compare fails the write when a concurrent mutation won, and the
// caller re-reads and retries.
func (r *rateStateRepository) Save(ctx context.Context, state *ratestate.State) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
        UPDATE rate_states
        SET tokens = $1, last_refill_at = $2, paused_until = $3, pause_count = $4,
            total_requests = $5, total_throttled = $6, version = version + 1, updated_at = $7
        WHERE id = $8 AND version = $9
    `,
		state.Tokens, state.LastRefillAt, state.PausedUntil, state.PauseCount,
		state.TotalRequests, state.TotalThrottled, time.Now(),
		state.ID, state.Version,
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 1 {
		state.Version++
		return true, nil
	}
	return false, nil
}

func (r *rateStateRepository) get(ctx context.Context, propertyID string, metric ratestate.Metric) (*ratestate.State, error) {
	var state ratestate.State
	err := r.db.QueryRowContext(ctx, `
        SELECT `+rateStateColumns+`
        FROM rate_states
        WHERE property_id = $1 AND metric = $2
    `, propertyID, metric).Scan(
		&state.ID, &state.PropertyID, &state.Metric, &state.Tokens, &state.Capacity,
		&state.LastRefillAt, &state.PausedUntil, &state.PauseCount,
		&state.TotalRequests, &state.TotalThrottled, &state.Version,
		&state.CreatedAt, &state.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &state, nil
}
