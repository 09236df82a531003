package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"staysync/internal/domain/channel"
	sync_errors "staysync/pkg/errors"
)

type channelRepository struct {
	db DBTX
}

func NewChannelRepository(db DBTX) ChannelRepository {
	return &channelRepository{db: db}
}

const connectionColumns = `id, project_id, provider, property_id, api_key, webhook_secret, status, last_sync_at, last_error, error_count, created_at, updated_at`
const mappingColumns = `id, connection_id, unit_id, room_type_id, rate_plan_id, active, last_price_sync_at, last_avail_sync_at, created_at, updated_at`

func (r *channelRepository) CreateConnection(ctx context.Context, tx DBTX, conn *channel.Connection) error {
	execDB := tx
	if execDB == nil {
		execDB = r.db
	}
	_, err := execDB.ExecContext(ctx, `
        INSERT INTO channel_connections (`+connectionColumns+`)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
    `,
		conn.ID, conn.ProjectID, conn.Provider, conn.PropertyID,
		conn.APIKey, conn.WebhookSecret, conn.Status,
		conn.LastSyncAt, conn.LastError, conn.ErrorCount,
		conn.CreatedAt, conn.UpdatedAt,
	)
	if err != nil && isUniqueViolation(err) {
		return sync_errors.ErrAlreadyExists
	}
	return err
}

func (r *channelRepository) GetConnection(ctx context.Context, id uuid.UUID) (*channel.Connection, error) {
	return r.getConnection(ctx, `WHERE id = $1`, id)
}

func (r *channelRepository) GetConnectionByProperty(ctx context.Context, propertyID string) (*channel.Connection, error) {
	return r.getConnection(ctx, `WHERE property_id = $1`, propertyID)
}

func (r *channelRepository) getConnection(ctx context.Context, where string, arg interface{}) (*channel.Connection, error) {
	var conn channel.Connection
	err := r.db.QueryRowContext(ctx, `
        SELECT `+connectionColumns+`
        FROM channel_connections
        `+where,
		arg,
	).Scan(
		&conn.ID, &conn.ProjectID, &conn.Provider, &conn.PropertyID,
		&conn.APIKey, &conn.WebhookSecret, &conn.Status,
		&conn.LastSyncAt, &conn.LastError, &conn.ErrorCount,
		&conn.CreatedAt, &conn.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sync_errors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

func (r *channelRepository) ListConnections(ctx context.Context) ([]channel.Connection, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT `+connectionColumns+`
        FROM channel_connections
        ORDER BY created_at ASC
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []channel.Connection
	for rows.Next() {
		var conn channel.Connection
		if err := rows.Scan(
			&conn.ID, &conn.ProjectID, &conn.Provider, &conn.PropertyID,
			&conn.APIKey, &conn.WebhookSecret, &conn.Status,
			&conn.LastSyncAt, &conn.LastError, &conn.ErrorCount,
			&conn.CreatedAt, &conn.UpdatedAt,
		); err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}
	return conns, rows.Err()
}

func (r *channelRepository) UpdateConnectionStatus(ctx context.Context, id uuid.UUID, status channel.ConnectionStatus, lastError string) error {
	_, err := r.db.ExecContext(ctx, `
        UPDATE channel_connections
        SET status = $1, last_error = $2, updated_at = $3
        WHERE id = $4
    `, status, lastError, time.Now(), id)
	return err
}

func (r *channelRepository) RecordSyncSuccess(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
        UPDATE channel_connections
        SET status = $1, last_sync_at = $2, last_error = '', error_count = 0, updated_at = $3
        WHERE id = $4
    `, channel.ConnectionActive, at, time.Now(), id)
	return err
}

// RecordSyncFailure bumps the consecutive failure count and flips the
// connection to error once it crosses the threshold.
func (r *channelRepository) RecordSyncFailure(ctx context.Context, id uuid.UUID, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
        UPDATE channel_connections
        SET error_count = error_count + 1,
            last_error = $1,
            status = CASE WHEN error_count + 1 >= $2 THEN $3 ELSE status END,
            updated_at = $4
        WHERE id = $5
    `, errorMsg, channel.ErrorThreshold, channel.ConnectionError, time.Now(), id)
	return err
}

func (r *channelRepository) CreateMapping(ctx context.Context, tx DBTX, m *channel.Mapping) error {
	execDB := tx
	if execDB == nil {
		execDB = r.db
	}
	_, err := execDB.ExecContext(ctx, `
        INSERT INTO channel_mappings (`+mappingColumns+`)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
    `,
		m.ID, m.ConnectionID, m.UnitID, m.RoomTypeID, m.RatePlanID,
		m.Active, m.LastPriceSyncAt, m.LastAvailSyncAt,
		m.CreatedAt, m.UpdatedAt,
	)
	if err != nil && isUniqueViolation(err) {
		return sync_errors.ErrAlreadyExists
	}
	return err
}

func (r *channelRepository) GetMapping(ctx context.Context, connectionID, unitID uuid.UUID) (*channel.Mapping, error) {
	return r.getMapping(ctx, `WHERE connection_id = $1 AND unit_id = $2`, connectionID, unitID)
}

func (r *channelRepository) FindMappingByRoomType(ctx context.Context, connectionID uuid.UUID, roomTypeID string) (*channel.Mapping, error) {
	return r.getMapping(ctx, `WHERE connection_id = $1 AND room_type_id = $2`, connectionID, roomTypeID)
}

func (r *channelRepository) FindMappingByRatePlan(ctx context.Context, connectionID uuid.UUID, ratePlanID string) (*channel.Mapping, error) {
	return r.getMapping(ctx, `WHERE connection_id = $1 AND rate_plan_id = $2`, connectionID, ratePlanID)
}

func (r *channelRepository) getMapping(ctx context.Context, where string, args ...interface{}) (*channel.Mapping, error) {
	var m channel.Mapping
	err := r.db.QueryRowContext(ctx, `
        SELECT `+mappingColumns+`
        FROM channel_mappings
        `+where,
		args...,
	).Scan(
		&m.ID, &m.ConnectionID, &m.UnitID, &m.RoomTypeID, &m.RatePlanID,
		&m.Active, &m.LastPriceSyncAt, &m.LastAvailSyncAt,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sync_errors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *channelRepository) ListActiveMappings(ctx context.Context, connectionID uuid.UUID) ([]channel.Mapping, error) {
	return r.listMappings(ctx, `WHERE connection_id = $1 AND active`, connectionID)
}

func (r *channelRepository) ListMappingsForUnit(ctx context.Context, unitID uuid.UUID) ([]channel.Mapping, error) {
	return r.listMappings(ctx, `WHERE unit_id = $1 AND active`, unitID)
}

func (r *channelRepository) listMappings(ctx context.Context, where string, arg interface{}) ([]channel.Mapping, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT `+mappingColumns+`
        FROM channel_mappings
        `+where+`
        ORDER BY created_at ASC
    `, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mappings []channel.Mapping
	for rows.Next() {
		var m channel.Mapping
		if err := rows.Scan(
			&m.ID, &m.ConnectionID, &m.UnitID, &m.RoomTypeID, &m.RatePlanID,
			&m.Active, &m.LastPriceSyncAt, &m.LastAvailSyncAt,
			&m.CreatedAt, &m.UpdatedAt,
		); err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

func (r *channelRepository) TouchPriceSync(ctx context.Context, mappingID uuid.UUID, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
        UPDATE channel_mappings SET last_price_sync_at = $1, updated_at = $2 WHERE id = $3
    `, at, time.Now(), mappingID)
	return err
}

func (r *channelRepository) TouchAvailSync(ctx context.Context, mappingID uuid.UUID, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
        UPDATE channel_mappings SET last_avail_sync_at = $1, updated_at = $2 WHERE id = $3
    `, at, time.Now(), mappingID)
	return err
}
