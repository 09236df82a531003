package repository

import (
	"context"
	"fmt"
)

// InitSchema creates the integration tables and indexes. Statements are
// idempotent so every binary can run it at startup.
func InitSchema(ctx context.Context, db DBTX) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS channel_connections (
			id UUID PRIMARY KEY,
			project_id UUID NOT NULL,
			provider TEXT NOT NULL DEFAULT 'channex',
			property_id TEXT NOT NULL,
			api_key TEXT NOT NULL DEFAULT '',
			webhook_secret TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			last_sync_at TIMESTAMPTZ,
			last_error TEXT NOT NULL DEFAULT '',
			error_count INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_connections_property ON channel_connections (property_id)`,

		`CREATE TABLE IF NOT EXISTS channel_mappings (
			id UUID PRIMARY KEY,
			connection_id UUID NOT NULL REFERENCES channel_connections(id),
			unit_id UUID NOT NULL,
			room_type_id TEXT NOT NULL DEFAULT '',
			rate_plan_id TEXT NOT NULL DEFAULT '',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			last_price_sync_at TIMESTAMPTZ,
			last_avail_sync_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_mappings_connection_unit ON channel_mappings (connection_id, unit_id)`,
		`CREATE INDEX IF NOT EXISTS idx_mappings_room_type ON channel_mappings (connection_id, room_type_id)`,

		`CREATE TABLE IF NOT EXISTS outbox_events (
			id UUID PRIMARY KEY,
			connection_id UUID NOT NULL,
			unit_id UUID,
			kind TEXT NOT NULL,
			payload BYTEA,
			date_from TIMESTAMPTZ,
			date_to TIMESTAMPTZ,
			status TEXT NOT NULL DEFAULT 'pending',
			attempts INT NOT NULL DEFAULT 0,
			max_attempts INT NOT NULL DEFAULT 5,
			next_attempt_at TIMESTAMPTZ NOT NULL,
			last_error TEXT NOT NULL DEFAULT '',
			idempotency_key TEXT NOT NULL,
			completed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_outbox_idempotency ON outbox_events (idempotency_key)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_due ON outbox_events (status, next_attempt_at)`,

		`CREATE TABLE IF NOT EXISTS rate_states (
			id UUID PRIMARY KEY,
			property_id TEXT NOT NULL,
			metric TEXT NOT NULL,
			tokens DOUBLE PRECISION NOT NULL,
			capacity DOUBLE PRECISION NOT NULL,
			last_refill_at TIMESTAMPTZ NOT NULL,
			paused_until TIMESTAMPTZ,
			pause_count INT NOT NULL DEFAULT 0,
			total_requests BIGINT NOT NULL DEFAULT 0,
			total_throttled BIGINT NOT NULL DEFAULT 0,
			version BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_rate_states_key ON rate_states (property_id, metric)`,

		`CREATE TABLE IF NOT EXISTS webhook_records (
			id UUID PRIMARY KEY,
			provider TEXT NOT NULL,
			event_id TEXT NOT NULL,
			event_type TEXT NOT NULL DEFAULT '',
			payload BYTEA,
			source_ip TEXT NOT NULL DEFAULT '',
			received_at TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL DEFAULT 'received',
			action TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			processed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_webhook_event ON webhook_records (provider, event_id)`,
		`CREATE INDEX IF NOT EXISTS idx_webhook_status ON webhook_records (status, received_at)`,

		`CREATE TABLE IF NOT EXISTS webhook_idempotency (
			id UUID PRIMARY KEY,
			provider TEXT NOT NULL,
			event_id TEXT NOT NULL,
			reservation_id TEXT NOT NULL DEFAULT '',
			revision_id TEXT NOT NULL DEFAULT '',
			action TEXT NOT NULL,
			booking_id UUID,
			processed_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_webhook_idempotency_event ON webhook_idempotency (provider, event_id)`,

		`CREATE TABLE IF NOT EXISTS bookings (
			id UUID PRIMARY KEY,
			unit_id UUID NOT NULL,
			guest_name TEXT NOT NULL DEFAULT '',
			guest_phone TEXT NOT NULL DEFAULT '',
			guest_email TEXT NOT NULL DEFAULT '',
			check_in_date TIMESTAMPTZ NOT NULL,
			check_out_date TIMESTAMPTZ NOT NULL,
			total_price DOUBLE PRECISION NOT NULL DEFAULT 0,
			currency TEXT NOT NULL DEFAULT 'SAR',
			status TEXT NOT NULL DEFAULT 'confirmed',
			source_type TEXT NOT NULL DEFAULT 'direct',
			channel_source TEXT NOT NULL DEFAULT '',
			external_reservation_id TEXT NOT NULL DEFAULT '',
			external_revision_id TEXT NOT NULL DEFAULT '',
			last_applied_revision_at TIMESTAMPTZ,
			notes TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_bookings_external ON bookings (external_reservation_id) WHERE external_reservation_id != ''`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_unit_dates ON bookings (unit_id, check_in_date, check_out_date)`,

		`CREATE TABLE IF NOT EXISTS booking_revisions (
			id UUID PRIMARY KEY,
			booking_id UUID NOT NULL,
			external_booking_id TEXT NOT NULL,
			revision_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			payload BYTEA,
			applied BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_revisions_booking_revision ON booking_revisions (external_booking_id, revision_id)`,

		`CREATE TABLE IF NOT EXISTS pricing_policies (
			id UUID PRIMARY KEY,
			unit_id UUID NOT NULL,
			base_price DOUBLE PRECISION NOT NULL,
			weekend_markup_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
			discount_16_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
			discount_21_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
			discount_23_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
			weekend_days TEXT NOT NULL DEFAULT '4,5',
			timezone TEXT NOT NULL DEFAULT 'Asia/Riyadh',
			currency TEXT NOT NULL DEFAULT 'SAR',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_pricing_unit ON pricing_policies (unit_id)`,

		`CREATE TABLE IF NOT EXISTS integration_ledger (
			id UUID PRIMARY KEY,
			connection_id UUID,
			direction TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			external_id TEXT NOT NULL DEFAULT '',
			unit_id UUID,
			payload_hash TEXT NOT NULL DEFAULT '',
			payload_size INT NOT NULL DEFAULT 0,
			record_count INT NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			retry_count INT NOT NULL DEFAULT 0,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			request_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_connection ON integration_ledger (connection_id, created_at DESC)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	return nil
}
