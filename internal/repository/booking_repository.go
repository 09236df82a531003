package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"staysync/internal/domain/booking"
	sync_errors "staysync/pkg/errors"
)

type bookingRepository struct {
	db DBTX
}

func NewBookingRepository(db DBTX) BookingRepository {
	return &bookingRepository{db: db}
}

const bookingColumns = `id, unit_id, guest_name, guest_phone, guest_email, check_in_date, check_out_date, total_price, currency, status, source_type, channel_source, external_reservation_id, external_revision_id, last_applied_revision_at, notes, created_at, updated_at`

func (r *bookingRepository) Create(ctx context.Context, tx DBTX, b *booking.Booking) error {
	execDB := tx
	if execDB == nil {
		execDB = r.db
	}
	_, err := execDB.ExecContext(ctx, `
        INSERT INTO bookings (`+bookingColumns+`)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
    `,
		b.ID, b.UnitID, b.GuestName, b.GuestPhone, b.GuestEmail,
		b.CheckInDate, b.CheckOutDate, b.TotalPrice, b.Currency,
		b.Status, b.SourceType, b.ChannelSource,
		b.ExternalReservationID, b.ExternalRevisionID, b.LastAppliedRevisionAt,
		b.Notes, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil && isUniqueViolation(err) {
		return sync_errors.ErrAlreadyExists
	}
	return err
}

func (r *bookingRepository) Update(ctx context.Context, tx DBTX, b *booking.Booking) error {
	execDB := tx
	if execDB == nil {
		execDB = r.db
	}
	b.UpdatedAt = time.Now()
	_, err := execDB.ExecContext(ctx, `
        UPDATE bookings
        SET guest_name = $1, guest_phone = $2, guest_email = $3,
            check_in_date = $4, check_out_date = $5, total_price = $6, currency = $7,
            status = $8, external_revision_id = $9, last_applied_revision_at = $10,
            notes = $11, updated_at = $12
        WHERE id = $13
    `,
		b.GuestName, b.GuestPhone, b.GuestEmail,
		b.CheckInDate, b.CheckOutDate, b.TotalPrice, b.Currency,
		b.Status, b.ExternalRevisionID, b.LastAppliedRevisionAt,
		b.Notes, b.UpdatedAt, b.ID,
	)
	return err
}

func (r *bookingRepository) GetByExternalID(ctx context.Context, reservationID string) (*booking.Booking, error) {
	row := r.db.QueryRowContext(ctx, `
        SELECT `+bookingColumns+`
        FROM bookings
        WHERE external_reservation_id = $1
    `, reservationID)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sync_errors.ErrNotFound
	}
	return b, err
}

// ListActiveForUnit returns non-cancelled bookings overlapping
// [from, to). Check-out day does not block.
func (r *bookingRepository) ListActiveForUnit(ctx context.Context, unitID uuid.UUID, from, to time.Time) ([]booking.Booking, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT `+bookingColumns+`
        FROM bookings
        WHERE unit_id = $1 AND status != $2
          AND check_in_date < $3 AND check_out_date > $4
        ORDER BY check_in_date ASC
    `, unitID, booking.StatusCancelled, to, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []booking.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

func (r *bookingRepository) CreateRevision(ctx context.Context, tx DBTX, rev *booking.Revision) error {
	execDB := tx
	if execDB == nil {
		execDB = r.db
	}
	_, err := execDB.ExecContext(ctx, `
        INSERT INTO booking_revisions (id, booking_id, external_booking_id, revision_id, event_type, payload, applied, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
    `,
		rev.ID, rev.BookingID, rev.ExternalBookingID, rev.RevisionID,
		rev.EventType, rev.Payload, rev.Applied, rev.CreatedAt,
	)
	if err != nil && isUniqueViolation(err) {
		return sync_errors.ErrAlreadyExists
	}
	return err
}

func (r *bookingRepository) HasRevision(ctx context.Context, externalBookingID, revisionID string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
        SELECT COUNT(1)
        FROM booking_revisions
        WHERE external_booking_id = $1 AND revision_id = $2
    `, externalBookingID, revisionID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func scanBooking(row rowScanner) (*booking.Booking, error) {
	var b booking.Booking
	err := row.Scan(
		&b.ID, &b.UnitID, &b.GuestName, &b.GuestPhone, &b.GuestEmail,
		&b.CheckInDate, &b.CheckOutDate, &b.TotalPrice, &b.Currency,
		&b.Status, &b.SourceType, &b.ChannelSource,
		&b.ExternalReservationID, &b.ExternalRevisionID, &b.LastAppliedRevisionAt,
		&b.Notes, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}
