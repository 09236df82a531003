package repository

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"staysync/internal/pricing"
	sync_errors "staysync/pkg/errors"
)

type pricingRepository struct {
	db DBTX
}

func NewPricingRepository(db DBTX) PricingRepository {
	return &pricingRepository{db: db}
}

func (r *pricingRepository) Upsert(ctx context.Context, tx DBTX, p *pricing.Policy) error {
	execDB := tx
	if execDB == nil {
		execDB = r.db
	}
	_, err := execDB.ExecContext(ctx, `
        INSERT INTO pricing_policies
            (id, unit_id, base_price, weekend_markup_percent, discount_16_percent, discount_21_percent, discount_23_percent, weekend_days, timezone, currency, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
        ON CONFLICT (unit_id) DO UPDATE SET
            base_price = EXCLUDED.base_price,
            weekend_markup_percent = EXCLUDED.weekend_markup_percent,
            discount_16_percent = EXCLUDED.discount_16_percent,
            discount_21_percent = EXCLUDED.discount_21_percent,
            discount_23_percent = EXCLUDED.discount_23_percent,
            weekend_days = EXCLUDED.weekend_days,
            timezone = EXCLUDED.timezone,
            currency = EXCLUDED.currency,
            updated_at = EXCLUDED.updated_at
    `,
		p.ID, p.UnitID, p.BasePrice, p.WeekendMarkupPercent,
		p.Discount16Percent, p.Discount21Percent, p.Discount23Percent,
		joinDays(p.WeekendDays), p.Timezone, p.Currency,
		p.CreatedAt, p.UpdatedAt,
	)
	return err
}

func (r *pricingRepository) GetByUnit(ctx context.Context, unitID uuid.UUID) (*pricing.Policy, error) {
	var p pricing.Policy
	var days string
	err := r.db.QueryRowContext(ctx, `
        SELECT id, unit_id, base_price, weekend_markup_percent, discount_16_percent, discount_21_percent, discount_23_percent, weekend_days, timezone, currency, created_at, updated_at
        FROM pricing_policies
        WHERE unit_id = $1
    `, unitID).Scan(
		&p.ID, &p.UnitID, &p.BasePrice, &p.WeekendMarkupPercent,
		&p.Discount16Percent, &p.Discount21Percent, &p.Discount23Percent,
		&days, &p.Timezone, &p.Currency,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sync_errors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.WeekendDays = splitDays(days)
	return &p, nil
}

// Weekend days persist as a comma list in the partner numbering
// (Monday=0 .. Sunday=6), e.g. "4,5".
func joinDays(days []int) string {
	if len(days) == 0 {
		return ""
	}
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}

func splitDays(raw string) []int {
	if raw == "" {
		return nil
	}
	var days []int
	for _, part := range strings.Split(raw, ",") {
		if d, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
			days = append(days, d)
		}
	}
	return days
}
