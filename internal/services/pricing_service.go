package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"staysync/internal/pricing"
	"staysync/internal/redis"
	"staysync/internal/repository"
	sync_errors "staysync/pkg/errors"
	"staysync/pkg/logger"
)

// PricingService serves quotes and calendars and owns policy writes.
// A policy write commits atomically with the price-update events for
// every channel the unit is mapped to, so the partner calendar can
// never silently drift from the stored policy.
type PricingService struct {
	policies    repository.PricingRepository
	channels    repository.ChannelRepository
	outbox      repository.OutboxRepository
	cache       *redis.CacheStore
	syncDays    int
	maxAttempts int
	log         *logger.Logger

	inTx func(ctx context.Context, fn func(repository.DBTX) error) error
	now  func() time.Time
}

func NewPricingService(
	db repository.DBTX,
	policies repository.PricingRepository,
	channels repository.ChannelRepository,
	outbox repository.OutboxRepository,
	cache *redis.CacheStore,
	syncDays int,
	maxAttempts int,
	log *logger.Logger,
) *PricingService {
	if syncDays <= 0 {
		syncDays = 30
	}
	return &PricingService{
		policies:    policies,
		channels:    channels,
		outbox:      outbox,
		cache:       cache,
		syncDays:    syncDays,
		maxAttempts: maxAttempts,
		log:         log,
		inTx: func(ctx context.Context, fn func(repository.DBTX) error) error {
			return repository.WithTx(ctx, db, fn)
		},
		now: time.Now,
	}
}

// GetPolicy loads a unit's policy, serving from cache when possible.
func (s *PricingService) GetPolicy(ctx context.Context, unitID uuid.UUID) (*pricing.Policy, error) {
	if s.cache != nil {
		if p, err := s.cache.GetPolicy(ctx, unitID); err == nil && p != nil {
			return p, nil
		}
	}
	p, err := s.policies.GetByUnit(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.SetPolicy(ctx, p); err != nil {
			s.log.Warnf("policy cache write failed: %v", err)
		}
	}
	return p, nil
}

// QuoteAt prices one night as seen from the given instant, applying the
// hour-of-day discount of the policy's local time.
func (s *PricingService) QuoteAt(ctx context.Context, unitID uuid.UUID, at time.Time) (*pricing.Quote, error) {
	p, err := s.GetPolicy(ctx, unitID)
	if err != nil {
		return nil, err
	}
	q := pricing.PriceAt(*p, at)
	return &q, nil
}

// Calendar prices consecutive dates starting at from. Calendar prices
// carry no hour discount.
func (s *PricingService) Calendar(ctx context.Context, unitID uuid.UUID, from time.Time, days int) ([]pricing.Quote, error) {
	if days <= 0 {
		days = s.syncDays
	}
	if s.cache != nil {
		if quotes, err := s.cache.GetCalendar(ctx, unitID, from, days); err == nil && quotes != nil {
			return quotes, nil
		}
	}
	p, err := s.GetPolicy(ctx, unitID)
	if err != nil {
		return nil, err
	}
	quotes := pricing.CalendarDays(*p, from, days)
	if s.cache != nil {
		if err := s.cache.SetCalendar(ctx, unitID, from, days, quotes); err != nil {
			s.log.Warnf("calendar cache write failed: %v", err)
		}
	}
	return quotes, nil
}

// QuoteStay totals the nights [checkIn, checkOut).
func (s *PricingService) QuoteStay(ctx context.Context, unitID uuid.UUID, checkIn, checkOut time.Time) (float64, []pricing.Quote, error) {
	if !checkIn.Before(checkOut) {
		return 0, nil, fmt.Errorf("%w: check-in must precede check-out", sync_errors.ErrInvalidInput)
	}
	p, err := s.GetPolicy(ctx, unitID)
	if err != nil {
		return 0, nil, err
	}
	total, nights := pricing.Total(*p, checkIn, checkOut)
	return total, nights, nil
}

// UpsertPolicy validates and stores a policy and queues a price push
// for every active channel mapping of the unit, all in one transaction.
func (s *PricingService) UpsertPolicy(ctx context.Context, p *pricing.Policy) error {
	if err := validatePolicy(p); err != nil {
		return err
	}
	now := s.now()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	mappings, err := s.channels.ListMappingsForUnit(ctx, p.UnitID)
	if err != nil {
		return err
	}

	version := strconv.FormatInt(now.UnixNano(), 10)
	err = s.inTx(ctx, func(tx repository.DBTX) error {
		if err := s.policies.Upsert(ctx, tx, p); err != nil {
			return err
		}
		for _, m := range mappings {
			if !m.Active {
				continue
			}
			if _, err := EnqueuePriceUpdate(ctx, s.outbox, tx, m.ConnectionID, p.UnitID, s.syncDays, version, s.maxAttempts); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.cache != nil {
		if err := s.cache.InvalidatePolicy(ctx, p.UnitID); err != nil {
			s.log.Warnf("policy cache invalidation failed: %v", err)
		}
	}
	s.log.Infof("pricing policy for unit %s saved, %d channel pushes queued", p.UnitID, len(mappings))
	return nil
}

func validatePolicy(p *pricing.Policy) error {
	if p.UnitID == uuid.Nil {
		return fmt.Errorf("%w: unit id required", sync_errors.ErrInvalidInput)
	}
	// Zero is a valid base price (comped units); only negatives are out.
	if p.BasePrice < 0 {
		return fmt.Errorf("%w: base price cannot be negative", sync_errors.ErrInvalidInput)
	}
	if p.WeekendMarkupPercent < 0 {
		return fmt.Errorf("%w: weekend markup cannot be negative", sync_errors.ErrInvalidInput)
	}
	for _, d := range []float64{p.Discount16Percent, p.Discount21Percent, p.Discount23Percent} {
		if d < 0 || d > 100 {
			return fmt.Errorf("%w: discounts must be between 0 and 100", sync_errors.ErrInvalidInput)
		}
	}
	for _, day := range p.WeekendDays {
		if day < 0 || day > 6 {
			return fmt.Errorf("%w: weekend days use 0 (Monday) through 6 (Sunday)", sync_errors.ErrInvalidInput)
		}
	}
	if p.Timezone != "" {
		if _, err := time.LoadLocation(p.Timezone); err != nil {
			return fmt.Errorf("%w: unknown timezone %q", sync_errors.ErrInvalidInput, p.Timezone)
		}
	}
	return nil
}
