package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"staysync/internal/pricing"
)

// Cache key patterns:
// - pricing:calendar:{unit_id}:{from}:{days} - priced calendar slice
// - pricing:policy:{unit_id} - policy cache

// CacheConfig contains configuration for caching
type CacheConfig struct {
	CalendarTTL time.Duration // TTL for priced calendars (default 5m)
	PolicyTTL   time.Duration // TTL for pricing policies (default 5m)
}

// DefaultCacheConfig returns sensible defaults
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		CalendarTTL: 5 * time.Minute,
		PolicyTTL:   5 * time.Minute,
	}
}

// CacheStore handles caching in Redis
type CacheStore struct {
	client *goredis.Client
	config CacheConfig
}

// NewCacheStore creates a new cache store
func NewCacheStore(client *goredis.Client, config CacheConfig) *CacheStore {
	return &CacheStore{
		client: client,
		config: config,
	}
}

// --- Calendar Cache ---

func calendarKey(unitID uuid.UUID, from time.Time, days int) string {
	return fmt.Sprintf("pricing:calendar:%s:%s:%d", unitID, from.Format("2006-01-02"), days)
}

// GetCalendar retrieves a priced calendar slice from cache
func (c *CacheStore) GetCalendar(ctx context.Context, unitID uuid.UUID, from time.Time, days int) ([]pricing.Quote, error) {
	data, err := c.client.Get(ctx, calendarKey(unitID, from, days)).Result()
	if err == goredis.Nil {
		return nil, nil // Cache miss
	}
	if err != nil {
		return nil, err
	}

	var quotes []pricing.Quote
	if err := json.Unmarshal([]byte(data), &quotes); err != nil {
		return nil, err
	}
	return quotes, nil
}

// SetCalendar stores a priced calendar slice in cache
func (c *CacheStore) SetCalendar(ctx context.Context, unitID uuid.UUID, from time.Time, days int, quotes []pricing.Quote) error {
	data, err := json.Marshal(quotes)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, calendarKey(unitID, from, days), data, c.config.CalendarTTL).Err()
}

// InvalidateCalendars removes every cached calendar slice for a unit.
// Called whenever the unit's policy changes so stale prices never
// outlive a write.
func (c *CacheStore) InvalidateCalendars(ctx context.Context, unitID uuid.UUID) error {
	pattern := fmt.Sprintf("pricing:calendar:%s:*", unitID)
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) > 0 {
		return c.client.Del(ctx, keys...).Err()
	}
	return nil
}

// --- Policy Cache ---

func policyKey(unitID uuid.UUID) string {
	return fmt.Sprintf("pricing:policy:%s", unitID)
}

// GetPolicy retrieves a pricing policy from cache
func (c *CacheStore) GetPolicy(ctx context.Context, unitID uuid.UUID) (*pricing.Policy, error) {
	data, err := c.client.Get(ctx, policyKey(unitID)).Result()
	if err == goredis.Nil {
		return nil, nil // Cache miss
	}
	if err != nil {
		return nil, err
	}

	var policy pricing.Policy
	if err := json.Unmarshal([]byte(data), &policy); err != nil {
		return nil, err
	}
	return &policy, nil
}

// SetPolicy stores a pricing policy in cache
func (c *CacheStore) SetPolicy(ctx context.Context, policy *pricing.Policy) error {
	data, err := json.Marshal(policy)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, policyKey(policy.UnitID), data, c.config.PolicyTTL).Err()
}

// InvalidatePolicy removes a policy and its calendars from cache
func (c *CacheStore) InvalidatePolicy(ctx context.Context, unitID uuid.UUID) error {
	if err := c.client.Del(ctx, policyKey(unitID)).Err(); err != nil {
		return err
	}
	return c.InvalidateCalendars(ctx, unitID)
}

// --- Utility Methods ---

// Ping checks if Redis is available
func (c *CacheStore) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
