package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Rate limiting key patterns:
// - ratelimit:{ip}:webhook - per-IP webhook delivery limit
// - ratelimit:{key}:api - per-caller API limit

// RateLimitConfig contains configuration for rate limiting
type RateLimitConfig struct {
	WebhookLimit  int           // Max webhook deliveries per window
	WebhookWindow time.Duration // Webhook rate limit window
	APILimit      int           // Max API requests per window
	APIWindow     time.Duration // API rate limit window
}

// DefaultRateLimitConfig returns sensible defaults
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		WebhookLimit:  120,
		WebhookWindow: 60 * time.Second,
		APILimit:      300,
		APIWindow:     60 * time.Second,
	}
}

// RateLimiter handles transport-level rate limiting using Redis. This
// guards the inbound HTTP surface; the outbound partner budget lives in
// the database-backed limiter.
type RateLimiter struct {
	client *goredis.Client
	config RateLimitConfig
}

// RateLimitResult contains the result of a rate limit check
type RateLimitResult struct {
	Allowed   bool          // Whether the action is allowed
	Remaining int           // Remaining actions in the window
	ResetIn   time.Duration // Time until the window resets
	Limit     int           // The limit for this action
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(client *goredis.Client, config RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		client: client,
		config: config,
	}
}

// AllowWebhook checks if an IP can deliver another webhook
func (r *RateLimiter) AllowWebhook(ctx context.Context, ip string) (*RateLimitResult, error) {
	key := fmt.Sprintf("ratelimit:%s:webhook", ip)
	return r.checkLimit(ctx, key, r.config.WebhookLimit, r.config.WebhookWindow)
}

// AllowAPI checks if a caller can make another API request
func (r *RateLimiter) AllowAPI(ctx context.Context, callerKey string) (*RateLimitResult, error) {
	key := fmt.Sprintf("ratelimit:%s:api", callerKey)
	return r.checkLimit(ctx, key, r.config.APILimit, r.config.APIWindow)
}

// checkLimit performs the actual rate limit check using a sliding window counter
func (r *RateLimiter) checkLimit(ctx context.Context, key string, limit int, window time.Duration) (*RateLimitResult, error) {
	// Use Lua script for atomic increment and check
	script := goredis.NewScript(`
		local key = KEYS[1]
		local limit = tonumber(ARGV[1])
		local window = tonumber(ARGV[2])

		local current = redis.call('GET', key)
		if current == false then
			current = 0
		else
			current = tonumber(current)
		end

		local ttl = redis.call('TTL', key)
		if ttl < 0 then
			ttl = window
		end

		if current < limit then
			redis.call('INCR', key)
			if ttl == window then
				redis.call('EXPIRE', key, window)
			end
			return {1, limit - current - 1, ttl}
		else
			return {0, 0, ttl}
		end
	`)

	result, err := script.Run(ctx, r.client, []string{key}, limit, int(window.Seconds())).Result()
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	// Parse the result
	resultSlice, ok := result.([]interface{})
	if !ok || len(resultSlice) < 3 {
		return nil, fmt.Errorf("unexpected rate limit result format")
	}

	allowed := resultSlice[0].(int64) == 1
	remaining := int(resultSlice[1].(int64))
	resetIn := time.Duration(resultSlice[2].(int64)) * time.Second

	return &RateLimitResult{
		Allowed:   allowed,
		Remaining: remaining,
		ResetIn:   resetIn,
		Limit:     limit,
	}, nil
}

// Reset resets the rate limit for a specific key (admin operation)
func (r *RateLimiter) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// ResetWebhook resets the webhook rate limit for an IP
func (r *RateLimiter) ResetWebhook(ctx context.Context, ip string) error {
	key := fmt.Sprintf("ratelimit:%s:webhook", ip)
	return r.client.Del(ctx, key).Err()
}

// GetStatus returns the current rate limit status without consuming
func (r *RateLimiter) GetStatus(ctx context.Context, key string, limit int, window time.Duration) (*RateLimitResult, error) {
	pipe := r.client.Pipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.TTL(ctx, key)
	_, _ = pipe.Exec(ctx)

	current := 0
	if val, err := getCmd.Int(); err == nil {
		current = val
	}

	ttl := window
	if ttlVal := ttlCmd.Val(); ttlVal > 0 {
		ttl = ttlVal
	}

	return &RateLimitResult{
		Allowed:   current < limit,
		Remaining: limit - current,
		ResetIn:   ttl,
		Limit:     limit,
	}, nil
}
