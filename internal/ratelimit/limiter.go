// Package ratelimit gates outbound partner calls on the durable token
// buckets in rate_states. The row is shared across worker instances,
// so every mutation is read-modify-write under an optimistic version
// check; a lost race re-reads and retries.
package ratelimit

import (
	"context"
	"time"

	"staysync/internal/domain/ratestate"
	"staysync/internal/repository"
	"staysync/pkg/logger"
)

const maxSaveRetries = 3

// Decision is the outcome of one acquisition attempt.
type Decision struct {
	Granted    bool
	RetryAfter time.Duration
}

type Limiter struct {
	states repository.RateStateRepository
	log    *logger.Logger

	// injectable clock
	now func() time.Time
}

func New(states repository.RateStateRepository, log *logger.Logger) *Limiter {
	return &Limiter{states: states, log: log, now: time.Now}
}

// TryAcquire takes one token for (propertyID, metric). While the
// bucket is paused by a registered throttle it denies unconditionally.
func (l *Limiter) TryAcquire(ctx context.Context, propertyID string, metric ratestate.Metric, capacity float64) (Decision, error) {
	for i := 0; i < maxSaveRetries; i++ {
		state, err := l.states.GetOrCreate(ctx, propertyID, metric, capacity)
		if err != nil {
			return Decision{}, err
		}
		now := l.now()
		if !state.TryConsume(now) {
			return Decision{RetryAfter: state.RetryAfter(now)}, nil
		}
		saved, err := l.states.Save(ctx, state)
		if err != nil {
			return Decision{}, err
		}
		if saved {
			return Decision{Granted: true}, nil
		}
	}
	// Lost every version race; deny for a beat rather than overspend.
	return Decision{RetryAfter: time.Second}, nil
}

// RegisterThrottle records an external 429 and returns the pause the
// property is now under.
func (l *Limiter) RegisterThrottle(ctx context.Context, propertyID string, metric ratestate.Metric, capacity float64) (time.Duration, error) {
	for i := 0; i < maxSaveRetries; i++ {
		state, err := l.states.GetOrCreate(ctx, propertyID, metric, capacity)
		if err != nil {
			return 0, err
		}
		now := l.now()
		state.RegisterThrottle(now)
		saved, err := l.states.Save(ctx, state)
		if err != nil {
			return 0, err
		}
		if saved {
			if l.log != nil {
				l.log.Warnf("rate limiter paused property=%s metric=%s for %s (pause #%d)",
					propertyID, metric, state.PausedUntil.Sub(now), state.PauseCount)
			}
			return state.PausedUntil.Sub(now), nil
		}
	}
	return ratestate.BasePause, nil
}

// RegisterSuccess clears any pause state after a successful call.
func (l *Limiter) RegisterSuccess(ctx context.Context, propertyID string, metric ratestate.Metric, capacity float64) error {
	for i := 0; i < maxSaveRetries; i++ {
		state, err := l.states.GetOrCreate(ctx, propertyID, metric, capacity)
		if err != nil {
			return err
		}
		if state.PauseCount == 0 && state.PausedUntil == nil {
			return nil
		}
		state.RegisterSuccess()
		saved, err := l.states.Save(ctx, state)
		if err != nil {
			return err
		}
		if saved {
			return nil
		}
	}
	return nil
}
