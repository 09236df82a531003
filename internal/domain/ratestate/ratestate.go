// Package ratestate models the durable token bucket that throttles
// outbound partner calls per (property, metric). State lives in the
// database so every worker instance shares the same budget; mutation
// goes through the rate limiter, which persists with an optimistic
// version check.
package ratestate

import (
	"time"

	"github.com/google/uuid"
)

type Metric string

const (
	MetricPrice        Metric = "price"
	MetricAvailability Metric = "availability"
)

const (
	DefaultCapacity = 10.0
	RefillWindow    = time.Minute
	BasePause       = 60 * time.Second
	MaxPause        = 600 * time.Second
)

type State struct {
	ID             uuid.UUID  `json:"id"`
	PropertyID     string     `json:"property_id"`
	Metric         Metric     `json:"metric"`
	Tokens         float64    `json:"tokens"`
	Capacity       float64    `json:"capacity"`
	LastRefillAt   time.Time  `json:"last_refill_at"`
	PausedUntil    *time.Time `json:"paused_until,omitempty"`
	PauseCount     int        `json:"pause_count"`
	TotalRequests  int64      `json:"total_requests"`
	TotalThrottled int64      `json:"total_throttled"`
	Version        int64      `json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Refill adds the tokens accrued since the last refill at a rate of
// capacity per window, capped at capacity.
func (s *State) Refill(now time.Time) {
	if !now.After(s.LastRefillAt) {
		return
	}
	elapsed := now.Sub(s.LastRefillAt).Seconds()
	s.Tokens += elapsed * s.Capacity / RefillWindow.Seconds()
	if s.Tokens > s.Capacity {
		s.Tokens = s.Capacity
	}
	s.LastRefillAt = now
}

// Paused reports whether the bucket is inside a 429-imposed pause.
func (s *State) Paused(now time.Time) bool {
	return s.PausedUntil != nil && s.PausedUntil.After(now)
}

// TryConsume refills and takes one token. It fails while paused, no
// matter how many tokens are available.
func (s *State) TryConsume(now time.Time) bool {
	if s.Paused(now) {
		return false
	}
	s.Refill(now)
	if s.Tokens < 1 {
		return false
	}
	s.Tokens--
	s.TotalRequests++
	return true
}

// RetryAfter estimates how long until the next acquisition can succeed.
func (s *State) RetryAfter(now time.Time) time.Duration {
	if s.Paused(now) {
		return s.PausedUntil.Sub(now)
	}
	if s.Tokens >= 1 {
		return 0
	}
	missing := 1 - s.Tokens
	return time.Duration(missing * float64(RefillWindow) / s.Capacity)
}

// RegisterThrottle starts or extends a pause after an external 429.
// Consecutive throttles double the pause up to the cap.
func (s *State) RegisterThrottle(now time.Time) {
	pause := BasePause
	for i := 0; i < s.PauseCount && pause < MaxPause; i++ {
		pause *= 2
	}
	if pause > MaxPause {
		pause = MaxPause
	}
	until := now.Add(pause)
	s.PausedUntil = &until
	s.PauseCount++
	s.TotalThrottled++
}

// RegisterSuccess clears any pause after a successful partner call.
func (s *State) RegisterSuccess() {
	s.PausedUntil = nil
	s.PauseCount = 0
}
