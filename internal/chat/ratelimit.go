package chat

import (
	"sync"
	"time"
)

// RateLimiter implements a per-user sliding window rate limiter.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	now      func() time.Time
}

// NewRateLimiter creates a new rate limiter allowing limit events per window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// Allow records an event for key and reports whether it fits the window.
// Rejected events are not recorded.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	recent := r.fresh(key, now)

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

func (r *RateLimiter) fresh(key string, now time.Time) []time.Time {
	cutoff := now.Add(-r.window)
	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	return recent
}

// Evict removes keys with no events inside the window.
func (r *RateLimiter) Evict() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	evicted := 0
	for key := range r.requests {
		if recent := r.fresh(key, now); len(recent) == 0 {
			delete(r.requests, key)
			evicted++
		} else {
			r.requests[key] = recent
		}
	}
	return evicted
}
