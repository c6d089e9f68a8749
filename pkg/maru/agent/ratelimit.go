// Package agent – ratelimit.go implements a per-chat sliding window rate
// limiter. Old timestamps are pruned on each check, so memory stays
// proportional to recent traffic.
package agent

import (
	"sync"
	"time"
)

// RateLimiter allows at most limit events per window per chat.
type RateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	events map[int64][]time.Time
}

// NewRateLimiter creates a limiter. A non-positive limit disables limiting.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:  limit,
		window: window,
		events: make(map[int64][]time.Time),
	}
}

// Allow reports whether the chat may send another message now, recording
// the event when allowed.
func (r *RateLimiter) Allow(chatID int64) bool {
	if r.limit <= 0 {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	recent := r.events[chatID][:0]
	for _, t := range r.events[chatID] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= r.limit {
		r.events[chatID] = recent
		return false
	}
	r.events[chatID] = append(recent, now)
	return true
}

// Remaining reports how many events the chat has left in the window.
func (r *RateLimiter) Remaining(chatID int64) int {
	if r.limit <= 0 {
		return 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-r.window)
	count := 0
	for _, t := range r.events[chatID] {
		if t.After(cutoff) {
			count++
		}
	}
	if count >= r.limit {
		return 0
	}
	return r.limit - count
}
