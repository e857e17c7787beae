package main

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type rateLimitEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter gives every key a token bucket of limit events per window.
type rateLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	entryTTL time.Duration
	now      func() time.Time
	entries  map[string]*rateLimitEntry
}

// newRateLimiter allows limit events per window and forgets keys idle for
// longer than ttl. ttl is never shorter than window, so a dropped key would
// have had a full bucket anyway.
func newRateLimiter(limit int, window, ttl time.Duration) *rateLimiter {
	if ttl < window {
		ttl = window
	}
	return &rateLimiter{
		limit:    rate.Every(window / time.Duration(limit)),
		burst:    limit,
		entryTTL: ttl,
		now:      time.Now,
		entries:  make(map[string]*rateLimitEntry),
	}
}

// Allow takes a token for key and reports whether one was available.
func (r *rateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	entry, ok := r.entries[key]
	if !ok {
		entry = &rateLimitEntry{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.entries[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// prune drops keys not seen within the entry TTL.
func (r *rateLimiter) prune() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for key, entry := range r.entries {
		if now.Sub(entry.lastSeen) > r.entryTTL {
			delete(r.entries, key)
		}
	}
}
