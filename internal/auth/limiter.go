package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleLimiterTTL is how long an unused limiter is kept before Prune drops it.
const idleLimiterTTL = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiterStore hands out one token bucket per account.
type RateLimiterStore struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	limit    rate.Limit
	burst    int
}

// NewRateLimiterStore creates a store allowing requestsPerMinute sustained
// with the given burst.
func NewRateLimiterStore(requestsPerMinute, burst int) *RateLimiterStore {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiterStore{
		limiters: make(map[string]*limiterEntry),
		limit:    rate.Limit(float64(requestsPerMinute) / 60), //nolint:mnd // per second
		burst:    burst,
	}
}

// Allow reports whether accountID may make a request now.
func (s *RateLimiterStore) Allow(accountID string) bool {
	return s.limiter(accountID).Allow()
}

func (s *RateLimiterStore) limiter(accountID string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.limiters[accountID]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.limiters[accountID] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

// Prune drops limiters idle for longer than the TTL and returns how many
// were removed.
func (s *RateLimiterStore) Prune(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, entry := range s.limiters {
		if now.Sub(entry.lastSeen) > idleLimiterTTL {
			delete(s.limiters, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked accounts.
func (s *RateLimiterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}
