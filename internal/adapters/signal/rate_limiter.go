package signal

import (
	"sync"
	"time"

	"github.com/dkeye/echomeet/internal/domain"
)

// RateLimiter is a per-address sliding window.
type RateLimiter struct {
	mu       sync.Mutex
	history  map[domain.Address][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

func NewRateLimiter(limit int, interval time.Duration) *RateLimiter {
	return &RateLimiter{
		history:  make(map[domain.Address][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

func (rl *RateLimiter) Allow(addr domain.Address) bool {
	if rl == nil || rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[addr]
	fresh := make([]time.Time, 0, len(attempts)+1)
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[addr] = fresh
		return false
	}
	rl.history[addr] = append(fresh, now)
	return true
}

// Forget drops the history of a disconnected address.
func (rl *RateLimiter) Forget(addr domain.Address) {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.history, addr)
}
