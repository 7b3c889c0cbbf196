package util

import (
	"context"
	"sync"
	"time"
)

// RateLimiter implements a token-bucket rate limiter that replenishes tokens
// at a fixed rate up to a burst ceiling. The upstream market-data API
// enforces per-endpoint request quotas, so callers hold one limiter per
// endpoint rather than a global one.
type RateLimiter struct {
	rate     float64 // tokens per second
	burst    float64
	tokens   float64
	lastTime time.Time
	mu       sync.Mutex
}

// NewRateLimiter creates a RateLimiter that allows perMinute operations per
// minute with the given burst size. Burst values below 1 are raised to 1.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		rate:     float64(perMinute) / 60.0,
		burst:    float64(burst),
		tokens:   float64(burst),
		lastTime: time.Now(),
	}
}

// Wait blocks until a rate-limit token is available or the context is
// cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(rl.lastTime).Seconds()
		rl.tokens += elapsed * rl.rate
		if rl.tokens > rl.burst {
			rl.tokens = rl.burst
		}
		rl.lastTime = now

		if rl.tokens >= 1 {
			rl.tokens -= 1
			rl.mu.Unlock()
			return nil
		}
		rl.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// LimiterSet holds one RateLimiter per named upstream endpoint.
type LimiterSet struct {
	mu       sync.Mutex
	limiters map[string]*RateLimiter
	perMin   int
	burst    int
}

// NewLimiterSet creates a LimiterSet whose limiters default to perMinute
// operations per minute and the given burst.
func NewLimiterSet(perMinute, burst int) *LimiterSet {
	return &LimiterSet{
		limiters: make(map[string]*RateLimiter),
		perMin:   perMinute,
		burst:    burst,
	}
}

// Endpoint returns the limiter for the named endpoint, creating it on first
// use.
func (ls *LimiterSet) Endpoint(name string) *RateLimiter {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	rl, ok := ls.limiters[name]
	if !ok {
		rl = NewRateLimiter(ls.perMin, ls.burst)
		ls.limiters[name] = rl
	}
	return rl
}
