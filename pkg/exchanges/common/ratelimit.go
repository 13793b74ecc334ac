package common

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimiter throttles outgoing requests with a token bucket and tracks the
// used weight the exchange reports back.
type RateLimiter struct {
	bucket        *rate.Limiter
	usedWeight    int
	limit         int
	lastReset     time.Time
	resetInterval time.Duration
	backoff       time.Duration
	log           *zap.Logger
	mu            sync.RWMutex
}

// NewRateLimiter creates a new rate limiter.
// limit: maximum weight allowed per resetInterval (2400/min for USDT-M futures).
// rps/burst size the local token bucket.
func NewRateLimiter(limit int, resetInterval time.Duration, rps float64, burst int, log *zap.Logger) *RateLimiter {
	if log == nil {
		log = zap.NewNop()
	}
	return &RateLimiter{
		bucket:        rate.NewLimiter(rate.Limit(rps), burst),
		limit:         limit,
		resetInterval: resetInterval,
		lastReset:     time.Now(),
		backoff:       time.Second,
		log:           log,
	}
}

// Wait blocks until a request may be sent.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl.ShouldDelay() {
		t := time.NewTimer(rl.backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return rl.bucket.Wait(ctx)
}

// UpdateFromHeader updates the used weight from API response header.
func (rl *RateLimiter) UpdateFromHeader(headerValue string) {
	if headerValue == "" {
		return
	}

	weight, err := strconv.Atoi(headerValue)
	if err != nil {
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastReset) >= rl.resetInterval {
		rl.usedWeight = 0
		rl.lastReset = time.Now()
	}

	rl.usedWeight = weight

	percentage := float64(rl.usedWeight) / float64(rl.limit) * 100
	if percentage >= 95 {
		rl.log.Error("rate limit critical, approaching ban threshold",
			zap.Int("used", rl.usedWeight), zap.Int("limit", rl.limit), zap.Float64("pct", percentage))
	} else if percentage >= 80 {
		rl.log.Warn("rate limit warning",
			zap.Int("used", rl.usedWeight), zap.Int("limit", rl.limit), zap.Float64("pct", percentage))
	}
}

// GetUsage returns current usage information.
func (rl *RateLimiter) GetUsage() (used int, limit int, percentage float64) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	if time.Since(rl.lastReset) >= rl.resetInterval {
		return 0, rl.limit, 0
	}

	return rl.usedWeight, rl.limit, float64(rl.usedWeight) / float64(rl.limit) * 100
}

// ShouldDelay returns true if we should delay the next request.
func (rl *RateLimiter) ShouldDelay() bool {
	_, _, pct := rl.GetUsage()
	return pct >= 90
}
