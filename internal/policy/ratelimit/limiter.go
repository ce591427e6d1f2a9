// Package ratelimit implements per-worker admission control on a token bucket.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/tdnet-ingest/internal/metrics"
)

// Clock supplies the current time to the limiter.
type Clock interface {
	Now() time.Time
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Config holds rate limiter configuration.
type Config struct {
	// PerSecond is the maximum number of admissions in any rolling second.
	PerSecond int
	Clock     Clock
	Sleep     SleepFunc
}

// Limiter admits one caller at a time at an even spacing of 1/PerSecond.
// A Limiter belongs to exactly one worker; it is not meant to be shared.
type Limiter struct {
	limiter *rate.Limiter
	clock   Clock
	sleep   SleepFunc
}

// New creates a Limiter. A non-positive PerSecond disables limiting.
func New(cfg Config) *Limiter {
	limit := rate.Inf
	if cfg.PerSecond > 0 {
		limit = rate.Limit(cfg.PerSecond)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = wallClock{}
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return &Limiter{
		// Burst 1 keeps admissions evenly spaced, so no rolling one second
		// window can ever hold more than PerSecond of them.
		limiter: rate.NewLimiter(limit, 1),
		clock:   clock,
		sleep:   sleep,
	}
}

// Acquire blocks the calling worker until it may issue another request.
func (l *Limiter) Acquire(ctx context.Context) error {
	now := l.clock.Now()
	reservation := l.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return fmt.Errorf("rate limit reservation refused")
	}
	delay := reservation.DelayFrom(now)
	if delay <= 0 {
		return nil
	}
	metrics.ObserveRateLimitDelay(delay)
	if err := l.sleep(ctx, delay); err != nil {
		reservation.CancelAt(l.clock.Now())
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
