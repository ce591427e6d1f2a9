package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterNeverExceedsWindow(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	l := New(Config{PerSecond: 5, Clock: clock, Sleep: clock.Sleep})

	var admissions []time.Time
	for i := 0; i < 40; i++ {
		require.NoError(t, l.Acquire(context.Background()))
		admissions = append(admissions, clock.Now())
	}

	for i, start := range admissions {
		inWindow := 0
		for _, ts := range admissions[i:] {
			if ts.Sub(start) < time.Second {
				inWindow++
			}
		}
		require.LessOrEqual(t, inWindow, 5, "window starting at admission %d", i)
	}

	elapsed := admissions[len(admissions)-1].Sub(admissions[0])
	require.Equal(t, 39*200*time.Millisecond, elapsed)
}

func TestLimiterFirstAdmissionIsImmediate(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(100, 0)}
	l := New(Config{PerSecond: 5, Clock: clock, Sleep: clock.Sleep})

	require.NoError(t, l.Acquire(context.Background()))
	require.Empty(t, clock.slept)
}

func TestLimiterRecoversAfterIdle(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(100, 0)}
	l := New(Config{PerSecond: 5, Clock: clock, Sleep: clock.Sleep})

	require.NoError(t, l.Acquire(context.Background()))
	clock.Advance(time.Second)
	require.NoError(t, l.Acquire(context.Background()))
	require.Empty(t, clock.slept, "a token accrues while idle")
}

func TestLimitersAreIndependent(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(100, 0)}
	a := New(Config{PerSecond: 1, Clock: clock, Sleep: clock.Sleep})
	b := New(Config{PerSecond: 1, Clock: clock, Sleep: clock.Sleep})

	require.NoError(t, a.Acquire(context.Background()))
	require.NoError(t, b.Acquire(context.Background()))
	require.Empty(t, clock.slept, "second worker is not blocked by the first")
}

func TestLimiterHonorsContext(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(100, 0)}
	sleepErr := context.Canceled
	l := New(Config{
		PerSecond: 1,
		Clock:     clock,
		Sleep: func(context.Context, time.Duration) error {
			return sleepErr
		},
	})

	require.NoError(t, l.Acquire(context.Background()))
	err := l.Acquire(context.Background())
	require.Error(t, err)
	require.True(t, errors.Is(err, context.Canceled))
}

func TestLimiterWallClock(t *testing.T) {
	t.Parallel()

	l := New(Config{PerSecond: 20})
	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx))

	start := time.Now()
	require.NoError(t, l.Acquire(ctx))
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestLimiterDisabled(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(100, 0)}
	l := New(Config{PerSecond: 0, Clock: clock, Sleep: clock.Sleep})
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Acquire(context.Background()))
	}
	require.Empty(t, clock.slept)
}

// --- fakes ---

type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slept = append(c.slept, d)
	c.now = c.now.Add(d)
	return nil
}
