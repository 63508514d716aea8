package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Default bucket parameters. Bungie allows roughly 25 requests per second per
// key; 20 leaves headroom for other clients sharing the key.
const (
	DefaultCapacity     = 20
	DefaultPerSecond    = 20.0
	DefaultPollInterval = 100 * time.Millisecond
)

// Limiter is a token bucket with capacity C refilled continuously at R tokens
// per second. The bucket starts full.
type Limiter struct {
	bucket       *rate.Limiter
	capacity     int
	pollInterval time.Duration
	now          func() time.Time
	onWait       func()
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithPollInterval sets how long a waiter sleeps between attempts.
func WithPollInterval(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.pollInterval = d
		}
	}
}

// WithClock replaces time.Now. Used by tests to move time explicitly.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithWaitHook registers a callback invoked every time a waiter finds the
// bucket empty and goes to sleep.
func WithWaitHook(fn func()) Option {
	return func(l *Limiter) {
		l.onWait = fn
	}
}

// New creates a full bucket. Non-positive arguments fall back to the defaults.
func New(capacity int, perSecond float64, opts ...Option) *Limiter {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if perSecond <= 0 {
		perSecond = DefaultPerSecond
	}

	l := &Limiter{
		bucket:       rate.NewLimiter(rate.Limit(perSecond), capacity),
		capacity:     capacity,
		pollInterval: DefaultPollInterval,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TryAcquire takes one token if a whole token is available.
func (l *Limiter) TryAcquire() bool {
	return l.bucket.AllowN(l.now(), 1)
}

// Acquire blocks until a token has been taken or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if l.TryAcquire() {
			return nil
		}
		if l.onWait != nil {
			l.onWait()
		}

		timer := time.NewTimer(l.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Tokens returns the current, possibly fractional, token count.
// It never exceeds Capacity.
func (l *Limiter) Tokens() float64 {
	return l.bucket.TokensAt(l.now())
}

// Capacity returns the bucket size.
func (l *Limiter) Capacity() int {
	return l.capacity
}
