// Package ratelimit implements a sliding-window request counter over the keyed store.
//
// Each (scope, identifier) pair owns a list of request timestamps, newest first, that
// lives in the store with a TTL equal to the window so idle keys expire on their own.
// Checking and recording are two separate store operations; two requests racing on the
// same key can both pass a nearly full window. That overshoot is bounded by the number
// of concurrent requests and is accepted.
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/phonegate/server/internal/store"
)

// Key identifies one rate window.
type Key struct {
	Scope      string
	Identifier string
}

func (k Key) String() string {
	return k.Scope + ":" + k.Identifier
}

// Limiter counts requests per Key inside a trailing window.
type Limiter struct {
	bucket *store.Bucket
	now    func() time.Time
	log    *slog.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithLogger sets the logger used for store failures.
func WithLogger(log *slog.Logger) Option {
	return func(l *Limiter) { l.log = log }
}

// NewLimiter creates a limiter persisting its windows in bucket.
func NewLimiter(bucket *store.Bucket, opts ...Option) *Limiter {
	l := &Limiter{
		bucket: bucket,
		now:    time.Now,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow reports whether one more request fits in the window. Entries at or before
// now-window are dropped before counting, so a request exactly one window after the
// oldest entry is allowed.
func (l *Limiter) Allow(ctx context.Context, scope, identifier string, maxRequests int, window time.Duration) bool {
	history := prune(l.history(ctx, Key{scope, identifier}), l.now(), window)
	return len(history) < maxRequests
}

// Record adds a request at the current time and persists the window with TTL = window.
func (l *Limiter) Record(ctx context.Context, scope, identifier string, window time.Duration) error {
	key := Key{scope, identifier}
	now := l.now()
	history := prune(l.history(ctx, key), now, window)
	history = append([]int64{now.UnixNano()}, history...)

	raw, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("encode rate window: %w", err)
	}
	if err := l.bucket.SetTTL(ctx, key.String(), string(raw), window); err != nil {
		return fmt.Errorf("record request for %s: %w", key, err)
	}
	return nil
}

// TimeUntilAllowed returns how long until the oldest request in the window expires.
// ok is false when the window holds no requests.
func (l *Limiter) TimeUntilAllowed(ctx context.Context, scope, identifier string, window time.Duration) (wait time.Duration, ok bool) {
	now := l.now()
	history := prune(l.history(ctx, Key{scope, identifier}), now, window)
	if len(history) == 0 {
		return 0, false
	}
	return untilExpiry(history[len(history)-1], now, window), true
}

// check loads the window once and returns whether a request is allowed and, if not,
// how long until enough entries expire to admit one.
func (l *Limiter) check(ctx context.Context, key Key, rule Rule) (bool, time.Duration) {
	now := l.now()
	history := prune(l.history(ctx, key), now, rule.Window)
	if len(history) < rule.Limit {
		return true, 0
	}
	if rule.Limit <= 0 {
		return false, rule.Window
	}
	// history[Limit-1] is the newest entry that has to leave the window.
	return false, untilExpiry(history[rule.Limit-1], now, rule.Window)
}

// history returns the stored timestamps for key. Store failures and corrupt entries
// are logged and read as an empty history so an unavailable store never blocks callers.
func (l *Limiter) history(ctx context.Context, key Key) []int64 {
	raw, found, err := l.bucket.Get(ctx, key.String())
	if err != nil {
		l.log.WarnContext(ctx, "rate window unavailable, allowing request", "key", key.Scope, "error", err)
		return nil
	}
	if !found {
		return nil
	}
	var history []int64
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		l.log.WarnContext(ctx, "discarding corrupt rate window", "key", key.Scope, "error", err)
		return nil
	}
	return history
}

// prune drops entries at or before now-window. history is ordered newest first, so
// expired entries are all at the tail.
func prune(history []int64, now time.Time, window time.Duration) []int64 {
	cutoff := now.Add(-window).UnixNano()
	for len(history) > 0 && history[len(history)-1] <= cutoff {
		history = history[:len(history)-1]
	}
	return history
}

func untilExpiry(ts int64, now time.Time, window time.Duration) time.Duration {
	wait := time.Unix(0, ts).Add(window).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}
