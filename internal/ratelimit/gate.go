package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/phonegate/server/internal/metrics"
)

// Scopes used by the account endpoints.
const (
	ScopeCheckPhone = "check_phone"
	ScopeRegister   = "register"
	ScopeLogin      = "login"
)

// ErrRateLimited matches every *RateLimitedError.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitedError reports a throttled request and how long the caller should wait.
type RateLimitedError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry in %s", e.Scope, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// Throttle is the capability the account workflows need from a rate limiter.
type Throttle interface {
	Check(ctx context.Context, scope string, identifiers ...string) error
	Hit(ctx context.Context, scope string, identifiers ...string)
}

// Gate applies the configured rule of a scope to one or more identifiers.
type Gate struct {
	limiter *Limiter
	rules   Rules
}

// NewGate creates a gate over limiter with the given rules.
func NewGate(limiter *Limiter, rules Rules) *Gate {
	return &Gate{limiter: limiter, rules: rules}
}

// Check returns a *RateLimitedError if any identifier has exhausted the scope's rule.
// The reported wait is the longest of the identifiers that are over the limit. An
// unconfigured scope is never limited.
func (g *Gate) Check(ctx context.Context, scope string, identifiers ...string) error {
	rule, ok := g.rules[scope]
	if !ok {
		return nil
	}

	var (
		throttled bool
		wait      time.Duration
	)
	for _, id := range identifiers {
		allowed, w := g.limiter.check(ctx, Key{scope, id}, rule)
		if allowed {
			continue
		}
		throttled = true
		if w > wait {
			wait = w
		}
	}
	if !throttled {
		return nil
	}
	metrics.RateLimitedTotal.WithLabelValues(scope).Inc()
	return &RateLimitedError{Scope: scope, RetryAfter: wait}
}

// Hit records one request against every identifier. Store failures are logged and
// otherwise ignored.
func (g *Gate) Hit(ctx context.Context, scope string, identifiers ...string) {
	rule, ok := g.rules[scope]
	if !ok {
		return
	}
	for _, id := range identifiers {
		if err := g.limiter.Record(ctx, scope, id, rule.Window); err != nil {
			g.limiter.log.WarnContext(ctx, "failed to record request", "scope", scope, "error", err)
		}
	}
}

