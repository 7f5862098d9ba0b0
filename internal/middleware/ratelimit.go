package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ClientIP returns the caller address given the number of reverse proxies in front
// of the service. With proxies, the address is taken from X-Forwarded-For counting
// from the right so clients cannot spoof it by prepending entries.
func ClientIP(r *http.Request, numProxies int) string {
	remote := r.RemoteAddr
	if host, _, err := net.SplitHostPort(remote); err == nil {
		remote = host
	}

	xff := r.Header.Get("X-Forwarded-For")
	if numProxies <= 0 || xff == "" {
		return remote
	}
	addrs := strings.Split(xff, ",")
	n := numProxies
	if n > len(addrs) {
		n = len(addrs)
	}
	return strings.TrimSpace(addrs[len(addrs)-n])
}

// WithClientIP resolves the client address once per request.
func WithClientIP(numProxies int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), clientIPKey, ClientIP(r, numProxies))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClientIP returns the address stored by WithClientIP, falling back to RemoteAddr.
func GetClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPKey).(string); ok && ip != "" {
		return ip
	}
	return ClientIP(r, 0)
}

// ipLimiter holds a rate limiter and the last time it was seen.
type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// EdgeLimiter is a per-IP token bucket kept in memory. It sits in front of the
// scoped sliding windows and only absorbs floods.
type EdgeLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	rate     rate.Limit
	burst    int
	now      func() time.Time
}

// NewEdgeLimiter creates a new per-IP rate limiter
func NewEdgeLimiter(r rate.Limit, burst int) *EdgeLimiter {
	return &EdgeLimiter{
		limiters: make(map[string]*ipLimiter),
		rate:     r,
		burst:    burst,
		now:      time.Now,
	}
}

// Allow checks if a request is allowed for the given IP
func (l *EdgeLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.limiters[ip]
	if !ok {
		entry = &ipLimiter{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// Sweep forgets IPs not seen for idle.
func (l *EdgeLimiter) Sweep(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idle)
	removed := 0
	for ip, entry := range l.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(l.limiters, ip)
			removed++
		}
	}
	return removed
}

// Run sweeps idle entries every interval until ctx is done.
func (l *EdgeLimiter) Run(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep(idle)
		}
	}
}

// Middleware rejects requests from IPs that exhausted their bucket.
func (l *EdgeLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(GetClientIP(r)) {
			retryAfter := 1
			if l.rate > 0 && float64(l.rate) < 1 {
				retryAfter = int(1 / float64(l.rate))
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
