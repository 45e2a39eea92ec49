// Package limits rate limits clients of the lookup proxies.
package limits

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Anvisninger/signup-flow/pkg/logging"
)

// ErrRateLimitExceeded is returned by Wait when the context ends first.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// RateLimiter limits the rate of operations per key.
type RateLimiter interface {
	Allow(key string) bool
	Wait(ctx context.Context, key string) error
}

// TokenBucket implements a per-key token bucket rate limiter.
type TokenBucket struct {
	rate    float64 // tokens per second
	burst   int
	buckets sync.Map // key -> *bucket

	idleTTL time.Duration
	stop    chan struct{}
	once    sync.Once

	now func() time.Time
}

type bucket struct {
	tokens   float64
	lastFill time.Time
	mu       sync.Mutex
}

// NewTokenBucket creates a limiter refilling rate tokens per second up to
// burst. Buckets idle for an hour are dropped. Call Stop to end the cleanup
// goroutine.
func NewTokenBucket(rate float64, burst int) *TokenBucket {
	if burst < 1 {
		burst = 1
	}
	tb := &TokenBucket{
		rate:    rate,
		burst:   burst,
		idleTTL: time.Hour,
		stop:    make(chan struct{}),
		now:     time.Now,
	}
	go tb.cleanupLoop(time.Minute)
	return tb
}

// Allow reports whether one operation is allowed for key.
func (tb *TokenBucket) Allow(key string) bool {
	return tb.AllowN(key, 1)
}

// AllowN reports whether n operations are allowed for key.
func (tb *TokenBucket) AllowN(key string, n int) bool {
	b := tb.getBucket(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	tb.refill(b)
	if b.tokens >= float64(n) {
		b.tokens -= float64(n)
		return true
	}
	return false
}

// RetryAfter returns how long key must wait for the next token.
func (tb *TokenBucket) RetryAfter(key string) time.Duration {
	b := tb.getBucket(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	tb.refill(b)
	if b.tokens >= 1 || tb.rate <= 0 {
		return 0
	}
	return time.Duration((1 - b.tokens) / tb.rate * float64(time.Second))
}

// Wait blocks until an operation is allowed or ctx is done.
func (tb *TokenBucket) Wait(ctx context.Context, key string) error {
	for {
		if tb.Allow(key) {
			return nil
		}

		delay := tb.RetryAfter(key)
		if delay <= 0 {
			delay = 10 * time.Millisecond
		}

		select {
		case <-ctx.Done():
			return errors.Join(ErrRateLimitExceeded, ctx.Err())
		case <-time.After(delay):
		}
	}
}

// Stop ends the cleanup goroutine.
func (tb *TokenBucket) Stop() {
	tb.once.Do(func() { close(tb.stop) })
}

func (tb *TokenBucket) refill(b *bucket) {
	now := tb.now()
	elapsed := now.Sub(b.lastFill).Seconds()
	b.tokens = math.Min(b.tokens+elapsed*tb.rate, float64(tb.burst))
	b.lastFill = now
}

func (tb *TokenBucket) getBucket(key string) *bucket {
	if b, ok := tb.buckets.Load(key); ok {
		return b.(*bucket)
	}

	newBucket := &bucket{
		tokens:   float64(tb.burst),
		lastFill: tb.now(),
	}
	actual, _ := tb.buckets.LoadOrStore(key, newBucket)
	return actual.(*bucket)
}

func (tb *TokenBucket) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-tb.stop:
			return
		case <-ticker.C:
			tb.sweep()
		}
	}
}

func (tb *TokenBucket) sweep() {
	now := tb.now()
	tb.buckets.Range(func(key, value any) bool {
		b := value.(*bucket)
		b.mu.Lock()
		if now.Sub(b.lastFill) > tb.idleTTL {
			tb.buckets.Delete(key)
		}
		b.mu.Unlock()
		return true
	})
}

// RateLimitMiddleware answers 429 {"error":"Too many requests"} when the
// client identified by keyFunc has no tokens left. OPTIONS preflights pass.
func RateLimitMiddleware(limiter RateLimiter, keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			key := keyFunc(r)
			if limiter.Allow(key) {
				next.ServeHTTP(w, r)
				return
			}

			if tb, ok := limiter.(*TokenBucket); ok {
				secs := int(math.Ceil(tb.RetryAfter(key).Seconds()))
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
			}

			logging.L(r.Context()).Warn("rate limited", logging.String("client", key))

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{"error": "Too many requests"})
		})
	}
}

// IPKeyFunc identifies the client by CF-Connecting-IP, the first
// X-Forwarded-For entry, or the remote address host, in that order.
func IPKeyFunc(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
