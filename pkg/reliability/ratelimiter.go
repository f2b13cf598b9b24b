// Package reliability provides the wrapper every external tool call passes
// through: input validation, rate limiting, circuit breaking, timeout and
// retry. Rate-limiter and circuit-breaker state is held in explicit
// registries keyed by service name and injected by reference, never
// reached through globals.
package reliability

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmateus/conveyor/pkg/models"
)

// AcquireStrategy selects the behavior when no token is available.
type AcquireStrategy string

const (
	// AcquireReject fails immediately with a retryable rate-limit error.
	AcquireReject AcquireStrategy = "reject"
	// AcquireWait enqueues the caller FIFO until refill produces a token.
	AcquireWait AcquireStrategy = "wait"
)

// RateLimitConfig configures one service's token bucket.
type RateLimitConfig struct {
	MaxTokens    float64
	RefillPerSec float64
	Strategy     AcquireStrategy
	MaxQueueSize int
}

// DefaultRateLimitConfig is applied to services without explicit configuration.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxTokens:    10,
		RefillPerSec: 10,
		Strategy:     AcquireWait,
		MaxQueueSize: 64,
	}
}

// RateLimiterRegistry holds per-service token buckets. Buckets are shared
// by every concurrent call to the same service name, so all bucket state is
// mutated under the bucket mutex.
type RateLimiterRegistry struct {
	mu       sync.Mutex
	buckets  map[string]*rateBucket
	defaults RateLimitConfig
}

func NewRateLimiterRegistry(defaults RateLimitConfig) *RateLimiterRegistry {
	if defaults.MaxTokens <= 0 {
		defaults = DefaultRateLimitConfig()
	}

	return &RateLimiterRegistry{
		buckets:  make(map[string]*rateBucket),
		defaults: defaults,
	}
}

// Configure sets the bucket parameters for a service, replacing any
// existing bucket.
func (r *RateLimiterRegistry) Configure(service string, cfg RateLimitConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buckets[service] = newRateBucket(cfg)
}

func (r *RateLimiterRegistry) bucket(service string) *rateBucket {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.buckets[service]
	if !ok {
		b = newRateBucket(r.defaults)
		r.buckets[service] = b
	}

	return b
}

// Acquire consumes one token for the service, waiting or rejecting per the
// bucket strategy. Rejections carry an estimated retry-after.
func (r *RateLimiterRegistry) Acquire(ctx context.Context, service string) error {
	return r.bucket(service).acquire(ctx, service)
}

// Tokens reports the current token count after refill, bounded to
// [0, MaxTokens].
func (r *RateLimiterRegistry) Tokens(service string) float64 {
	b := r.bucket(service)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(time.Now())

	return b.tokens
}

type waiter struct {
	ready     chan struct{}
	abandoned atomic.Bool
}

type rateBucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
	cfg        RateLimitConfig
	waiters    []*waiter
	draining   bool
}

func newRateBucket(cfg RateLimitConfig) *rateBucket {
	return &rateBucket{
		tokens:     cfg.MaxTokens,
		lastRefill: time.Now(),
		cfg:        cfg,
	}
}

// refillLocked adds tokens earned since the last refill, clamped to the
// bucket capacity. Callers hold b.mu.
func (b *rateBucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}

	b.tokens += elapsed * b.cfg.RefillPerSec
	if b.tokens > b.cfg.MaxTokens {
		b.tokens = b.cfg.MaxTokens
	}

	b.lastRefill = now
}

// retryAfterLocked estimates how long until one token is available.
func (b *rateBucket) retryAfterLocked() time.Duration {
	if b.cfg.RefillPerSec <= 0 {
		return time.Second
	}

	missing := 1 - b.tokens
	if missing < 0 {
		missing = 0
	}

	return time.Duration(missing / b.cfg.RefillPerSec * float64(time.Second))
}

func (b *rateBucket) acquire(ctx context.Context, service string) error {
	b.mu.Lock()

	b.refillLocked(time.Now())

	if b.tokens >= 1 {
		b.tokens--
		b.mu.Unlock()

		return nil
	}

	if b.cfg.Strategy == AcquireReject {
		retryAfter := b.retryAfterLocked()
		b.mu.Unlock()

		return &models.RateLimitError{Service: service, RetryAfter: retryAfter}
	}

	if len(b.waiters) >= b.cfg.MaxQueueSize {
		retryAfter := b.retryAfterLocked()
		b.mu.Unlock()

		return &models.RateLimitError{Service: service, RetryAfter: retryAfter}
	}

	w := &waiter{ready: make(chan struct{})}
	b.waiters = append(b.waiters, w)

	if !b.draining {
		b.draining = true

		go b.drain()
	}

	b.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		w.abandoned.Store(true)

		return ctx.Err()
	}
}

// drain hands refilled tokens to queued waiters in FIFO order. It runs only
// while the queue is non-empty and exits as soon as it drains, so an idle
// bucket holds no background goroutine.
func (b *rateBucket) drain() {
	const pollInterval = 5 * time.Millisecond

	for {
		time.Sleep(pollInterval)

		b.mu.Lock()

		b.refillLocked(time.Now())

		for len(b.waiters) > 0 {
			w := b.waiters[0]

			if w.abandoned.Load() {
				b.waiters = b.waiters[1:]

				continue
			}

			if b.tokens < 1 {
				break
			}

			b.tokens--
			b.waiters = b.waiters[1:]
			close(w.ready)
		}

		if len(b.waiters) == 0 {
			b.draining = false
			b.mu.Unlock()

			return
		}

		b.mu.Unlock()
	}
}
