// Package ratelimit implements the per-source request throttle shared by all pollers.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/news-archiver/internal/metrics"
)

// DefaultInterval is used when neither the registry nor the caller sets one.
const DefaultInterval = time.Second

// Registry maps a source slug to its throttle state. Entries for different
// slugs never contend; calls for the same slug are serialized.
type Registry struct {
	mu              sync.Mutex
	entries         map[string]*entry
	defaultInterval time.Duration
}

type entry struct {
	limiter *rate.Limiter

	mu   sync.Mutex
	last time.Time
}

// Config holds registry configuration.
type Config struct {
	// MinInterval is the minimum spacing between two requests of one source.
	MinInterval time.Duration
}

// New creates a Registry.
func New(cfg Config) *Registry {
	interval := cfg.MinInterval
	if interval < 0 {
		interval = 0
	}
	return &Registry{
		entries:         make(map[string]*entry),
		defaultInterval: interval,
	}
}

// Wait blocks until a request for key may be issued, then records it as the
// key's last request. A non-positive interval uses the registry default.
func (r *Registry) Wait(ctx context.Context, key string, interval time.Duration) error {
	if key == "" {
		key = "unknown"
	}
	e := r.entry(key, interval)

	start := time.Now()
	if err := e.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(key, waited)
	}

	e.mu.Lock()
	e.last = time.Now()
	e.mu.Unlock()
	return nil
}

// lastRequest reports when key last passed Wait.
func (r *Registry) lastRequest(key string) (time.Time, bool) {
	r.mu.Lock()
	e, ok := r.entries[key]
	r.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last, !e.last.IsZero()
}

func (r *Registry) entry(key string, interval time.Duration) *entry {
	if interval <= 0 {
		interval = r.defaultInterval
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(limit, 1)}
		r.entries[key] = e
		return e
	}
	if e.limiter.Limit() != limit {
		e.limiter.SetLimit(limit)
	}
	return e
}
