// Package pacing spaces out replayed requests with a per-host token bucket.
package pacing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/storefront-intel/internal/metrics"
)

// DefaultInterval is the courtesy delay between two replays to the same host.
const DefaultInterval = 2 * time.Second

// Config holds pacing configuration.
type Config struct {
	// Interval is the minimum spacing between replays. Zero disables pacing.
	Interval time.Duration
	// Burst is the number of replays allowed back to back. Defaults to 1.
	Burst int
}

// Pacer manages one limiter per host.
type Pacer struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// New creates a Pacer. A non-positive interval yields an unlimited pacer.
func New(cfg Config) *Pacer {
	limit := rate.Inf
	if cfg.Interval > 0 {
		limit = rate.Every(cfg.Interval)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Pacer{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

// Wait blocks until the host of rawURL may receive another replay.
func (p *Pacer) Wait(ctx context.Context, rawURL string) error {
	host := metrics.SanitizeHost(rawURL)
	p.mu.Lock()
	limiter, ok := p.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(p.limit, p.burst)
		p.limiters[host] = limiter
	}
	p.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pacing wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveReplayDelay(host, waited)
	}
	return nil
}
