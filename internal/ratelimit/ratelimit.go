// Package ratelimit provides a wrapper around golang.org/x/time/rate.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter wraps rate.Limiter with convenience methods.
type Limiter struct {
	limiter *rate.Limiter
}

// New creates a new rate limiter.
// requestsPerMinute specifies how many requests are allowed per minute.
// Zero or negative means unlimited.
func New(requestsPerMinute int) *Limiter {
	if requestsPerMinute <= 0 {
		return &Limiter{limiter: rate.NewLimiter(rate.Inf, 1)}
	}

	rps := float64(requestsPerMinute) / 60.0
	burst := requestsPerMinute / 10 // Allow burst of 10% of rate limit
	if burst < 1 {
		burst = 1
	}

	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// NewWithBurst creates a new rate limiter with explicit burst.
func NewWithBurst(requestsPerSecond float64, burst int) *Limiter {
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

// Wait blocks until a token is available or the context is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// Allow reports whether an event may happen now.
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

// Group hands out one limiter per key (one per network RPC endpoint).
type Group struct {
	mu       sync.Mutex
	rpm      map[string]int
	fallback int
	limiters map[string]*Limiter
}

// NewGroup creates a group. rpm overrides the fallback budget per key.
func NewGroup(fallbackRPM int, rpm map[string]int) *Group {
	return &Group{
		rpm:      rpm,
		fallback: fallbackRPM,
		limiters: make(map[string]*Limiter),
	}
}

// For returns the limiter for key, creating it on first use.
func (g *Group) For(key string) *Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()

	if l, ok := g.limiters[key]; ok {
		return l
	}
	budget, ok := g.rpm[key]
	if !ok {
		budget = g.fallback
	}
	l := New(budget)
	g.limiters[key] = l
	return l
}
