package provider

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dohr-michael/dayflow/internal/config"
	"github.com/dohr-michael/dayflow/internal/domain"
	"github.com/dohr-michael/dayflow/internal/fault"
)

// RateLimiters holds one token bucket per (user, provider) so one user's
// backlog cannot starve another's fetches.
type RateLimiters struct {
	mu       sync.Mutex
	limits   map[string]config.RateLimitConfig
	limiters map[string]*rate.Limiter
}

// NewRateLimiters builds the registry from the configured per-provider
// limits. Providers without a configured limit are unlimited.
func NewRateLimiters(limits map[string]config.RateLimitConfig) *RateLimiters {
	return &RateLimiters{
		limits:   limits,
		limiters: map[string]*rate.Limiter{},
	}
}

func (r *RateLimiters) limiter(user string, p domain.CredentialProvider) *rate.Limiter {
	cfg, ok := r.limits[string(p)]
	if !ok {
		return nil
	}
	key := user + "|" + string(p)

	r.mu.Lock()
	defer r.mu.Unlock()
	if lim, ok := r.limiters[key]; ok {
		return lim
	}
	window := cfg.Window.Duration()
	if window <= 0 {
		window = time.Minute
	}
	lim := rate.NewLimiter(rate.Limit(float64(cfg.Capacity)/window.Seconds()), cfg.Capacity)
	r.limiters[key] = lim
	return lim
}

// Wait blocks until a call slot is available or ctx expires. A ctx deadline
// shorter than the wait surfaces as a rate_limited fault.
func (r *RateLimiters) Wait(ctx context.Context, user string, p domain.CredentialProvider) error {
	lim := r.limiter(user, p)
	if lim == nil {
		return nil
	}
	if err := lim.Wait(ctx); err != nil {
		return fault.Wrap(fault.RateLimited, "provider call budget exhausted", err)
	}
	return nil
}

// Allow reports whether a call slot is available right now, without waiting.
func (r *RateLimiters) Allow(user string, p domain.CredentialProvider) bool {
	lim := r.limiter(user, p)
	return lim == nil || lim.Allow()
}
