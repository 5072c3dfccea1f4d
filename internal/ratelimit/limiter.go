// Package ratelimit implements per-tenant, per-region token bucket budgets.
//
// Exhaustion is a scheduling signal, not an error: Reserve never blocks, it
// either grants immediately or reports the earliest time a retry can succeed.
// Buckets live in process memory; a shared-store implementation would only be
// needed if workers ran across multiple processes.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/SixpoundertheOriginal/yodel-aso-insight/internal/keyword"
	"github.com/SixpoundertheOriginal/yodel-aso-insight/internal/metrics"
)

// Config holds rate limiter configuration.
type Config struct {
	RequestsPerHour int
	Burst           int
}

type bucketKey struct {
	tenant string
	region string
}

// Limiter manages token buckets keyed by (tenant, region) plus region-wide
// cooldown windows triggered by blocked fetches.
type Limiter struct {
	mu        sync.Mutex
	buckets   map[bucketKey]*rate.Limiter
	cooldowns map[string]time.Time
	refill    rate.Limit
	burst     int
	clock     keyword.Clock
}

// New creates a Limiter.
func New(cfg Config, clock keyword.Clock) *Limiter {
	r := rate.Limit(float64(cfg.RequestsPerHour) / 3600.0)
	if cfg.RequestsPerHour <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		buckets:   make(map[bucketKey]*rate.Limiter),
		cooldowns: make(map[string]time.Time),
		refill:    r,
		burst:     burst,
		clock:     clock,
	}
}

// Reserve grants a token for the tenant+region or returns the earliest retry
// time. A denied reservation consumes nothing.
func (l *Limiter) Reserve(tenant, region string) (bool, time.Time) {
	now := l.clock.Now()

	l.mu.Lock()
	if until, ok := l.cooldowns[region]; ok {
		if now.Before(until) {
			l.mu.Unlock()
			return false, until
		}
		delete(l.cooldowns, region)
	}
	bucket := l.bucketLocked(tenant, region)
	l.mu.Unlock()

	res := bucket.ReserveN(now, 1)
	if !res.OK() {
		// Only possible when the request exceeds burst; treat as a full
		// refill interval away.
		return false, now.Add(time.Hour)
	}
	delay := res.DelayFrom(now)
	if delay <= 0 {
		return true, now
	}
	res.CancelAt(now)
	metrics.ObserveRateLimitDelay(region, delay)
	return false, now.Add(delay)
}

// CooldownRegion suspends grants for the region until the given time.
// Overlapping cooldowns keep the latest deadline.
func (l *Limiter) CooldownRegion(region string, until time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.cooldowns[region]; ok && existing.After(until) {
		return
	}
	l.cooldowns[region] = until
	metrics.ObserveRegionCooldown(region)
}

// RegionReady reports whether the region is outside a cooldown window.
func (l *Limiter) RegionReady(region string) (bool, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	until, ok := l.cooldowns[region]
	if !ok || !l.clock.Now().Before(until) {
		return true, time.Time{}
	}
	return false, until
}

func (l *Limiter) bucketLocked(tenant, region string) *rate.Limiter {
	key := bucketKey{tenant: tenant, region: region}
	bucket, ok := l.buckets[key]
	if !ok {
		bucket = rate.NewLimiter(l.refill, l.burst)
		l.buckets[key] = bucket
	}
	return bucket
}
