// Package ratelimit throttles HTTP callers with a token bucket per client key.
package ratelimit

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter keeps one token bucket per client key, typically the caller IP.
// A background sweep evicts idle clients so the map stays bounded.
type Limiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*client

	idleTTL      time.Duration
	sweepEvery   time.Duration
	stopSweep    chan struct{}
	shutdownOnce sync.Once
}

type client struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

// Config holds rate limiter settings.
type Config struct {
	RequestsPerSecond float64
	Burst             int
	IdleTTL           time.Duration
	SweepInterval     time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 20,
		Burst:             40,
		IdleTTL:           10 * time.Minute,
		SweepInterval:     5 * time.Minute,
	}
}

// New creates a limiter and starts its eviction sweep.
func New(cfg Config) *Limiter {
	if cfg.RequestsPerSecond <= 0 || cfg.Burst <= 0 {
		cfg = DefaultConfig()
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Minute
	}

	l := &Limiter{
		limit:      rate.Limit(cfg.RequestsPerSecond),
		burst:      cfg.Burst,
		clients:    make(map[string]*client),
		idleTTL:    cfg.IdleTTL,
		sweepEvery: cfg.SweepInterval,
		stopSweep:  make(chan struct{}),
	}
	go l.sweep()
	return l
}

// Allow reports whether the caller identified by key may proceed at now.
// Empty keys are never throttled.
func (l *Limiter) Allow(key string, now time.Time) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.clients[key]
	if !ok {
		c = &client{bucket: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = now
	return c.bucket.AllowN(now, 1)
}

// Size returns the number of tracked clients.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Stop terminates the eviction sweep. Safe to call more than once.
func (l *Limiter) Stop() {
	l.shutdownOnce.Do(func() {
		close(l.stopSweep)
	})
}

func (l *Limiter) sweep() {
	ticker := time.NewTicker(l.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.evictIdle(time.Now())
		case <-l.stopSweep:
			return
		}
	}
}

func (l *Limiter) evictIdle(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.idleTTL)
	evicted := 0
	for key, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, key)
			evicted++
		}
	}
	return evicted
}
