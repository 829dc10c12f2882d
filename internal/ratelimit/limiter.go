// Package ratelimit provides per-client token bucket rate limiting.
package ratelimit

import (
	"sync"
	"time"
)

const (
	defaultRate  = 2.0
	defaultBurst = 10
	maxKeys      = 10000
)

// Config configures a Limiter.
type Config struct {
	// RequestsPerSecond is the sustained refill rate of each bucket.
	RequestsPerSecond float64

	// Burst is the bucket capacity.
	Burst int
}

func (c Config) withDefaults() Config {
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = defaultRate
	}
	if c.Burst <= 0 {
		c.Burst = defaultBurst
	}
	return c
}

// bucket is a token bucket. Callers hold the limiter lock.
type bucket struct {
	tokens   float64
	lastSeen time.Time
}

func (b *bucket) refill(now time.Time, cfg Config) {
	elapsed := now.Sub(b.lastSeen).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * cfg.RequestsPerSecond
		if max := float64(cfg.Burst); b.tokens > max {
			b.tokens = max
		}
	}
	b.lastSeen = now
}

// Limiter keeps one bucket per key, typically a client address.
type Limiter struct {
	mu      sync.Mutex
	config  Config
	buckets map[string]*bucket
	now     func() time.Time
}

// NewLimiter creates a limiter. Zero fields of cfg take defaults.
func NewLimiter(cfg Config) *Limiter {
	return &Limiter{
		config:  cfg.withDefaults(),
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow consumes a token for key. When the bucket is empty it reports how
// long until the next token.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= maxKeys {
			l.pruneLocked(now)
		}
		b = &bucket{tokens: float64(l.config.Burst), lastSeen: now}
		l.buckets[key] = b
	}
	b.refill(now, l.config)

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	wait := time.Duration((1 - b.tokens) / l.config.RequestsPerSecond * float64(time.Second))
	return false, wait
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// pruneLocked drops buckets that would be full by now.
func (l *Limiter) pruneLocked(now time.Time) {
	full := time.Duration(float64(l.config.Burst) / l.config.RequestsPerSecond * float64(time.Second))
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) >= full {
			delete(l.buckets, key)
		}
	}
}
