package ratelimit

import (
	"sync"
	"time"
)

// Config defines the shape of one rate-limit policy.
type Config struct {
	// MaxRequests is the number of requests allowed per window.
	MaxRequests int

	// Window is the length of the fixed counting window.
	Window time.Duration
}

// Result reports the outcome of a single limit check.
type Result struct {
	// Allowed is false once the key has exceeded MaxRequests in the
	// current window.
	Allowed bool

	// Remaining is how many further requests the key may make in the
	// current window (never negative).
	Remaining int

	// ResetTime is when the current window closes and the counter resets.
	ResetTime time.Time
}

// record tracks one key's counter within its active window.
type record struct {
	windowStart time.Time
	count       int
	resetTime   time.Time
}

// Limiter is a fixed-window rate limiter with its own counter table.
// Limiters are safe for concurrent use.
type Limiter struct {
	name   string
	config Config

	mu      sync.Mutex
	records map[string]*record
}

// New creates a Limiter with the given policy. The name identifies the
// limiter in logs and diagnostics; it has no behavioral effect.
func New(name string, config Config) *Limiter {
	return &Limiter{
		name:    name,
		config:  config,
		records: make(map[string]*record),
	}
}

// Name returns the limiter's diagnostic name.
func (l *Limiter) Name() string {
	return l.name
}

// Check records one request for key and reports whether it is allowed.
// A key's first request (or first request after its window passed) opens a
// new window.
func (l *Limiter) Check(key string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	rec, exists := l.records[key]
	if !exists || !now.Before(rec.resetTime) {
		rec = &record{
			windowStart: now,
			resetTime:   now.Add(l.config.Window),
		}
		l.records[key] = rec
	}

	rec.count++

	remaining := l.config.MaxRequests - rec.count
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:   rec.count <= l.config.MaxRequests,
		Remaining: remaining,
		ResetTime: rec.resetTime,
	}
}

// Purge removes records whose window has already passed and returns how many
// were dropped. Intended to run from a periodic background routine.
func (l *Limiter) Purge() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, rec := range l.records {
		if !now.Before(rec.resetTime) {
			delete(l.records, key)
			removed++
		}
	}
	return removed
}

// Size returns the number of keys currently tracked.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Reset clears every counter. It exists for test isolation.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = make(map[string]*record)
}
