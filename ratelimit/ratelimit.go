// Package ratelimit provides a per-identity sliding-window counter used to
// bound message volume per player. Each message class gets its own limiter
// instance; instances never share state.
package ratelimit

import (
	"sync"
	"time"
)

const sweepInterval = 60 * time.Second

type entry struct {
	count   int
	resetAt time.Time
}

// Limiter caps requests per identity inside a fixed window. Safe for
// concurrent use. A background sweep drops expired entries so memory is
// bounded by the number of active identities.
type Limiter struct {
	mu          sync.Mutex
	entries     map[string]*entry
	maxRequests int
	window      time.Duration
	now         func() time.Time
	stop        chan struct{}
	stopOnce    sync.Once
}

// New creates a limiter allowing maxRequests per window per identity.
func New(maxRequests int, window time.Duration) *Limiter {
	l := &Limiter{
		entries:     make(map[string]*entry),
		maxRequests: maxRequests,
		window:      window,
		now:         time.Now,
		stop:        make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

// NewPositionLimiter allows high-frequency movement updates.
func NewPositionLimiter() *Limiter { return New(1800, 60*time.Second) }

// NewEventLimiter covers discrete game events (collisions, eliminations).
func NewEventLimiter() *Limiter { return New(60, 60*time.Second) }

// NewConnectionLimiter bounds connection attempts per identity.
func NewConnectionLimiter() *Limiter { return New(10, 5*time.Minute) }

// Allow reports whether the identity may proceed, counting the attempt.
// Once the cap is reached, further calls within the window deny without
// incrementing.
func (l *Limiter) Allow(identity string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[identity]
	if !ok || now.After(e.resetAt) {
		l.entries[identity] = &entry{count: 1, resetAt: now.Add(l.window)}
		return true
	}
	if e.count >= l.maxRequests {
		return false
	}
	e.count++
	return true
}

// Remaining returns how many requests the identity has left in the current
// window without consuming one.
func (l *Limiter) Remaining(identity string) int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[identity]
	if !ok || now.After(e.resetAt) {
		return l.maxRequests
	}
	left := l.maxRequests - e.count
	if left < 0 {
		return 0
	}
	return left
}

// ResetAt returns when the identity's window expires. For an unknown or
// expired identity it returns now, meaning a fresh window starts on the
// next request.
func (l *Limiter) ResetAt(identity string) time.Time {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[identity]
	if !ok || now.After(e.resetAt) {
		return now
	}
	return e.resetAt
}

// Close stops the background sweep. Idempotent.
func (l *Limiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.stop:
			return
		}
	}
}

func (l *Limiter) sweep() {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, e := range l.entries {
		if now.After(e.resetAt) {
			delete(l.entries, id)
		}
	}
}
