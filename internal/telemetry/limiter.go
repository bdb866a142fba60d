package telemetry

import (
	"sync"
	"time"
)

// Limiter is a fixed-window rate limiter guarding a single subscriber
// connection against frame floods.
type Limiter struct {
	mu          sync.Mutex
	count       int
	windowStart time.Time
	rate        int
	window      time.Duration
}

// NewLimiter creates a Limiter allowing rate messages per window.
func NewLimiter(rate int, window time.Duration) *Limiter {
	return &Limiter{
		rate:        rate,
		window:      window,
		windowStart: time.Now(),
	}
}

// Allow reports whether another message fits in the current window.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if now.Sub(l.windowStart) > l.window {
		l.count = 0
		l.windowStart = now
	}
	l.count++
	return l.count <= l.rate
}
