// Package ratelimit implements a per-client sliding-window request
// rate limiter.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

const window = time.Minute

// Decision is the outcome of a rate limit check for one request.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfterS int
}

// Limiter enforces a fixed requests-per-minute budget per client id
// using a sliding window of request timestamps.
type Limiter struct {
	limitPerMinute int

	mu      sync.Mutex
	buckets map[string][]time.Time

	stopCleanup chan struct{}
}

// New builds a Limiter. limitPerMinute is clamped to at least 1.
func New(limitPerMinute int) *Limiter {
	if limitPerMinute < 1 {
		limitPerMinute = 1
	}
	l := &Limiter{
		limitPerMinute: limitPerMinute,
		buckets:        make(map[string][]time.Time),
		stopCleanup:    make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Stop halts the background cleanup goroutine.
func (l *Limiter) Stop() {
	close(l.stopCleanup)
}

// Check records a request attempt for clientID at now and reports
// whether it is allowed under the sliding window budget.
func (l *Limiter) Check(clientID string, now time.Time) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	windowStart := now.Add(-window)
	bucket := l.pruneLocked(clientID, windowStart)

	if len(bucket) >= l.limitPerMinute {
		oldest := bucket[0]
		retryAfter := int(math.Ceil(window.Seconds() - now.Sub(oldest).Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		l.buckets[clientID] = bucket
		return Decision{Allowed: false, Remaining: 0, RetryAfterS: retryAfter}
	}

	bucket = append(bucket, now)
	l.buckets[clientID] = bucket

	remaining := l.limitPerMinute - len(bucket)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Remaining: remaining}
}

// Limit returns the configured requests-per-minute budget.
func (l *Limiter) Limit() int {
	return l.limitPerMinute
}

// pruneLocked drops timestamps older than windowStart and returns the
// surviving slice, reusing its backing array. Caller must hold l.mu.
func (l *Limiter) pruneLocked(clientID string, windowStart time.Time) []time.Time {
	reqs := l.buckets[clientID]
	valid := reqs[:0]
	for _, t := range reqs {
		if t.After(windowStart) {
			valid = append(valid, t)
		}
	}
	return valid
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCleanup:
			return
		case <-ticker.C:
			l.evictStale()
		}
	}
}

func (l *Limiter) evictStale() {
	cutoff := time.Now().Add(-window)
	l.mu.Lock()
	defer l.mu.Unlock()
	for clientID := range l.buckets {
		valid := l.pruneLocked(clientID, cutoff)
		if len(valid) == 0 {
			delete(l.buckets, clientID)
			continue
		}
		l.buckets[clientID] = valid
	}
}
