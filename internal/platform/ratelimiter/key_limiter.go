// Package ratelimiter bounds how often each signing key may be used. Every
// backend carries its own budget, and each key (a secret handle or a KMS key
// id) draws from a private bucket sized by its backend's budget.
package ratelimiter

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultIdleTTL = 10 * time.Minute

// Budget is a token bucket: RPS tokens per second, at most Burst at once.
// A budget with a non-positive field is unlimited.
type Budget struct {
	RPS   float64
	Burst int
}

func (b Budget) limited() bool { return b.RPS > 0 && b.Burst > 0 }

type KeyLimiter struct {
	fallback  Budget
	perBucket map[string]Budget
	idleTTL   time.Duration

	mu        sync.Mutex
	buckets   map[bucketKey]*bucket
	lastSweep time.Time
}

type bucketKey struct {
	backend string
	key     string
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New builds a limiter whose backends use fallback unless perBackend names
// their own budget. An entry in perBackend replaces fallback for that
// backend entirely, so an unlimited entry exempts it. New returns nil when
// no budget limits anything; a nil *KeyLimiter allows every call.
func New(fallback Budget, perBackend map[string]Budget, idleTTL time.Duration) *KeyLimiter {
	budgets := make(map[string]Budget, len(perBackend))
	active := fallback.limited()
	for name, b := range perBackend {
		budgets[normalize(name)] = b
		active = active || b.limited()
	}
	if !active {
		return nil
	}
	if idleTTL <= 0 {
		idleTTL = defaultIdleTTL
	}
	return &KeyLimiter{
		fallback:  fallback,
		perBucket: budgets,
		idleTTL:   idleTTL,
		buckets:   make(map[bucketKey]*bucket),
	}
}

// Budget reports the budget that applies to backend.
func (l *KeyLimiter) Budget(backend string) Budget {
	if l == nil {
		return Budget{}
	}
	if b, ok := l.perBucket[normalize(backend)]; ok {
		return b
	}
	return l.fallback
}

// Reserve takes one token for key under backend at now. When none is
// available nothing is consumed, and the returned duration says how long
// until one will be.
func (l *KeyLimiter) Reserve(backend, key string, now time.Time) (time.Duration, bool) {
	if l == nil {
		return 0, true
	}
	budget := l.Budget(backend)
	if !budget.limited() {
		return 0, true
	}
	k := bucketKey{backend: normalize(backend), key: strings.TrimSpace(key)}

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= l.idleTTL {
		l.sweep(now)
	}
	b, ok := l.buckets[k]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(budget.RPS), budget.Burst)}
		l.buckets[k] = b
	}
	b.lastSeen = now

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return l.idleTTL, false
	}
	if wait := r.DelayFrom(now); wait > 0 {
		r.CancelAt(now)
		return wait, false
	}
	return 0, true
}

// Len reports how many keys currently hold a bucket.
func (l *KeyLimiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *KeyLimiter) sweep(now time.Time) {
	cutoff := now.Add(-l.idleTTL)
	for k, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, k)
		}
	}
	l.lastSweep = now
}

func normalize(backend string) string {
	return strings.ToLower(strings.TrimSpace(backend))
}
