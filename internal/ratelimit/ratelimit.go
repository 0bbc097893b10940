// Package ratelimit implements token bucket request throttling as net/http
// middleware. Buckets are tracked per caller in memory with LRU eviction,
// so the limiter needs no external store.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultMaxKeys = 100000
	sweepEvery     = 5 * time.Minute
	staleAfter     = 10 * time.Minute
)

// Limiter throttles requests with one token bucket per key.
type Limiter struct {
	rate     int // tokens granted per interval
	burst    int // bucket capacity
	interval time.Duration
	maxKeys  int
	keyFn    func(*http.Request) string
	counter  prometheus.Counter // incremented per rejected request, may be nil

	mu      sync.Mutex
	buckets map[string]*bucket
	stop    chan struct{}
}

type bucket struct {
	remaining  int
	refilledAt time.Time
	touchedAt  time.Time
}

// take refills the bucket for elapsed whole intervals, then spends one
// token if available.
func (b *bucket) take(now time.Time, rate, burst int, interval time.Duration) bool {
	b.touchedAt = now
	if grown := int(now.Sub(b.refilledAt)/interval) * rate; grown > 0 {
		b.remaining = min(b.remaining+grown, burst)
		b.refilledAt = now
	}
	if b.remaining <= 0 {
		return false
	}
	b.remaining--
	return true
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithCounter records each rejected request on a Prometheus counter.
func WithCounter(c prometheus.Counter) Option {
	return func(l *Limiter) { l.counter = c }
}

// WithMaxKeys caps the number of tracked buckets before LRU eviction.
func WithMaxKeys(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.maxKeys = n
		}
	}
}

// WithKeyFunc changes how requests map to buckets. The default is ClientIP;
// authenticated surfaces can key on the caller instead.
func WithKeyFunc(fn func(*http.Request) string) Option {
	return func(l *Limiter) { l.keyFn = fn }
}

// ClientIP keys a request by X-Real-IP, falling back to RemoteAddr.
func ClientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}

// New builds a limiter granting rate tokens per interval with the given
// burst capacity, and starts its background sweep of stale buckets.
func New(rate, burst int, interval time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		rate:     rate,
		burst:    burst,
		interval: interval,
		maxKeys:  defaultMaxKeys,
		keyFn:    ClientIP,
		buckets:  make(map[string]*bucket),
		stop:     make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	go l.sweepLoop()
	return l
}

// Middleware rejects over-limit requests with 429 and a Retry-After hint.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(l.keyFn(r)) {
			if l.counter != nil {
				l.counter.Inc()
			}
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *Limiter) allow(key string) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= l.maxKeys {
			l.evictColdest()
		}
		b = &bucket{remaining: l.burst, refilledAt: now}
		l.buckets[key] = b
	}
	return b.take(now, l.rate, l.burst, l.interval)
}

// evictColdest drops the bucket with the oldest activity. Caller holds l.mu.
func (l *Limiter) evictColdest() {
	var victim string
	var coldest time.Time
	for k, b := range l.buckets {
		if victim == "" || b.touchedAt.Before(coldest) {
			victim, coldest = k, b.touchedAt
		}
	}
	if victim != "" {
		delete(l.buckets, victim)
	}
}

// Stop halts the background sweep.
func (l *Limiter) Stop() {
	close(l.stop)
}

func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-staleAfter)
			l.mu.Lock()
			for k, b := range l.buckets {
				if b.touchedAt.Before(cutoff) {
					delete(l.buckets, k)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}
