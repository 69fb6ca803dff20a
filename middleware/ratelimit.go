package middleware

import (
	"net/http"
	"sync"
	"time"

	"ai-rivu-backend/metrics"
	"ai-rivu-backend/model"

	"golang.org/x/time/rate"
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// BurstGuard implements per-IP token-bucket limiting in front of the
// sliding-window controller. It absorbs request floods before they reach any
// shared state.
type BurstGuard struct {
	limiters map[string]*ipLimiter
	mu       sync.Mutex
	r        rate.Limit
	b        int
	metrics  *metrics.Recorder
}

// NewBurstGuard creates a guard allowing requestsPerSecond with burst
func NewBurstGuard(requestsPerSecond float64, burst int, m *metrics.Recorder) *BurstGuard {
	return &BurstGuard{
		limiters: make(map[string]*ipLimiter),
		r:        rate.Limit(requestsPerSecond),
		b:        burst,
		metrics:  m,
	}
}

// getLimiter returns the limiter for a given IP
func (bg *BurstGuard) getLimiter(ip string) *rate.Limiter {
	bg.mu.Lock()
	defer bg.mu.Unlock()

	l, exists := bg.limiters[ip]
	if !exists {
		l = &ipLimiter{limiter: rate.NewLimiter(bg.r, bg.b)}
		bg.limiters[ip] = l
	}
	l.lastSeen = time.Now()
	return l.limiter
}

// Cleanup forgets IPs idle for longer than maxIdle and returns how many
func (bg *BurstGuard) Cleanup(maxIdle time.Duration) int {
	bg.mu.Lock()
	defer bg.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	removed := 0
	for ip, l := range bg.limiters {
		if l.lastSeen.Before(cutoff) {
			delete(bg.limiters, ip)
			removed++
		}
	}
	return removed
}

// Tracked returns the number of IPs with a live limiter
func (bg *BurstGuard) Tracked() int {
	bg.mu.Lock()
	defer bg.mu.Unlock()
	return len(bg.limiters)
}

// Limit is a middleware that rejects bursts
func (bg *BurstGuard) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if bg.r <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		if !bg.getLimiter(ClientIP(r)).Allow() {
			bg.metrics.BurstRejected()
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, model.ErrorResponse{
				Error:             "too_many_requests",
				Message:           "Too many requests in a short time. Please slow down.",
				RetryAfterSeconds: 1,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
