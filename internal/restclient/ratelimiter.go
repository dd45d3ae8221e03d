package restclient

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// rateLimiter is a single-slot adaptive throttle: each call() blocks until
// the minimum interval since the previous call has elapsed, then widens or
// narrows that interval based on the server's response. The spacing itself
// is delegated to golang.org/x/time/rate's token bucket (burst 1, refilled
// at 1/currentInterval); this type only owns the adaptive policy — decay
// toward minInterval on success, multiplicative backoff toward maxInterval
// on a 429 — grounded on
// original_source/python/kiwoom/api_v1.py's SmartRateLimiter.
type rateLimiter struct {
	mu sync.Mutex

	minInterval       time.Duration
	maxInterval       time.Duration
	currentInterval   time.Duration
	decayRate         float64
	penaltyMultiplier float64

	limiter *rate.Limiter
}

func newRateLimiter() *rateLimiter {
	interval := 500 * time.Millisecond
	return &rateLimiter{
		minInterval:       interval,
		maxInterval:       5 * time.Second,
		currentInterval:   interval,
		decayRate:         0.95,
		penaltyMultiplier: 1.5,
		limiter:           rate.NewLimiter(rate.Every(interval), 1),
	}
}

// wait blocks until the token bucket grants the next call its slot.
func (r *rateLimiter) wait(ctx context.Context) {
	r.mu.Lock()
	l := r.limiter
	r.mu.Unlock()
	_ = l.Wait(ctx)
}

// reportSuccess decays the interval back toward minInterval.
func (r *rateLimiter) reportSuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.currentInterval > r.minInterval {
		next := time.Duration(float64(r.currentInterval) * r.decayRate)
		if next < r.minInterval {
			next = r.minInterval
		}
		r.currentInterval = next
		r.limiter.SetLimit(rate.Every(next))
	}
}

// report429 widens the interval after a rate-limit response and returns the
// new interval.
func (r *rateLimiter) report429() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := time.Duration(float64(r.currentInterval) * r.penaltyMultiplier)
	if next > r.maxInterval {
		next = r.maxInterval
	}
	r.currentInterval = next
	r.limiter.SetLimit(rate.Every(next))
	return next
}
