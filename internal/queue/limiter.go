package queue

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HourlyLimiter enforces each user's maxPerHour delivery cap
type HourlyLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
}

// NewHourlyLimiter creates an empty limiter set
func NewHourlyLimiter() *HourlyLimiter {
	return &HourlyLimiter{limiters: make(map[string]*rate.Limiter)}
}

// GetLimiter returns the user's limiter, adjusted to maxPerHour
func (l *HourlyLimiter) GetLimiter(userID string, maxPerHour int) *rate.Limiter {
	if maxPerHour <= 0 {
		maxPerHour = 1
	}
	limit := rate.Limit(float64(maxPerHour) / time.Hour.Seconds())

	l.mu.RLock()
	limiter, exists := l.limiters[userID]
	l.mu.RUnlock()

	if !exists {
		l.mu.Lock()
		// Double-check after acquiring write lock
		limiter, exists = l.limiters[userID]
		if !exists {
			limiter = rate.NewLimiter(limit, maxPerHour)
			l.limiters[userID] = limiter
		}
		l.mu.Unlock()
	}

	if limiter.Burst() != maxPerHour {
		limiter.SetLimit(limit)
		limiter.SetBurst(maxPerHour)
	}
	return limiter
}

// Allow reports whether the user may receive one more notification at now
func (l *HourlyLimiter) Allow(userID string, maxPerHour int, now time.Time) bool {
	return l.GetLimiter(userID, maxPerHour).AllowN(now, 1)
}

// Reserve takes one token of the user's cap at now. It reports false when
// the cap is spent; release hands the token back when nothing was delivered.
func (l *HourlyLimiter) Reserve(userID string, maxPerHour int, now time.Time) (ok bool, release func()) {
	r := l.GetLimiter(userID, maxPerHour).ReserveN(now, 1)
	if !r.OK() {
		return false, func() {}
	}
	if r.DelayFrom(now) > 0 {
		r.CancelAt(now)
		return false, func() {}
	}
	return true, func() { r.CancelAt(now) }
}
