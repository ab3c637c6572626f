package middleware

import (
	"sync/atomic"
	"time"
)

// RateLimiter is a token bucket for socket input, one per connection.
// Lock-free; a lost CAS under contention only delays a refill by one
// tick, which is acceptable for chat input pacing.
type RateLimiter struct {
	tokens   int32
	rate     time.Duration
	burst    int32
	lastTick int64
}

func NewRateLimiter(tokens int32, rate time.Duration) *RateLimiter {
	return &RateLimiter{
		tokens:   tokens,
		rate:     rate,
		burst:    tokens,
		lastTick: time.Now().UnixNano(),
	}
}

func (l *RateLimiter) Allow() bool {
	now := time.Now().UnixNano()
	last := atomic.LoadInt64(&l.lastTick)

	generated := int32((now - last) / int64(l.rate))
	if generated > 0 {
		if atomic.CompareAndSwapInt64(&l.lastTick, last, now) {
			current := atomic.LoadInt32(&l.tokens)
			newBalance := current + generated
			if newBalance > l.burst {
				newBalance = l.burst
			}
			atomic.StoreInt32(&l.tokens, newBalance)
		}
	}

	for {
		current := atomic.LoadInt32(&l.tokens)
		if current <= 0 {
			return false
		}
		if atomic.CompareAndSwapInt32(&l.tokens, current, current-1) {
			return true
		}
	}
}
