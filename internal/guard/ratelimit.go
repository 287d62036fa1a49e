package guard

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// senderLimiter keeps one token bucket per sender: limit events per window,
// with a burst of limit.
type senderLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	buckets  map[string]*rate.Limiter
	lastSeen map[string]time.Time
	now      func() time.Time
	idle     time.Duration
}

func newSenderLimiter(limit int, window time.Duration, now func() time.Time) *senderLimiter {
	return &senderLimiter{
		limit:    rate.Limit(float64(limit) / window.Seconds()),
		burst:    limit,
		buckets:  make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
		now:      now,
		idle:     10 * window,
	}
}

func (l *senderLimiter) Allow(sender string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	b, ok := l.buckets[sender]
	if !ok {
		l.evict(now)
		b = rate.NewLimiter(l.limit, l.burst)
		l.buckets[sender] = b
	}
	l.lastSeen[sender] = now
	return b.AllowN(now, 1)
}

// evict drops buckets idle long enough to have refilled completely.
func (l *senderLimiter) evict(now time.Time) {
	for s, at := range l.lastSeen {
		if now.Sub(at) > l.idle {
			delete(l.buckets, s)
			delete(l.lastSeen, s)
		}
	}
}
