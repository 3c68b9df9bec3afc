package recoveryhandler

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// GuardianLimiter bounds approval attempts per guardian. Idle limiters are
// dropped after idleTTL.
type GuardianLimiter struct {
	mu       sync.Mutex
	limiters map[string]*guardianBucket
	every    time.Duration
	burst    int
	idleTTL  time.Duration
	now      func() time.Time
}

type guardianBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewGuardianLimiter allows burst attempts and then one per every.
func NewGuardianLimiter(every time.Duration, burst int) *GuardianLimiter {
	return &GuardianLimiter{
		limiters: make(map[string]*guardianBucket),
		every:    every,
		burst:    burst,
		idleTTL:  10 * time.Minute,
		now:      time.Now,
	}
}

// Allow consumes one token of guardianID's bucket.
func (l *GuardianLimiter) Allow(guardianID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for id, b := range l.limiters {
		if now.Sub(b.lastSeen) > l.idleTTL {
			delete(l.limiters, id)
		}
	}

	b, ok := l.limiters[guardianID]
	if !ok {
		b = &guardianBucket{limiter: rate.NewLimiter(rate.Every(l.every), l.burst)}
		l.limiters[guardianID] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}
