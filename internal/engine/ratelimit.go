package engine

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// UserLimiter applies a per-user request rate, refilled evenly over a minute.
type UserLimiter struct {
	mu      sync.Mutex
	users   map[int64]*userBucket
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
}

type userBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewUserLimiter allows perMinute requests per user per minute.
func NewUserLimiter(perMinute int) *UserLimiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	return &UserLimiter{
		users:   make(map[int64]*userBucket),
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   perMinute,
		idleTTL: 10 * time.Minute,
	}
}

// Allow reports whether userID may make another request now.
func (l *UserLimiter) Allow(userID int64) bool {
	now := time.Now()
	l.mu.Lock()
	b, ok := l.users[userID]
	if !ok {
		if len(l.users) > 10000 {
			l.pruneLocked(now)
		}
		b = &userBucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.users[userID] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	if !b.lim.AllowN(now, 1) {
		metrics.RateLimited.Add(1)
		return false
	}
	return true
}

func (l *UserLimiter) pruneLocked(now time.Time) {
	for id, b := range l.users {
		if now.Sub(b.lastSeen) > l.idleTTL {
			delete(l.users, id)
		}
	}
}
