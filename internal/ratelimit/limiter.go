package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter enforces a per-platform request budget. Each platform gets
// its own token bucket refilled at its configured requests-per-minute;
// bucket capacity is the burst allowance (rate/60 seconds, minimum 1).
type Limiter struct {
	mu               sync.Mutex
	buckets          map[string]*rate.Limiter
	defaultPerMinute int
}

// New creates a limiter. defaultPerMinute applies to platforms that
// were never registered explicitly.
func New(defaultPerMinute int) *Limiter {
	if defaultPerMinute <= 0 {
		defaultPerMinute = 60
	}
	return &Limiter{
		buckets:          make(map[string]*rate.Limiter),
		defaultPerMinute: defaultPerMinute,
	}
}

// Register sets the budget for one platform. Registering twice
// replaces the bucket.
func (l *Limiter) Register(platform string, perMinute int) {
	if perMinute <= 0 {
		perMinute = l.defaultPerMinute
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets[platform] = newBucket(perMinute)
}

// Acquire blocks until a token is available for the platform or the
// context deadline passes. A deadline error means the caller records
// the attempt as rate_limited and does not retry within the run.
func (l *Limiter) Acquire(ctx context.Context, platform string) error {
	return l.bucket(platform).Wait(ctx)
}

// TryAcquire takes a token without blocking.
func (l *Limiter) TryAcquire(platform string) bool {
	return l.bucket(platform).Allow()
}

func (l *Limiter) bucket(platform string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[platform]
	if !ok {
		b = newBucket(l.defaultPerMinute)
		l.buckets[platform] = b
	}
	return b
}

func newBucket(perMinute int) *rate.Limiter {
	burst := perMinute / 60
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst)
}
