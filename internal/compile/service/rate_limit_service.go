package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"compilebox/internal/common/cache"
	appErr "compilebox/pkg/errors"
)

// Limiter admits or rejects one request for key.
type Limiter interface {
	Allow(ctx context.Context, key string, max int, window time.Duration) error
}

// RateLimitService enforces fixed-window limits using Redis.
type RateLimitService struct {
	cache        cache.CounterOps
	window       time.Duration
	redisTimeout time.Duration
}

func NewRateLimitService(cacheClient cache.CounterOps, window time.Duration, redisTimeout time.Duration) *RateLimitService {
	if redisTimeout <= 0 {
		redisTimeout = 200 * time.Millisecond
	}
	return &RateLimitService{cache: cacheClient, window: window, redisTimeout: redisTimeout}
}

func (s *RateLimitService) Allow(ctx context.Context, key string, max int, window time.Duration) error {
	if s.cache == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("rate limit cache is unavailable")
	}
	if max <= 0 {
		return nil
	}
	if window <= 0 {
		window = s.window
	}

	ctxCache, cancel := context.WithTimeout(ctx, s.redisTimeout)
	defer cancel()

	acquired, err := s.cache.SetNX(ctxCache, key, 1, window)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "rate limit check failed")
	}
	var count int64
	if acquired {
		count = 1
	} else {
		count, err = s.cache.Incr(ctxCache, key)
		if err != nil {
			return appErr.Wrapf(err, appErr.CacheError, "rate limit check failed")
		}
		// Keys without expiry never reset.
		ttl, ttlErr := s.cache.TTL(ctxCache, key)
		if ttlErr == nil && ttl < 0 {
			_ = s.cache.Expire(ctxCache, key, window)
		}
	}
	if int(count) > max {
		return appErr.New(appErr.TooManyRequests).WithMessage(fmt.Sprintf("rate limit exceeded for %s", key))
	}
	return nil
}

// LocalRateLimiter is an in-process token bucket per key, used when no
// Redis is configured.
type LocalRateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*localEntry
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type localEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocalRateLimiter creates a limiter that forgets keys idle for idleTTL.
func NewLocalRateLimiter(idleTTL time.Duration) *LocalRateLimiter {
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &LocalRateLimiter{
		limiters:  make(map[string]*localEntry),
		idleTTL:   idleTTL,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

// Allow refills max tokens per window with a burst of max.
func (l *LocalRateLimiter) Allow(_ context.Context, key string, max int, window time.Duration) error {
	if max <= 0 {
		return nil
	}
	if window <= 0 {
		window = time.Minute
	}
	now := l.now()

	l.mu.Lock()
	entry, ok := l.limiters[key]
	if !ok {
		entry = &localEntry{limiter: rate.NewLimiter(rate.Limit(float64(max)/window.Seconds()), max)}
		l.limiters[key] = entry
	}
	entry.lastSeen = now
	l.evictLocked(now)
	allowed := entry.limiter.AllowN(now, 1)
	l.mu.Unlock()

	if !allowed {
		return appErr.New(appErr.TooManyRequests).WithMessage(fmt.Sprintf("rate limit exceeded for %s", key))
	}
	return nil
}

func (l *LocalRateLimiter) evictLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.idleTTL {
		return
	}
	l.lastSweep = now
	for key, entry := range l.limiters {
		if now.Sub(entry.lastSeen) > l.idleTTL {
			delete(l.limiters, key)
		}
	}
}
