package service

import (
	"context"
	"time"

	appErr "compilebox/pkg/errors"
)

// CapacityLimiter bounds the number of jobs running at once.
type CapacityLimiter struct {
	tokens       chan struct{}
	queueTimeout time.Duration
}

// NewCapacityLimiter creates a limiter with size slots. A job waits at most
// queueTimeout for a slot; zero means it fails immediately when full.
func NewCapacityLimiter(size int, queueTimeout time.Duration) *CapacityLimiter {
	if size <= 0 {
		size = 1
	}
	tokens := make(chan struct{}, size)
	for i := 0; i < size; i++ {
		tokens <- struct{}{}
	}
	return &CapacityLimiter{tokens: tokens, queueTimeout: queueTimeout}
}

// Acquire takes a slot or returns CapacityExceeded.
func (l *CapacityLimiter) Acquire(ctx context.Context) error {
	select {
	case <-l.tokens:
		return nil
	default:
	}
	if l.queueTimeout <= 0 {
		return appErr.New(appErr.CapacityExceeded)
	}
	timer := time.NewTimer(l.queueTimeout)
	defer timer.Stop()
	select {
	case <-l.tokens:
		return nil
	case <-timer.C:
		return appErr.New(appErr.CapacityExceeded)
	case <-ctx.Done():
		return appErr.Wrapf(ctx.Err(), appErr.CapacityExceeded, "waiting for a sandbox slot: %v", ctx.Err())
	}
}

// Release returns a slot.
func (l *CapacityLimiter) Release() {
	select {
	case l.tokens <- struct{}{}:
	default:
	}
}

// InUse reports the number of held slots.
func (l *CapacityLimiter) InUse() int {
	return cap(l.tokens) - len(l.tokens)
}

// Size reports the total number of slots.
func (l *CapacityLimiter) Size() int {
	return cap(l.tokens)
}
