package importer

import (
	"context"
	"time"
)

const (
	DefaultMaxConcurrentImports = 4
	DefaultMaxWait              = 5 * time.Second
)

// Limiter bounds how many imports run at once.
type Limiter struct {
	slots   chan struct{}
	maxWait time.Duration
}

func NewLimiter(maxConcurrent int, maxWait time.Duration) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentImports
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	return &Limiter{slots: make(chan struct{}, maxConcurrent), maxWait: maxWait}
}

// Acquire waits up to the configured time for a free slot. The caller must
// Release after a nil return.
func (l *Limiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()
	select {
	case l.slots <- struct{}{}:
		return nil
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTooManyImports
	}
}

func (l *Limiter) Release() {
	select {
	case <-l.slots:
	default:
	}
}

func (l *Limiter) Active() int {
	return len(l.slots)
}

func (l *Limiter) Capacity() int {
	return cap(l.slots)
}
