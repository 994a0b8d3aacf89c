// Package lock provides the process-wide lock that serializes pipeline runs
// across all repository watchers.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/spachava753/repowatch/internal/models"
)

// SharedLock admits one holder at a time. Waiters are served in arrival
// order.
type SharedLock struct {
	sem     *semaphore.Weighted
	timeout time.Duration

	mu     sync.Mutex
	holder string
	since  time.Time
}

// New returns a lock whose Acquire gives up after timeout.
func New(timeout time.Duration) *SharedLock {
	return &SharedLock{
		sem:     semaphore.NewWeighted(1),
		timeout: timeout,
	}
}

// Timeout returns the configured acquisition timeout.
func (l *SharedLock) Timeout() time.Duration {
	return l.timeout
}

// Acquire blocks until the lock is held by owner, the timeout elapses, or ctx
// is cancelled. On timeout it returns a *models.LockTimeoutError. The returned
// release func is safe to call more than once.
func (l *SharedLock) Acquire(ctx context.Context, owner string) (func(), error) {
	waitCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	if err := l.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("waiting for pipeline lock: %w", ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &models.LockTimeoutError{Owner: owner, Holder: l.Holder(), HeldFor: l.HeldFor(), Timeout: l.timeout}
		}
		return nil, fmt.Errorf("waiting for pipeline lock: %w", err)
	}

	l.mu.Lock()
	l.holder = owner
	l.since = time.Now()
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.holder = ""
			l.since = time.Time{}
			l.mu.Unlock()
			l.sem.Release(1)
		})
	}, nil
}

// Holder returns the current holder, or "" when the lock is free.
func (l *SharedLock) Holder() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holder
}

// HeldFor returns how long the current holder has held the lock.
func (l *SharedLock) HeldFor() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.since.IsZero() {
		return 0
	}
	return time.Since(l.since)
}
