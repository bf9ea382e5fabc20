// Package locking provides the mutual exclusion used around
// read-validate-write sequences on shared resources.
package locking

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/facilitycore/pkg/apperror"
)

// ErrLockNotAcquired is returned when the lock could not be taken before
// the wait deadline.
var ErrLockNotAcquired = apperror.Conflict("lock_not_acquired")

// Locker runs fn while holding the lock named key.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

func InstrumentKey(instrumentID snowflake.ID) string {
	return fmt.Sprintf("lock:instrument:%s", instrumentID)
}

func PricePolicyKey(productID, priceGroupID snowflake.ID) string {
	return fmt.Sprintf("lock:price_policy:%s:%s", productID, priceGroupID)
}

// WithLocks acquires every key in sorted order so concurrent callers that
// share keys cannot deadlock.
func WithLocks(ctx context.Context, l Locker, keys []string, fn func(ctx context.Context) error) error {
	sorted := dedupe(keys)
	sort.Strings(sorted)

	var run func(ctx context.Context, i int) error
	run = func(ctx context.Context, i int) error {
		if i == len(sorted) {
			return fn(ctx)
		}
		return l.WithLock(ctx, sorted[i], func(ctx context.Context) error {
			return run(ctx, i+1)
		})
	}
	return run(ctx, 0)
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// LocalLocker is an in-process keyed mutex for single-instance deployments.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*localLock
	wait  time.Duration
}

type localLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker(wait time.Duration) *LocalLocker {
	return &LocalLocker{
		locks: make(map[string]*localLock),
		wait:  wait,
	}
}

func (l *LocalLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	entry := l.acquireEntry(key)
	defer l.releaseEntry(key)

	waitCtx := ctx
	if l.wait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	select {
	case entry.ch <- struct{}{}:
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrLockNotAcquired
	}
	defer func() { <-entry.ch }()

	return fn(ctx)
}

func (l *LocalLocker) acquireEntry(key string) *localLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &localLock{ch: make(chan struct{}, 1)}
		l.locks[key] = entry
	}
	entry.refs++
	return entry
}

func (l *LocalLocker) releaseEntry(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.locks[key]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, key)
	}
}
