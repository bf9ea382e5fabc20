package locking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/facilitycore/internal/observability/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func assertMutualExclusion(t *testing.T, l Locker) {
	t.Helper()

	var (
		inside  int32
		maxSeen int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.WithLock(context.Background(), "lock:instrument:1", func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					seen := atomic.LoadInt32(&maxSeen)
					if n <= seen || atomic.CompareAndSwapInt32(&maxSeen, seen, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxSeen))
}

func TestLocalLockerMutualExclusion(t *testing.T) {
	assertMutualExclusion(t, NewLocalLocker(5*time.Second))
}

func TestLocalLockerTimesOut(t *testing.T) {
	l := NewLocalLocker(20 * time.Millisecond)
	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = l.WithLock(context.Background(), "k", func(ctx context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	err := l.WithLock(context.Background(), "k", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	close(release)
	require.Eventually(t, func() bool {
		return l.WithLock(context.Background(), "k", func(ctx context.Context) error { return nil }) == nil
	}, time.Second, 5*time.Millisecond)
}

func TestLocalLockerPropagatesError(t *testing.T) {
	l := NewLocalLocker(time.Second)
	boom := errors.New("boom")
	err := l.WithLock(context.Background(), "k", func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, l.locks)
}

func newMiniredisLocker(t *testing.T, wait time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, zap.NewNop(), 5*time.Second, 2*time.Millisecond, wait), mr
}

func TestRedisLockerMutualExclusion(t *testing.T) {
	l, _ := newMiniredisLocker(t, 5*time.Second)
	assertMutualExclusion(t, l)
}

func TestRedisLockerReleaseChecksToken(t *testing.T) {
	l, mr := newMiniredisLocker(t, 10*time.Millisecond)
	ctx := context.Background()

	token, ok, err := l.TryLock(ctx, "lock:instrument:7")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, "lock:instrument:7")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Release(ctx, "lock:instrument:7", "someone-else"))
	assert.True(t, mr.Exists("lock:instrument:7"))

	err = l.WithLock(ctx, "lock:instrument:7", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	require.NoError(t, l.Release(ctx, "lock:instrument:7", token))
	assert.False(t, mr.Exists("lock:instrument:7"))
}

func TestWithLocksSortsKeys(t *testing.T) {
	rec := &recordingLocker{}
	err := WithLocks(context.Background(), rec, []string{"b", "a", "b", "c"}, func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, rec.keys)
}

func TestInstrumentedRecordsFailures(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := metrics.NewLockMetrics(registry, metrics.Config{})
	l := NewInstrumented(NewLocalLocker(time.Second), m)

	node, _ := snowflake.NewNode(1)
	key := InstrumentKey(node.Generate())
	err := l.WithLock(context.Background(), key, func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, metrics.LockResourceInstrument, resourceOf(key))
	assert.Equal(t, "other", resourceOf("lock:unknown"))
}

type recordingLocker struct {
	keys []string
}

func (r *recordingLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	r.keys = append(r.keys, key)
	return fn(ctx)
}
