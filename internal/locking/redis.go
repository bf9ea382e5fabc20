package locking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisLocker serializes across instances with SET NX and a token-checked
// release.
type RedisLocker struct {
	client *redis.Client
	script *redis.Script
	log    *zap.Logger

	ttl           time.Duration
	retryInterval time.Duration
	wait          time.Duration
}

func NewRedisLocker(client *redis.Client, log *zap.Logger, ttl, retryInterval, wait time.Duration) *RedisLocker {
	if retryInterval <= 0 {
		retryInterval = 25 * time.Millisecond
	}
	return &RedisLocker{
		client:        client,
		script:        redis.NewScript(lockReleaseScript),
		log:           log.Named("locking.redis"),
		ttl:           ttl,
		retryInterval: retryInterval,
		wait:          wait,
	}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, errors.New("lock client not configured")
	}
	if key == "" {
		return "", false, errors.New("lock key is empty")
	}
	if l.ttl <= 0 {
		return "", false, errors.New("lock ttl must be positive")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *RedisLocker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}

func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	deadline := time.Now().Add(l.wait)
	for {
		token, ok, err := l.TryLock(ctx, key)
		if err != nil {
			return err
		}
		if ok {
			defer func() {
				// Release on a fresh context so a canceled request still frees the key.
				releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				if err := l.Release(releaseCtx, key, token); err != nil {
					l.log.Warn("release failed", zap.String("key", key), zap.Error(err))
				}
			}()
			return fn(ctx)
		}
		if !time.Now().Before(deadline) {
			return ErrLockNotAcquired
		}

		timer := time.NewTimer(l.retryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
