package locking

import (
	"context"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/facilitycore/internal/config"
	"github.com/smallbiznis/facilitycore/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Instrumented records acquisition latency and failures of an inner Locker.
type Instrumented struct {
	inner    Locker
	metrics  *metrics.LockMetrics
	resource func(key string) string
}

func NewInstrumented(inner Locker, m *metrics.LockMetrics) *Instrumented {
	return &Instrumented{inner: inner, metrics: m, resource: resourceOf}
}

func (l *Instrumented) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	start := time.Now()
	acquired := false
	err := l.inner.WithLock(ctx, key, func(ctx context.Context) error {
		acquired = true
		l.metrics.ObserveLockWait(l.resource(key), time.Since(start))
		return fn(ctx)
	})
	if err != nil && !acquired {
		l.metrics.IncLockError(l.resource(key), err)
	}
	return err
}

func resourceOf(key string) string {
	switch {
	case strings.HasPrefix(key, "lock:instrument:"):
		return metrics.LockResourceInstrument
	case strings.HasPrefix(key, "lock:price_policy:"):
		return metrics.LockResourcePricePolicy
	default:
		return "other"
	}
}

type lockerParams struct {
	fx.In

	Lc      fx.Lifecycle
	Cfg     config.Config
	Log     *zap.Logger
	Metrics *metrics.LockMetrics `optional:"true"`
}

func provideLocker(p lockerParams) (Locker, error) {
	var inner Locker
	switch p.Cfg.Lock.Backend {
	case config.LockBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     p.Cfg.Lock.RedisAddr,
			Password: p.Cfg.Lock.RedisPassword,
			DB:       p.Cfg.Lock.RedisDB,
		})
		p.Lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			},
			OnStop: func(ctx context.Context) error {
				return client.Close()
			},
		})
		inner = NewRedisLocker(client, p.Log, p.Cfg.Lock.TTL, p.Cfg.Lock.RetryInterval, p.Cfg.Lock.WaitTimeout)
	default:
		inner = NewLocalLocker(p.Cfg.Lock.WaitTimeout)
	}
	p.Log.Named("locking").Info("locker configured", zap.String("backend", p.Cfg.Lock.Backend))

	return NewInstrumented(inner, p.Metrics), nil
}

var Module = fx.Module("locking",
	fx.Provide(provideLocker),
)
