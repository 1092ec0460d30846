package client

import (
	"context"
	"errors"
	"fmt"
	"order-reconciler/internal/config"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

var ErrLockNotObtained = errors.New("order lock not obtained")

// OrderLocker serialises work on a single order across processes. It is a
// latency optimisation only; the store's compare-and-set stays authoritative.
type OrderLocker interface {
	Lock(ctx context.Context, orderID string) (release func(), err error)
}

type redisOrderLocker struct {
	locker *redislock.Client
	ttl    time.Duration
}

func InitRedisClient(ctx context.Context, cfg config.Redis) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: 20,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Address, err)
	}
	return rdb, nil
}

func NewRedisOrderLocker(rdb *redis.Client, ttl time.Duration) OrderLocker {
	return &redisOrderLocker{
		locker: redislock.New(rdb),
		ttl:    ttl,
	}
}

func (l *redisOrderLocker) Lock(ctx context.Context, orderID string) (func(), error) {
	lock, err := l.locker.Obtain(ctx, "order-lock:"+orderID, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), 10),
	})
	if err == redislock.ErrNotObtained {
		return func() {}, ErrLockNotObtained
	}
	if err != nil {
		return func() {}, err
	}

	return func() {
		_ = lock.Release(context.Background())
	}, nil
}

type noopOrderLocker struct{}

func NewNoopOrderLocker() OrderLocker {
	return noopOrderLocker{}
}

func (noopOrderLocker) Lock(context.Context, string) (func(), error) {
	return func() {}, nil
}
