// Package kv provides the Redis-backed key-value layer: a thin adapter over
// go-redis v9, the distributed lock used by the deduplication step, and the
// leader-election lease used by the scheduler.
//
// The store remains the source of truth. Everything kept here is either a
// lock, a TTL cache, or an auxiliary index that can be rebuilt from the store.
package kv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("kv: key not found")

// Client is the key-value surface the services depend on. GoRedisAdapter is
// the production implementation; tests use it against miniredis.
type Client interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRem(ctx context.Context, key string, members ...string) error
	ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error)

	RPush(ctx context.Context, key string, values ...string) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
}

// GoRedisAdapter wraps go-redis v9 to implement Client.
type GoRedisAdapter struct {
	rdb *redis.Client
}

// NewGoRedisAdapter connects to Redis and verifies connectivity with a ping.
// The caller decides whether a connection error is fatal.
func NewGoRedisAdapter(addr, password string, db int) (*GoRedisAdapter, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}

	slog.Info("Redis connected", "addr", addr, "db", db)
	return &GoRedisAdapter{rdb: rdb}, nil
}

// NewFromClient wraps an existing go-redis client. Used by tests with
// miniredis.
func NewFromClient(rdb *redis.Client) *GoRedisAdapter {
	return &GoRedisAdapter{rdb: rdb}
}

// Close shuts down the underlying redis client.
func (a *GoRedisAdapter) Close() error {
	return a.rdb.Close()
}

func (a *GoRedisAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := a.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	return val, err
}

func (a *GoRedisAdapter) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return a.rdb.Set(ctx, key, value, ttl).Err()
}

func (a *GoRedisAdapter) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return a.rdb.SetNX(ctx, key, value, ttl).Result()
}

func (a *GoRedisAdapter) Del(ctx context.Context, keys ...string) error {
	return a.rdb.Del(ctx, keys...).Err()
}

func (a *GoRedisAdapter) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return a.rdb.Expire(ctx, key, ttl).Err()
}

func (a *GoRedisAdapter) Incr(ctx context.Context, key string) (int64, error) {
	return a.rdb.Incr(ctx, key).Result()
}

func (a *GoRedisAdapter) SAdd(ctx context.Context, key string, members ...string) error {
	ifaces := make([]interface{}, len(members))
	for i, m := range members {
		ifaces[i] = m
	}
	return a.rdb.SAdd(ctx, key, ifaces...).Err()
}

func (a *GoRedisAdapter) SRem(ctx context.Context, key string, members ...string) error {
	ifaces := make([]interface{}, len(members))
	for i, m := range members {
		ifaces[i] = m
	}
	return a.rdb.SRem(ctx, key, ifaces...).Err()
}

func (a *GoRedisAdapter) SMembers(ctx context.Context, key string) ([]string, error) {
	return a.rdb.SMembers(ctx, key).Result()
}

func (a *GoRedisAdapter) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return a.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (a *GoRedisAdapter) ZRem(ctx context.Context, key string, members ...string) error {
	ifaces := make([]interface{}, len(members))
	for i, m := range members {
		ifaces[i] = m
	}
	return a.rdb.ZRem(ctx, key, ifaces...).Err()
}

func (a *GoRedisAdapter) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	return a.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: fmt.Sprintf("%f", min),
		Max: fmt.Sprintf("%f", max),
	}).Result()
}

func (a *GoRedisAdapter) RPush(ctx context.Context, key string, values ...string) error {
	ifaces := make([]interface{}, len(values))
	for i, v := range values {
		ifaces[i] = v
	}
	return a.rdb.RPush(ctx, key, ifaces...).Err()
}

func (a *GoRedisAdapter) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return a.rdb.LRange(ctx, key, start, stop).Result()
}

func (a *GoRedisAdapter) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	return a.rdb.Eval(ctx, script, keys, args...).Result()
}
