package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis stores entries in a Redis database with a fixed TTL.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

var _ Cache = (*Redis)(nil)

// RedisOptions configures NewRedis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedis connects lazily; an unreachable server surfaces as ErrUnavailable on use.
func NewRedis(opts RedisOptions) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  500 * time.Millisecond,
		ReadTimeout:  250 * time.Millisecond,
		WriteTimeout: 250 * time.Millisecond,
		MaxRetries:   1,
	})
	return NewRedisWithClient(client, opts.TTL)
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = defaultMemoryTTL
	}
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, namespace, key string, dst any) (bool, error) {
	raw, err := r.client.Get(ctx, Key(namespace, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: get %s: %v", ErrUnavailable, Key(namespace, key), err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("cache: decode %s: %w", Key(namespace, key), err)
	}
	return true, nil
}

func (r *Redis) Set(ctx context.Context, namespace, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", Key(namespace, key), err)
	}
	if err := r.client.Set(ctx, Key(namespace, key), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrUnavailable, Key(namespace, key), err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, namespace, key string) error {
	if err := r.client.Del(ctx, Key(namespace, key)).Err(); err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrUnavailable, Key(namespace, key), err)
	}
	return nil
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error { return r.client.Close() }
