package correlation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend implements Backend on a Redis server.
// It is thread-safe and can be used concurrently from multiple goroutines.
type RedisBackend struct {
	rdb *redis.Client
}

// NewRedisBackend connects to Redis with the given options.
func NewRedisBackend(opts *redis.Options) *RedisBackend {
	return &RedisBackend{rdb: redis.NewClient(opts)}
}

// NewRedisBackendFromURL parses a redis:// URL and connects.
func NewRedisBackendFromURL(url string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return NewRedisBackend(opts), nil
}

// Close closes the Redis connection. Implements io.Closer.
func (b *RedisBackend) Close() error {
	return b.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

func (b *RedisBackend) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := b.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

func (b *RedisBackend) Exists(ctx context.Context, key string) (bool, error) {
	n, err := b.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check existence of %s: %w", key, err)
	}
	return n > 0, nil
}

func (b *RedisBackend) Get(ctx context.Context, key string) (string, error) {
	v, err := b.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	return v, nil
}

func (b *RedisBackend) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := b.rdb.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read ttl of %s: %w", key, err)
	}
	// Redis answers -2 for a missing key and -1 for a key without expiry.
	switch {
	case d == -2:
		return 0, ErrNotFound
	case d < 0:
		return 0, nil
	}
	return d, nil
}

func (b *RedisBackend) Publish(ctx context.Context, channel, payload string) error {
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

// PSubscribe subscribes to every channel matching pattern. The caller
// closes the returned subscription.
func (b *RedisBackend) PSubscribe(ctx context.Context, pattern string) *redis.PubSub {
	return b.rdb.PSubscribe(ctx, pattern)
}

// Receive opens a short-lived subscription and reads until the first
// message or until timeout. Subscription confirmations are skipped.
func (b *RedisBackend) Receive(ctx context.Context, channel string, timeout time.Duration) Delivery {
	deadline := time.Now().Add(timeout)
	rctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	pubsub := b.rdb.Subscribe(rctx, channel)
	defer pubsub.Close()

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Delivery{Status: Silent}
		}

		// An explicit read timeout bounds the socket read itself.
		msg, err := pubsub.ReceiveTimeout(rctx, remaining)
		if err != nil {
			if ctx.Err() == nil && isTimeout(err) {
				return Delivery{Status: Silent}
			}
			return Delivery{Status: Unavailable, Err: err}
		}

		switch m := msg.(type) {
		case *redis.Message:
			return Delivery{Status: Notified, Payload: m.Payload}
		case *redis.Subscription, *redis.Pong:
			continue
		default:
			return Delivery{Status: Unavailable, Err: fmt.Errorf("unexpected pubsub reply %T", msg)}
		}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
