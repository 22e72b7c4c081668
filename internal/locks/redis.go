package locks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker takes SET NX PX locks so several API instances serialize on the same keys.
type RedisLocker struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	timeout time.Duration
	retry   time.Duration
}

var _ Locker = (*RedisLocker)(nil)

// RedisOptions configure a RedisLocker.
type RedisOptions struct {
	Prefix  string
	TTL     time.Duration
	Timeout time.Duration
	Retry   time.Duration
}

// NewRedisLocker creates a locker on client.
func NewRedisLocker(client *redis.Client, opts RedisOptions) *RedisLocker {
	if opts.Prefix == "" {
		opts.Prefix = "spadesk:lock:"
	}
	if opts.TTL <= 0 {
		opts.TTL = 10 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	if opts.Retry <= 0 {
		opts.Retry = 25 * time.Millisecond
	}
	return &RedisLocker{client: client, prefix: opts.Prefix, ttl: opts.TTL, timeout: opts.Timeout, retry: opts.Retry}
}

func (l *RedisLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	ctx, cancel := withTimeout(ctx, l.timeout)
	defer cancel()

	token := uuid.NewString()
	keys = normalize(keys)
	acquired := make([]string, 0, len(keys))
	release := func() {
		// Release on a fresh context: the caller's may already be done.
		rctx, rcancel := context.WithTimeout(context.Background(), time.Second)
		defer rcancel()
		for i := len(acquired) - 1; i >= 0; i-- {
			_ = releaseScript.Run(rctx, l.client, []string{acquired[i]}, token).Err()
		}
	}

	for _, k := range keys {
		key := l.prefix + k
		if err := l.acquire(ctx, key, token); err != nil {
			release()
			return nil, err
		}
		acquired = append(acquired, key)
	}
	return release, nil
}

func (l *RedisLocker) acquire(ctx context.Context, key, token string) error {
	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return l.ctxErr(ctx)
			}
			return fmt.Errorf("redis setnx %s: %w", key, err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return l.ctxErr(ctx)
		case <-ticker.C:
		}
	}
}

func (l *RedisLocker) ctxErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrLockTimeout
	}
	return ctx.Err()
}

// Ping checks the connection.
func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
