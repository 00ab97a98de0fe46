package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MikeSquared-Agency/sage/internal/domain"
)

const keyPrefix = "sage:lock:"

const (
	defaultTTL      = 15 * time.Minute
	minRetryBackoff = 25 * time.Millisecond
	maxRetryBackoff = time.Second
)

// Redis is a Locker shared by every sage instance using the same Redis.
// Each acquisition writes a unique token so a lock can only be released by
// the holder that took it.
type Redis struct {
	client  *redis.Client
	ownerID string
	ttl     time.Duration
	logger  *slog.Logger
}

var _ Locker = (*Redis)(nil)

// NewRedis creates a Redis locker. ttl bounds how long a crashed holder can
// keep a lock taken with Lock.
func NewRedis(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Redis {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Redis{client: client, ownerID: generateOwnerID(), ttl: ttl, logger: logger}
}

// Format: hostname:pid:random
func generateOwnerID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s:%d:%s", hostname, os.Getpid(), randomHex(6))
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

func (r *Redis) acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := r.ownerID + ":" + randomHex(8)
	ok, err := r.client.SetNX(ctx, keyPrefix+key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	return token, ok, nil
}

func (r *Redis) unlocker(key, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() { r.release(key, token) })
	}
}

// release runs on a fresh context so a cancelled caller still frees the lock.
func (r *Redis) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, r.client, []string{keyPrefix + key}, token).Err(); err != nil && err != redis.Nil {
		r.logger.Warn("release lock failed", "key", key, "error", err)
	}
}

// Lock polls with exponential backoff until the lock is free or ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	backoff := minRetryBackoff
	for {
		token, ok, err := r.acquire(ctx, key, r.ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return r.unlocker(key, token), nil
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrLockNotAcquired, key, ctx.Err())
		case <-timer.C:
		}
		backoff *= 2
		if backoff > maxRetryBackoff {
			backoff = maxRetryBackoff
		}
	}
}

func (r *Redis) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	if ttl <= 0 {
		ttl = r.ttl
	}
	token, ok, err := r.acquire(ctx, key, ttl)
	if err != nil || !ok {
		return nil, false, err
	}
	return r.unlocker(key, token), true, nil
}

// Ping checks if the Redis backend is healthy.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
