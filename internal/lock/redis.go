package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix = "payhook:event-lock:"
	releaseTimeout   = 2 * time.Second
)

// releaseScript deletes the key only if it still carries our token, so a
// lock that expired and was re-acquired by another owner is left alone.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// redisClient is the subset of *redis.Client used by RedisLocker.
type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// RedisLocker implements Locker with SET NX PX and a token-checked release.
type RedisLocker struct {
	client redisClient
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

func NewRedisLocker(client redisClient, ttl time.Duration, logger *slog.Logger) *RedisLocker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{
		client: client,
		ttl:    ttl,
		prefix: defaultKeyPrefix,
		logger: logger,
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	fullKey := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, fullKey, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}

	return func() {
		// The request context may already be canceled when release runs.
		rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if err := l.client.Eval(rctx, releaseScript, []string{fullKey}, token).Err(); err != nil {
			l.logger.Warn("failed to release event lock", "key", fullKey, "error", err)
		}
	}, nil
}

// NewRedisClient builds a client from a redis:// or rediss:// URL.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("lock: parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// RedisProbe reports Redis reachability to the health endpoint.
type RedisProbe struct {
	Client interface {
		Ping(ctx context.Context) *redis.StatusCmd
	}
}

func (p RedisProbe) Name() string { return "redis" }

func (p RedisProbe) Check(ctx context.Context) error {
	return p.Client.Ping(ctx).Err()
}
