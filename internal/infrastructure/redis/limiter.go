package redisinfra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-establishment-auth/internal/config"
	"github.com/redis/go-redis/v9"
)

// ErrLocked is returned while an account has exhausted its failed attempts.
var ErrLocked = errors.New("too many failed attempts")

// NewClient connects to REDIS_ADDR and pings it. Returns nil, nil when no
// address is configured.
func NewClient(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// AttemptLimiter counts second-factor verification attempts per account in a
// fixed window that starts at the first attempt. A successful verification
// resets the count.
type AttemptLimiter struct {
	client      *redis.Client
	maxAttempts int64
	window      time.Duration
}

func NewAttemptLimiter(client *redis.Client, maxAttempts int, window time.Duration) *AttemptLimiter {
	return &AttemptLimiter{client: client, maxAttempts: int64(maxAttempts), window: window}
}

func (l *AttemptLimiter) key(accountID string) string {
	return "2fa:attempts:" + accountID
}

// acquireScript increments the counter and starts the window on the first
// attempt in one round trip, so concurrent callers each see a distinct count.
var acquireScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// Acquire reserves one attempt and returns ErrLocked once more than
// maxAttempts were reserved inside the window.
func (l *AttemptLimiter) Acquire(ctx context.Context, accountID string) error {
	n, err := acquireScript.Run(ctx, l.client, []string{l.key(accountID)}, l.window.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("acquire attempt: %w", err)
	}
	if n > l.maxAttempts {
		return ErrLocked
	}
	return nil
}

func (l *AttemptLimiter) Reset(ctx context.Context, accountID string) error {
	if err := l.client.Del(ctx, l.key(accountID)).Err(); err != nil {
		return fmt.Errorf("reset attempts: %w", err)
	}
	return nil
}
