package mailer

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Throttler paces outbound sends for a store.
type Throttler interface {
	// Wait blocks until the store may send one more email.
	Wait(ctx context.Context, storeID string) error
}

// DelayThrottler enforces a fixed inter-send delay. It is the fallback when
// Redis is not configured; pacing is then per-process only.
type DelayThrottler struct {
	delay time.Duration
}

// NewDelayThrottler creates a fixed-delay throttler.
func NewDelayThrottler(delay time.Duration) *DelayThrottler {
	return &DelayThrottler{delay: delay}
}

// Wait sleeps for the configured delay.
func (d *DelayThrottler) Wait(ctx context.Context, _ string) error {
	if d.delay <= 0 {
		return nil
	}
	timer := time.NewTimer(d.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RedisThrottler enforces a per-store sends-per-second ceiling across all
// processes, using a counter keyed to the current second.
type RedisThrottler struct {
	client *redis.Client
	rate   int // max sends per second per store
}

// NewRedisThrottler creates a Redis-backed throttler. rate must be >= 1.
func NewRedisThrottler(client *redis.Client, rate int) *RedisThrottler {
	if rate < 1 {
		rate = 10
	}
	return &RedisThrottler{client: client, rate: rate}
}

// Wait increments this second's counter and, when the ceiling is hit, sleeps
// into the next second and tries again.
func (r *RedisThrottler) Wait(ctx context.Context, storeID string) error {
	for {
		now := time.Now()
		key := fmt.Sprintf("throttle:%s:%d", storeID, now.Unix())

		n, err := r.client.Incr(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("throttle incr: %w", err)
		}
		// First increment owns the key; make it expire on its own.
		if n == 1 {
			r.client.Expire(ctx, key, 2*time.Second)
		}
		if n <= int64(r.rate) {
			return nil
		}

		wait := time.Until(now.Truncate(time.Second).Add(time.Second))
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}
