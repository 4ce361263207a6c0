package redis

import (
	"context"
	"fmt"
	"time"

	"task-orchestrator/internal/clock"
)

// RateLimiter counts hits per key in fixed windows aligned to the window
// length, so every replica sharing Redis lands in the same bucket.
type RateLimiter struct {
	client Counter
	clock  clock.Clock
}

func NewRateLimiter(client Counter) *RateLimiter {
	return &RateLimiter{client: client, clock: clock.Real{}}
}

// WithClock swaps the time source used to pick the window bucket.
func (r *RateLimiter) WithClock(clk clock.Clock) *RateLimiter {
	r.clock = clk
	return r
}

// Allow records a hit on key and reports whether it is within limit for the
// current window. A limit of zero or less allows everything.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	if window <= 0 {
		window = time.Minute
	}
	bucket := windowKey(key, r.clock.Now(), window)
	count, err := r.client.Incr(ctx, bucket)
	if err != nil {
		return false, fmt.Errorf("rate limit incr: %w", err)
	}
	if count == 1 {
		// keep the bucket a few seconds past its window
		if err := r.client.Expire(ctx, bucket, window+5*time.Second); err != nil {
			return false, fmt.Errorf("rate limit expire: %w", err)
		}
	}
	return count <= int64(limit), nil
}

func windowKey(key string, now time.Time, window time.Duration) string {
	return fmt.Sprintf("%s:%d", key, now.UnixNano()/int64(window))
}

// SubmitKey scopes task submission limits by client address.
func SubmitKey(clientAddr string) string {
	return "rate_limit:submit:" + clientAddr
}
