package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/nftpayments/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

var slidingWindow = redis.NewScript(slidingWindowLua)

// RateLimiter counts API requests per client in a sliding window kept in a
// sorted set under ratelimit:<key>.
type RateLimiter struct {
	rdb *redis.Client
	now func() time.Time
}

// NewRateLimiter creates a RateLimiter on c.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{rdb: c.Underlying(), now: time.Now}
}

// Allow counts a request against key. A denied request is not counted.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (domain.RateDecision, error) {
	now := rl.now().UnixMicro()
	res, err := slidingWindow.Run(ctx, rl.rdb, []string{"ratelimit:" + key},
		now, window.Microseconds(), limit,
	).Int64Slice()
	if err != nil {
		return domain.RateDecision{}, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	return decide(res, now, limit, window)
}

// decide turns the script reply {allowed, count, oldest} into a decision.
func decide(res []int64, now int64, limit int, window time.Duration) (domain.RateDecision, error) {
	if len(res) != 3 {
		return domain.RateDecision{}, fmt.Errorf("redis: rate limit: unexpected reply %v", res)
	}
	d := domain.RateDecision{
		Allowed:   res[0] == 1,
		Remaining: max(limit-int(res[1]), 0),
	}
	if !d.Allowed {
		d.RetryAfter = max(time.Duration(res[2]+window.Microseconds()-now)*time.Microsecond, 0)
	}
	return d, nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
