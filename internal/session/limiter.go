package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SubmitLimiter caps public submissions per form and client in a fixed
// window. A zero limit disables it.
type SubmitLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func NewSubmitLimiter(client *redis.Client, limit int, window time.Duration) *SubmitLimiter {
	return &SubmitLimiter{client: client, limit: int64(limit), window: window}
}

// Allow counts one attempt and reports whether it is within the limit.
func (l *SubmitLimiter) Allow(ctx context.Context, formID, clientKey string) (bool, error) {
	if l == nil || l.limit <= 0 {
		return true, nil
	}
	key := fmt.Sprintf("formdeck:submit:%s:%s", formID, clientKey)
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("count submission: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return false, fmt.Errorf("expire submission counter: %w", err)
		}
	}
	return count <= l.limit, nil
}
