package ihc

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisQuota is a shared request budget for the scoring service, counted
// in fixed windows in Redis so that concurrent pipeline instances respect
// one quota together. It fails open: when Redis is unreachable the call
// proceeds and only the in-process limiter applies.
type RedisQuota struct {
	client *redis.Client
	limit  int
	window time.Duration
	logger *zap.Logger
}

func NewRedisQuota(client *redis.Client, limit int, window time.Duration, logger *zap.Logger) *RedisQuota {
	if window <= 0 {
		window = time.Minute
	}
	return &RedisQuota{
		client: client,
		limit:  limit,
		window: window,
		logger: logger,
	}
}

// Allow tries to take one request from the current window's budget.
func (q *RedisQuota) Allow(ctx context.Context) bool {
	if q.limit <= 0 {
		return true
	}

	now := time.Now().UTC()
	bucket := now.Unix() / int64(q.window.Seconds())
	key := fmt.Sprintf("ihc:quota:%d", bucket)

	count, err := q.client.Incr(ctx, key).Result()
	if err != nil {
		q.logger.Warn("quota check failed, allowing call", zap.Error(err))
		return true
	}
	if count == 1 {
		// Keep the counter a little past its window for inspection.
		q.client.Expire(ctx, key, q.window*2)
	}

	if count > int64(q.limit) {
		q.client.Decr(ctx, key)
		return false
	}
	return true
}

// Wait blocks until the quota grants a request or the context ends.
func (q *RedisQuota) Wait(ctx context.Context) error {
	for {
		if q.Allow(ctx) {
			return nil
		}

		// Sleep toward the next window boundary, polling at most every
		// quarter window so a freed-up budget is picked up promptly.
		delay := q.window / 4
		if delay > time.Second {
			delay = time.Second
		}
		q.logger.Debug("quota exhausted, waiting", zap.Duration("delay", delay))

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}
