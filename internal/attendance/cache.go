package attendance

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReportCache stores built week reports per user and day.
type ReportCache interface {
	Get(ctx context.Context, userID, today string) (WeekReport, bool)
	Set(ctx context.Context, userID, today string, report WeekReport) error
	// Invalidate drops every cached report of the user.
	Invalidate(ctx context.Context, userID string) error
}

const defaultReportTTL = 10 * time.Minute

// RedisReportCache keeps week reports as JSON under attendance:week:{user}:{day}.
type RedisReportCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisReportCache creates a cache with the given TTL.
func NewRedisReportCache(client *redis.Client, ttl time.Duration) *RedisReportCache {
	if ttl <= 0 {
		ttl = defaultReportTTL
	}
	return &RedisReportCache{client: client, ttl: ttl}
}

func weekKeyPrefix(userID string) string {
	return "attendance:week:" + userID + ":"
}

// Get returns a cached report. Misses and errors both report false.
func (c *RedisReportCache) Get(ctx context.Context, userID, today string) (WeekReport, bool) {
	b, err := c.client.Get(ctx, weekKeyPrefix(userID)+today).Bytes()
	if err != nil {
		return WeekReport{}, false
	}
	var report WeekReport
	if err := json.Unmarshal(b, &report); err != nil {
		return WeekReport{}, false
	}
	return report, true
}

// Set stores report with the cache TTL.
func (c *RedisReportCache) Set(ctx context.Context, userID, today string, report WeekReport) error {
	b, err := json.Marshal(report)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, weekKeyPrefix(userID)+today, b, c.ttl).Err()
}

// Invalidate deletes the user's keys using SCAN.
func (c *RedisReportCache) Invalidate(ctx context.Context, userID string) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, weekKeyPrefix(userID)+"*", 500).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
