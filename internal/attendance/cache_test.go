package attendance

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisCache(t *testing.T, ttl time.Duration) (*RedisReportCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisReportCache(client, ttl), mr
}

func TestRedisReportCacheGetSet(t *testing.T) {
	cache, mr := newRedisCache(t, 0)
	ctx := context.Background()
	report := WeekReport{
		Today:      "2024-11-26",
		WeekStart:  "2024-11-25",
		WeekEnd:    "2024-12-01",
		Days:       []DayEntry{{DayName: "Mon", Date: "2024-11-25", HoursLogged: 8.5, HoursDisplay: "8h 30m"}},
		TotalHours: 8.5,
	}

	_, ok := cache.Get(ctx, "u1", "2024-11-26")
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, "u1", "2024-11-26", report))
	got, ok := cache.Get(ctx, "u1", "2024-11-26")
	require.True(t, ok)
	assert.Equal(t, report, got)
	assert.Equal(t, defaultReportTTL, mr.TTL("attendance:week:u1:2024-11-26"))

	_, ok = cache.Get(ctx, "u1", "2024-11-27")
	assert.False(t, ok, "reports are keyed per day")

	mr.FastForward(defaultReportTTL + time.Second)
	_, ok = cache.Get(ctx, "u1", "2024-11-26")
	assert.False(t, ok, "expired")

	require.NoError(t, mr.Set("attendance:week:u1:2024-11-28", "not json"))
	_, ok = cache.Get(ctx, "u1", "2024-11-28")
	assert.False(t, ok, "corrupt entries read as misses")
}

func TestRedisReportCacheInvalidate(t *testing.T) {
	cache, mr := newRedisCache(t, time.Minute)
	ctx := context.Background()

	for _, k := range []struct{ user, day string }{
		{"u1", "2024-11-25"},
		{"u1", "2024-11-26"},
		{"u10", "2024-11-26"},
		{"u2", "2024-11-26"},
	} {
		require.NoError(t, cache.Set(ctx, k.user, k.day, WeekReport{Today: k.day}))
	}
	require.NoError(t, mr.Set("unrelated", "x"))

	require.NoError(t, cache.Invalidate(ctx, "u1"))
	assert.ElementsMatch(t, []string{
		"attendance:week:u10:2024-11-26",
		"attendance:week:u2:2024-11-26",
		"unrelated",
	}, mr.Keys())

	require.NoError(t, cache.Invalidate(ctx, "nobody"))
	assert.Len(t, mr.Keys(), 3)

	mr.SetError("LOADING Redis is loading the dataset in memory")
	assert.Error(t, cache.Invalidate(ctx, "u2"))
	_, ok := cache.Get(ctx, "u2", "2024-11-26")
	assert.False(t, ok, "errors read as misses")
}
