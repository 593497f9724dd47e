package ratelimit

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindowScript implements the sorted-set sliding-window counter
// atomically server-side (spec §4.7: "a server-side script on a shared
// key-value store (preferred)"). KEYS[1] is the rate-limit key; ARGV is
// now_ms, window_ms, limit, member suffix for uniqueness.
//
// It trims expired entries, counts what remains, and — only if under
// limit — adds the new event, refreshing the key's TTL to 2*window.
const slidingWindowScript = `
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now_ms - window_ms)

local used = redis.call('ZCARD', key)
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local oldest_ms = 0
if oldest[2] then
  oldest_ms = tonumber(oldest[2])
end

if used >= limit then
  return {used, oldest_ms, 0}
end

redis.call('ZADD', key, now_ms, member)
redis.call('PEXPIRE', key, window_ms * 2)

if oldest_ms == 0 then
  oldest_ms = now_ms
end

return {used, oldest_ms, 1}
`

// RedisStore is the shared Store backend for multi-instance deployments.
type RedisStore struct {
	client *redis.Client
	script *redis.Script
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, script: redis.NewScript(slidingWindowScript)}
}

func (s *RedisStore) CountAndRecord(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (int, time.Time, bool, error) {
	nowMs := now.UnixMilli()
	windowMs := window.Milliseconds()
	member := strconv.FormatInt(nowMs, 10) + "-" + uniqueSuffix()

	res, err := s.script.Run(ctx, s.client, []string{key}, nowMs, windowMs, limit, member).Result()
	if err != nil {
		return 0, time.Time{}, false, err
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 3 {
		return 0, time.Time{}, false, redis.Nil
	}

	used := toInt(vals[0])
	oldestMs := toInt(vals[1])
	recorded := toInt(vals[2]) == 1

	var oldest time.Time
	if oldestMs > 0 {
		oldest = time.UnixMilli(int64(oldestMs))
	}
	return used, oldest, recorded, nil
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

var suffixCounter atomic.Uint64

// uniqueSuffix disambiguates same-millisecond events so ZADD never
// collapses two distinct requests into one sorted-set member.
func uniqueSuffix() string {
	return strconv.FormatUint(suffixCounter.Add(1), 10)
}
