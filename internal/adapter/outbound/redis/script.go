package redis

import redis "github.com/redis/go-redis/v9"

// hitScript applies one request to a fixed window stored as a hash {start, count}.
//
// KEYS[1] = window key
// ARGV[1] = now_ms
// ARGV[2] = window_ms
// ARGV[3] = limit
//
// Returns {allowed (0|1), count, start_ms}. The key expires when its window ends.
var hitScript = redis.NewScript(`
local key    = KEYS[1]
local now    = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit  = tonumber(ARGV[3])

local start = redis.call("HGET", key, "start")
local count = tonumber(redis.call("HGET", key, "count") or "0")

if (not start) or (now - tonumber(start) >= window) then
  start = ARGV[1]
  count = 0
  redis.call("HSET", key, "start", start, "count", 0)
  redis.call("PEXPIRE", key, ARGV[2])
end

if count >= limit then
  return {0, count, start}
end

count = redis.call("HINCRBY", key, "count", 1)
return {1, count, start}
`)
