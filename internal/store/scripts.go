package store

// slidingWindowScript implements a sliding-window log counter over a Redis
// sorted set: trim entries older than the window, count what survives, and
// admit the new event only if that count is still under the limit. Trim,
// count, and insert happen in one atomic script so concurrent callers never
// race on a check-then-act gap.
const slidingWindowScript = `
local key = KEYS[1]
local window_ms = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])
local event_id = ARGV[4]
local window_seconds = tonumber(ARGV[5])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now_ms - window_ms)

local used = redis.call('ZCARD', key)
local allowed = 0
local remaining = 0

if used < limit then
    redis.call('ZADD', key, now_ms, event_id)
    allowed = 1
    remaining = limit - used - 1
end

redis.call('EXPIRE', key, window_seconds + 1)

local reset_at = now_ms + window_ms
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if oldest and #oldest == 2 then
    reset_at = tonumber(oldest[2]) + window_ms
end

return {allowed, limit, remaining, reset_at}
`

// healthSetScript writes the health hash and its TTL atomically so readers
// never observe a record with a stale or missing expiry.
const healthSetScript = `
local key = KEYS[1]
local status = ARGV[1]
local updated_by = ARGV[2]
local reason = ARGV[3]
local updated_at = ARGV[4]
local expires_at = ARGV[5]
local ttl_seconds = tonumber(ARGV[6])

redis.call('HSET', key, 'status', status, 'updated_by', updated_by, 'reason', reason, 'updated_at', updated_at, 'expires_at', expires_at)

if ttl_seconds > 0 then
    redis.call('EXPIRE', key, ttl_seconds)
else
    redis.call('PERSIST', key)
end

return redis.call('HGETALL', key)
`

// abuseIncrementScript increments the per-address invalid-credential
// counter, sets its TTL only on first creation (so repeated attempts don't
// keep pushing the window out), and sets the block flag in the same round
// trip once the threshold is crossed.
const abuseIncrementScript = `
local attemptsKey = KEYS[1]
local blockedKey = KEYS[2]
local attemptWindow = tonumber(ARGV[1])
local maxAttempts = tonumber(ARGV[2])
local blockDuration = tonumber(ARGV[3])

local count = redis.call('INCR', attemptsKey)
if count == 1 then
    redis.call('EXPIRE', attemptsKey, attemptWindow)
end

local blocked = 0
if count >= maxAttempts then
    redis.call('SET', blockedKey, '1', 'EX', blockDuration)
    blocked = 1
end

return {count, blocked}
`
