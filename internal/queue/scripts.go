package queue

import "github.com/redis/go-redis/v9"

// All scripts take the current time from the caller so every node and every
// test agrees on one clock.

// KEYS: job hash, wait
// ARGV: id, payload, task_type, max_attempts, backoff_ms, priority, now_ms, score
var enqueueScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
redis.call("HSET", KEYS[1],
	"payload", ARGV[2],
	"task_type", ARGV[3],
	"attempts", 0,
	"max_attempts", ARGV[4],
	"backoff_ms", ARGV[5],
	"priority", ARGV[6],
	"enqueued_at", ARGV[7],
	"score", ARGV[8])
redis.call("ZADD", KEYS[2], ARGV[8], ARGV[1])
return 1
`)

// KEYS: wait, delayed, active
// ARGV: now_ms, stall_deadline_ms, job key prefix
var dequeueScript = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[2], "-inf", ARGV[1])
for _, id in ipairs(due) do
	redis.call("ZREM", KEYS[2], id)
	local score = redis.call("HGET", ARGV[3] .. id, "score")
	if score then
		redis.call("ZADD", KEYS[1], score, id)
	end
end
while true do
	local popped = redis.call("ZPOPMIN", KEYS[1])
	if #popped == 0 then
		return false
	end
	local id = popped[1]
	local fields = redis.call("HGETALL", ARGV[3] .. id)
	if #fields > 0 then
		redis.call("ZADD", KEYS[3], ARGV[2], id)
		table.insert(fields, 1, id)
		return fields
	end
end
`)

// KEYS: job hash, wait, delayed, active
// ARGV: id
var completeScript = redis.NewScript(`
redis.call("ZREM", KEYS[2], ARGV[1])
redis.call("ZREM", KEYS[3], ARGV[1])
redis.call("ZREM", KEYS[4], ARGV[1])
return redis.call("DEL", KEYS[1])
`)

// deadLetter moves the job in KEYS[1] to the DLQ stream in KEYS[5].
// Shared by the retry and fail scripts.
const deadLetter = `
local function dead_letter(id, err, now)
	local payload = redis.call("HGET", KEYS[1], "payload") or ""
	local task_type = redis.call("HGET", KEYS[1], "task_type") or ""
	local attempts = redis.call("HGET", KEYS[1], "attempts") or "0"
	redis.call("ZREM", KEYS[2], id)
	redis.call("ZREM", KEYS[3], id)
	redis.call("ZREM", KEYS[4], id)
	redis.call("DEL", KEYS[1])
	redis.call("XADD", KEYS[5], "*",
		"job_id", id,
		"task_type", task_type,
		"payload", payload,
		"attempts", attempts,
		"error", err,
		"failed_at", now)
end
`

// KEYS: job hash, wait, delayed, active, dlq
// ARGV: id, now_ms, error
// Returns -1 when the job is gone, 0 when dead-lettered, else the delay in ms.
var retryScript = redis.NewScript(deadLetter + `
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -1
end
local attempts = redis.call("HINCRBY", KEYS[1], "attempts", 1)
redis.call("HSET", KEYS[1], "last_error", ARGV[3])
local max = tonumber(redis.call("HGET", KEYS[1], "max_attempts"))
if attempts >= max then
	dead_letter(ARGV[1], ARGV[3], ARGV[2])
	return 0
end
local backoff = tonumber(redis.call("HGET", KEYS[1], "backoff_ms"))
local delay = backoff * math.pow(2, attempts - 1)
redis.call("ZREM", KEYS[4], ARGV[1])
redis.call("ZADD", KEYS[3], tonumber(ARGV[2]) + delay, ARGV[1])
return delay
`)

// KEYS: job hash, wait, delayed, active, dlq
// ARGV: id, now_ms, error
var failScript = redis.NewScript(deadLetter + `
if redis.call("EXISTS", KEYS[1]) == 0 then
	return 0
end
dead_letter(ARGV[1], ARGV[3], ARGV[2])
return 1
`)

// KEYS: active, wait
// ARGV: now_ms, job key prefix
var reclaimScript = redis.NewScript(`
local stalled = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
local moved = 0
for _, id in ipairs(stalled) do
	redis.call("ZREM", KEYS[1], id)
	local score = redis.call("HGET", ARGV[2] .. id, "score")
	if score then
		redis.call("HINCRBY", ARGV[2] .. id, "stalls", 1)
		redis.call("ZADD", KEYS[2], score, id)
		moved = moved + 1
	end
end
return moved
`)
