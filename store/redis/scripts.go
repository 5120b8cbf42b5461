package redis

import goredis "github.com/redis/go-redis/v9"

// Lua scripts for every conditional write. Indices and versions travel
// as decimal strings; times compared on the server are Unix microseconds.

// createDefScript inserts a definition unless its version is taken or
// another version of the ref is active.
// KEYS: def, def_ids, def_active, def_latest
// ARGV: ref, id, version, status, field/value pairs...
var createDefScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 'version' end
if redis.call('HEXISTS', KEYS[3], ARGV[1]) == 1 then return 'exists' end
redis.call('HSET', KEYS[1], unpack(ARGV, 5))
redis.call('SADD', KEYS[2], ARGV[2])
if ARGV[4] == 'active' then redis.call('HSET', KEYS[3], ARGV[1], ARGV[3]) end
local latest = redis.call('HGET', KEYS[4], ARGV[1])
if not latest or tonumber(latest) < tonumber(ARGV[3]) then
  redis.call('HSET', KEYS[4], ARGV[1], ARGV[3])
end
return 'ok'
`)

// defStatusScript moves a definition between statuses and keeps the
// active index in step.
// KEYS: def, def_active
// ARGV: from, to, updated_at, ref, version
var defStatusScript = goredis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'status')
if not cur then return -1 end
if cur ~= ARGV[1] then return 0 end
redis.call('HSET', KEYS[1], 'status', ARGV[2], 'updated_at', ARGV[3])
if ARGV[1] == 'active' then redis.call('HDEL', KEYS[2], ARGV[4]) end
if ARGV[2] == 'active' then redis.call('HSET', KEYS[2], ARGV[4], ARGV[5]) end
return 1
`)

// deleteDefScript removes a deleted definition.
// KEYS: def, def_ids
// ARGV: id
var deleteDefScript = goredis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') ~= 'deleted' then return 0 end
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[2], ARGV[1])
return 1
`)

// incrementScript moves a counter from expected to expected+1.
// KEYS: counter
// ARGV: expected
var incrementScript = goredis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
if cur ~= tonumber(ARGV[1]) then return {cur, 0} end
redis.call('SET', KEYS[1], cur + 1)
return {cur + 1, 1}
`)

// advanceScript moves a bucket pointer forward from expected.
// KEYS: pointers
// ARGV: field, expected, next
var advanceScript = goredis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
local expected = tonumber(ARGV[2])
local nxt = tonumber(ARGV[3])
if cur == expected and nxt > expected then
  redis.call('HSET', KEYS[1], ARGV[1], ARGV[3])
  return nxt
end
return cur
`)

// moveMinScript sets the watermark, taking the minimum on conflict.
// KEYS: pointers
// ARGV: expected, proposed
var moveMinScript = goredis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], 'invis') or '0')
local proposed = tonumber(ARGV[2])
if cur == tonumber(ARGV[1]) or proposed < cur then
  redis.call('HSET', KEYS[1], 'invis', ARGV[2])
  return proposed
end
return cur
`)

// putMessageScript inserts a row if its index is free.
// KEYS: row
// ARGV: created_by, field/value pairs...
var putMessageScript = goredis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'created_by')
if cur then
  if cur == ARGV[1] then return 'dup' end
  return 'conflict'
end
redis.call('HSET', KEYS[1], unpack(ARGV, 2))
return 'ok'
`)

// consumeScript delivers a visible row that still has version.
// KEYS: row
// ARGV: version, now, invisible_until, tag, updated_at
var consumeScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
local f = redis.call('HMGET', KEYS[1], 'version', 'tombstoned', 'invisible_until')
if tonumber(f[1]) ~= tonumber(ARGV[1]) or f[2] == '1' then return 0 end
if f[3] and f[3] ~= '' and tonumber(f[3]) > tonumber(ARGV[2]) then return 0 end
redis.call('HINCRBY', KEYS[1], 'version', 1)
redis.call('HINCRBY', KEYS[1], 'delivery_count', 1)
redis.call('HSET', KEYS[1], 'invisible_until', ARGV[3], 'tag', ARGV[4], 'updated_at', ARGV[5])
return redis.call('HGETALL', KEYS[1])
`)

// ackScript tombstones a row that still has version.
// KEYS: row
// ARGV: version, updated_at
var ackScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
local f = redis.call('HMGET', KEYS[1], 'version', 'tombstoned')
if tonumber(f[1]) ~= tonumber(ARGV[1]) or f[2] == '1' then return 0 end
redis.call('HSET', KEYS[1], 'tombstoned', '1', 'updated_at', ARGV[2])
return 1
`)

// updateVisibilityScript hides a row that still has version.
// KEYS: row
// ARGV: version, invisible_until, tag, updated_at, has_payload, payload
var updateVisibilityScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
local f = redis.call('HMGET', KEYS[1], 'version', 'tombstoned')
if tonumber(f[1]) ~= tonumber(ARGV[1]) or f[2] == '1' then return 0 end
redis.call('HINCRBY', KEYS[1], 'version', 1)
redis.call('HSET', KEYS[1], 'invisible_until', ARGV[2], 'tag', ARGV[3], 'updated_at', ARGV[4])
if ARGV[5] == '1' then redis.call('HSET', KEYS[1], 'payload', ARGV[6]) end
return redis.call('HGETALL', KEYS[1])
`)

// updateByTagScript replaces the payload of a row that still has tag.
// KEYS: row
// ARGV: tag, payload, new_tag, updated_at
var updateByTagScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
local f = redis.call('HMGET', KEYS[1], 'tag', 'tombstoned')
if f[1] ~= ARGV[1] or f[2] == '1' then return 0 end
redis.call('HSET', KEYS[1], 'payload', ARGV[2], 'tag', ARGV[3], 'updated_at', ARGV[4])
return redis.call('HGETALL', KEYS[1])
`)

// markBucketScript records the earliest tombstone time of a bucket.
// KEYS: markers
// ARGV: bucket, at
var markBucketScript = goredis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if cur and tonumber(cur) <= tonumber(ARGV[2]) then return 0 end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
return 1
`)

// lockScript takes or re-enters a role lock.
// KEYS: lock
// ARGV: holder, ttl_ms
var lockScript = goredis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur and cur ~= ARGV[1] then return 0 end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 1
`)

// unlockScript frees a role lock held by holder.
// KEYS: lock
// ARGV: holder
var unlockScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)
