package redis

import backend "github.com/redis/go-redis/v9"

// All scripts take KEYS = {lock, data, internal}.
// The internal hash holds SessionTimeout (seconds), Grace (ms kept past the timeout),
// Keys (JSON item order), Initialize (uninitialized marker) and LockTime (unix ms of the current lock).

// touch restarts the expiry of the data and internal keys.
const touch = `
local function touch(timeout)
  local ms = tonumber(timeout) * 1000 + tonumber(redis.call("HGET", KEYS[3], "Grace") or "0")
  redis.call("PEXPIRE", KEYS[2], ms)
  redis.call("PEXPIRE", KEYS[3], ms)
end
`

// Reply: {0} absent, {2, lockTime} locked, {1, timeout, initialize, keys, {field, value...}} found.
var getItemScript = backend.NewScript(touch + `
if redis.call("EXISTS", KEYS[3]) == 0 then
  return {0}
end
if redis.call("GET", KEYS[1]) then
  return {2, redis.call("HGET", KEYS[3], "LockTime") or ""}
end
local timeout = redis.call("HGET", KEYS[3], "SessionTimeout")
touch(timeout)
return {1, timeout, redis.call("HGET", KEYS[3], "Initialize") or "", redis.call("HGET", KEYS[3], "Keys") or "", redis.call("HGETALL", KEYS[2])}
`)

// ARGV: token, lock ttl (ms), now (unix ms). Does not refresh the record expiry.
var getItemExclusiveScript = backend.NewScript(`
if redis.call("EXISTS", KEYS[3]) == 0 then
  return {0}
end
if redis.call("GET", KEYS[1]) then
  return {2, redis.call("HGET", KEYS[3], "LockTime") or ""}
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
redis.call("HSET", KEYS[3], "LockTime", ARGV[3])
local init = redis.call("HGET", KEYS[3], "Initialize") or ""
if init ~= "" then
  redis.call("HDEL", KEYS[3], "Initialize")
end
return {1, redis.call("HGET", KEYS[3], "SessionTimeout"), init, redis.call("HGET", KEYS[3], "Keys") or "", redis.call("HGETALL", KEYS[2])}
`)

// ARGV: token, new item flag, timeout (seconds, "0" keeps the stored one), grace (ms),
// keys JSON, field/value pairs.
var setAndReleaseScript = backend.NewScript(touch + `
if ARGV[2] ~= "1" then
  local owner = redis.call("GET", KEYS[1])
  if (not owner) or owner ~= ARGV[1] then
    return 0
  end
end
local timeout = ARGV[3]
if timeout == "0" then
  timeout = redis.call("HGET", KEYS[3], "SessionTimeout") or "1200"
end
redis.call("DEL", KEYS[2], KEYS[3])
for i = 6, #ARGV, 2 do
  redis.call("HSET", KEYS[2], ARGV[i], ARGV[i + 1])
end
redis.call("HSET", KEYS[3], "SessionTimeout", timeout, "Grace", ARGV[4], "Keys", ARGV[5])
touch(timeout)
redis.call("DEL", KEYS[1])
return 1
`)

// ARGV: timeout (seconds), grace (ms), keys JSON, field/value pairs.
var createUninitializedScript = backend.NewScript(touch + `
redis.call("DEL", KEYS[2], KEYS[3])
for i = 4, #ARGV, 2 do
  redis.call("HSET", KEYS[2], ARGV[i], ARGV[i + 1])
end
redis.call("HSET", KEYS[3], "SessionTimeout", ARGV[1], "Grace", ARGV[2], "Keys", ARGV[3], "Initialize", "1")
touch(ARGV[1])
return 1
`)

// ARGV: token. Releasing refreshes the record expiry.
var releaseScript = backend.NewScript(touch + `
local owner = redis.call("GET", KEYS[1])
if (not owner) or owner ~= ARGV[1] then
  return 0
end
redis.call("DEL", KEYS[1])
local timeout = redis.call("HGET", KEYS[3], "SessionTimeout")
if timeout then
  touch(timeout)
end
return 1
`)

// ARGV: token. Removal is allowed when unlocked or owned by token.
var removeScript = backend.NewScript(`
local owner = redis.call("GET", KEYS[1])
if owner and owner ~= ARGV[1] then
  return 0
end
redis.call("DEL", KEYS[1], KEYS[2], KEYS[3])
return 1
`)

var resetTimeoutScript = backend.NewScript(touch + `
local timeout = redis.call("HGET", KEYS[3], "SessionTimeout")
if not timeout then
  return 0
end
touch(timeout)
return 1
`)
