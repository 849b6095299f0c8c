package redis

const (
	// retentionSeconds is the TTL applied to session and progress keys as a
	// backstop behind the retention pruning job (90 days).
	retentionSeconds = 90 * 24 * 60 * 60

	// updateUsageAndBlockedScript atomically writes the usage cache pair on
	// an existing limit row. Returns 0 when the row is missing so the caller
	// can surface ErrNotFound.
	updateUsageAndBlockedScript = `
local limit_key = KEYS[1]     -- screentimed:limit:{pkg}

local minutes = ARGV[1]
local blocked = ARGV[2]

if redis.call('EXISTS', limit_key) == 0 then
  return 0
end

redis.call('HSET', limit_key,
  'used_today_minutes', minutes,
  'blocked', blocked
)

return 1
`

	// updateLastResetDateScript stamps the reset date on an existing row.
	updateLastResetDateScript = `
local limit_key = KEYS[1]     -- screentimed:limit:{pkg}

if redis.call('EXISTS', limit_key) == 0 then
  return 0
end

redis.call('HSET', limit_key, 'last_reset_date', ARGV[1])

return 1
`

	// resetAllDailyScript zeroes the usage cache on every limit row listed
	// in the package index and stamps the new reset date. Returns the number
	// of rows reset.
	resetAllDailyScript = `
local index_key = KEYS[1]     -- screentimed:limits

local date = ARGV[1]
local reset = 0

for _, pkg in ipairs(redis.call('SMEMBERS', index_key)) do
  local limit_key = 'screentimed:limit:' .. pkg
  if redis.call('EXISTS', limit_key) == 1 then
    redis.call('HSET', limit_key,
      'used_today_minutes', '0',
      'blocked', '0',
      'last_reset_date', date
    )
    reset = reset + 1
  end
end

return reset
`

	// appendSessionScript writes a session hash and its per-day index in one
	// call, with the retention TTL on both.
	appendSessionScript = `
local session_key = KEYS[1]   -- screentimed:session:{id}
local index_key = KEYS[2]     -- screentimed:sessions:{date}:{pkg}
local recent_key = KEYS[3]    -- screentimed:sessions:recent

local id = ARGV[1]
local pkg = ARGV[2]
local date = ARGV[3]
local start_time = ARGV[4]
local end_time = ARGV[5]
local duration = ARGV[6]
local ttl = tonumber(ARGV[7])

redis.call('HSET', session_key,
  'id', id,
  'package_name', pkg,
  'date', date,
  'start_time', start_time,
  'end_time', end_time,
  'duration_minutes', duration
)
redis.call('EXPIRE', session_key, ttl)

redis.call('SADD', index_key, id)
redis.call('EXPIRE', index_key, ttl)

redis.call('ZADD', recent_key, tonumber(start_time), id)

return 'OK'
`

	// incrementProgressScript increments (or creates) the daily aggregate.
	incrementProgressScript = `
local progress_key = KEYS[1]  -- screentimed:progress:{date}

local date = ARGV[1]
local minutes = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

if redis.call('EXISTS', progress_key) == 0 then
  redis.call('HSET', progress_key,
    'date', date,
    'screen_time_minutes', minutes
  )
  redis.call('EXPIRE', progress_key, ttl)
else
  redis.call('HINCRBY', progress_key, 'screen_time_minutes', minutes)
end

return 'OK'
`
)
