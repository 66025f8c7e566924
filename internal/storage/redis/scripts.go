package redis

const (
	// appendPeriodScript allocates a period id and records the period and
	// its owner in one atomic step.
	appendPeriodScript = `
local seq_key = KEYS[1]    -- playlimit:periods:seq
local user_key = KEYS[2]   -- playlimit:periods:user:{userID}
local users_key = KEYS[3]  -- playlimit:periods:users

local user_id = ARGV[1]
local minutes = ARGV[2]
local ts = ARGV[3]

local id = redis.call('INCR', seq_key)
redis.call('ZADD', user_key, ts, id .. ':' .. minutes)
redis.call('SADD', users_key, user_id)

return id
`
)
