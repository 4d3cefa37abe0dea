package redisstore

import "time"

// ttlToRedisExpiration maps the ttlSeconds convention (0 == never expires)
// onto go-redis's convention (0 == never expires), which happen to already
// coincide; kept as a named conversion so the mapping is documented once.
func ttlToRedisExpiration(ttlSeconds int64) time.Duration {
	if ttlSeconds <= 0 {
		return 0
	}
	return time.Duration(ttlSeconds) * time.Second
}
