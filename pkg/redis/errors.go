package redis

import "errors"

// Connection errors, wrapped with the cause via errors.Join.
var (
	ErrMissingRedisURL  = errors.New("redis: REDIS_URL is empty")
	ErrInvalidRedisURL  = errors.New("redis: cannot parse REDIS_URL")
	ErrRedisUnreachable = errors.New("redis: no successful ping before retries ran out")
	ErrRedisPing        = errors.New("redis: ping failed")
)
