package rate

import "errors"

var (
	// ErrRedisUnavailable wraps any Redis failure in the Redis backend.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
