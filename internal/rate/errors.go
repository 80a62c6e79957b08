package rate

import "errors"

var (
	// ErrRateLimited is returned by callers that surface a rejected attempt as an error.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps Redis failures in [RedisWindow].
	ErrRedisUnavailable = errors.New("redis unavailable")
)
