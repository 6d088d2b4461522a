package rate

import "errors"

var (
	// ErrRateLimited reports that a fixed window's budget is used up.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps counter read/write failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
