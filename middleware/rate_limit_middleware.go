package middleware

import (
	"golang.org/x/time/rate"

	"github.com/tencent/pebble/codec"
	"github.com/tencent/pebble/errs"
	"github.com/tencent/pebble/rpc"
)

// RateLimitMiddleware creates a rate limiter using the token bucket algorithm.
//
// Token bucket: tokens are added at rate r per second, up to a burst size.
// Each call consumes one token. If the bucket is empty, the call is rejected
// before next (and before its argument struct is even decoded). Unlike a
// leaky bucket (constant drain rate), token bucket allows short bursts of
// traffic — more suitable for RPC workloads with bursty patterns.
//
// CRITICAL: the limiter is created in the OUTER closure (once per middleware
// creation), NOT in the inner handler function. If created per-call, every
// call would get a fresh full bucket, defeating the entire purpose of rate
// limiting.
//
// Parameters:
//   - r: token refill rate (tokens per second)
//   - burst: maximum bucket size (allows this many calls in a burst)
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst) // Shared across all calls
	return func(functionName string, next rpc.Handler) rpc.Handler {
		return func(p codec.Protocol) (func(p codec.Protocol) error, error) {
			if !limiter.Allow() {
				// No tokens available — reject immediately (short-circuit, don't call next)
				return nil, errs.New(errs.RateLimited)
			}
			return next(p)
		}
	}
}
