package middleware

import (
	"time"

	"github.com/tencent/pebble/errs"
	"github.com/tencent/pebble/pebblelog"
)

// RetryCall retries a client call up to maxRetries times with
// exponential backoff, stopping as soon as call returns a non-retryable
// code. Unlike the other middlewares in this package, retry can't wrap
// rpc.Handler: a Handler decodes its argument struct straight off the
// wire Protocol, and that stream is already consumed after the first
// attempt, so a second call to the same Handler has nothing left to
// read. Retrying only makes sense one layer up, around the client call
// that re-encodes and re-sends the request — this is what RetryCall
// wraps instead.
//
// call is expected to perform one full SendSync (or similar) round
// trip and return its framework result code.
func RetryCall(methodName string, maxRetries int, baseDelay time.Duration, call func() int32) int32 {
	code := call()
	for i := 0; i < maxRetries; i++ {
		if !isRetryable(code) {
			return code
		}
		pebblelog.L().Infow("retrying rpc call", "method", methodName, "attempt", i+1, "code", code)
		time.Sleep(baseDelay * time.Duration(uint(1)<<uint(i))) // Exponential backoff
		code = call()
	}
	return code
}

// isRetryable reports whether code describes a transient, connection-
// or timing-level failure rather than an application exception,
// classified by wire error code rather than matching substrings in an
// error string.
func isRetryable(code int32) bool {
	switch errs.Code(code) {
	case errs.RpcTimeout, errs.ChannelClosed, errs.SendFailed:
		return true
	default:
		return false
	}
}
