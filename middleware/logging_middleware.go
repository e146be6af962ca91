package middleware

import (
	"time"

	"github.com/tencent/pebble/codec"
	"github.com/tencent/pebble/pebblelog"
	"github.com/tencent/pebble/rpc"
)

// LoggingMiddleware records the function name, duration, and any
// error for each dispatched call. It captures the start time before
// calling next, and logs the elapsed time after next returns (or
// after the handler fails to decode its arguments).
func LoggingMiddleware() Middleware {
	return func(functionName string, next rpc.Handler) rpc.Handler {
		return func(p codec.Protocol) (func(p codec.Protocol) error, error) {
			start := time.Now()
			respond, err := next(p)
			duration := time.Since(start)
			if err != nil {
				pebblelog.L().Infow("rpc call failed", "method", functionName, "duration", duration, "error", err)
			} else {
				pebblelog.L().Infow("rpc call completed", "method", functionName, "duration", duration)
			}
			return respond, err
		}
	}
}
