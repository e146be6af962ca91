package middleware

import (
	"time"

	"github.com/tencent/pebble/codec"
	"github.com/tencent/pebble/errs"
	"github.com/tencent/pebble/rpc"
)

// TimeOutMiddleware enforces a maximum duration for a dispatched call.
// If next doesn't complete within timeout, it returns RpcTimeout to the
// caller immediately.
//
// Implementation:
//  1. Run next in a goroutine, sending its result to a buffered channel
//  2. Select between that channel and time.After(timeout)
//
// Note: the handler goroutine is NOT cancelled — it continues running in
// the background, and whatever it eventually returns (including its
// respond closure) is discarded, so no reply is written for it. The
// timeout only controls when the caller gives up waiting.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(functionName string, next rpc.Handler) rpc.Handler {
		return func(p codec.Protocol) (func(p codec.Protocol) error, error) {
			type result struct {
				respond func(p codec.Protocol) error
				err     error
			}
			done := make(chan result, 1) // Buffered: prevent goroutine leak if timeout fires
			go func() {
				respond, err := next(p)
				done <- result{respond, err}
			}()

			select {
			case r := <-done:
				return r.respond, r.err
			case <-time.After(timeout):
				return nil, errs.New(errs.RpcTimeout)
			}
		}
	}
}
