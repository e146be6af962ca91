package main

import (
	"time"

	"github.com/tencent/pebble/errs"
	"github.com/tencent/pebble/rpc"
)

// ticker drives inst's scheduler and session table the way a server
// loop's tick would, at a fixed interval, until stopped. control_client
// only ever has one call in flight, so a background goroutine polling
// at a short interval stands in for the real server loop this package
// doesn't otherwise need.
type ticker struct {
	stopCh chan struct{}
}

func newTicker(inst *rpc.Instance) *ticker {
	t := &ticker{stopCh: make(chan struct{})}
	go func() {
		tk := time.NewTicker(time.Millisecond)
		defer tk.Stop()
		for {
			select {
			case <-t.stopCh:
				return
			case now := <-tk.C:
				inst.Sched.Update()
				inst.Sessions.Tick(now.UnixMilli(), int32(errs.RpcTimeout))
			}
		}
	}()
	return t
}

func (t *ticker) stop() {
	close(t.stopCh)
}

// expired returns a channel that fires once timeoutMs + a small grace
// period has elapsed, as a last-resort bound in case the session
// table's own timeout path never fires (e.g. the dial succeeded but
// the server never speaks the protocol at all, so Dispatch is never
// even reached).
func (t *ticker) expired(timeoutMs int64) <-chan time.Time {
	grace := 500 * time.Millisecond
	return time.After(time.Duration(timeoutMs)*time.Millisecond + grace)
}
