// Package transport binds net.Conn connections to the RPC core.
//
// Channel is the thing that used to be ClientTransport's multiplexed
// request/response router: now that rpc.Instance owns its own
// session.Table keyed by session ID, a Channel's only job is turning
// bytes on a socket into Dispatch calls (and back), not routing
// responses to callers itself.
//
//	recvLoop:  conn bytes ──protocol.ReadFrame──→ frame ──Inst.Dispatch──→ session/handler
package transport

import (
	"net"
	"sync"

	"github.com/tencent/pebble/codec"
	"github.com/tencent/pebble/pebblelog"
	"github.com/tencent/pebble/protocol"
	"github.com/tencent/pebble/rpc"
	"github.com/tencent/pebble/session"
)

// Channel binds one net.Conn to an rpc.Instance under a single
// session.Handle. Opening a Channel attaches the handle to the
// Instance and starts the read loop; closing it detaches the handle
// (completing every session still waiting on it with ChannelClosed,
// per Instance.Detach) and closes the connection.
type Channel struct {
	Conn   net.Conn
	Inst   *rpc.Instance
	Handle session.Handle

	closeOnce sync.Once
	closed    chan struct{}
}

// Open attaches conn to inst under handle using format, and starts a
// background goroutine reading frames off conn and dispatching them
// into inst until the connection breaks or Close is called.
func Open(conn net.Conn, inst *rpc.Instance, handle session.Handle, format codec.FormatType) *Channel {
	ch := &Channel{
		Conn:   conn,
		Inst:   inst,
		Handle: handle,
		closed: make(chan struct{}),
	}
	inst.Attach(handle, format, conn)
	go ch.recvLoop()
	return ch
}

// recvLoop reads one complete frame at a time — reads must be
// sequential to correctly parse frame boundaries — and hands each one
// to Inst.Dispatch, which runs the matching handler or completes the
// matching session on its own goroutine.
func (c *Channel) recvLoop() {
	defer c.Close()
	for {
		frame, err := protocol.ReadFrame(c.Conn)
		if err != nil {
			return
		}
		if derr := c.Inst.Dispatch(c.Handle, frame); derr != nil {
			pebblelog.L().Warnw("dispatch failed", "handle", c.Handle, "error", derr)
		}
	}
}

// Close detaches the handle from the Instance and closes the
// underlying connection. Safe to call more than once and from
// multiple goroutines.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.Inst.Detach(c.Handle)
		err = c.Conn.Close()
	})
	return err
}

// Done returns a channel closed once this Channel has been closed,
// for callers that want to notice the connection going away.
func (c *Channel) Done() <-chan struct{} {
	return c.closed
}
