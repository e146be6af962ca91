// Package client implements the RPC client: service discovery, load
// balancing, and a shared transport.Channel per address, driving calls
// through the same rpc.Instance + coroutine.Scheduler pair the server
// side runs on its own goroutine.
//
// Call flow:
//
//	Call("Arith.Add", args, reply)
//	  → naming.Registry.Discover("Arith") → instance list
//	  → loadbalance.Balancer.Pick(instances) → one address
//	  → channelFor(addr)                      → shared transport.Channel
//	  → rpc.Instance.SendSync                 → parked coroutine, one round trip
//	  → message.ReadJSONPayload → reply       → done
package client

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tencent/pebble/codec"
	"github.com/tencent/pebble/coroutine"
	"github.com/tencent/pebble/errs"
	"github.com/tencent/pebble/loadbalance"
	"github.com/tencent/pebble/message"
	"github.com/tencent/pebble/middleware"
	"github.com/tencent/pebble/naming"
	"github.com/tencent/pebble/pebblelog"
	"github.com/tencent/pebble/rpc"
	"github.com/tencent/pebble/session"
	"github.com/tencent/pebble/transport"
)

// Client manages the full RPC call lifecycle: discovery → load
// balancing → transport.Channel → SendSync.
//
// Design: channels are SHARED, not borrowed/returned — a Channel's
// recvLoop multiplexes every session keyed by the Instance's own
// session.Table, so there's no need to exclusively hold one during a
// call (see transport.ConnPool's doc comment for the alternative,
// exclusive-borrow pool this client deliberately doesn't use).
type Client struct {
	naming   naming.Registry
	balancer loadbalance.Balancer
	format   codec.FormatType
	timeout  time.Duration

	inst *rpc.Instance

	mu       sync.Mutex
	channels map[string]*transport.Channel // addr -> shared channel
	nextID   int64

	closed atomic.Bool
	stop   chan struct{}
}

// NewClient creates a client with the given naming registry, load
// balancer, wire codec format, and default per-call timeout.
func NewClient(reg naming.Registry, bal loadbalance.Balancer, format codec.FormatType, timeout time.Duration) *Client {
	c := &Client{
		naming:   reg,
		balancer: bal,
		format:   format,
		timeout:  timeout,
		inst:     rpc.NewInstance(),
		channels: make(map[string]*transport.Channel),
		stop:     make(chan struct{}),
	}
	go c.driveLoop()
	return c
}

// driveLoop is this Client's single cooperative loop, the caller-side
// mirror of server.Server.driveLoop: tick the session table so timed
// out calls wake their parked coroutine, then run one Scheduler pass
// so replies arriving off any channel make progress.
func (c *Client) driveLoop() {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.inst.Sessions.Tick(nowMs(), int32(errs.RpcTimeout))
			c.inst.Sched.Update()
		}
	}
}

func nowMs() int64 { return time.Now().UnixMilli() }

// Close stops the drive loop and closes every channel this Client has
// opened.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.stop)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.channels {
		ch.Close()
	}
	return nil
}

// channelFor returns the shared Channel for addr, dialing and
// attaching a new one on first use or after the previous one closed.
func (c *Client) channelFor(addr string) (*transport.Channel, error) {
	c.mu.Lock()
	if ch, ok := c.channels[addr]; ok {
		select {
		case <-ch.Done():
			delete(c.channels, addr)
		default:
			c.mu.Unlock()
			return ch, nil
		}
	}
	c.nextID++
	handle := session.Handle(c.nextID)
	c.mu.Unlock()

	factory := transport.DialFactory("tcp", addr, c.inst, c.format, func() session.Handle { return handle })
	ch, err := factory()
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}

	c.mu.Lock()
	c.channels[addr] = ch
	c.mu.Unlock()
	return ch, nil
}

// Call performs a synchronous RPC call using the familiar
// "Service.Method" call-site shape, JSON-encoding args as a single
// payload field and JSON-decoding reply from the matching field in
// the response — see server/service.go's Handlers for why that
// payload shape exists. The function name sent on the wire is
// "Service:Method", the convention server.service.Handlers registers
// under.
func (c *Client) Call(serviceMethod string, args, reply any) error {
	return c.CallTimeout(serviceMethod, args, reply, c.timeout)
}

// CallTimeout is Call with a per-call timeout override.
func (c *Client) CallTimeout(serviceMethod string, args, reply any, timeout time.Duration) error {
	serviceName, method, err := splitServiceMethod(serviceMethod)
	if err != nil {
		return err
	}

	instances, err := c.naming.Discover(serviceName)
	if err != nil {
		return fmt.Errorf("client: discover %s: %w", serviceName, err)
	}
	if len(instances) == 0 {
		return fmt.Errorf("client: no instances available for %s", serviceName)
	}
	instance, err := c.balancer.Pick(instances)
	if err != nil {
		return err
	}

	ch, err := c.channelFor(instance.Addr)
	if err != nil {
		return err
	}

	functionName := serviceName + ":" + method
	var code int32
	done := make(chan struct{})
	c.inst.Sched.Start(func(y *coroutine.Yielder) {
		code = c.inst.SendSync(y, ch.Handle, functionName, encodeJSONArgs(args), decodeJSONReply(reply), timeout.Milliseconds())
		close(done)
	})

	select {
	case <-done:
	case <-time.After(timeout + 500*time.Millisecond):
		return fmt.Errorf("client: %s: local scheduler deadline exceeded", functionName)
	}

	if code != 0 {
		return errs.New(errs.Code(code))
	}
	return nil
}

// CallWithRetry wraps CallTimeout in middleware.RetryCall, retrying
// transient failures (timeout, channel closed, send failed) with
// exponential backoff up to maxRetries times.
func (c *Client) CallWithRetry(serviceMethod string, args, reply any, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	code := middleware.RetryCall(serviceMethod, maxRetries, baseDelay, func() int32 {
		lastErr = c.Call(serviceMethod, args, reply)
		return int32(errs.CodeOf(lastErr))
	})
	if code != 0 {
		pebblelog.L().Warnw("call failed after retries", "method", serviceMethod, "code", code)
		return lastErr
	}
	return nil
}

func splitServiceMethod(serviceMethod string) (service, method string, err error) {
	split := strings.Split(serviceMethod, ".")
	if len(split) != 2 {
		return "", "", fmt.Errorf("client: invalid serviceMethod format: %v", serviceMethod)
	}
	return split[0], split[1], nil
}

func encodeJSONArgs(args any) func(p codec.Protocol) error {
	return func(p codec.Protocol) error {
		return message.WriteJSONPayload(p, args)
	}
}

func decodeJSONReply(reply any) func(p codec.Protocol) error {
	return func(p codec.Protocol) error {
		if reply == nil {
			_, err := message.ReadPayloadField(p)
			return err
		}
		return message.ReadJSONPayload(p, reply)
	}
}
