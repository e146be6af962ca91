// Package server implements Pebble's single-threaded server loop:
// accept connections, tick the session table, run one scheduler pass,
// fire due user timers, and call the configured lifecycle hooks —
// all from the one goroutine that calls Serve, the same cooperative
// posture coroutine.Scheduler gives every dispatched handler.
//
// Request processing pipeline:
//
//	Accept conn → transport.Open (recvLoop goroutine reads frames)
//	  → Inst.Dispatch → middleware chain → registered Handler → reply
//	Serve goroutine: tick session table → one Scheduler.Update pass →
//	  fire due timers → OnUpdate hook → idle sleep if nothing ran
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tencent/pebble/codec"
	"github.com/tencent/pebble/errs"
	"github.com/tencent/pebble/middleware"
	"github.com/tencent/pebble/naming"
	"github.com/tencent/pebble/pebblelog"
	"github.com/tencent/pebble/rpc"
	"github.com/tencent/pebble/session"
	"github.com/tencent/pebble/transport"
)

// timerEntry is one user timer registered with AddTimer: interval (or
// one-shot) work the loop fires from its own goroutine, driving
// application-level polling (thread-pool completion queues, periodic
// flushes) without spawning a dedicated goroutine per timer.
type timerEntry struct {
	nextMs   int64
	periodMs int64 // 0 means one-shot
	fn       func()
}

// Server is the RPC server loop: it owns one rpc.Instance, accepts
// connections into transport.Channels, and drives the Instance's
// session table and scheduler from a single loop goroutine.
type Server struct {
	Inst *rpc.Instance

	listener      net.Listener
	advertiseAddr string
	naming        naming.Registry
	serviceNames  []string
	idleSleep     time.Duration
	format        codec.FormatType

	middlewares []middleware.Middleware

	mu         sync.Mutex
	channels   map[session.Handle]*transport.Channel
	nextHandle int64
	timers     []*timerEntry

	wg       sync.WaitGroup
	shutdown atomic.Bool

	// Lifecycle hooks, called once per loop pass (OnUpdate), when a
	// pass did no work (OnIdle), never called automatically (OnReload,
	// left to the operator's control_client path), and once on
	// Shutdown (OnStop).
	OnUpdate func()
	OnIdle   func()
	OnReload func()
	OnStop   func()
}

// NewServer returns a Server with a fresh rpc.Instance and a 1ms idle
// sleep, the server loop's default poll interval when nothing is
// ready.
func NewServer(format codec.FormatType) *Server {
	return &Server{
		Inst:      rpc.NewInstance(),
		idleSleep: time.Millisecond,
		format:    format,
		channels:  make(map[session.Handle]*transport.Channel),
	}
}

// SetIdleSleep overrides the loop's idle poll interval.
func (s *Server) SetIdleSleep(d time.Duration) {
	s.idleSleep = d
}

// Listener returns the address Listen bound to. Panics if Listen
// hasn't been called yet — call sites that need the dynamically
// assigned port of a ":0" listener read this after Listen returns.
func (s *Server) Listener() net.Addr {
	return s.listener.Addr()
}

// Use registers a middleware. Middlewares are applied, in order, to
// every method a subsequent RegisterService installs.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// RegisterService installs methods — normally the output of an
// idl.ServiceDescriptor-driven registrar (see service.go) — into the
// Instance's Registry, wrapped in the server's middleware chain.
func (s *Server) RegisterService(serviceName string, methods map[string]rpc.Handler) error {
	chain := middleware.Chain(s.middlewares...)
	wrapped := make(map[string]rpc.Handler, len(methods))
	for name, h := range methods {
		wrapped[name] = chain(name, h)
	}
	if err := s.Inst.Registry.AddService(wrapped); err != nil {
		return err
	}
	s.serviceNames = append(s.serviceNames, serviceName)
	return nil
}

// Register builds a service from rcvr's RPC-compatible methods (see
// service.go's reflection registrar) and installs it via the familiar
// `svr.Register(&Arith{})` call site.
func (s *Server) Register(rcvr any) error {
	svc, err := NewService(rcvr)
	if err != nil {
		return err
	}
	desc, handlers := svc.Handlers()
	return s.RegisterService(desc.Service, handlers)
}

// AddTimer schedules fn to run from the loop goroutine every period
// (period <= 0 means a one-shot timer) — the server loop's built-in
// facility for driving application-level polling (completion queues,
// periodic flushes) without each caller spawning its own goroutine.
func (s *Server) AddTimer(period time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	periodMs := period.Milliseconds()
	s.timers = append(s.timers, &timerEntry{
		nextMs:   nowMs() + periodMs,
		periodMs: periodMs,
		fn:       fn,
	})
}

func nowMs() int64 { return time.Now().UnixMilli() }

// Listen opens network/address (e.g. "tcp", ":9000" or "unix",
// "/tmp/pebble.sock") without blocking; call Serve to run the accept
// and drive loop.
func (s *Server) Listen(network, address string) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	s.listener = listener
	return nil
}

// Serve advertises the server under every registered service name (if
// reg is non-nil), accepts connections in a background goroutine, and
// runs the drive loop on the calling goroutine until Shutdown. advertiseAddr
// is the routable address clients should dial — distinct from the
// listen address ("localhost:0"-style listeners aren't directly dialable).
func (s *Server) Serve(advertiseAddr string, reg naming.Registry) error {
	if s.listener == nil {
		return fmt.Errorf("server: Listen must be called before Serve")
	}
	s.advertiseAddr = advertiseAddr
	s.naming = reg
	if reg != nil {
		for _, name := range s.serviceNames {
			if err := reg.Register(name, naming.Instance{Addr: advertiseAddr}, 10); err != nil {
				pebblelog.L().Warnw("service registration failed", "service", name, "error", err)
			}
		}
	}

	go s.acceptLoop()
	s.driveLoop()
	return nil
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.shutdown.Load() {
				return
			}
			pebblelog.L().Warnw("accept failed", "error", err)
			return
		}

		s.mu.Lock()
		s.nextHandle++
		handle := session.Handle(s.nextHandle)
		s.mu.Unlock()

		ch := transport.Open(conn, s.Inst, handle, s.format)
		s.mu.Lock()
		s.channels[handle] = ch
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			<-ch.Done()
			s.mu.Lock()
			delete(s.channels, handle)
			s.mu.Unlock()
		}()
	}
}

// driveLoop is the single-threaded heart of the server: tick the
// session table so timed-out SendSync/SendParallel callers wake up,
// run one Scheduler pass so dispatched handlers make progress, fire
// any due user timers, call OnUpdate every pass, and, when the pass
// did no scheduler work, call OnIdle and sleep idleSleep before the
// next pass.
func (s *Server) driveLoop() {
	for !s.shutdown.Load() {
		s.Inst.Sessions.Tick(nowMs(), int32(errs.RpcTimeout))
		ran := s.Inst.Sched.Update()
		s.fireDueTimers()

		if s.OnUpdate != nil {
			s.OnUpdate()
		}
		if ran == 0 {
			if s.OnIdle != nil {
				s.OnIdle()
			}
			time.Sleep(s.idleSleep)
		}
	}
}

func (s *Server) fireDueTimers() {
	now := nowMs()
	s.mu.Lock()
	due := make([]*timerEntry, 0, len(s.timers))
	remaining := s.timers[:0]
	for _, t := range s.timers {
		if t.nextMs <= now {
			due = append(due, t)
			if t.periodMs > 0 {
				t.nextMs = now + t.periodMs
				remaining = append(remaining, t)
			}
		} else {
			remaining = append(remaining, t)
		}
	}
	s.timers = remaining
	s.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
}

// Shutdown performs graceful shutdown:
//  1. Deregister every service from naming FIRST, so clients stop
//     routing new calls here.
//  2. Stop the drive loop and close the listener.
//  3. Wait for every accepted channel to finish (with timeout).
//  4. Call OnStop.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.naming != nil {
		for _, name := range s.serviceNames {
			if err := s.naming.Deregister(name, s.advertiseAddr); err != nil {
				pebblelog.L().Warnw("deregister failed", "service", name, "error", err)
			}
		}
	}

	s.shutdown.Store(true)
	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	for _, ch := range s.channels {
		ch.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if s.OnStop != nil {
			s.OnStop()
		}
		return fmt.Errorf("server: timeout waiting for connections to close: %w", ctx.Err())
	}

	if s.OnStop != nil {
		s.OnStop()
	}
	return nil
}
