// Package transport also provides a basic connection pool (ConnPool).
//
// Note: the client package keeps a shared []*Channel per discovered
// instance with round-robin selection instead of this borrow/return
// ConnPool. ConnPool is for the opposite case — a Channel meant to be
// held exclusively by one caller at a time rather than shared across
// concurrent callers. cmd/control_client is that case: it borrows a
// single pooled Channel for its one round trip and returns it
// afterward instead of dialing and tearing down a connection per
// invocation.
//
// Pool design: uses a buffered channel as a natural FIFO queue.
// Buffered channels are concurrency-safe, and blocking on empty is
// built-in.
package transport

import (
	"fmt"
	"net"
	"sync"

	"github.com/tencent/pebble/codec"
	"github.com/tencent/pebble/rpc"
	"github.com/tencent/pebble/session"
)

// ConnPool manages a pool of reusable Channels to a single address.
type ConnPool struct {
	mu       sync.Mutex
	chans    chan *PoolChannel // Buffered channel as pool — FIFO, goroutine-safe
	addr     string            // Target address
	maxConns int               // Maximum number of channels
	curConns int               // Currently created channels (may be < maxConns)
	factory  func() (*Channel, error)
}

// PoolChannel wraps a *Channel with pool metadata.
type PoolChannel struct {
	*Channel
	pool     *ConnPool
	unusable bool // Marked true when the channel encounters an error
}

// Invalidate marks pc unusable so the next Put discards and closes it
// instead of returning it to the pool. Call this after a round trip on
// pc failed in a way that leaves the underlying connection suspect
// (timeout, dispatch error, read/write failure).
func (pc *PoolChannel) Invalidate() {
	pc.unusable = true
}

// NewConnPool creates a connection pool with the given max size.
// Channels are created lazily — the pool starts empty and grows on
// demand. factory must dial the remote and return an opened *Channel
// (i.e. transport.Open already called).
func NewConnPool(addr string, maxConns int, factory func() (*Channel, error)) *ConnPool {
	return &ConnPool{
		chans:    make(chan *PoolChannel, maxConns),
		addr:     addr,
		maxConns: maxConns,
		factory:  factory,
	}
}

// Get retrieves a channel from the pool.
// Strategy:
//  1. Try to get an existing channel from the queue (non-blocking select)
//  2. If pool is empty but under limit, create a new channel
//  3. If pool is empty and at limit, block until one is returned
func (p *ConnPool) Get() (*PoolChannel, error) {
	select {
	case ch := <-p.chans:
		if ch.unusable {
			return p.createNew()
		}
		return ch, nil
	default:
		// Pool is empty
		if p.curConns < p.maxConns {
			return p.createNew()
		}
		// At capacity — block until a channel is returned
		ch := <-p.chans
		return ch, nil
	}
}

// Put returns a channel to the pool.
// If the channel is marked unusable (error occurred), it's closed and discarded.
func (p *ConnPool) Put(ch *PoolChannel) {
	if ch.unusable {
		ch.Close()
		p.mu.Lock()
		p.curConns--
		p.mu.Unlock()
		return
	}
	p.chans <- ch
}

// Close shuts down the pool and closes all channels.
func (p *ConnPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	close(p.chans)
	for ch := range p.chans {
		ch.Close()
		p.curConns--
	}
	return nil
}

// createNew creates a new Channel via the factory function.
// Protected by mutex to prevent exceeding maxConns under concurrent access.
func (p *ConnPool) createNew() (*PoolChannel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.curConns >= p.maxConns {
		return nil, fmt.Errorf("connection pool exhausted")
	}

	ch, err := p.factory()
	if err != nil {
		return nil, err
	}

	p.curConns++
	return &PoolChannel{
		Channel:  ch,
		pool:     p,
		unusable: false,
	}, nil
}

// DialFactory builds a ConnPool factory that dials address with
// network ("tcp" or "unix"), opens a Channel against inst under a
// fresh handle from nextHandle, and negotiates format for the
// lifetime of that connection.
func DialFactory(network, address string, inst *rpc.Instance, format codec.FormatType, nextHandle func() session.Handle) func() (*Channel, error) {
	return func() (*Channel, error) {
		conn, err := net.Dial(network, address)
		if err != nil {
			return nil, err
		}
		return Open(conn, inst, nextHandle(), format), nil
	}
}
