// Package rediscoro adapts a blocking redis client call into the
// cooperative scheduler's yield/resume contract, the same role
// RedisCoroutine played in the original tree: application code calls
// Call and gets a synchronous-looking return, while underneath the
// actual redis round trip runs off the single-threaded loop (on a
// threadpool worker) and the calling coroutine is parked until it
// finishes or times out. Pebble itself never links a redis client;
// Command is whatever blocking call the application supplies.
package rediscoro

import (
	"sync"

	"github.com/tencent/pebble/coroutine"
	"github.com/tencent/pebble/errs"
	"github.com/tencent/pebble/threadpool"
)

// DefaultTimeoutMs matches the original RedisCoroutine's default.
const DefaultTimeoutMs = 2000

// Command is a blocking redis call, run on a thread-pool worker so it
// never stalls the scheduler's single thread.
type Command func() (reply any, err error)

type pendingCall struct {
	reply  any
	err    error
	resume func()
}

// Adapter issues Commands through pool and resumes the waiting
// coroutine via sched once each finishes. Drain must be called once
// per server-loop tick to notice completions.
type Adapter struct {
	pool      *threadpool.Pool
	sched     *coroutine.Scheduler
	timeoutMs int64

	mu      sync.Mutex
	pending map[int64]*pendingCall
	nextID  int64
}

// New returns an adapter that runs commands on pool and resumes
// coroutines scheduled by sched. timeoutMs <= 0 picks
// DefaultTimeoutMs.
func New(pool *threadpool.Pool, sched *coroutine.Scheduler, timeoutMs int64) *Adapter {
	if timeoutMs <= 0 {
		timeoutMs = DefaultTimeoutMs
	}
	return &Adapter{
		pool:      pool,
		sched:     sched,
		timeoutMs: timeoutMs,
		pending:   make(map[int64]*pendingCall),
	}
}

// Call runs cmd on the thread pool and parks the calling coroutine
// until it completes or the adapter's timeout elapses. Must be called
// from inside a coroutine (y is that coroutine's Yielder).
func (a *Adapter) Call(y *coroutine.Yielder, cmd Command) (any, error) {
	a.mu.Lock()
	a.nextID++
	id := a.nextID
	pc := &pendingCall{}
	a.pending[id] = pc
	a.mu.Unlock()

	coroID := a.sched.Current()
	pc.resume = func() { a.sched.Resume(coroID, nil) }

	err := a.pool.AddTask(func() {
		reply, cmdErr := cmd()
		a.mu.Lock()
		pc.reply, pc.err = reply, cmdErr
		a.mu.Unlock()
	}, id)
	if err != nil {
		a.mu.Lock()
		delete(a.pending, id)
		a.mu.Unlock()
		return nil, err
	}

	status, _ := y.Yield(a.timeoutMs)

	a.mu.Lock()
	result := a.pending[id]
	delete(a.pending, id)
	a.mu.Unlock()

	if status == coroutine.TimedOut {
		return nil, errs.New(errs.RpcTimeout)
	}
	if result == nil {
		return nil, errs.New(errs.MissingResult)
	}
	return result.reply, result.err
}

// Drain resumes every coroutine whose redis command the thread pool
// has finished since the last call. The server loop calls this once
// per tick, the same way it ticks the Session Table.
func (a *Adapter) Drain() {
	for {
		select {
		case id, ok := <-a.pool.Finished():
			if !ok {
				return
			}
			a.mu.Lock()
			pc := a.pending[id]
			a.mu.Unlock()
			if pc != nil && pc.resume != nil {
				pc.resume()
			}
		default:
			return
		}
	}
}
