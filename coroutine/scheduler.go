// Package coroutine translates the framework's single-threaded
// cooperative scheduler into Go. The original runs every coroutine on
// a pre-allocated ucontext stack and switches between them with a
// hand-rolled context swap; Go has no portable equivalent, so each
// coroutine here gets its own goroutine, and cooperative scheduling is
// reproduced with a pair of unbuffered-logic, buffer-1 channels per
// coroutine that hand control back and forth. The Scheduler hands a
// coroutine its turn and then blocks until that coroutine yields or
// returns, so exactly one of them is ever doing work at a time, the
// same guarantee the ucontext version gives by construction.
package coroutine

import (
	"sync"
	"time"
)

// ID identifies a coroutine within one Scheduler. 0 means the main
// coroutine (the goroutine driving Update).
type ID uint64

// Status is the result a yield or resume completes with.
type Status int32

const (
	OK        Status = 0
	TimedOut  Status = 1
	Cancelled Status = 2
)

// UnknownID and NotYielded are returned by Resume for a bad target.
type UnknownID struct{ ID ID }

func (e UnknownID) Error() string { return "coroutine: unknown id" }

type NotYielded struct{ ID ID }

func (e NotYielded) Error() string { return "coroutine: target is not yielded" }

type state int32

const (
	stateReady state = iota
	stateYielded
	stateDone
)

type wake struct {
	status  Status
	payload any
}

type back struct {
	yielded    bool // false means the entry function returned
	deadlineMs int64
}

// coro is the scheduler-side bookkeeping for one coroutine.
type coro struct {
	id         ID
	state      state
	deadlineMs int64 // valid when state == stateYielded and > 0
	started    bool
	resumeCh   chan wake
	backCh     chan back
}

// Yielder is handed to a coroutine's entry function so it can suspend
// itself. It must only be used from inside that entry function's own
// goroutine.
type Yielder struct {
	sched *Scheduler
	co    *coro
}

// Yield suspends the calling coroutine. If timeoutMs > 0, the
// scheduler resumes it with TimedOut should no explicit Resume arrive
// first; timeoutMs <= 0 means wait indefinitely for an explicit
// Resume or Cancel.
func (y *Yielder) Yield(timeoutMs int64) (Status, any) {
	deadline := int64(0)
	if timeoutMs > 0 {
		deadline = nowMs() + timeoutMs
	}
	y.co.backCh <- back{yielded: true, deadlineMs: deadline}
	w := <-y.co.resumeCh
	return w.status, w.payload
}

// Scheduler is a single-threaded cooperative scheduler: Start, Resume,
// Current and Update must all be called from the same goroutine (the
// main coroutine). Coroutine entry functions run on their own
// goroutines but only one is ever unblocked at a time.
type Scheduler struct {
	mu      sync.Mutex
	coros   map[ID]*coro
	entries map[ID]func(y *Yielder)
	readyQ  []readyItem
	nextID  ID
	current ID
}

type readyItem struct {
	id      ID
	status  Status
	payload any
}

// New returns an empty Scheduler.
func New() *Scheduler {
	return &Scheduler{coros: make(map[ID]*coro)}
}

// Start queues a fresh coroutine for entry and returns its id. It is
// not run until the next Update call.
func (s *Scheduler) Start(entry func(y *Yielder)) ID {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	c := &coro{
		id:       id,
		state:    stateReady,
		resumeCh: make(chan wake, 1),
		backCh:   make(chan back, 1),
	}
	s.coros[id] = c
	s.readyQ = append(s.readyQ, readyItem{id: id})
	s.mu.Unlock()

	// Stashed so Update can launch the goroutine the first time this
	// id comes off the ready queue.
	s.setEntry(id, entry)
	return id
}

// setEntry stashes the entry function for a not-yet-started
// coroutine; runOne claims and clears it the first time the
// coroutine's id comes off the ready queue.
func (s *Scheduler) setEntry(id ID, entry func(y *Yielder)) {
	s.mu.Lock()
	if s.entries == nil {
		s.entries = make(map[ID]func(y *Yielder))
	}
	s.entries[id] = entry
	s.mu.Unlock()
}

// Current returns the id of the coroutine presently executing, or 0
// if called from the main coroutine.
func (s *Scheduler) Current() ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Resume schedules id to wake on the next Update pass with payload
// delivered as the return of its pending Yield.
func (s *Scheduler) Resume(id ID, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coros[id]
	if !ok {
		return UnknownID{ID: id}
	}
	if c.state != stateYielded {
		return NotYielded{ID: id}
	}
	c.state = stateReady
	c.deadlineMs = 0
	s.readyQ = append(s.readyQ, readyItem{id: id, status: OK, payload: payload})
	return nil
}

// Cancel resumes id with Cancelled, used when its owning session or
// transport goes away, or the whole scheduler is shutting down.
func (s *Scheduler) Cancel(id ID) error {
	s.mu.Lock()
	c, ok := s.coros[id]
	if !ok {
		s.mu.Unlock()
		return UnknownID{ID: id}
	}
	if c.state != stateYielded {
		s.mu.Unlock()
		return NotYielded{ID: id}
	}
	c.state = stateReady
	c.deadlineMs = 0
	s.readyQ = append(s.readyQ, readyItem{id: id, status: Cancelled})
	s.mu.Unlock()
	return nil
}

// CancelAll cancels every yielded coroutine, for server shutdown.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	for id, c := range s.coros {
		if c.state == stateYielded {
			c.state = stateReady
			c.deadlineMs = 0
			s.readyQ = append(s.readyQ, readyItem{id: id, status: Cancelled})
		}
	}
	s.mu.Unlock()
}

// Update runs one scheduler pass: due timed-out coroutines are woken,
// the coroutines ready at the start of this call each run until they
// yield or exit, and finished coroutines are reaped. It returns the
// number of coroutines that ran this pass.
func (s *Scheduler) Update() int {
	now := nowMs()

	s.mu.Lock()
	for id, c := range s.coros {
		if c.state == stateYielded && c.deadlineMs > 0 && c.deadlineMs <= now {
			c.state = stateReady
			c.deadlineMs = 0
			s.readyQ = append(s.readyQ, readyItem{id: id, status: TimedOut})
		}
	}
	batch := s.readyQ
	s.readyQ = nil
	s.mu.Unlock()

	for _, item := range batch {
		s.runOne(item)
	}
	return len(batch)
}

func (s *Scheduler) runOne(item readyItem) {
	s.mu.Lock()
	c, ok := s.coros[item.id]
	if !ok {
		s.mu.Unlock()
		return // reaped or cancelled out from under us
	}
	s.current = item.id
	started := c.started
	var entry func(y *Yielder)
	if !started {
		c.started = true
		entry = s.entries[item.id]
		delete(s.entries, item.id)
	}
	s.mu.Unlock()

	if !started {
		y := &Yielder{sched: s, co: c}
		go func() {
			entry(y)
			c.backCh <- back{yielded: false}
		}()
	} else {
		c.resumeCh <- wake{status: item.status, payload: item.payload}
	}

	b := <-c.backCh

	s.mu.Lock()
	s.current = 0
	if b.yielded {
		c.state = stateYielded
		c.deadlineMs = b.deadlineMs
	} else {
		c.state = stateDone
		delete(s.coros, item.id)
	}
	s.mu.Unlock()
}

// Len reports the number of coroutines still alive (yielded or
// queued to run), excluding the main coroutine.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.coros)
}

func nowMs() int64 { return time.Now().UnixMilli() }
