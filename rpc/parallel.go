package rpc

import "sync"

// ParallelCtx aggregates N concurrent calls into one completion. It
// fires its aggregate callback exactly once, as soon as every call has
// completed, with the error code of the first non-zero result seen in
// completion order (0 if every call succeeded). A call that completes
// after the aggregate has already fired is discarded.
type ParallelCtx struct {
	mu        sync.Mutex
	remaining int
	code      int32
	done      bool
	onDone    func(code int32)
}

// NewParallelCtx prepares an aggregator for n calls. onDone fires
// exactly once, from whichever call happens to be the last to finish.
func NewParallelCtx(n int, onDone func(code int32)) *ParallelCtx {
	return &ParallelCtx{remaining: n, onDone: onDone}
}

// CallDone reports that one of the n calls finished with errorCode.
// Call it exactly once per call, including for calls that themselves
// timed out or were cancelled.
func (c *ParallelCtx) CallDone(errorCode int32) {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return
	}
	if errorCode != 0 && c.code == 0 {
		c.code = errorCode
	}
	c.remaining--
	fire := c.remaining <= 0
	if fire {
		c.done = true
	}
	code := c.code
	c.mu.Unlock()

	if fire && c.onDone != nil {
		c.onDone(code)
	}
}
