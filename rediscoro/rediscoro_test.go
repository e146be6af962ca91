package rediscoro

import (
	"testing"
	"time"

	"github.com/tencent/pebble/coroutine"
	"github.com/tencent/pebble/threadpool"
)

func TestCallReturnsCommandResult(t *testing.T) {
	pool := threadpool.New(2, threadpool.Pending, 0)
	defer pool.Terminate(true)
	sched := coroutine.New()
	adapter := New(pool, sched, 1000)

	var reply any
	var callErr error
	done := make(chan struct{})

	sched.Start(func(y *coroutine.Yielder) {
		reply, callErr = adapter.Call(y, func() (any, error) {
			return "PONG", nil
		})
		close(done)
	})
	sched.Update() // runs up to the Call's yield

	// Poll Drain until the background task finishes and resumes the
	// coroutine, the way a server loop tick would.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		adapter.Drain()
		if n := sched.Update(); n > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("coroutine never resumed")
	}
	if callErr != nil {
		t.Fatalf("Call error: %v", callErr)
	}
	if reply != "PONG" {
		t.Errorf("reply = %v, want PONG", reply)
	}
}

func TestCallTimesOut(t *testing.T) {
	pool := threadpool.New(1, threadpool.Pending, 0)
	defer pool.Terminate(false)
	sched := coroutine.New()
	adapter := New(pool, sched, 5) // 5ms timeout

	blockForever := make(chan struct{})
	defer close(blockForever)

	var callErr error
	done := make(chan struct{})
	sched.Start(func(y *coroutine.Yielder) {
		_, callErr = adapter.Call(y, func() (any, error) {
			<-blockForever
			return nil, nil
		})
		close(done)
	})
	sched.Update()

	time.Sleep(20 * time.Millisecond)
	sched.Update() // observes the yield deadline has passed

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("coroutine never resumed after timeout")
	}
	if callErr == nil {
		t.Fatal("expected a timeout error")
	}
}
