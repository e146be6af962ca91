package transport

import (
	"net"
	"testing"

	"github.com/tencent/pebble/codec"
	"github.com/tencent/pebble/rpc"
)

func newTestChannelPair(t *testing.T) (*Channel, *Channel) {
	t.Helper()
	a, b := net.Pipe()
	instA := rpc.NewInstance()
	instB := rpc.NewInstance()
	return Open(a, instA, 1, codec.FormatBinary), Open(b, instB, 1, codec.FormatBinary)
}

func TestConnPoolCreatesUpToMax(t *testing.T) {
	made := 0
	pool := NewConnPool("test", 2, func() (*Channel, error) {
		made++
		ch, _ := newTestChannelPair(t)
		return ch, nil
	})
	defer pool.Close()

	c1, err := pool.Get()
	if err != nil {
		t.Fatalf("Get 1: %v", err)
	}
	c2, err := pool.Get()
	if err != nil {
		t.Fatalf("Get 2: %v", err)
	}
	if made != 2 {
		t.Fatalf("expect 2 channels created, got %d", made)
	}
	pool.Put(c1)
	pool.Put(c2)
}

func TestConnPoolReusesReturnedChannel(t *testing.T) {
	made := 0
	pool := NewConnPool("test", 1, func() (*Channel, error) {
		made++
		ch, _ := newTestChannelPair(t)
		return ch, nil
	})
	defer pool.Close()

	c1, err := pool.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	pool.Put(c1)

	c2, err := pool.Get()
	if err != nil {
		t.Fatalf("Get after Put: %v", err)
	}
	if made != 1 {
		t.Fatalf("expect channel to be reused, factory called %d times", made)
	}
	if c2 != c1 {
		t.Fatal("expect the same pooled channel back")
	}
	pool.Put(c2)
}

func TestConnPoolUnusableChannelIsDiscarded(t *testing.T) {
	made := 0
	pool := NewConnPool("test", 1, func() (*Channel, error) {
		made++
		ch, _ := newTestChannelPair(t)
		return ch, nil
	})
	defer pool.Close()

	c1, err := pool.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	c1.unusable = true
	pool.Put(c1)

	c2, err := pool.Get()
	if err != nil {
		t.Fatalf("Get after discarding unusable channel: %v", err)
	}
	if made != 2 {
		t.Fatalf("expect a fresh channel after discard, factory called %d times", made)
	}
	pool.Put(c2)
}
