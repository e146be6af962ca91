package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tencent/pebble/codec"
	"github.com/tencent/pebble/loadbalance"
	"github.com/tencent/pebble/naming"
	"github.com/tencent/pebble/server"
)

type Args struct {
	A, B int
}

type Reply struct {
	Result int
}

type Arith struct{}

func (a *Arith) Add(args *Args, reply *Reply) error {
	reply.Result = args.A + args.B
	return nil
}

// mockRegistry is an in-process naming.Registry that doesn't depend on
// etcd being reachable, for tests that only care about the call path
// above discovery.
type mockRegistry struct {
	mu        sync.Mutex
	instances map[string][]naming.Instance
}

func newMockRegistry() *mockRegistry {
	return &mockRegistry{instances: make(map[string][]naming.Instance)}
}

func (m *mockRegistry) Register(serviceName string, inst naming.Instance, ttlSeconds int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances[serviceName] = append(m.instances[serviceName], inst)
	return nil
}

func (m *mockRegistry) Deregister(serviceName string, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	insts := m.instances[serviceName]
	for i, inst := range insts {
		if inst.Addr == addr {
			m.instances[serviceName] = append(insts[:i], insts[i+1:]...)
			break
		}
	}
	return nil
}

func (m *mockRegistry) Discover(serviceName string) ([]naming.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]naming.Instance, len(m.instances[serviceName]))
	copy(out, m.instances[serviceName])
	return out, nil
}

func (m *mockRegistry) Watch(serviceName string) <-chan []naming.Instance {
	return nil
}

func startTestServer(t *testing.T) string {
	t.Helper()
	svr := server.NewServer(codec.FormatBinary)
	if err := svr.Register(&Arith{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := svr.Listen("tcp", "127.0.0.1:0"); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	addr := svr.Listener().String()
	go svr.Serve(addr, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		svr.Shutdown(ctx)
	})
	return addr
}

func TestClientWithRegistryAndLB(t *testing.T) {
	addr := startTestServer(t)

	reg := newMockRegistry()
	reg.Register("Arith", naming.Instance{Addr: addr, Weight: 1}, 10)

	bal := &loadbalance.RoundRobinBalancer{}
	cli := NewClient(reg, bal, codec.FormatBinary, time.Second)
	defer cli.Close()

	var reply Reply
	if err := cli.Call("Arith.Add", &Args{A: 1, B: 2}, &reply); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if reply.Result != 3 {
		t.Fatalf("reply.Result = %d, want 3", reply.Result)
	}

	var reply2 Reply
	if err := cli.Call("Arith.Add", &Args{A: 10, B: 20}, &reply2); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if reply2.Result != 30 {
		t.Fatalf("reply2.Result = %d, want 30", reply2.Result)
	}
}

func TestClientMultipleInstances(t *testing.T) {
	addr1 := startTestServer(t)
	addr2 := startTestServer(t)

	reg := newMockRegistry()
	reg.Register("Arith", naming.Instance{Addr: addr1, Weight: 1}, 10)
	reg.Register("Arith", naming.Instance{Addr: addr2, Weight: 1}, 10)

	bal := &loadbalance.RoundRobinBalancer{}
	cli := NewClient(reg, bal, codec.FormatBinary, time.Second)
	defer cli.Close()

	for i := 0; i < 10; i++ {
		var reply Reply
		if err := cli.Call("Arith.Add", &Args{A: i, B: i}, &reply); err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		if reply.Result != i*2 {
			t.Fatalf("request %d: want %d, got %d", i, i*2, reply.Result)
		}
	}
}

func TestClientUnknownService(t *testing.T) {
	reg := newMockRegistry()
	bal := &loadbalance.RoundRobinBalancer{}
	cli := NewClient(reg, bal, codec.FormatBinary, time.Second)
	defer cli.Close()

	var reply Reply
	err := cli.Call("Arith.Add", &Args{A: 1, B: 2}, &reply)
	if err == nil {
		t.Fatal("expected error for service with no instances")
	}
}

func TestClientCallWithRetry(t *testing.T) {
	addr := startTestServer(t)

	reg := newMockRegistry()
	reg.Register("Arith", naming.Instance{Addr: addr, Weight: 1}, 10)

	bal := &loadbalance.RoundRobinBalancer{}
	cli := NewClient(reg, bal, codec.FormatBinary, time.Second)
	defer cli.Close()

	var reply Reply
	err := cli.CallWithRetry("Arith.Add", &Args{A: 4, B: 5}, &reply, 3, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("CallWithRetry: %v", err)
	}
	if reply.Result != 9 {
		t.Fatalf("reply.Result = %d, want 9", reply.Result)
	}
}
