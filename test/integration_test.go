// Package test runs end-to-end scenarios against a live etcd, the
// full path a real deployment takes: Client → naming.Registry(etcd) →
// loadbalance.Balancer → transport.Channel → codec → middleware →
// server → reflection-based dispatch.
//
// These tests require an etcd reachable at 127.0.0.1:2379 and are
// skipped otherwise.
package test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/tencent/pebble/client"
	"github.com/tencent/pebble/codec"
	"github.com/tencent/pebble/loadbalance"
	"github.com/tencent/pebble/middleware"
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

func (a *Arith) Multiply(args *Args, reply *Reply) error {
	reply.Result = args.A * args.B
	return nil
}

func dialEtcd(t *testing.T) *naming.EtcdRegistry {
	t.Helper()
	// clientv3.New does not contact etcd, so probe the port first.
	var reg *naming.EtcdRegistry
	conn, err := net.DialTimeout("tcp", "127.0.0.1:2379", time.Second)
	if err == nil {
		conn.Close()
		reg, err = naming.NewEtcdRegistry([]string{"127.0.0.1:2379"})
	}
	if err != nil {
		t.Skipf("etcd not reachable: %v", err)
	}
	return reg
}

// TestFullIntegrationWithEtcd exercises the complete call path:
// Client → naming(etcd) → loadbalance → transport.Channel →
// codec → middleware → server → reflection dispatch.
func TestFullIntegrationWithEtcd(t *testing.T) {
	reg := dialEtcd(t)
	defer reg.Close()

	svr := server.NewServer(codec.FormatBinary)
	svr.Use(middleware.LoggingMiddleware())
	if err := svr.Register(&Arith{}); err != nil {
		t.Fatal(err)
	}
	if err := svr.Listen("tcp", "127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}
	addr := svr.Listener().String()
	go svr.Serve(addr, reg)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		svr.Shutdown(ctx)
	}()
	time.Sleep(100 * time.Millisecond)

	bal := &loadbalance.RoundRobinBalancer{}
	cli := client.NewClient(reg, bal, codec.FormatBinary, 2*time.Second)
	defer cli.Close()

	reply := &Reply{}
	if err := cli.Call("Arith.Add", &Args{A: 3, B: 5}, reply); err != nil {
		t.Fatalf("Call Add failed: %v", err)
	}
	if reply.Result != 8 {
		t.Fatalf("Add: expect 8, got %d", reply.Result)
	}

	reply2 := &Reply{}
	if err := cli.Call("Arith.Multiply", &Args{A: 4, B: 6}, reply2); err != nil {
		t.Fatalf("Call Multiply failed: %v", err)
	}
	if reply2.Result != 24 {
		t.Fatalf("Multiply: expect 24, got %d", reply2.Result)
	}
}

// TestMultiServerWithEtcd exercises load balancing across two
// independently registered server instances.
func TestMultiServerWithEtcd(t *testing.T) {
	reg := dialEtcd(t)
	defer reg.Close()

	svr1 := server.NewServer(codec.FormatBinary)
	svr1.Register(&Arith{})
	if err := svr1.Listen("tcp", "127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}
	addr1 := svr1.Listener().String()
	go svr1.Serve(addr1, reg)

	svr2 := server.NewServer(codec.FormatBinary)
	svr2.Register(&Arith{})
	if err := svr2.Listen("tcp", "127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}
	addr2 := svr2.Listener().String()
	go svr2.Serve(addr2, reg)

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		svr1.Shutdown(ctx)
		svr2.Shutdown(ctx)
	}()
	time.Sleep(100 * time.Millisecond)

	bal := &loadbalance.RoundRobinBalancer{}
	cli := client.NewClient(reg, bal, codec.FormatBinary, 2*time.Second)
	defer cli.Close()

	for i := 1; i <= 10; i++ {
		reply := &Reply{}
		if err := cli.Call("Arith.Add", &Args{A: i, B: i * 10}, reply); err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		expected := i + i*10
		if reply.Result != expected {
			t.Fatalf("request %d: expect %d, got %d", i, expected, reply.Result)
		}
	}
}
