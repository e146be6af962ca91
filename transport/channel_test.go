package transport

import (
	"net"
	"testing"

	"github.com/tencent/pebble/codec"
	"github.com/tencent/pebble/coroutine"
	"github.com/tencent/pebble/rpc"
)

func echoArgsHandler(p codec.Protocol) (func(p codec.Protocol) error, error) {
	if _, err := p.ReadStructBegin(); err != nil {
		return nil, err
	}
	var v int32
	for {
		_, typeID, id, err := p.ReadFieldBegin()
		if err != nil {
			return nil, err
		}
		if typeID == codec.TypeStop {
			break
		}
		if id == 1 {
			v, _ = p.ReadI32()
		}
		if err := p.ReadFieldEnd(); err != nil {
			return nil, err
		}
	}
	if err := p.ReadStructEnd(); err != nil {
		return nil, err
	}
	return func(p codec.Protocol) error {
		if err := p.WriteStructBegin("Echo"); err != nil {
			return err
		}
		if err := p.WriteFieldBegin("v", codec.TypeI32, 1); err != nil {
			return err
		}
		if err := p.WriteI32(v); err != nil {
			return err
		}
		if err := p.WriteFieldEnd(); err != nil {
			return err
		}
		if err := p.WriteFieldStop(); err != nil {
			return err
		}
		return p.WriteStructEnd()
	}, nil
}

func encodeEchoArgs(v int32) func(p codec.Protocol) error {
	return func(p codec.Protocol) error {
		if err := p.WriteStructBegin("Echo"); err != nil {
			return err
		}
		if err := p.WriteFieldBegin("v", codec.TypeI32, 1); err != nil {
			return err
		}
		if err := p.WriteI32(v); err != nil {
			return err
		}
		if err := p.WriteFieldEnd(); err != nil {
			return err
		}
		if err := p.WriteFieldStop(); err != nil {
			return err
		}
		return p.WriteStructEnd()
	}
}

func decodeEchoResult(out *int32) func(p codec.Protocol) error {
	return func(p codec.Protocol) error {
		if _, err := p.ReadStructBegin(); err != nil {
			return err
		}
		for {
			_, typeID, id, err := p.ReadFieldBegin()
			if err != nil {
				return err
			}
			if typeID == codec.TypeStop {
				break
			}
			if id == 1 {
				v, err := p.ReadI32()
				if err != nil {
					return err
				}
				*out = v
			}
			if err := p.ReadFieldEnd(); err != nil {
				return err
			}
		}
		return p.ReadStructEnd()
	}
}

func TestChannelRoundTrip(t *testing.T) {
	clientConn, serverConn := net.Pipe()

	clientInst := rpc.NewInstance()
	serverInst := rpc.NewInstance()
	if err := serverInst.Registry.AddService(map[string]rpc.Handler{"Echo:Call": echoArgsHandler}); err != nil {
		t.Fatalf("AddService: %v", err)
	}

	clientCh := Open(clientConn, clientInst, 1, codec.FormatBinary)
	serverCh := Open(serverConn, serverInst, 1, codec.FormatBinary)
	defer clientCh.Close()
	defer serverCh.Close()

	done := make(chan int32, 1)
	var result int32
	clientInst.Sched.Start(func(y *coroutine.Yielder) {
		code := clientInst.SendSync(y, 1, "Echo:Call", encodeEchoArgs(42), decodeEchoResult(&result), 2000)
		done <- code
	})

	deadline := 0
	for {
		clientInst.Sched.Update()
		serverInst.Sched.Update()
		select {
		case code := <-done:
			if code != 0 {
				t.Fatalf("SendSync code = %d, want 0", code)
			}
			if result != 42 {
				t.Fatalf("result = %d, want 42", result)
			}
			return
		default:
		}
		deadline++
		if deadline > 10000 {
			t.Fatal("timed out waiting for round trip over net.Pipe channels")
		}
	}
}
