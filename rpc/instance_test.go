package rpc

import (
	"encoding/binary"
	"testing"

	"github.com/tencent/pebble/codec"
	"github.com/tencent/pebble/coroutine"
	"github.com/tencent/pebble/session"
)

// pipe wires one Instance's outbound frames straight into another
// Instance's Dispatch, as if they were the two ends of one connection.
type pipe struct {
	peer   *Instance
	handle session.Handle
}

func (w *pipe) Write(p []byte) (int, error) {
	n := binary.BigEndian.Uint32(p[:4])
	body := append([]byte(nil), p[4:4+n]...)
	if err := w.peer.Dispatch(w.handle, body); err != nil {
		return 0, err
	}
	return len(p), nil
}

func link(a, b *Instance, handle session.Handle, format codec.FormatType) {
	a.Attach(handle, format, &pipe{peer: b, handle: handle})
	b.Attach(handle, format, &pipe{peer: a, handle: handle})
}

func encodeAddArgs(a, b int32) func(p codec.Protocol) error {
	return func(p codec.Protocol) error {
		if err := p.WriteStructBegin("AddArgs"); err != nil {
			return err
		}
		if err := p.WriteFieldBegin("a", codec.TypeI32, 1); err != nil {
			return err
		}
		if err := p.WriteI32(a); err != nil {
			return err
		}
		if err := p.WriteFieldEnd(); err != nil {
			return err
		}
		if err := p.WriteFieldBegin("b", codec.TypeI32, 2); err != nil {
			return err
		}
		if err := p.WriteI32(b); err != nil {
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

func decodeAddResult(out *int32) func(p codec.Protocol) error {
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

func addHandler(p codec.Protocol) (func(p codec.Protocol) error, error) {
	if _, err := p.ReadStructBegin(); err != nil {
		return nil, err
	}
	var a, b int32
	for {
		_, typeID, id, err := p.ReadFieldBegin()
		if err != nil {
			return nil, err
		}
		if typeID == codec.TypeStop {
			break
		}
		v, err := p.ReadI32()
		if err != nil {
			return nil, err
		}
		switch id {
		case 1:
			a = v
		case 2:
			b = v
		}
		if err := p.ReadFieldEnd(); err != nil {
			return nil, err
		}
	}
	if err := p.ReadStructEnd(); err != nil {
		return nil, err
	}
	sum := a + b
	return func(p codec.Protocol) error {
		if err := p.WriteStructBegin("AddResult"); err != nil {
			return err
		}
		if err := p.WriteFieldBegin("result", codec.TypeI32, 1); err != nil {
			return err
		}
		if err := p.WriteI32(sum); err != nil {
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

func TestSendSyncRoundTrip(t *testing.T) {
	client := NewInstance()
	server := NewInstance()
	link(client, server, 1, codec.FormatBinary)

	if err := server.Registry.AddService(map[string]Handler{"Echo.Add": addHandler}); err != nil {
		t.Fatalf("AddService: %v", err)
	}

	var code int32
	var result int32
	client.Sched.Start(func(y *coroutine.Yielder) {
		code = client.SendSync(y, 1, "Echo.Add", encodeAddArgs(3, 4), decodeAddResult(&result), 1000)
	})

	client.Sched.Update() // client sends, parks on reply
	server.Sched.Update() // server's handler coroutine runs, replies
	client.Sched.Update() // client resumes past the yield

	if code != 0 {
		t.Fatalf("code = %d, want 0", code)
	}
	if result != 7 {
		t.Errorf("result = %d, want 7", result)
	}
}

func TestSendSyncUnknownMethod(t *testing.T) {
	client := NewInstance()
	server := NewInstance()
	link(client, server, 1, codec.FormatJSON)

	var code int32
	client.Sched.Start(func(y *coroutine.Yielder) {
		code = client.SendSync(y, 1, "Echo.Nope", encodeAddArgs(1, 2), nil, 1000)
	})
	client.Sched.Update()
	server.Sched.Update()
	client.Sched.Update()

	if code != int32(-3) { // errs.UnknownMethod
		t.Errorf("code = %d, want -3 (UnknownMethod)", code)
	}
}

func TestSendOnewaySkipsSession(t *testing.T) {
	client := NewInstance()
	server := NewInstance()
	link(client, server, 1, codec.FormatBSON)

	invoked := make(chan struct{}, 1)
	server.Registry.AddService(map[string]Handler{
		"Echo.Notify": func(p codec.Protocol) (func(codec.Protocol) error, error) {
			p.ReadStructBegin()
			for {
				_, typeID, _, _ := p.ReadFieldBegin()
				if typeID == codec.TypeStop {
					break
				}
			}
			p.ReadStructEnd()
			invoked <- struct{}{}
			return nil, nil
		},
	})

	code := client.SendOneway(1, "Echo.Notify", func(p codec.Protocol) error {
		if err := p.WriteStructBegin("Empty"); err != nil {
			return err
		}
		if err := p.WriteFieldStop(); err != nil {
			return err
		}
		return p.WriteStructEnd()
	})
	if code != 0 {
		t.Fatalf("SendOneway code = %d, want 0", code)
	}
	if client.Sessions.Len() != 0 {
		t.Errorf("oneway registered a session, should not have")
	}

	server.Sched.Update()
	select {
	case <-invoked:
	default:
		t.Error("handler did not run")
	}
}

func TestSendParallelAggregatesFirstNonZero(t *testing.T) {
	client := NewInstance()
	server := NewInstance()
	link(client, server, 1, codec.FormatBinary)

	server.Registry.AddService(map[string]Handler{"Echo.Add": addHandler})

	var codes []int32
	var agg int32
	client.Sched.Start(func(y *coroutine.Yielder) {
		calls := []ParallelCall{
			{Handle: 1, FunctionName: "Echo.Add", EncodeBody: encodeAddArgs(1, 1)},
			{Handle: 1, FunctionName: "Echo.Missing", EncodeBody: encodeAddArgs(2, 2)},
		}
		codes, agg = client.SendParallel(y, calls, 1000)
	})

	client.Sched.Update()
	server.Sched.Update() // runs both handler coroutines queued by Dispatch; each replies
	server.Sched.Update() // nothing left to run
	client.Sched.Update() // resume once both complete

	if len(codes) != 2 {
		t.Fatalf("codes = %v, want length 2", codes)
	}
	if agg != int32(-3) {
		t.Errorf("aggregate = %d, want -3 (UnknownMethod from the missing call)", agg)
	}
}
