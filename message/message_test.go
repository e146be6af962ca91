package message

import (
	"testing"

	"github.com/tencent/pebble/buffer"
	"github.com/tencent/pebble/codec"
)

func TestThriftHeadRoundTrip(t *testing.T) {
	buf := buffer.NewOwned(128)
	p := codec.New(codec.FormatBinary, buf)

	want := Head{FunctionName: "Echo:Ping", MsgType: codec.Call, SessionID: 7}
	if err := WriteThriftHead(p, want); err != nil {
		t.Fatalf("WriteThriftHead: %v", err)
	}
	if err := WriteException(p, Exception{Code: 0, Message: ""}); err != nil {
		t.Fatalf("write body placeholder: %v", err)
	}
	if err := p.WriteMessageEnd(); err != nil {
		t.Fatalf("WriteMessageEnd: %v", err)
	}

	got, err := ReadThriftHead(p)
	if err != nil {
		t.Fatalf("ReadThriftHead: %v", err)
	}
	if got.FunctionName != want.FunctionName || got.MsgType != want.MsgType || got.SessionID != want.SessionID {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestPBHeadRoundTrip(t *testing.T) {
	buf := buffer.NewOwned(128)
	want := Head{Version: 1, FunctionName: "Echo:Ping", MsgType: codec.Call, SessionID: 99}
	if err := EncodePBHead(buf, want); err != nil {
		t.Fatalf("EncodePBHead: %v", err)
	}
	got, err := DecodePBHead(buf)
	if err != nil {
		t.Fatalf("DecodePBHead: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestExceptionRoundTrip(t *testing.T) {
	buf := buffer.NewOwned(128)
	p := codec.New(codec.FormatJSON, buf)
	want := Exception{Code: -3, Message: "unknown method"}

	if err := p.WriteMessageBegin("Echo:Ping", codec.Exception, 1); err != nil {
		t.Fatalf("WriteMessageBegin: %v", err)
	}
	if err := WriteException(p, want); err != nil {
		t.Fatalf("WriteException: %v", err)
	}
	if err := p.WriteMessageEnd(); err != nil {
		t.Fatalf("WriteMessageEnd: %v", err)
	}

	if _, _, _, err := p.ReadMessageBegin(); err != nil {
		t.Fatalf("ReadMessageBegin: %v", err)
	}
	got, err := ReadException(p)
	if err != nil {
		t.Fatalf("ReadException: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}
