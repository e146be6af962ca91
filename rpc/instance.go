// Package rpc is the RPC core: it owns one Session Table and one
// Scheduler per instance, turns encode/decode closures plus a
// function name into framed wire messages, and routes inbound frames
// back to whichever session or service handler they belong to.
package rpc

import (
	"encoding/binary"
	"io"
	"sync"
	"time"

	"github.com/tencent/pebble/buffer"
	"github.com/tencent/pebble/codec"
	"github.com/tencent/pebble/coroutine"
	"github.com/tencent/pebble/errs"
	"github.com/tencent/pebble/message"
	"github.com/tencent/pebble/session"
)

// channelInfo is what Instance remembers about an attached transport:
// the codec format negotiated for it (fixed for the channel's
// lifetime, mixing formats on one connection is forbidden) and the
// sink its outgoing frames are written to.
type channelInfo struct {
	format codec.FormatType
	out    io.Writer
}

// Instance is one RPC core: a Session Table, a Scheduler, and a
// Service Registry, plus the bookkeeping needed to frame and address
// messages across attached channels.
type Instance struct {
	Sessions *session.Table
	Sched    *coroutine.Scheduler
	Registry *Registry

	mu       sync.Mutex
	channels map[session.Handle]*channelInfo
	decoders map[uint64]func(p codec.Protocol) error
}

// NewInstance returns an empty RPC core.
func NewInstance() *Instance {
	return &Instance{
		Sessions: session.New(),
		Sched:    coroutine.New(),
		Registry: NewRegistry(),
		channels: make(map[session.Handle]*channelInfo),
		decoders: make(map[uint64]func(p codec.Protocol) error),
	}
}

// Attach binds handle to a wire format and an outbound sink. Codec
// selection happens once, here; nothing in this package lets a
// connection switch formats mid-life.
func (r *Instance) Attach(handle session.Handle, format codec.FormatType, out io.Writer) {
	r.mu.Lock()
	r.channels[handle] = &channelInfo{format: format, out: out}
	r.mu.Unlock()
}

// Detach drops handle and completes every session still waiting on it
// with ChannelClosed, the same thing a dropped connection does.
func (r *Instance) Detach(handle session.Handle) {
	r.mu.Lock()
	delete(r.channels, handle)
	r.mu.Unlock()
	r.Sessions.CancelAll(handle, int32(errs.ChannelClosed))
}

func (r *Instance) channelFormat(handle session.Handle) (codec.FormatType, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[handle]
	if !ok {
		return 0, false
	}
	return ch.format, true
}

// encodeFrame writes head then, if encodeBody is non-nil, the body,
// through a fresh Protocol over format, and wraps the result in the
// 4-byte big-endian length prefix every stream transport needs since
// the RPC core itself doesn't prescribe framing.
func (r *Instance) encodeFrame(format codec.FormatType, head message.Head, encodeBody func(p codec.Protocol) error) ([]byte, error) {
	buf := buffer.NewOwned(256)
	p := codec.New(format, buf)
	if err := message.WriteThriftHead(p, head); err != nil {
		return nil, err
	}
	if encodeBody != nil {
		if err := encodeBody(p); err != nil {
			return nil, err
		}
	}
	if err := p.WriteMessageEnd(); err != nil {
		return nil, err
	}
	raw := buf.Bytes()
	framed := make([]byte, 4+len(raw))
	binary.BigEndian.PutUint32(framed, uint32(len(raw)))
	copy(framed[4:], raw)
	return framed, nil
}

func (r *Instance) writeFrame(handle session.Handle, framed []byte) error {
	r.mu.Lock()
	ch, ok := r.channels[handle]
	r.mu.Unlock()
	if !ok {
		return errs.New(errs.SendFailed)
	}
	if _, err := ch.out.Write(framed); err != nil {
		return errs.Wrap(errs.SendFailed, err)
	}
	return nil
}

func nowMs() int64 { return time.Now().UnixMilli() }

// SendOneway encodes and writes a CALL message declared ONEWAY: no
// session is registered and the call returns as soon as the bytes are
// on the wire (or a framework error code if that fails).
func (r *Instance) SendOneway(handle session.Handle, functionName string, encodeBody func(p codec.Protocol) error) int32 {
	format, ok := r.channelFormat(handle)
	if !ok {
		return int32(errs.SendFailed)
	}
	head := message.Head{FunctionName: functionName, MsgType: codec.Oneway}
	framed, err := r.encodeFrame(format, head, encodeBody)
	if err != nil {
		return int32(errs.EncodeBodyFailed)
	}
	if err := r.writeFrame(handle, framed); err != nil {
		return int32(errs.SendFailed)
	}
	return 0
}

// SendSync sends a CALL and parks the calling coroutine until the
// reply, an exception, or a timeout completes its session. y must be
// the Yielder for the coroutine currently executing; SendSync is not
// meant to be called from the main coroutine (there being nothing to
// yield).
func (r *Instance) SendSync(y *coroutine.Yielder, handle session.Handle, functionName string, encodeBody, decodeBody func(p codec.Protocol) error, timeoutMs int64) int32 {
	format, ok := r.channelFormat(handle)
	if !ok {
		return int32(errs.SendFailed)
	}

	sessID := r.Sessions.NextSessionID()
	coroID := r.Sched.Current()
	var resultCode int32

	regErr := r.Sessions.Register(&session.PendingSession{
		SessionID:  sessID,
		Handle:     handle,
		CoroutineID: uint64(coroID),
		DeadlineMs: nowMs() + timeoutMs,
		OnResponse: func(code int32, _ []byte) {
			resultCode = code
			r.Sched.Resume(coroID, nil)
		},
	})
	if regErr != nil {
		return int32(errs.SendFailed)
	}

	r.mu.Lock()
	r.decoders[sessID] = decodeBody
	r.mu.Unlock()

	head := message.Head{FunctionName: functionName, MsgType: codec.Call, SessionID: sessID}
	framed, encErr := r.encodeFrame(format, head, encodeBody)
	if encErr != nil {
		r.dropDecoder(sessID)
		r.Sessions.Complete(sessID, int32(errs.EncodeBodyFailed), nil)
		return int32(errs.EncodeBodyFailed)
	}
	if werr := r.writeFrame(handle, framed); werr != nil {
		r.dropDecoder(sessID)
		r.Sessions.Complete(sessID, int32(errs.SendFailed), nil)
		return int32(errs.SendFailed)
	}

	y.Yield(0) // resumed only by OnResponse, above; no scheduler-level timeout
	return resultCode
}

func (r *Instance) dropDecoder(sessID uint64) {
	r.mu.Lock()
	delete(r.decoders, sessID)
	r.mu.Unlock()
}

// ParallelCall describes one leg of a SendParallel batch.
type ParallelCall struct {
	Handle       session.Handle
	FunctionName string
	EncodeBody   func(p codec.Protocol) error
	DecodeBody   func(p codec.Protocol) error
}

// SendParallel fires every call in calls without waiting for each in
// turn, then parks the coroutine once until all of them complete (or
// timeoutMs elapses for whichever haven't). It returns each call's own
// error code alongside the aggregate: the first non-zero code seen in
// completion order, or 0 if every call succeeded.
func (r *Instance) SendParallel(y *coroutine.Yielder, calls []ParallelCall, timeoutMs int64) (codes []int32, aggregate int32) {
	n := len(calls)
	codes = make([]int32, n)
	if n == 0 {
		return codes, 0
	}

	coroID := r.Sched.Current()
	var aggCode int32
	ctx := NewParallelCtx(n, func(code int32) {
		aggCode = code
		r.Sched.Resume(coroID, nil)
	})

	for i, call := range calls {
		i := i
		format, ok := r.channelFormat(call.Handle)
		if !ok {
			codes[i] = int32(errs.SendFailed)
			ctx.CallDone(codes[i])
			continue
		}

		sessID := r.Sessions.NextSessionID()
		regErr := r.Sessions.Register(&session.PendingSession{
			SessionID:   sessID,
			Handle:      call.Handle,
			CoroutineID: uint64(coroID),
			DeadlineMs:  nowMs() + timeoutMs,
			OnResponse: func(code int32, _ []byte) {
				codes[i] = code
				ctx.CallDone(code)
			},
		})
		if regErr != nil {
			codes[i] = int32(errs.SendFailed)
			ctx.CallDone(codes[i])
			continue
		}

		r.mu.Lock()
		r.decoders[sessID] = call.DecodeBody
		r.mu.Unlock()

		head := message.Head{FunctionName: call.FunctionName, MsgType: codec.Call, SessionID: sessID}
		framed, encErr := r.encodeFrame(format, head, call.EncodeBody)
		if encErr != nil {
			r.dropDecoder(sessID)
			r.Sessions.Complete(sessID, int32(errs.EncodeBodyFailed), nil)
			continue
		}
		if werr := r.writeFrame(call.Handle, framed); werr != nil {
			r.dropDecoder(sessID)
			r.Sessions.Complete(sessID, int32(errs.SendFailed), nil)
			continue
		}
	}

	y.Yield(0)
	return codes, aggCode
}

// Dispatch handles one complete, length-prefix-stripped frame
// received on handle: replies and exceptions complete the matching
// session, calls and oneways are routed through the Registry.
func (r *Instance) Dispatch(handle session.Handle, frame []byte) error {
	format, ok := r.channelFormat(handle)
	if !ok {
		return errs.New(errs.UnknownCodec)
	}

	buf := buffer.NewObserver(frame)
	p := codec.New(format, buf)
	head, err := message.ReadThriftHead(p)
	if err != nil {
		return errs.Wrap(errs.DecodeHeadFailed, err)
	}

	switch head.MsgType {
	case codec.Reply, codec.Exception:
		r.mu.Lock()
		decoder := r.decoders[head.SessionID]
		delete(r.decoders, head.SessionID)
		r.mu.Unlock()

		var code int32
		switch {
		case head.MsgType == codec.Exception:
			exc, eerr := message.ReadException(p)
			switch {
			case eerr != nil:
				code = int32(errs.DecodeBodyFailed)
			case exc.Code == 0:
				code = int32(errs.OtherException)
			default:
				code = exc.Code
			}
		case decoder != nil:
			if derr := decoder(p); derr != nil {
				code = int32(errs.DecodeBodyFailed)
			}
		}
		r.Sessions.Complete(head.SessionID, code, nil)
		return nil

	case codec.Call, codec.Oneway:
		// The handler runs on a later scheduler pass, by which point
		// the caller's receive buffer may have been reused, so the
		// frame is copied out before scheduling.
		owned := append([]byte(nil), frame...)
		r.dispatchCall(handle, format, head, owned)
		return nil
	}
	return errs.New(errs.MessageTypeError)
}

func (r *Instance) dispatchCall(handle session.Handle, format codec.FormatType, head message.Head, frameCopy []byte) {
	r.Sched.Start(func(y *coroutine.Yielder) {
		buf := buffer.NewObserver(frameCopy)
		p := codec.New(format, buf)
		if _, _, _, err := p.ReadMessageBegin(); err != nil {
			return
		}

		handler, ok := r.Registry.Lookup(head.FunctionName)
		if !ok {
			if head.MsgType != codec.Oneway {
				r.replyException(handle, format, head.SessionID, errs.UnknownMethod, "unknown method: "+head.FunctionName)
			}
			return
		}

		respond, herr := handler(p)
		if head.MsgType == codec.Oneway {
			return
		}
		if herr != nil {
			r.replyException(handle, format, head.SessionID, errs.CodeOf(herr), herr.Error())
			return
		}
		if respond == nil {
			return
		}

		replyHead := message.Head{FunctionName: head.FunctionName, MsgType: codec.Reply, SessionID: head.SessionID}
		framed, eerr := r.encodeFrame(format, replyHead, respond)
		if eerr != nil {
			return
		}
		r.writeFrame(handle, framed)
	})
}

func (r *Instance) replyException(handle session.Handle, format codec.FormatType, sessionID uint64, code errs.Code, msg string) {
	head := message.Head{MsgType: codec.Exception, SessionID: sessionID}
	framed, err := r.encodeFrame(format, head, func(p codec.Protocol) error {
		return message.WriteException(p, message.Exception{Code: int32(code), Message: msg})
	})
	if err != nil {
		return
	}
	r.writeFrame(handle, framed)
}
