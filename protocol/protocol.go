// Package protocol implements Pebble's stream framing: the 4-byte
// big-endian length prefix every stream transport needs in front of
// whatever bytes a codec.Protocol produced, since the RPC core itself
// doesn't prescribe a framing layer beyond that. Codec format is
// pinned once per connection at Attach time rather than carried on
// every frame, so the frame on the wire is just length-prefixed
// opaque bytes and this package shrinks to the length prefix alone.
package protocol

import (
	"encoding/binary"
	"io"

	"github.com/tencent/pebble/errs"
)

// HeaderSize is the fixed length-prefix size in bytes.
const HeaderSize = 4

// MaxFrameSize rejects an absurd length prefix (corrupt stream, wrong
// protocol talking to this port) before allocating a receive buffer
// for it.
const MaxFrameSize = 64 * 1024 * 1024

// WriteFrame writes body prefixed with its 4-byte big-endian length.
// Most callers never need this directly: rpc.Instance.encodeFrame
// already returns a fully-framed buffer ready for a single Write.
// WriteFrame exists for callers framing bytes that didn't come from
// the rpc package.
func WriteFrame(w io.Writer, body []byte) error {
	var lenBuf [HeaderSize]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return errs.Wrap(errs.SendFailed, err)
	}
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return errs.Wrap(errs.SendFailed, err)
		}
	}
	return nil
}

// ReadFrame blocks until one complete length-prefixed frame has been
// read from r, returning its body with the prefix stripped off. This
// is the read-side counterpart every Channel's receive loop drives in
// a tight loop, handing each returned frame to rpc.Instance.Dispatch.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [HeaderSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return nil, errs.Newf(errs.DecodeHeadFailed, "protocol: frame length %d exceeds %d", n, MaxFrameSize)
	}
	body := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, err
		}
	}
	return body, nil
}
