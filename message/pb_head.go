package message

import (
	"encoding/binary"

	"github.com/tencent/pebble/buffer"
	"github.com/tencent/pebble/codec"
	"github.com/tencent/pebble/errs"
	"google.golang.org/protobuf/encoding/protowire"
)

// Protobuf-style head field numbers.
const (
	pbFieldVersion      protowire.Number = 1
	pbFieldMsgType      protowire.Number = 2
	pbFieldSessionID    protowire.Number = 3
	pbFieldFunctionName protowire.Number = 4
)

// EncodePBHead writes h as a tag-delimited struct independent of
// whatever codec the body uses. A protowire tag stream has no
// terminator of its own (unlike a Binary-codec struct's zero type
// byte), so the head is wrapped in its own 4-byte big-endian length
// prefix; the body that follows starts at a position the reader can
// compute without parsing it.
func EncodePBHead(t buffer.Transport, h Head) error {
	var b []byte
	if h.Version != 0 {
		b = protowire.AppendTag(b, pbFieldVersion, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(uint32(h.Version)))
	}
	b = protowire.AppendTag(b, pbFieldMsgType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(h.MsgType))
	b = protowire.AppendTag(b, pbFieldSessionID, protowire.VarintType)
	b = protowire.AppendVarint(b, h.SessionID)
	b = protowire.AppendTag(b, pbFieldFunctionName, protowire.BytesType)
	b = protowire.AppendString(b, h.FunctionName)

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	if _, err := t.Write(lenBuf[:]); err != nil {
		return errs.Wrap(errs.EncodeHeadFailed, err)
	}
	if _, err := t.Write(b); err != nil {
		return errs.Wrap(errs.EncodeHeadFailed, err)
	}
	return nil
}

// DecodePBHead reads back a head written by EncodePBHead. Unknown
// field numbers are skipped, not rejected, the usual protobuf
// forward-compatibility rule.
func DecodePBHead(t buffer.Transport) (Head, error) {
	var lenBuf [4]byte
	if err := t.ReadAll(lenBuf[:]); err != nil {
		return Head{}, errs.Wrap(errs.DecodeHeadFailed, err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	raw, err := t.Borrow(int(n))
	if err != nil {
		return Head{}, errs.Wrap(errs.DecodeHeadFailed, err)
	}
	if err := t.Consume(int(n)); err != nil {
		return Head{}, errs.Wrap(errs.DecodeHeadFailed, err)
	}

	var h Head
	b := raw
	for len(b) > 0 {
		num, typ, tagLen := protowire.ConsumeTag(b)
		if tagLen < 0 {
			return Head{}, errs.Newf(errs.DecodeHeadFailed, "pb head: bad tag: %v", protowire.ParseError(tagLen))
		}
		b = b[tagLen:]

		switch num {
		case pbFieldVersion:
			v, vl := protowire.ConsumeVarint(b)
			if vl < 0 {
				return Head{}, errs.New(errs.DecodeHeadFailed)
			}
			h.Version = int32(v)
			b = b[vl:]
		case pbFieldMsgType:
			v, vl := protowire.ConsumeVarint(b)
			if vl < 0 {
				return Head{}, errs.New(errs.DecodeHeadFailed)
			}
			h.MsgType = codec.MessageType(v)
			b = b[vl:]
		case pbFieldSessionID:
			v, vl := protowire.ConsumeVarint(b)
			if vl < 0 {
				return Head{}, errs.New(errs.DecodeHeadFailed)
			}
			h.SessionID = v
			b = b[vl:]
		case pbFieldFunctionName:
			s, sl := protowire.ConsumeString(b)
			if sl < 0 {
				return Head{}, errs.New(errs.DecodeHeadFailed)
			}
			h.FunctionName = s
			b = b[sl:]
		default:
			skip := protowire.ConsumeFieldValue(num, typ, b)
			if skip < 0 {
				return Head{}, errs.New(errs.DecodeHeadFailed)
			}
			b = b[skip:]
		}
	}
	if !h.MsgType.Valid() {
		return Head{}, errs.New(errs.MessageTypeError)
	}
	return h, nil
}
