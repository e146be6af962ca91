// Package message defines the two ways an RPC envelope can be framed
// on the wire: the Thrift-style head, which is just the chosen body
// codec's messageBegin/messageEnd, and the Protobuf-style head, a
// small tag-delimited struct encoded independently of whatever codec
// the body uses. Both carry the same four logical fields: an optional
// version, the message type, a session id, and a "Service:Method"
// function name.
package message

import (
	"github.com/tencent/pebble/codec"
)

// Head is the logical content of an RPC envelope, regardless of which
// wire dialect carried it.
type Head struct {
	Version      int32
	FunctionName string
	MsgType      codec.MessageType
	SessionID    uint64
}

// WriteThriftHead writes h as the chosen codec's own messageBegin.
// The caller still owns messageEnd: it's emitted once the body has
// been written, the same way the body codec owns the rest of the
// framing.
func WriteThriftHead(p codec.Protocol, h Head) error {
	return p.WriteMessageBegin(h.FunctionName, h.MsgType, h.SessionID)
}

// ReadThriftHead reads a messageBegin back into a Head. Version isn't
// carried by messageBegin itself (the Binary/BSON dialects fold it
// into the magic/format marker, JSON carries it as the array's first
// element but the codec layer doesn't surface it), so the returned
// Head's Version is always 0; no API exposes the parsed wire value.
func ReadThriftHead(p codec.Protocol) (Head, error) {
	name, msgType, sessionID, err := p.ReadMessageBegin()
	if err != nil {
		return Head{}, err
	}
	return Head{FunctionName: name, MsgType: msgType, SessionID: sessionID}, nil
}
