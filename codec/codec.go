// Package codec implements Pebble's pluggable wire formats.
//
// Three formats share one Protocol contract behind a single
// Strategy-pattern seam: Protocol is a Thrift-shaped contract of
// message/struct/field/map/list/set begin/end plus typed scalar
// readers and writers, all operating against a buffer.Transport. A
// Protocol is a stateless wrapper over a Transport; the pair has no
// thread-safety guarantees and must not be shared across concurrent
// encoders/decoders.
package codec

import "github.com/tencent/pebble/buffer"

// FormatType identifies which wire format a Protocol implements. It is
// not carried on the wire: frames hold only a length prefix (see the
// protocol package), and the format is fixed per connection when the
// handle is attached to an rpc.Instance.
type FormatType byte

const (
	FormatBinary FormatType = iota
	FormatJSON
	FormatBSON
)

func (f FormatType) String() string {
	switch f {
	case FormatBinary:
		return "binary"
	case FormatJSON:
		return "json"
	case FormatBSON:
		return "bson"
	default:
		return "unknown"
	}
}

// MessageType is the RpcHead envelope's message_type field.
type MessageType byte

const (
	Call      MessageType = 1
	Reply     MessageType = 2
	Exception MessageType = 3
	Oneway    MessageType = 4
)

func (m MessageType) Valid() bool {
	return m == Call || m == Reply || m == Exception || m == Oneway
}

// FieldType tags every value on the wire, Thrift-style.
type FieldType byte

const (
	TypeStop   FieldType = 0
	TypeBool   FieldType = 1
	TypeByte   FieldType = 2
	TypeI16    FieldType = 3
	TypeI32    FieldType = 4
	TypeI64    FieldType = 5
	TypeDouble FieldType = 6
	TypeString FieldType = 7
	TypeBinary FieldType = 8
	TypeStruct FieldType = 9
	TypeMap    FieldType = 10
	TypeSet    FieldType = 11
	TypeList   FieldType = 12
)

// Hard ceilings enforced by every Protocol implementation.
const (
	MaxStringLen   = 8 * 1024 * 1024 // 8 MiB
	MaxContainerSz = 8 * 1024 * 1024 // 8 Mi elements
)

// Protocol is the Thrift-shaped read/write contract every wire format
// implements. Implementations: BinaryProtocol, JSONProtocol,
// BSONProtocol.
type Protocol interface {
	Format() FormatType
	Transport() buffer.Transport

	WriteMessageBegin(name string, msgType MessageType, sessionID uint64) error
	WriteMessageEnd() error
	WriteStructBegin(name string) error
	WriteStructEnd() error
	WriteFieldBegin(name string, typeID FieldType, id int16) error
	WriteFieldEnd() error
	WriteFieldStop() error
	WriteMapBegin(keyType, valType FieldType, size int) error
	WriteMapEnd() error
	WriteListBegin(elemType FieldType, size int) error
	WriteListEnd() error
	WriteSetBegin(elemType FieldType, size int) error
	WriteSetEnd() error
	WriteBool(v bool) error
	WriteByte(v int8) error
	WriteI16(v int16) error
	WriteI32(v int32) error
	WriteI64(v int64) error
	WriteDouble(v float64) error
	WriteString(v string) error
	WriteBinary(v []byte) error

	ReadMessageBegin() (name string, msgType MessageType, sessionID uint64, err error)
	ReadMessageEnd() error
	ReadStructBegin() (name string, err error)
	ReadStructEnd() error
	ReadFieldBegin() (name string, typeID FieldType, id int16, err error)
	ReadFieldEnd() error
	ReadMapBegin() (keyType, valType FieldType, size int, err error)
	ReadMapEnd() error
	ReadListBegin() (elemType FieldType, size int, err error)
	ReadListEnd() error
	ReadSetBegin() (elemType FieldType, size int, err error)
	ReadSetEnd() error
	ReadBool() (bool, error)
	ReadByte() (int8, error)
	ReadI16() (int16, error)
	ReadI32() (int32, error)
	ReadI64() (int64, error)
	ReadDouble() (float64, error)
	ReadString() (string, error)
	ReadBinary() ([]byte, error)
}

// New builds a fresh Protocol of the given format over t. Mixing
// formats within one message is forbidden by construction: every
// connection commits to one FormatType at Attach time (see the rpc
// package).
func New(format FormatType, t buffer.Transport) Protocol {
	switch format {
	case FormatJSON:
		return newJSONProtocol(t)
	case FormatBSON:
		return newBSONProtocol(t)
	default:
		return newBinaryProtocol(t)
	}
}
