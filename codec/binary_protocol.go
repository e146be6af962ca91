package codec

import (
	"encoding/binary"
	"math"

	"github.com/tencent/pebble/buffer"
	"github.com/tencent/pebble/errs"
)

// binaryMagic is Thrift's VERSION_1 marker packed into the high 16
// bits of messageBegin's 32-bit header; the low 16 bits carry the
// message type.
const binaryMagic = 0x8001

// BinaryProtocol is the default wire format: big-endian fixed-width
// scalars, struct bodies as (type_byte, field_id_i16, value) tuples
// terminated by a zero type byte, and (length_i32, bytes) strings and
// binaries.
type BinaryProtocol struct {
	t buffer.Transport
}

func newBinaryProtocol(t buffer.Transport) *BinaryProtocol {
	return &BinaryProtocol{t: t}
}

func (p *BinaryProtocol) Format() FormatType        { return FormatBinary }
func (p *BinaryProtocol) Transport() buffer.Transport { return p.t }

func (p *BinaryProtocol) writeU32(v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	_, err := p.t.Write(buf[:])
	return err
}

func (p *BinaryProtocol) readU32() (uint32, error) {
	var buf [4]byte
	if err := p.t.ReadAll(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func (p *BinaryProtocol) WriteMessageBegin(name string, msgType MessageType, sessionID uint64) error {
	header := uint32(binaryMagic)<<16 | uint32(msgType)
	if err := p.writeU32(header); err != nil {
		return errs.Wrap(errs.EncodeHeadFailed, err)
	}
	if err := p.WriteString(name); err != nil {
		return errs.Wrap(errs.EncodeHeadFailed, err)
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], sessionID)
	if _, err := p.t.Write(buf[:]); err != nil {
		return errs.Wrap(errs.EncodeHeadFailed, err)
	}
	return nil
}

func (p *BinaryProtocol) WriteMessageEnd() error { return nil }

func (p *BinaryProtocol) ReadMessageBegin() (string, MessageType, uint64, error) {
	header, err := p.readU32()
	if err != nil {
		return "", 0, 0, errs.Wrap(errs.DecodeHeadFailed, err)
	}
	if header>>16 != binaryMagic {
		return "", 0, 0, errs.Newf(errs.DecodeHeadFailed, "bad binary magic: %#x", header>>16)
	}
	msgType := MessageType(header & 0xffff)
	if !msgType.Valid() {
		return "", 0, 0, errs.New(errs.MessageTypeError)
	}
	name, err := p.ReadString()
	if err != nil {
		return "", 0, 0, errs.Wrap(errs.DecodeHeadFailed, err)
	}
	var buf [8]byte
	if err := p.t.ReadAll(buf[:]); err != nil {
		return "", 0, 0, errs.Wrap(errs.DecodeHeadFailed, err)
	}
	return name, msgType, binary.BigEndian.Uint64(buf[:]), nil
}

func (p *BinaryProtocol) ReadMessageEnd() error { return nil }

func (p *BinaryProtocol) WriteStructBegin(name string) error { return nil }
func (p *BinaryProtocol) WriteStructEnd() error               { return nil }
func (p *BinaryProtocol) ReadStructBegin() (string, error)     { return "", nil }
func (p *BinaryProtocol) ReadStructEnd() error                 { return nil }

func (p *BinaryProtocol) WriteFieldBegin(name string, typeID FieldType, id int16) error {
	if err := p.WriteByte(int8(typeID)); err != nil {
		return err
	}
	return p.WriteI16(id)
}

func (p *BinaryProtocol) WriteFieldEnd() error { return nil }

// WriteFieldStop terminates a struct body with a zero type byte.
func (p *BinaryProtocol) WriteFieldStop() error {
	return p.WriteByte(int8(TypeStop))
}

func (p *BinaryProtocol) ReadFieldBegin() (string, FieldType, int16, error) {
	b, err := p.ReadByte()
	if err != nil {
		return "", 0, 0, errs.Wrap(errs.DecodeBodyFailed, err)
	}
	typeID := FieldType(b)
	if typeID == TypeStop {
		return "", TypeStop, 0, nil
	}
	id, err := p.ReadI16()
	if err != nil {
		return "", 0, 0, errs.Wrap(errs.DecodeBodyFailed, err)
	}
	return "", typeID, id, nil
}

func (p *BinaryProtocol) ReadFieldEnd() error { return nil }

func (p *BinaryProtocol) writeContainerSize(n int) error {
	if n < 0 || n > MaxContainerSz {
		return errs.Newf(errs.EncodeBodyFailed, "container size %d exceeds ceiling", n)
	}
	return p.writeU32(uint32(n))
}

func (p *BinaryProtocol) readContainerSize() (int, error) {
	n, err := p.readU32()
	if err != nil {
		return 0, errs.Wrap(errs.DecodeBodyFailed, err)
	}
	if n > MaxContainerSz {
		return 0, errs.Newf(errs.DecodeBodyFailed, "container size %d exceeds ceiling", n)
	}
	return int(n), nil
}

func (p *BinaryProtocol) WriteMapBegin(keyType, valType FieldType, size int) error {
	if err := p.WriteByte(int8(keyType)); err != nil {
		return err
	}
	if err := p.WriteByte(int8(valType)); err != nil {
		return err
	}
	return p.writeContainerSize(size)
}
func (p *BinaryProtocol) WriteMapEnd() error { return nil }

func (p *BinaryProtocol) ReadMapBegin() (FieldType, FieldType, int, error) {
	kt, err := p.ReadByte()
	if err != nil {
		return 0, 0, 0, errs.Wrap(errs.DecodeBodyFailed, err)
	}
	vt, err := p.ReadByte()
	if err != nil {
		return 0, 0, 0, errs.Wrap(errs.DecodeBodyFailed, err)
	}
	sz, err := p.readContainerSize()
	if err != nil {
		return 0, 0, 0, err
	}
	return FieldType(kt), FieldType(vt), sz, nil
}
func (p *BinaryProtocol) ReadMapEnd() error { return nil }

func (p *BinaryProtocol) WriteListBegin(elemType FieldType, size int) error {
	if err := p.WriteByte(int8(elemType)); err != nil {
		return err
	}
	return p.writeContainerSize(size)
}
func (p *BinaryProtocol) WriteListEnd() error { return nil }

func (p *BinaryProtocol) ReadListBegin() (FieldType, int, error) {
	et, err := p.ReadByte()
	if err != nil {
		return 0, 0, errs.Wrap(errs.DecodeBodyFailed, err)
	}
	sz, err := p.readContainerSize()
	if err != nil {
		return 0, 0, err
	}
	return FieldType(et), sz, nil
}
func (p *BinaryProtocol) ReadListEnd() error { return nil }

func (p *BinaryProtocol) WriteSetBegin(elemType FieldType, size int) error {
	return p.WriteListBegin(elemType, size)
}
func (p *BinaryProtocol) WriteSetEnd() error { return nil }
func (p *BinaryProtocol) ReadSetBegin() (FieldType, int, error) {
	return p.ReadListBegin()
}
func (p *BinaryProtocol) ReadSetEnd() error { return nil }

func (p *BinaryProtocol) WriteBool(v bool) error {
	if v {
		return p.WriteByte(1)
	}
	return p.WriteByte(0)
}

func (p *BinaryProtocol) ReadBool() (bool, error) {
	b, err := p.ReadByte()
	return b != 0, err
}

func (p *BinaryProtocol) WriteByte(v int8) error {
	_, err := p.t.Write([]byte{byte(v)})
	return err
}

func (p *BinaryProtocol) ReadByte() (int8, error) {
	var buf [1]byte
	if err := p.t.ReadAll(buf[:]); err != nil {
		return 0, err
	}
	return int8(buf[0]), nil
}

func (p *BinaryProtocol) WriteI16(v int16) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], uint16(v))
	_, err := p.t.Write(buf[:])
	return err
}

func (p *BinaryProtocol) ReadI16() (int16, error) {
	var buf [2]byte
	if err := p.t.ReadAll(buf[:]); err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(buf[:])), nil
}

func (p *BinaryProtocol) WriteI32(v int32) error {
	return p.writeU32(uint32(v))
}

func (p *BinaryProtocol) ReadI32() (int32, error) {
	v, err := p.readU32()
	return int32(v), err
}

func (p *BinaryProtocol) WriteI64(v int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	_, err := p.t.Write(buf[:])
	return err
}

func (p *BinaryProtocol) ReadI64() (int64, error) {
	var buf [8]byte
	if err := p.t.ReadAll(buf[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(buf[:])), nil
}

func (p *BinaryProtocol) WriteDouble(v float64) error {
	return p.WriteI64(int64(math.Float64bits(v)))
}

func (p *BinaryProtocol) ReadDouble() (float64, error) {
	bits, err := p.ReadI64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(uint64(bits)), nil
}

func (p *BinaryProtocol) WriteString(v string) error {
	return p.WriteBinary([]byte(v))
}

func (p *BinaryProtocol) ReadString() (string, error) {
	b, err := p.ReadBinary()
	return string(b), err
}

func (p *BinaryProtocol) WriteBinary(v []byte) error {
	if len(v) > MaxStringLen {
		return errs.Newf(errs.EncodeBodyFailed, "string/binary length %d exceeds 8MiB ceiling", len(v))
	}
	if err := p.writeU32(uint32(len(v))); err != nil {
		return err
	}
	if len(v) == 0 {
		return nil
	}
	_, err := p.t.Write(v)
	return err
}

func (p *BinaryProtocol) ReadBinary() ([]byte, error) {
	n, err := p.readU32()
	if err != nil {
		return nil, errs.Wrap(errs.DecodeBodyFailed, err)
	}
	if n > MaxStringLen {
		return nil, errs.Newf(errs.DecodeBodyFailed, "string/binary length %d exceeds 8MiB ceiling", n)
	}
	out := make([]byte, n)
	if n > 0 {
		if err := p.t.ReadAll(out); err != nil {
			return nil, errs.Wrap(errs.DecodeBodyFailed, err)
		}
	}
	return out, nil
}

var _ Protocol = (*BinaryProtocol)(nil)
