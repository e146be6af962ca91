package codec

import (
	"encoding/binary"
	"math"

	"github.com/tencent/pebble/buffer"
	"github.com/tencent/pebble/errs"
)

// BSON-variant type tags. These are not real BSON: the wire tag space
// is Thrift's TType compressed into a handful of BSON element types,
// the way the original C++ protocol piggybacks on a BSON-shaped
// envelope without being BSON-interoperable.
const (
	bsonDoubleType   = 0x01
	bsonStringType   = 0x02
	bsonDocumentType = 0x03
	bsonBinaryType   = 0x05
	bsonBoolType     = 0x08
	bsonEmptyType    = 0x0A
	bsonInt32Type    = 0x10
	bsonInt64Type    = 0x12

	bsonBinaryUserSubtype = 0x80
	bsonFormatVersion     = 1
)

func bsonTypeOf(t FieldType) (byte, error) {
	switch t {
	case TypeBool:
		return bsonBoolType, nil
	case TypeByte, TypeI16, TypeI32:
		return bsonInt32Type, nil
	case TypeI64:
		return bsonInt64Type, nil
	case TypeDouble:
		return bsonDoubleType, nil
	case TypeString, TypeBinary:
		return bsonStringType, nil
	case TypeStruct:
		return bsonDocumentType, nil
	case TypeMap, TypeSet, TypeList:
		return bsonBinaryType, nil
	default:
		return 0, errs.Newf(errs.EncodeBodyFailed, "bson: unrecognized field type %d", t)
	}
}

// BSONProtocol frames every message, struct and map/set/list as a
// length-prefixed little-endian envelope: a struct (and the top-level
// message) is a 4-byte-length-prefixed document terminated by a zero
// byte; a map/set/list is a 5-byte binary envelope (4-byte length + a
// 0x80 subtype marker) wrapping a small fixed header plus its
// elements. A struct field's name is a 6-byte cstring-shaped tag:
// [bson_type, idl_type, 3 packed field-id bytes, 0]; the field-id
// bytes split the 16-bit id across 5/5/6 bits and OR in 0x40 so none
// of them are ever the null byte that would terminate the cstring
// early.
//
// The write side accumulates one top-level document into an in-memory
// buffer, back-patching each document/binary envelope's length once
// its contents are known, and flushes to the transport only when the
// outermost document closes. The read side borrows the whole frame
// body once and walks it with a cursor, since by the time a Protocol
// runs the outer frame has already isolated exactly one message's
// bytes.
type BSONProtocol struct {
	t buffer.Transport

	wbuf    []byte
	wMarks  []bsonMark

	rdata   []byte
	rpos    int
	rDocEnd []int
}

type bsonMark struct {
	offset int
	binary bool
}

func newBSONProtocol(t buffer.Transport) *BSONProtocol {
	return &BSONProtocol{t: t}
}

func (p *BSONProtocol) Format() FormatType          { return FormatBSON }
func (p *BSONProtocol) Transport() buffer.Transport { return p.t }

// --- write side -----------------------------------------------------

func (p *BSONProtocol) alloc(n int) []byte {
	start := len(p.wbuf)
	p.wbuf = append(p.wbuf, make([]byte, n)...)
	return p.wbuf[start : start+n]
}

func (p *BSONProtocol) documentBegin() {
	p.wMarks = append(p.wMarks, bsonMark{offset: len(p.wbuf)})
	p.alloc(4)
}

func (p *BSONProtocol) documentEnd() error {
	p.wbuf = append(p.wbuf, 0)
	n := len(p.wMarks)
	mark := p.wMarks[n-1]
	p.wMarks = p.wMarks[:n-1]
	docLen := len(p.wbuf) - mark.offset
	binary.LittleEndian.PutUint32(p.wbuf[mark.offset:mark.offset+4], uint32(docLen))
	if len(p.wMarks) == 0 {
		if _, err := p.t.Write(p.wbuf); err != nil {
			return errs.Wrap(errs.EncodeBodyFailed, err)
		}
		p.wbuf = nil
	}
	return nil
}

func (p *BSONProtocol) binaryBegin() {
	p.wMarks = append(p.wMarks, bsonMark{offset: len(p.wbuf), binary: true})
	hdr := p.alloc(5)
	hdr[4] = bsonBinaryUserSubtype
}

func (p *BSONProtocol) binaryEnd() {
	n := len(p.wMarks)
	mark := p.wMarks[n-1]
	p.wMarks = p.wMarks[:n-1]
	length := len(p.wbuf) - mark.offset - 5
	binary.LittleEndian.PutUint32(p.wbuf[mark.offset:mark.offset+4], uint32(length))
}

func (p *BSONProtocol) writeFieldName(t FieldType, id int16) error {
	if t == TypeStop {
		p.wbuf = append(p.wbuf, bsonEmptyType, 0)
		return nil
	}
	bt, err := bsonTypeOf(t)
	if err != nil {
		return err
	}
	b := p.alloc(6)
	b[0] = bt
	b[1] = byte(t)
	fid := uint16(id)
	b[2] = byte((fid>>11)&0x1F) | 0x40
	b[3] = byte((fid>>6)&0x1F) | 0x40
	b[4] = byte(fid&0x3F) | 0x40
	b[5] = 0
	return nil
}

func (p *BSONProtocol) WriteMessageBegin(name string, msgType MessageType, sessionID uint64) error {
	p.documentBegin()
	hdr := p.alloc(14)
	hdr[0] = bsonInt64Type
	hdr[1] = byte(msgType)
	hdr[2] = 0
	binary.LittleEndian.PutUint64(hdr[3:11], sessionID)
	hdr[11] = bsonStringType
	hdr[12] = bsonFormatVersion
	hdr[13] = 0
	if err := p.WriteString(name); err != nil {
		return errs.Wrap(errs.EncodeHeadFailed, err)
	}
	// marks that the next field written is the body document.
	p.wbuf = append(p.wbuf, bsonDocumentType, 0)
	return nil
}

func (p *BSONProtocol) WriteMessageEnd() error {
	if err := p.documentEnd(); err != nil {
		return errs.Wrap(errs.EncodeHeadFailed, err)
	}
	return nil
}

func (p *BSONProtocol) WriteStructBegin(name string) error {
	p.documentBegin()
	return nil
}
func (p *BSONProtocol) WriteStructEnd() error { return p.documentEnd() }

func (p *BSONProtocol) WriteFieldBegin(name string, typeID FieldType, id int16) error {
	return p.writeFieldName(typeID, id)
}
func (p *BSONProtocol) WriteFieldEnd() error  { return nil }
func (p *BSONProtocol) WriteFieldStop() error { return p.writeFieldName(TypeStop, 0) }

func (p *BSONProtocol) WriteMapBegin(keyType, valType FieldType, size int) error {
	if size > MaxContainerSz {
		return errs.Newf(errs.EncodeBodyFailed, "container size %d exceeds ceiling", size)
	}
	p.binaryBegin()
	hdr := p.alloc(8)
	hdr[0] = bsonInt32Type
	hdr[1] = byte(keyType)
	hdr[2] = byte(valType)
	hdr[3] = 0
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(size))
	return nil
}
func (p *BSONProtocol) WriteMapEnd() error { p.binaryEnd(); return nil }

func (p *BSONProtocol) writeListLikeBegin(elemType FieldType, size int) error {
	if size > MaxContainerSz {
		return errs.Newf(errs.EncodeBodyFailed, "container size %d exceeds ceiling", size)
	}
	p.binaryBegin()
	hdr := p.alloc(7)
	hdr[0] = bsonInt32Type
	hdr[1] = byte(elemType)
	hdr[2] = 0
	binary.LittleEndian.PutUint32(hdr[3:7], uint32(size))
	return nil
}

func (p *BSONProtocol) WriteListBegin(elemType FieldType, size int) error {
	return p.writeListLikeBegin(elemType, size)
}
func (p *BSONProtocol) WriteListEnd() error { p.binaryEnd(); return nil }

func (p *BSONProtocol) WriteSetBegin(elemType FieldType, size int) error {
	return p.writeListLikeBegin(elemType, size)
}
func (p *BSONProtocol) WriteSetEnd() error { p.binaryEnd(); return nil }

func (p *BSONProtocol) WriteBool(v bool) error {
	if v {
		p.wbuf = append(p.wbuf, 1)
	} else {
		p.wbuf = append(p.wbuf, 0)
	}
	return nil
}

func (p *BSONProtocol) writeI32Field(v int32) error {
	hdr := p.alloc(4)
	binary.LittleEndian.PutUint32(hdr, uint32(v))
	return nil
}

func (p *BSONProtocol) WriteByte(v int8) error  { return p.writeI32Field(int32(v)) }
func (p *BSONProtocol) WriteI16(v int16) error  { return p.writeI32Field(int32(v)) }
func (p *BSONProtocol) WriteI32(v int32) error  { return p.writeI32Field(v) }

func (p *BSONProtocol) WriteI64(v int64) error {
	hdr := p.alloc(8)
	binary.LittleEndian.PutUint64(hdr, uint64(v))
	return nil
}

func (p *BSONProtocol) WriteDouble(v float64) error {
	return p.WriteI64(int64(math.Float64bits(v)))
}

func (p *BSONProtocol) WriteString(v string) error {
	if len(v) > MaxStringLen {
		return errs.Newf(errs.EncodeBodyFailed, "string length %d exceeds 8MiB ceiling", len(v))
	}
	length := int32(len(v)) + 1
	if err := p.writeI32Field(length); err != nil {
		return err
	}
	b := p.alloc(len(v) + 1)
	copy(b, v)
	b[len(v)] = 0
	return nil
}

func (p *BSONProtocol) WriteBinary(v []byte) error {
	if len(v) > MaxStringLen {
		return errs.Newf(errs.EncodeBodyFailed, "binary length %d exceeds 8MiB ceiling", len(v))
	}
	length := int32(len(v)) + 1
	if err := p.writeI32Field(length); err != nil {
		return err
	}
	b := p.alloc(len(v) + 1)
	copy(b, v)
	b[len(v)] = 0
	return nil
}

// --- read side --------------------------------------------------------

func (p *BSONProtocol) readRaw(n int) ([]byte, error) {
	if p.rpos+n > len(p.rdata) {
		return nil, errs.Newf(errs.DecodeBodyFailed, "bson: need %d bytes, have %d", n, len(p.rdata)-p.rpos)
	}
	b := p.rdata[p.rpos : p.rpos+n]
	p.rpos += n
	return b, nil
}

func (p *BSONProtocol) readI32Field() (int32, error) {
	b, err := p.readRaw(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

func (p *BSONProtocol) documentBeginRead() error {
	docLen, err := p.readI32Field()
	if err != nil {
		return err
	}
	if docLen < 4 {
		return errs.Newf(errs.DecodeBodyFailed, "bson: document length %d too small", docLen)
	}
	end := p.rpos + int(docLen) - 4
	if end > len(p.rdata) {
		return errs.Newf(errs.DecodeBodyFailed, "bson: document length %d overruns frame", docLen)
	}
	p.rDocEnd = append(p.rDocEnd, end)
	return nil
}

func (p *BSONProtocol) documentEndRead() error {
	if _, err := p.readRaw(1); err != nil {
		return err
	}
	n := len(p.rDocEnd)
	if n == 0 {
		return errs.Newf(errs.DecodeBodyFailed, "bson: unbalanced document close")
	}
	end := p.rDocEnd[n-1]
	p.rDocEnd = p.rDocEnd[:n-1]
	if p.rpos != end {
		return errs.Newf(errs.DecodeBodyFailed, "bson: document ended at %d, expected %d", p.rpos, end)
	}
	return nil
}

func (p *BSONProtocol) binaryBeginRead() error {
	hdr, err := p.readRaw(5)
	if err != nil {
		return err
	}
	if hdr[4] != bsonBinaryUserSubtype {
		return errs.Newf(errs.DecodeBodyFailed, "bson: bad binary subtype %#x", hdr[4])
	}
	return nil
}

func (p *BSONProtocol) readFieldName() (FieldType, int16, error) {
	b, err := p.readRaw(2)
	if err != nil {
		return 0, 0, err
	}
	bsonType, protoType := b[0], FieldType(b[1])
	if protoType == TypeStop {
		return TypeStop, 0, nil
	}
	expected, err := bsonTypeOf(protoType)
	if err != nil {
		return 0, 0, err
	}
	if bsonType != expected {
		return 0, 0, errs.Newf(errs.DecodeBodyFailed, "bson: field type byte %#x does not match idl type %d", bsonType, protoType)
	}
	idb, err := p.readRaw(4)
	if err != nil {
		return 0, 0, err
	}
	id := uint16(idb[0] & 0x1F)
	id = (id << 5) | uint16(idb[1]&0x1F)
	id = (id << 6) | uint16(idb[2]&0x3F)
	return protoType, int16(id), nil
}

func (p *BSONProtocol) ReadMessageBegin() (string, MessageType, uint64, error) {
	remaining := p.t.Len()
	raw, err := p.t.Borrow(remaining)
	if err != nil {
		return "", 0, 0, errs.Wrap(errs.DecodeHeadFailed, err)
	}
	p.rdata = raw
	p.rpos = 0
	p.rDocEnd = nil

	if err := p.documentBeginRead(); err != nil {
		return "", 0, 0, errs.Wrap(errs.DecodeHeadFailed, err)
	}
	hdr, err := p.readRaw(14)
	if err != nil {
		return "", 0, 0, errs.Wrap(errs.DecodeHeadFailed, err)
	}
	if hdr[0] != bsonInt64Type || hdr[2] != 0 || hdr[11] != bsonStringType || hdr[13] != 0 || hdr[1] == 0 {
		return "", 0, 0, errs.Newf(errs.DecodeHeadFailed, "bson: malformed message header")
	}
	msgType := MessageType(hdr[1])
	if !msgType.Valid() {
		return "", 0, 0, errs.New(errs.MessageTypeError)
	}
	sessionID := binary.LittleEndian.Uint64(hdr[3:11])
	name, err := p.ReadString()
	if err != nil {
		return "", 0, 0, errs.Wrap(errs.DecodeHeadFailed, err)
	}
	if _, err := p.readRaw(2); err != nil {
		return "", 0, 0, errs.Wrap(errs.DecodeHeadFailed, err)
	}
	if err := p.t.Consume(remaining); err != nil {
		return "", 0, 0, errs.Wrap(errs.DecodeHeadFailed, err)
	}
	return name, msgType, sessionID, nil
}

func (p *BSONProtocol) ReadMessageEnd() error {
	if err := p.documentEndRead(); err != nil {
		return errs.Wrap(errs.DecodeHeadFailed, err)
	}
	return nil
}

func (p *BSONProtocol) ReadStructBegin() (string, error) {
	return "", p.documentBeginRead()
}
func (p *BSONProtocol) ReadStructEnd() error { return p.documentEndRead() }

func (p *BSONProtocol) ReadFieldBegin() (string, FieldType, int16, error) {
	t, id, err := p.readFieldName()
	return "", t, id, err
}
func (p *BSONProtocol) ReadFieldEnd() error { return nil }

func (p *BSONProtocol) ReadMapBegin() (FieldType, FieldType, int, error) {
	if err := p.binaryBeginRead(); err != nil {
		return 0, 0, 0, err
	}
	hdr, err := p.readRaw(8)
	if err != nil {
		return 0, 0, 0, err
	}
	if hdr[0] != bsonInt32Type || hdr[1] == 0 || hdr[2] == 0 || hdr[3] != 0 {
		return 0, 0, 0, errs.Newf(errs.DecodeBodyFailed, "bson: malformed map header")
	}
	size := int(binary.LittleEndian.Uint32(hdr[4:8]))
	if size > MaxContainerSz {
		return 0, 0, 0, errs.Newf(errs.DecodeBodyFailed, "container size %d exceeds ceiling", size)
	}
	return FieldType(hdr[1]), FieldType(hdr[2]), size, nil
}
func (p *BSONProtocol) ReadMapEnd() error { return nil }

func (p *BSONProtocol) readListLikeBegin() (FieldType, int, error) {
	if err := p.binaryBeginRead(); err != nil {
		return 0, 0, err
	}
	hdr, err := p.readRaw(7)
	if err != nil {
		return 0, 0, err
	}
	if hdr[0] != bsonInt32Type || hdr[1] == 0 || hdr[2] != 0 {
		return 0, 0, errs.Newf(errs.DecodeBodyFailed, "bson: malformed list/set header")
	}
	size := int(binary.LittleEndian.Uint32(hdr[3:7]))
	if size > MaxContainerSz {
		return 0, 0, errs.Newf(errs.DecodeBodyFailed, "container size %d exceeds ceiling", size)
	}
	return FieldType(hdr[1]), size, nil
}

func (p *BSONProtocol) ReadListBegin() (FieldType, int, error) { return p.readListLikeBegin() }
func (p *BSONProtocol) ReadListEnd() error                     { return nil }
func (p *BSONProtocol) ReadSetBegin() (FieldType, int, error)  { return p.readListLikeBegin() }
func (p *BSONProtocol) ReadSetEnd() error                      { return nil }

func (p *BSONProtocol) ReadBool() (bool, error) {
	b, err := p.readRaw(1)
	if err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

func (p *BSONProtocol) ReadByte() (int8, error) {
	v, err := p.readI32Field()
	return int8(v), err
}
func (p *BSONProtocol) ReadI16() (int16, error) {
	v, err := p.readI32Field()
	return int16(v), err
}
func (p *BSONProtocol) ReadI32() (int32, error) { return p.readI32Field() }

func (p *BSONProtocol) ReadI64() (int64, error) {
	b, err := p.readRaw(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

func (p *BSONProtocol) ReadDouble() (float64, error) {
	bits, err := p.ReadI64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(uint64(bits)), nil
}

func (p *BSONProtocol) ReadString() (string, error) {
	length, err := p.readI32Field()
	if err != nil {
		return "", err
	}
	if length < 1 || int(length) > MaxStringLen {
		return "", errs.Newf(errs.DecodeBodyFailed, "bson: invalid string length %d", length)
	}
	b, err := p.readRaw(int(length))
	if err != nil {
		return "", err
	}
	return string(b[:length-1]), nil
}

func (p *BSONProtocol) ReadBinary() ([]byte, error) {
	length, err := p.readI32Field()
	if err != nil {
		return nil, err
	}
	if length < 1 || int(length) > MaxStringLen {
		return nil, errs.Newf(errs.DecodeBodyFailed, "bson: invalid binary length %d", length)
	}
	b, err := p.readRaw(int(length))
	if err != nil {
		return nil, err
	}
	out := make([]byte, length-1)
	copy(out, b[:length-1])
	return out, nil
}

var _ Protocol = (*BSONProtocol)(nil)
