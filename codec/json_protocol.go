package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strconv"

	"github.com/tencent/pebble/buffer"
	"github.com/tencent/pebble/errs"
)

// JSONProtocol is the JSON wire format: the message is a JSON array
// [version, name, message_type, session_id, body]. A struct is a JSON
// object keyed by field id; a map is a 2-element array of (keys,
// values) unless its key type is string, in which case it is a native
// JSON object; a list/set is a JSON array; binary is base64 of the
// raw bytes.
//
// The write side builds the document as a tree of Go values (append
// on Write*, finish-and-emit on *End) and marshals it once at
// WriteMessageEnd. The read side decodes the whole frame body once
// with json.Decoder in UseNumber mode (so 64-bit session ids and
// field values keep full precision) and then pulls values out of that
// tree on demand — a pull-parser over an already-decoded document
// rather than a byte-level streaming parser, but a value pulled out
// of order or typed wrong still surfaces as a DecodeBodyFailed error
// rather than silently succeeding.
type JSONProtocol struct {
	t buffer.Transport

	wStack []*jsonWriteFrame
	rStack []*jsonReadFrame
}

func newJSONProtocol(t buffer.Transport) *JSONProtocol {
	return &JSONProtocol{t: t}
}

func (p *JSONProtocol) Format() FormatType          { return FormatJSON }
func (p *JSONProtocol) Transport() buffer.Transport { return p.t }

// --- write side -------------------------------------------------------

type jsonWriteFrame struct {
	isObject bool
	arr      []any
	obj      map[string]any

	mapMode bool
	mapKeys []any
	mapVals []any
	mapNext bool // true => next emit is a key

	pendingKey string
}

func (f *jsonWriteFrame) finish() any {
	switch {
	case f.mapMode && !f.isObject:
		return []any{f.mapKeys, f.mapVals}
	case f.isObject:
		return f.obj
	default:
		return f.arr
	}
}

func (p *JSONProtocol) wTop() (*jsonWriteFrame, error) {
	if len(p.wStack) == 0 {
		return nil, errs.Newf(errs.EncodeBodyFailed, "json: write with no open container")
	}
	return p.wStack[len(p.wStack)-1], nil
}

func (p *JSONProtocol) wPush(f *jsonWriteFrame) { p.wStack = append(p.wStack, f) }

func (p *JSONProtocol) wPop() (*jsonWriteFrame, error) {
	if len(p.wStack) == 0 {
		return nil, errs.Newf(errs.EncodeBodyFailed, "json: unbalanced container close")
	}
	f := p.wStack[len(p.wStack)-1]
	p.wStack = p.wStack[:len(p.wStack)-1]
	return f, nil
}

// emit appends v into the current top container (or, inside an
// object, completes the value half of the pending key).
func (p *JSONProtocol) emit(v any) error {
	f, err := p.wTop()
	if err != nil {
		return err
	}
	switch {
	case f.mapMode && !f.isObject:
		if f.mapNext {
			f.mapKeys = append(f.mapKeys, v)
		} else {
			f.mapVals = append(f.mapVals, v)
		}
		f.mapNext = !f.mapNext
	case f.mapMode && f.isObject:
		if f.pendingKey == "" {
			key, ok := v.(string)
			if !ok {
				return errs.Newf(errs.EncodeBodyFailed, "json: string-keyed map key must be a string")
			}
			f.pendingKey = key
		} else {
			f.obj[f.pendingKey] = v
			f.pendingKey = ""
		}
	case f.isObject:
		if f.pendingKey == "" {
			return errs.Newf(errs.EncodeBodyFailed, "json: field value written without a pending field id")
		}
		f.obj[f.pendingKey] = v
		f.pendingKey = ""
	default:
		f.arr = append(f.arr, v)
	}
	return nil
}

// closeNested pops the current frame and emits its finished value into
// the new top — used by every *End of a nested container.
func (p *JSONProtocol) closeNested() error {
	f, err := p.wPop()
	if err != nil {
		return err
	}
	if len(p.wStack) == 0 {
		return errs.Newf(errs.EncodeBodyFailed, "json: closed the top-level message frame as nested")
	}
	return p.emit(f.finish())
}

const jsonHeadVersion = 0

func (p *JSONProtocol) WriteMessageBegin(name string, msgType MessageType, sessionID uint64) error {
	f := &jsonWriteFrame{arr: []any{jsonHeadVersion, name, int(msgType), sessionID}}
	p.wPush(f)
	return nil
}

func (p *JSONProtocol) WriteMessageEnd() error {
	f, err := p.wPop()
	if err != nil {
		return err
	}
	if len(p.wStack) != 0 {
		return errs.Newf(errs.EncodeHeadFailed, "json: message ended with open nested containers")
	}
	data, err := json.Marshal(f.arr)
	if err != nil {
		return errs.Wrap(errs.EncodeHeadFailed, err)
	}
	if _, err := p.t.Write(data); err != nil {
		return errs.Wrap(errs.EncodeHeadFailed, err)
	}
	return nil
}

func (p *JSONProtocol) WriteStructBegin(name string) error {
	p.wPush(&jsonWriteFrame{isObject: true, obj: map[string]any{}})
	return nil
}
func (p *JSONProtocol) WriteStructEnd() error { return p.closeNested() }

// WriteFieldBegin keys struct fields by their numeric id rather than
// name: ReadFieldBegin recovers the id by parsing the JSON object key
// back to an integer, so every struct field is written under
// strconv.Itoa(id) regardless of what name the caller passes.
func (p *JSONProtocol) WriteFieldBegin(name string, typeID FieldType, id int16) error {
	f, err := p.wTop()
	if err != nil {
		return err
	}
	f.pendingKey = strconv.Itoa(int(id))
	return nil
}
func (p *JSONProtocol) WriteFieldEnd() error  { return nil }
func (p *JSONProtocol) WriteFieldStop() error { return nil }

func (p *JSONProtocol) WriteMapBegin(keyType, valType FieldType, size int) error {
	if keyType == TypeString {
		p.wPush(&jsonWriteFrame{isObject: true, obj: map[string]any{}, mapMode: true})
	} else {
		p.wPush(&jsonWriteFrame{mapMode: true, mapNext: true})
	}
	return nil
}
func (p *JSONProtocol) WriteMapEnd() error { return p.closeNested() }

func (p *JSONProtocol) WriteListBegin(elemType FieldType, size int) error {
	p.wPush(&jsonWriteFrame{arr: []any{}})
	return nil
}
func (p *JSONProtocol) WriteListEnd() error { return p.closeNested() }

func (p *JSONProtocol) WriteSetBegin(elemType FieldType, size int) error {
	return p.WriteListBegin(elemType, size)
}
func (p *JSONProtocol) WriteSetEnd() error { return p.closeNested() }

func (p *JSONProtocol) WriteBool(v bool) error   { return p.emit(v) }
func (p *JSONProtocol) WriteByte(v int8) error   { return p.emit(int(v)) }
func (p *JSONProtocol) WriteI16(v int16) error   { return p.emit(int(v)) }
func (p *JSONProtocol) WriteI32(v int32) error   { return p.emit(int(v)) }
func (p *JSONProtocol) WriteI64(v int64) error   { return p.emit(v) }
func (p *JSONProtocol) WriteDouble(v float64) error { return p.emit(v) }
func (p *JSONProtocol) WriteString(v string) error  { return p.emit(v) }

func (p *JSONProtocol) WriteBinary(v []byte) error {
	if len(v) > MaxStringLen {
		return errs.Newf(errs.EncodeBodyFailed, "binary length %d exceeds 8MiB ceiling", len(v))
	}
	return p.emit(base64.StdEncoding.EncodeToString(v))
}

// --- read side ----------------------------------------------------------

type jsonReadFrame struct {
	isObject bool
	arr      []any
	idx      int
	obj      map[string]any
	remainingKeys []string

	mapMode bool
	mapNext bool // true => next pull is a key
	curKey  string
	mapKeys []any
	mapVals []any
	mapIdx  int
}

func (p *JSONProtocol) rTop() (*jsonReadFrame, error) {
	if len(p.rStack) == 0 {
		return nil, errs.Newf(errs.DecodeBodyFailed, "json: read with no open container")
	}
	return p.rStack[len(p.rStack)-1], nil
}

func (p *JSONProtocol) rPush(f *jsonReadFrame) { p.rStack = append(p.rStack, f) }

func (p *JSONProtocol) rPop() (*jsonReadFrame, error) {
	if len(p.rStack) == 0 {
		return nil, errs.Newf(errs.DecodeBodyFailed, "json: unbalanced container close")
	}
	f := p.rStack[len(p.rStack)-1]
	p.rStack = p.rStack[:len(p.rStack)-1]
	return f, nil
}

// pullValue extracts the next raw value from the current top context.
// A JSON null is always rejected: the wire format has no concept of
// an inferred/absent type for a present field, so null can only mean
// a sender bug.
func (p *JSONProtocol) pullValue() (any, error) {
	f, err := p.rTop()
	if err != nil {
		return nil, err
	}
	var v any
	switch {
	case f.mapMode && f.isObject:
		if f.mapNext {
			if len(f.remainingKeys) == 0 {
				return nil, errs.Newf(errs.DecodeBodyFailed, "json: map exhausted")
			}
			k := f.remainingKeys[0]
			f.remainingKeys = f.remainingKeys[1:]
			f.curKey = k
			f.mapNext = false
			v = k
		} else {
			v = f.obj[f.curKey]
			f.mapNext = true
		}
	case f.mapMode && !f.isObject:
		if f.mapNext {
			if f.mapIdx >= len(f.mapKeys) {
				return nil, errs.Newf(errs.DecodeBodyFailed, "json: map pair arrays exhausted")
			}
			v = f.mapKeys[f.mapIdx]
			f.mapNext = false
		} else {
			v = f.mapVals[f.mapIdx]
			f.mapIdx++
			f.mapNext = true
		}
	case f.isObject:
		v = f.obj[f.pendingKeyRead()]
	default:
		if f.idx >= len(f.arr) {
			return nil, errs.Newf(errs.DecodeBodyFailed, "json: array exhausted")
		}
		v = f.arr[f.idx]
		f.idx++
	}
	if v == nil {
		return nil, errs.Newf(errs.OtherException, "json: null (T_NULL infer) is not supported on the wire")
	}
	return v, nil
}

// pendingKeyRead is set by ReadFieldBegin before the scalar/nested
// read for that field happens.
func (f *jsonReadFrame) pendingKeyRead() string { return f.curKey }

func inferFieldType(v any) FieldType {
	switch v.(type) {
	case bool:
		return TypeBool
	case string:
		return TypeString
	case json.Number:
		return TypeI64
	case []any:
		return TypeList
	case map[string]any:
		return TypeStruct
	default:
		return TypeStruct
	}
}

func (p *JSONProtocol) ReadMessageBegin() (string, MessageType, uint64, error) {
	remaining := p.t.Len()
	raw, err := p.t.Borrow(remaining)
	if err != nil {
		return "", 0, 0, errs.Wrap(errs.DecodeHeadFailed, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var arr []any
	if err := dec.Decode(&arr); err != nil {
		return "", 0, 0, errs.Wrap(errs.DecodeHeadFailed, err)
	}
	_ = p.t.Consume(remaining)
	if len(arr) != 5 {
		return "", 0, 0, errs.Newf(errs.DecodeHeadFailed, "json: message array has %d elements, want 5", len(arr))
	}
	name, ok := arr[1].(string)
	if !ok {
		return "", 0, 0, errs.Newf(errs.DecodeHeadFailed, "json: function_name is not a string")
	}
	mtNum, ok := arr[2].(json.Number)
	if !ok {
		return "", 0, 0, errs.Newf(errs.DecodeHeadFailed, "json: message_type is not a number")
	}
	mtInt, err := mtNum.Int64()
	if err != nil {
		return "", 0, 0, errs.Wrap(errs.DecodeHeadFailed, err)
	}
	msgType := MessageType(mtInt)
	if !msgType.Valid() {
		return "", 0, 0, errs.New(errs.MessageTypeError)
	}
	sidNum, ok := arr[3].(json.Number)
	if !ok {
		return "", 0, 0, errs.Newf(errs.DecodeHeadFailed, "json: session_id is not a number")
	}
	sid, err := strconv.ParseUint(sidNum.String(), 10, 64)
	if err != nil {
		return "", 0, 0, errs.Wrap(errs.DecodeHeadFailed, err)
	}
	p.rPush(&jsonReadFrame{arr: arr, idx: 4})
	return name, msgType, sid, nil
}

func (p *JSONProtocol) ReadMessageEnd() error {
	_, err := p.rPop()
	return err
}

func asObject(v any) (map[string]any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, errs.Newf(errs.DecodeBodyFailed, "json: expected object")
	}
	return m, nil
}

func asArray(v any) ([]any, error) {
	a, ok := v.([]any)
	if !ok {
		return nil, errs.Newf(errs.DecodeBodyFailed, "json: expected array")
	}
	return a, nil
}

func (p *JSONProtocol) ReadStructBegin() (string, error) {
	v, err := p.pullValue()
	if err != nil {
		return "", err
	}
	m, err := asObject(v)
	if err != nil {
		return "", err
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	p.rPush(&jsonReadFrame{isObject: true, obj: m, remainingKeys: keys})
	return "", nil
}
func (p *JSONProtocol) ReadStructEnd() error {
	_, err := p.rPop()
	return err
}

func (p *JSONProtocol) ReadFieldBegin() (string, FieldType, int16, error) {
	f, err := p.rTop()
	if err != nil {
		return "", 0, 0, err
	}
	if len(f.remainingKeys) == 0 {
		return "", TypeStop, 0, nil
	}
	key := f.remainingKeys[0]
	f.remainingKeys = f.remainingKeys[1:]
	f.curKey = key
	id, convErr := strconv.Atoi(key)
	if convErr != nil {
		id = 0
	}
	return "", inferFieldType(f.obj[key]), int16(id), nil
}
func (p *JSONProtocol) ReadFieldEnd() error { return nil }

func (p *JSONProtocol) ReadMapBegin() (FieldType, FieldType, int, error) {
	v, err := p.pullValue()
	if err != nil {
		return 0, 0, 0, err
	}
	if m, ok := v.(map[string]any); ok {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		p.rPush(&jsonReadFrame{isObject: true, mapMode: true, obj: m, remainingKeys: keys, mapNext: true})
		return TypeString, TypeStruct, len(m), nil
	}
	pair, err := asArray(v)
	if err != nil {
		return 0, 0, 0, err
	}
	if len(pair) != 2 {
		return 0, 0, 0, errs.Newf(errs.DecodeBodyFailed, "json: map pair array must have 2 elements")
	}
	keys, err := asArray(pair[0])
	if err != nil {
		return 0, 0, 0, err
	}
	vals, err := asArray(pair[1])
	if err != nil {
		return 0, 0, 0, err
	}
	kt, vt := TypeString, TypeString
	if len(keys) > 0 {
		kt = inferFieldType(keys[0])
	}
	if len(vals) > 0 {
		vt = inferFieldType(vals[0])
	}
	p.rPush(&jsonReadFrame{mapMode: true, mapKeys: keys, mapVals: vals, mapNext: true})
	return kt, vt, len(keys), nil
}
func (p *JSONProtocol) ReadMapEnd() error {
	_, err := p.rPop()
	return err
}

func (p *JSONProtocol) ReadListBegin() (FieldType, int, error) {
	v, err := p.pullValue()
	if err != nil {
		return 0, 0, err
	}
	a, err := asArray(v)
	if err != nil {
		return 0, 0, err
	}
	if len(a) > MaxContainerSz {
		return 0, 0, errs.Newf(errs.DecodeBodyFailed, "json: container size %d exceeds ceiling", len(a))
	}
	elemType := FieldType(TypeStruct)
	if len(a) > 0 {
		elemType = inferFieldType(a[0])
	}
	p.rPush(&jsonReadFrame{arr: a})
	return elemType, len(a), nil
}
func (p *JSONProtocol) ReadListEnd() error {
	_, err := p.rPop()
	return err
}

func (p *JSONProtocol) ReadSetBegin() (FieldType, int, error) { return p.ReadListBegin() }
func (p *JSONProtocol) ReadSetEnd() error                     { return p.ReadListEnd() }

func (p *JSONProtocol) ReadBool() (bool, error) {
	v, err := p.pullValue()
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, errs.Newf(errs.DecodeBodyFailed, "json: expected bool")
	}
	return b, nil
}

func (p *JSONProtocol) readNumber() (json.Number, error) {
	v, err := p.pullValue()
	if err != nil {
		return "", err
	}
	n, ok := v.(json.Number)
	if !ok {
		return "", errs.Newf(errs.DecodeBodyFailed, "json: expected number")
	}
	return n, nil
}

func (p *JSONProtocol) ReadByte() (int8, error) {
	n, err := p.readNumber()
	if err != nil {
		return 0, err
	}
	v, err := n.Int64()
	return int8(v), err
}
func (p *JSONProtocol) ReadI16() (int16, error) {
	n, err := p.readNumber()
	if err != nil {
		return 0, err
	}
	v, err := n.Int64()
	return int16(v), err
}
func (p *JSONProtocol) ReadI32() (int32, error) {
	n, err := p.readNumber()
	if err != nil {
		return 0, err
	}
	v, err := n.Int64()
	return int32(v), err
}
func (p *JSONProtocol) ReadI64() (int64, error) {
	n, err := p.readNumber()
	if err != nil {
		return 0, err
	}
	return n.Int64()
}
func (p *JSONProtocol) ReadDouble() (float64, error) {
	n, err := p.readNumber()
	if err != nil {
		return 0, err
	}
	return n.Float64()
}

func (p *JSONProtocol) ReadString() (string, error) {
	v, err := p.pullValue()
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", errs.Newf(errs.DecodeBodyFailed, "json: expected string")
	}
	return s, nil
}

func (p *JSONProtocol) ReadBinary() ([]byte, error) {
	s, err := p.ReadString()
	if err != nil {
		return nil, err
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errs.Wrap(errs.DecodeBodyFailed, err)
	}
	if len(b) > MaxStringLen {
		return nil, errs.Newf(errs.DecodeBodyFailed, "binary length %d exceeds 8MiB ceiling", len(b))
	}
	return b, nil
}

var _ Protocol = (*JSONProtocol)(nil)
