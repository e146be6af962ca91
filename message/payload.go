package message

import (
	"encoding/json"

	"github.com/tencent/pebble/codec"
)

// WriteJSONPayload encodes v as JSON and wraps it in the single binary
// field (id 1) that every generic, non-IDL-generated call in this tree
// uses for its argument/reply struct — the same "one opaque payload"
// shape the original framework's ad hoc services fell back to when no
// generated stub existed for a method.
func WriteJSONPayload(p codec.Protocol, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := p.WriteStructBegin("Payload"); err != nil {
		return err
	}
	if err := p.WriteFieldBegin("payload", codec.TypeBinary, 1); err != nil {
		return err
	}
	if err := p.WriteBinary(payload); err != nil {
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

// ReadJSONPayload reads the struct WriteJSONPayload produced and
// json.Unmarshals its binary field into out.
func ReadJSONPayload(p codec.Protocol, out any) error {
	payload, err := ReadPayloadField(p)
	if err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	return json.Unmarshal(payload, out)
}

// ReadPayloadField reads the raw bytes of field id 1 from a struct in
// the WriteJSONPayload shape, without assuming its content is JSON —
// used by handlers that want the bytes before deciding how to decode
// them.
func ReadPayloadField(p codec.Protocol) ([]byte, error) {
	if _, err := p.ReadStructBegin(); err != nil {
		return nil, err
	}
	var payload []byte
	for {
		_, typeID, id, err := p.ReadFieldBegin()
		if err != nil {
			return nil, err
		}
		if typeID == codec.TypeStop {
			break
		}
		if id == 1 && typeID == codec.TypeBinary {
			v, err := p.ReadBinary()
			if err != nil {
				return nil, err
			}
			payload = v
		}
		if err := p.ReadFieldEnd(); err != nil {
			return nil, err
		}
	}
	if err := p.ReadStructEnd(); err != nil {
		return nil, err
	}
	return payload, nil
}
