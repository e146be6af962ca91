package message

import "github.com/tencent/pebble/codec"

// Exception is the wire shape of an RpcException: a numeric error
// code from the errs taxonomy (or an application-defined positive
// code) plus a human-readable message. It is written and read as an
// ordinary two-field struct, so it rides over whichever codec the
// connection negotiated.
type Exception struct {
	Code    int32
	Message string
}

func (e Exception) Error() string { return e.Message }

func WriteException(p codec.Protocol, e Exception) error {
	if err := p.WriteStructBegin("RpcException"); err != nil {
		return err
	}
	if err := p.WriteFieldBegin("error_code", codec.TypeI32, 1); err != nil {
		return err
	}
	if err := p.WriteI32(e.Code); err != nil {
		return err
	}
	if err := p.WriteFieldEnd(); err != nil {
		return err
	}
	if err := p.WriteFieldBegin("message", codec.TypeString, 2); err != nil {
		return err
	}
	if err := p.WriteString(e.Message); err != nil {
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

func ReadException(p codec.Protocol) (Exception, error) {
	if _, err := p.ReadStructBegin(); err != nil {
		return Exception{}, err
	}
	var e Exception
	for {
		_, typeID, id, err := p.ReadFieldBegin()
		if err != nil {
			return Exception{}, err
		}
		if typeID == codec.TypeStop {
			break
		}
		switch id {
		case 1:
			e.Code, err = p.ReadI32()
		case 2:
			e.Message, err = p.ReadString()
		}
		if err != nil {
			return Exception{}, err
		}
		if err := p.ReadFieldEnd(); err != nil {
			return Exception{}, err
		}
	}
	if err := p.ReadStructEnd(); err != nil {
		return Exception{}, err
	}
	return e, nil
}
