// Package errs defines Pebble's error taxonomy.
//
// Negative codes are framework-level, positive codes are returned by
// application service handlers, and 0 means success. The taxonomy
// mirrors pebble::rpc::ErrorInfo from the original C++ tree, renumbered
// sequentially instead of reusing the original's scattered constants.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code is a framework or application error code carried on the wire
// inside an RpcException.
type Code int32

const (
	Success Code = 0

	RpcTimeout             Code = -1
	ChannelClosed          Code = -2
	UnknownMethod          Code = -3
	MessageTypeError       Code = -4
	DecodeHeadFailed       Code = -5
	DecodeBodyFailed       Code = -6
	EncodeHeadFailed       Code = -7
	EncodeBodyFailed       Code = -8
	ServiceAlreadyExisted  Code = -9
	ServiceAddFailed       Code = -10
	InsufficientMemory     Code = -11
	BuffNotEnough          Code = -12
	SendFailed             Code = -13
	UnknownCodec           Code = -14
	MissingResult          Code = -15
	InvalidParam           Code = -16
	OtherException         Code = -17
	RateLimited            Code = -18
)

var names = map[Code]string{
	Success:               "no error",
	RpcTimeout:            "rpc timeout",
	ChannelClosed:         "channel closed",
	UnknownMethod:         "unknown method",
	MessageTypeError:      "message type error",
	DecodeHeadFailed:      "decode head failed",
	DecodeBodyFailed:      "decode body failed",
	EncodeHeadFailed:      "encode head failed",
	EncodeBodyFailed:      "encode body failed",
	ServiceAlreadyExisted: "service already existed",
	ServiceAddFailed:      "service add failed",
	InsufficientMemory:    "insufficient memory",
	BuffNotEnough:         "buffer not enough",
	SendFailed:            "send failed",
	UnknownCodec:          "unknown codec",
	MissingResult:         "rpc response missing result",
	InvalidParam:          "invalid parameter",
	OtherException:        "rpc internal exception",
	RateLimited:           "rate limit exceeded",
}

// String returns the human-readable description for a code, or
// "unknown error (<code>)" if the code isn't in the taxonomy (e.g. an
// application-defined positive code).
func (c Code) String() string {
	if s, ok := names[c]; ok {
		return s
	}
	return fmt.Sprintf("unknown error (%d)", int32(c))
}

// CodeError is an error carrying a wire-taxonomy code. It implements
// error and Unwrap so callers can still use errors.Is/As on the cause.
type CodeError struct {
	Code  Code
	Msg   string
	cause error
}

func (e *CodeError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return e.Code.String()
}

func (e *CodeError) Unwrap() error { return e.cause }

// New builds a CodeError with the taxonomy's default message for code.
func New(code Code) *CodeError {
	return &CodeError{Code: code, Msg: code.String()}
}

// Newf builds a CodeError with a custom formatted message.
func Newf(code Code, format string, args ...any) *CodeError {
	return &CodeError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a code, preserving err as the cause chain via
// github.com/pkg/errors so call-site stack context survives across the
// RPC core / session table / codec boundaries.
func Wrap(code Code, err error) *CodeError {
	if err == nil {
		return nil
	}
	wrapped := errors.Wrap(err, code.String())
	return &CodeError{Code: code, Msg: wrapped.Error(), cause: wrapped}
}

// Is reports whether err is a *CodeError carrying code.
func Is(err error, code Code) bool {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// CodeOf extracts the Code from err, or OtherException if err isn't a
// *CodeError.
func CodeOf(err error) Code {
	if err == nil {
		return Success
	}
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return OtherException
}
