package core

import (
	"errors"
	"fmt"
)

// Code is a machine-checkable error category carried across the dispatch
// boundary and surfaced to consumers.
type Code string

const (
	CodeInvalidAlgorithm Code = "invalid_algorithm"
	CodePayloadTooLarge  Code = "payload_too_large"
	CodeMalformedPayload Code = "malformed_payload"
	CodeUnknownOperation Code = "unknown_operation"
	CodeUnavailable      Code = "unavailable"
	CodeTimeout          Code = "timeout"
	CodeCancelled        Code = "cancelled"
	CodeBackpressure     Code = "backpressure"
	CodeInternal         Code = "internal"
)

// Error is the error type shared by the bridge, the worker contexts and the
// consumers. It is also the wire form of a failure response.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// Sentinel errors. Match them with errors.Is; any *Error with the same code
// matches regardless of its message.
var (
	ErrInvalidAlgorithm = &Error{Code: CodeInvalidAlgorithm, Message: "invalid algorithm"}
	ErrPayloadTooLarge  = &Error{Code: CodePayloadTooLarge, Message: "payload too large"}
	ErrMalformedPayload = &Error{Code: CodeMalformedPayload, Message: "malformed payload"}
	ErrUnknownOperation = &Error{Code: CodeUnknownOperation, Message: "unknown operation"}
	ErrUnavailable      = &Error{Code: CodeUnavailable, Message: "computation unavailable"}
	ErrTimeout          = &Error{Code: CodeTimeout, Message: "request timeout"}
	ErrCancelled        = &Error{Code: CodeCancelled, Message: "request cancelled"}
	ErrBackpressure     = &Error{Code: CodeBackpressure, Message: "worker queue is full"}
	ErrInternal         = &Error{Code: CodeInternal, Message: "internal error"}
)

// NewError builds an *Error with a formatted message.
func NewError(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	return e.Message
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// CodeOf returns the code of the first *Error in err's chain, or
// CodeInternal when there is none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// AsError converts any error into an *Error, keeping the code of a wrapped
// *Error and the full message of err.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Message == err.Error() {
			return e
		}
		return &Error{Code: e.Code, Message: err.Error()}
	}
	return &Error{Code: CodeInternal, Message: err.Error()}
}
