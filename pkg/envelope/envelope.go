// Package envelope defines the messages that cross the boundary between the
// dispatch bridge and a worker execution context.
//
// A Request carries a correlation id, a closed Operation tag and a JSON
// payload. Exactly one Response with the same correlation id answers it,
// either with a result payload (StatusOK) or with a *core.Error
// (StatusError).
package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/fluxorio/fluxtools/pkg/core"
)

// Family groups the operations served by one kind of worker.
type Family string

const (
	FamilyHash Family = "hash"
	FamilyDiff Family = "diff"
)

// Operation identifies the computation a request asks for.
type Operation string

const (
	OpHashText    Operation = "hash.text"
	OpHashFile    Operation = "hash.file"
	OpDiffCompare Operation = "diff.compare"
)

var operationFamilies = map[Operation]Family{
	OpHashText:    FamilyHash,
	OpHashFile:    FamilyHash,
	OpDiffCompare: FamilyDiff,
}

// Operations returns every known operation.
func Operations() []Operation {
	return []Operation{OpHashText, OpHashFile, OpDiffCompare}
}

// Valid reports whether o is one of the known operations.
func (o Operation) Valid() bool {
	_, ok := operationFamilies[o]
	return ok
}

// Family returns the family serving o, or "" for unknown operations.
func (o Operation) Family() Family {
	return operationFamilies[o]
}

// ParseOperation validates a wire tag.
func ParseOperation(s string) (Operation, error) {
	op := Operation(s)
	if !op.Valid() {
		return "", core.NewError(core.CodeUnknownOperation, "unknown operation %q", s)
	}
	return op, nil
}

// Status marks a response as success or failure.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Request is a request envelope.
type Request struct {
	CorrelationID string          `json:"correlationId"`
	Operation     Operation       `json:"operation"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// Response is a response envelope. Error is set only when Status is
// StatusError.
type Response struct {
	CorrelationID string          `json:"correlationId"`
	Operation     Operation       `json:"operation"`
	Status        Status          `json:"status"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Error         *core.Error     `json:"error,omitempty"`
}

// NewRequest encodes payload and builds a request envelope.
func NewRequest(id string, op Operation, payload interface{}) (Request, error) {
	data, err := encodePayload(payload)
	if err != nil {
		return Request{}, err
	}
	return Request{CorrelationID: id, Operation: op, Payload: data}, nil
}

// Succeed builds the success response for req by encoding result.
// An encoding failure yields an internal failure response instead.
func Succeed(req Request, result interface{}) Response {
	data, err := encodePayload(result)
	if err != nil {
		return Fail(req, core.NewError(core.CodeInternal, "encode result: %v", err))
	}
	return Response{
		CorrelationID: req.CorrelationID,
		Operation:     req.Operation,
		Status:        StatusOK,
		Payload:       data,
	}
}

// Fail builds the failure response for req.
func Fail(req Request, err error) Response {
	return Response{
		CorrelationID: req.CorrelationID,
		Operation:     req.Operation,
		Status:        StatusError,
		Error:         core.AsError(err),
	}
}

// OK reports whether the response is a success.
func (r Response) OK() bool {
	return r.Status == StatusOK
}

// Err returns the response error, or nil for successes.
func (r Response) Err() error {
	if r.OK() {
		return nil
	}
	if r.Error == nil {
		return core.NewError(core.CodeInternal, "failure response without error")
	}
	return r.Error
}

func encodePayload(v interface{}) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, core.NewError(core.CodeMalformedPayload, "encode payload: %v", err)
	}
	return data, nil
}

// DecodePayload decodes a request or response payload into v.
func DecodePayload(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return core.NewError(core.CodeMalformedPayload, "missing payload")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return core.NewError(core.CodeMalformedPayload, "decode payload: %v", err)
	}
	return nil
}

func (r Request) String() string {
	return fmt.Sprintf("request{%s %s}", r.Operation, r.CorrelationID)
}

func (r Response) String() string {
	return fmt.Sprintf("response{%s %s %s}", r.Operation, r.CorrelationID, r.Status)
}
