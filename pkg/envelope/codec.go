package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/fluxorio/fluxtools/pkg/core"
)

// EncodeRequest serializes a request for transports that cross a process
// boundary.
func EncodeRequest(r Request) ([]byte, error) {
	if r.CorrelationID == "" {
		return nil, fmt.Errorf("request without correlation id")
	}
	return json.Marshal(r)
}

// DecodeRequest parses a request envelope. The operation is not validated
// here; the worker answers unknown operations with a failure response.
func DecodeRequest(data []byte) (Request, error) {
	var r Request
	if err := json.Unmarshal(data, &r); err != nil {
		return Request{}, fmt.Errorf("decode request: %w", err)
	}
	if r.CorrelationID == "" {
		return Request{}, fmt.Errorf("decode request: missing correlation id")
	}
	return r, nil
}

// EncodeResponse serializes a response envelope.
func EncodeResponse(r Response) ([]byte, error) {
	if r.CorrelationID == "" {
		return nil, fmt.Errorf("response without correlation id")
	}
	return json.Marshal(r)
}

// DecodeResponse parses and validates a response envelope.
func DecodeResponse(data []byte) (Response, error) {
	var r Response
	if err := json.Unmarshal(data, &r); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	if r.CorrelationID == "" {
		return Response{}, fmt.Errorf("decode response: missing correlation id")
	}
	switch r.Status {
	case StatusOK:
		r.Error = nil
	case StatusError:
		if r.Error == nil {
			r.Error = core.NewError(core.CodeInternal, "failure response without error")
		}
	default:
		return Response{}, fmt.Errorf("decode response: invalid status %q", r.Status)
	}
	return r, nil
}
