package web

import (
	"github.com/fluxorio/fluxtools/pkg/core"
	"github.com/valyala/fasthttp"
)

// StatusClientClosedRequest is the non-standard status for requests the
// client gave up on.
const StatusClientClosedRequest = 499

// ErrorBody is the JSON shape of every API error.
type ErrorBody struct {
	Error core.Error `json:"error"`
}

// StatusFor maps an error code to its HTTP status.
func StatusFor(code core.Code) int {
	switch code {
	case core.CodeInvalidAlgorithm, core.CodeMalformedPayload, core.CodeUnknownOperation:
		return fasthttp.StatusBadRequest
	case core.CodePayloadTooLarge:
		return fasthttp.StatusRequestEntityTooLarge
	case core.CodeBackpressure:
		return fasthttp.StatusTooManyRequests
	case core.CodeUnavailable:
		return fasthttp.StatusServiceUnavailable
	case core.CodeTimeout:
		return fasthttp.StatusGatewayTimeout
	case core.CodeCancelled:
		return StatusClientClosedRequest
	}
	return fasthttp.StatusInternalServerError
}

// writeError writes an error envelope without a RequestContext.
func writeError(rc *fasthttp.RequestCtx, status int, code core.Code, message string) {
	data, err := core.JSONEncode(ErrorBody{Error: core.Error{Code: code, Message: message}})
	if err != nil {
		rc.Error(message, status)
		return
	}
	rc.SetStatusCode(status)
	rc.SetContentType("application/json")
	rc.SetBody(data)
}
