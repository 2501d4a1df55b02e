package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/fluxorio/fluxtools/pkg/core"
	"github.com/fluxorio/fluxtools/pkg/envelope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoRequest struct {
	Text string `json:"text"`
}

type echoResult struct {
	Hash string `json:"hash"`
}

func echoMux() *Mux {
	mux := NewMux()
	mux.Handle(envelope.OpHashText, Typed(func(_ context.Context, req echoRequest) (echoResult, error) {
		return echoResult{Hash: "h:" + req.Text}, nil
	}))
	return mux
}

func request(t *testing.T, id string, op envelope.Operation, payload interface{}) envelope.Request {
	t.Helper()
	req, err := envelope.NewRequest(id, op, payload)
	require.NoError(t, err)
	return req
}

func TestMux_DispatchSuccess(t *testing.T) {
	resp, fatal := echoMux().Dispatch(context.Background(), request(t, "c1", envelope.OpHashText, echoRequest{Text: "A"}))
	require.NoError(t, fatal)
	require.True(t, resp.OK())
	assert.Equal(t, "c1", resp.CorrelationID)

	var out echoResult
	require.NoError(t, json.Unmarshal(resp.Payload, &out))
	assert.Equal(t, "h:A", out.Hash)
}

func TestMux_UnknownOperation(t *testing.T) {
	resp, fatal := echoMux().Dispatch(context.Background(), envelope.Request{CorrelationID: "c2", Operation: "format.json"})
	require.NoError(t, fatal)
	assert.False(t, resp.OK())
	assert.Equal(t, core.CodeUnknownOperation, resp.Error.Code)
}

func TestMux_MalformedPayload(t *testing.T) {
	req := envelope.Request{CorrelationID: "c3", Operation: envelope.OpHashText, Payload: json.RawMessage(`{"text":`)}
	resp, _ := echoMux().Dispatch(context.Background(), req)
	assert.Equal(t, core.CodeMalformedPayload, resp.Error.Code)
}

func TestMux_PanicBecomesInternalFailure(t *testing.T) {
	mux := NewMux()
	mux.HandleFunc(envelope.OpDiffCompare, func(context.Context, json.RawMessage) (interface{}, error) {
		panic("index out of range")
	})

	resp, fatal := mux.Dispatch(context.Background(), envelope.Request{CorrelationID: "c4", Operation: envelope.OpDiffCompare})
	require.NoError(t, fatal)
	assert.Equal(t, core.CodeInternal, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "index out of range")
}

func TestMux_FatalError(t *testing.T) {
	mux := NewMux()
	mux.HandleFunc(envelope.OpHashFile, func(context.Context, json.RawMessage) (interface{}, error) {
		return nil, ErrFatal
	})

	resp, fatal := mux.Dispatch(context.Background(), envelope.Request{CorrelationID: "c5", Operation: envelope.OpHashFile})
	assert.ErrorIs(t, fatal, ErrFatal)
	assert.False(t, resp.OK())
}

func TestMux_ClassifiesContextErrors(t *testing.T) {
	mux := NewMux()
	mux.HandleFunc(envelope.OpHashText, func(ctx context.Context, _ json.RawMessage) (interface{}, error) {
		return nil, context.DeadlineExceeded
	})
	mux.HandleFunc(envelope.OpHashFile, func(ctx context.Context, _ json.RawMessage) (interface{}, error) {
		return nil, context.Canceled
	})

	resp, _ := mux.Dispatch(context.Background(), envelope.Request{CorrelationID: "c6", Operation: envelope.OpHashText})
	assert.Equal(t, core.CodeTimeout, resp.Error.Code)

	resp, _ = mux.Dispatch(context.Background(), envelope.Request{CorrelationID: "c7", Operation: envelope.OpHashFile})
	assert.Equal(t, core.CodeCancelled, resp.Error.Code)
}

func TestMux_PlainErrorIsInternal(t *testing.T) {
	mux := NewMux()
	mux.HandleFunc(envelope.OpHashText, func(context.Context, json.RawMessage) (interface{}, error) {
		return nil, errors.New("disk on fire")
	})

	resp, _ := mux.Dispatch(context.Background(), envelope.Request{CorrelationID: "c8", Operation: envelope.OpHashText})
	assert.Equal(t, core.CodeInternal, resp.Error.Code)
	assert.Equal(t, "disk on fire", resp.Error.Message)
}

func TestMux_RegistrationFailsFast(t *testing.T) {
	mux := echoMux()

	assert.Panics(t, func() { mux.Handle(envelope.OpHashText, HandlerFunc(nil)) })
	assert.Panics(t, func() { mux.Handle("format.json", echoMux().handlers[envelope.OpHashText]) })
	assert.Panics(t, func() {
		mux.HandleFunc(envelope.OpHashText, func(context.Context, json.RawMessage) (interface{}, error) { return nil, nil })
	})
	assert.Equal(t, []envelope.Operation{envelope.OpHashText}, mux.Operations())
}
