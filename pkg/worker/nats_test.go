package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/fluxorio/fluxtools/pkg/core"
	"github.com/fluxorio/fluxtools/pkg/envelope"
	natssrv "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runTestNATSServer(t *testing.T) *natssrv.Server {
	t.Helper()

	s, err := natssrv.NewServer(&natssrv.Options{Port: -1})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	go s.Start()
	if !s.ReadyForConnections(5 * time.Second) {
		s.Shutdown()
		t.Fatalf("nats server not ready")
	}
	t.Cleanup(s.Shutdown)
	return s
}

func connect(t *testing.T, url string) *nats.Conn {
	t.Helper()
	nc, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

func TestNATSContext_StartWithoutWorker(t *testing.T) {
	s := runTestNATSServer(t)

	c := NewNATSContext(envelope.FamilyHash, NATSConfig{URL: s.ClientURL(), Prefix: "fluxtools.test", StartTimeout: 200 * time.Millisecond})
	err := c.Start(context.Background())
	assert.ErrorIs(t, err, core.ErrUnavailable)
}

func TestNATSContext_RoundTrip(t *testing.T) {
	s := runTestNATSServer(t)
	ctx := context.Background()

	svc, err := ServeNATS(ctx, connect(t, s.ClientURL()), envelope.FamilyHash, echoMux(), ServiceConfig{Prefix: "fluxtools.test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	c := NewNATSContext(envelope.FamilyHash, NATSConfig{URL: s.ClientURL(), Prefix: "fluxtools.test"})
	rec := newRecorder()
	rec.attach(c)
	require.NoError(t, c.Start(ctx))
	t.Cleanup(func() { _ = c.Stop() })

	for i := 0; i < 5; i++ {
		require.NoError(t, c.Send(request(t, fmt.Sprintf("id-%d", i), envelope.OpHashText, echoRequest{Text: fmt.Sprint(i)})))
	}

	seen := map[string]string{}
	for i := 0; i < 5; i++ {
		resp := rec.next(t)
		require.True(t, resp.OK(), "response %s failed: %v", resp.CorrelationID, resp.Err())
		var out echoResult
		require.NoError(t, json.Unmarshal(resp.Payload, &out))
		seen[resp.CorrelationID] = out.Hash
	}
	for i := 0; i < 5; i++ {
		assert.Equal(t, fmt.Sprintf("h:%d", i), seen[fmt.Sprintf("id-%d", i)])
	}
}

func TestNATSContext_FailureResponseCarriesCode(t *testing.T) {
	s := runTestNATSServer(t)
	ctx := context.Background()

	svc, err := ServeNATS(ctx, connect(t, s.ClientURL()), envelope.FamilyHash, echoMux(), ServiceConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	c := NewNATSContext(envelope.FamilyHash, NATSConfig{Conn: connect(t, s.ClientURL())})
	rec := newRecorder()
	rec.attach(c)
	require.NoError(t, c.Start(ctx))
	t.Cleanup(func() { _ = c.Stop() })

	require.NoError(t, c.Send(envelope.Request{CorrelationID: "bad", Operation: envelope.OpHashFile}))
	resp := rec.next(t)
	assert.Equal(t, core.CodeUnknownOperation, resp.Error.Code)
}

func TestNATSContext_HeartbeatDetectsLostWorker(t *testing.T) {
	s := runTestNATSServer(t)
	ctx := context.Background()

	svc, err := ServeNATS(ctx, connect(t, s.ClientURL()), envelope.FamilyDiff, echoMux(), ServiceConfig{})
	require.NoError(t, err)

	c := NewNATSContext(envelope.FamilyDiff, NATSConfig{
		URL:                 s.ClientURL(),
		Heartbeat:           50 * time.Millisecond,
		MaxMissedHeartbeats: 2,
	})
	rec := newRecorder()
	rec.attach(c)
	require.NoError(t, c.Start(ctx))
	t.Cleanup(func() { _ = c.Stop() })

	require.NoError(t, svc.Close())
	<-svc.Done()

	assert.ErrorIs(t, rec.fault(t), ErrWorkerLost)
	assert.ErrorIs(t, c.Send(envelope.Request{CorrelationID: "late", Operation: envelope.OpDiffCompare}), ErrContextDead)
}

func TestNATSService_FatalStopsService(t *testing.T) {
	s := runTestNATSServer(t)
	ctx := context.Background()

	mux := NewMux()
	mux.HandleFunc(envelope.OpHashText, func(context.Context, json.RawMessage) (interface{}, error) {
		return nil, ErrFatal
	})
	svc, err := ServeNATS(ctx, connect(t, s.ClientURL()), envelope.FamilyHash, mux, ServiceConfig{})
	require.NoError(t, err)

	c := NewNATSContext(envelope.FamilyHash, NATSConfig{URL: s.ClientURL()})
	rec := newRecorder()
	rec.attach(c)
	require.NoError(t, c.Start(ctx))
	t.Cleanup(func() { _ = c.Stop() })

	require.NoError(t, c.Send(envelope.Request{CorrelationID: "a", Operation: envelope.OpHashText}))
	assert.False(t, rec.next(t).OK())

	select {
	case <-svc.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop")
	}
	assert.ErrorIs(t, svc.Err(), ErrFatal)
}
