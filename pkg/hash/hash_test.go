package hash

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fluxorio/fluxtools/pkg/bridge"
	"github.com/fluxorio/fluxtools/pkg/core"
	"github.com/fluxorio/fluxtools/pkg/envelope"
	"github.com/fluxorio/fluxtools/pkg/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var abcDigests = map[Algorithm]string{
	MD5:        "900150983cd24fb0d6963f7d28e17f72",
	SHA1:       "a9993e364706816aba3e25717850c26c9cd0d89d",
	SHA256:     "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
	SHA512:     "ddaf35a193617abacc417349ae20413112e6fa4e89a97ea20a9eeee64b55d39a2192992a274fc1a836ba3c23a3feebbd454d4423643ce80e2a9ac94fa54ca49f",
	SHA3_256:   "3a985da74fe225b2045c172d6bd390bd855f086e3e9d525b46bfe24511431532",
	SHA3_512:   "b751850b1a57168a5693cd924b6b096e08f621827444f70d884f5d0240d2712e10e116e9192af3c91a7ec57647e3934057340b4cf408d5a56592f8274eec53f0",
	BLAKE2b256: "bddd813c634239723171ef3fee98579b94964e3bb1cb3e427262c8c068d52319",
	BLAKE2b512: "ba80a53f981c4d0d6a2797b69f12f6e94c212f14685ac4b74b12bb6fdbffa2d17d87c5392aab792dc252d5de4533cc9518d38aa8dbf1925ab92386edd4009923",
}

func newTestClient(t *testing.T, limits Limits) *Client {
	t.Helper()
	mux := worker.NewMux()
	RegisterHandlers(mux, limits)
	b := bridge.New(envelope.FamilyHash, worker.LocalFactory(mux, worker.DefaultLocalConfig("hash")), bridge.WithCallTimeout(5*time.Second))
	t.Cleanup(func() { _ = b.Stop() })
	return NewClient(b, limits)
}

func TestSum_ReferenceVectors(t *testing.T) {
	require.Len(t, abcDigests, len(Algorithms()))
	for alg, want := range abcDigests {
		got, err := Sum(alg, []byte("abc"))
		require.NoError(t, err, alg)
		assert.Equal(t, want, got, alg)
	}
}

func TestParseAlgorithm(t *testing.T) {
	tests := []struct {
		in   string
		want Algorithm
	}{
		{"SHA-256", SHA256},
		{"sha256", SHA256},
		{"Sha_512", SHA512},
		{"md5", MD5},
		{"sha-1", SHA1},
		{"sha3-256", SHA3_256},
		{"blake2b512", BLAKE2b512},
	}
	for _, tt := range tests {
		got, err := ParseAlgorithm(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	for _, bad := range []string{"", "CRC32", "sha-257", "-"} {
		_, err := ParseAlgorithm(bad)
		assert.ErrorIs(t, err, core.ErrInvalidAlgorithm, bad)
	}
}

func TestClient_HashText(t *testing.T) {
	c := newTestClient(t, DefaultLimits())
	ctx := context.Background()

	for alg, want := range abcDigests {
		res, err := c.HashText(ctx, "abc", alg).Await(ctx)
		require.NoError(t, err, alg)
		assert.Equal(t, want, res.Hash)
		assert.Equal(t, alg, res.Algorithm)
	}
}

func TestClient_HashFileMatchesHashText(t *testing.T) {
	c := newTestClient(t, DefaultLimits())
	ctx := context.Background()

	text, err := c.HashText(ctx, "Test file content", SHA256).Await(ctx)
	require.NoError(t, err)
	file, err := c.HashFile(ctx, []byte("Test file content"), SHA256).Await(ctx)
	require.NoError(t, err)

	assert.Equal(t, "6c76f7bd4b84eb68c26d2e8f48ea76f90b9bdf8836e27235a0ca4325f8fe4ce5", text.Hash)
	assert.Equal(t, text.Hash, file.Hash)
}

func TestClient_HashFileIsBinarySafe(t *testing.T) {
	c := newTestClient(t, DefaultLimits())
	ctx := context.Background()

	data := []byte{0x00, 0xff, 0xfe, 0x80, 0x0a, 0xc3, 0x28}
	want, err := Sum(SHA512, data)
	require.NoError(t, err)

	res, err := c.HashFile(ctx, data, SHA512).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, res.Hash)
}

func TestClient_ConcurrentCallsNoCrossTalk(t *testing.T) {
	c := newTestClient(t, DefaultLimits())
	ctx := context.Background()

	want := map[string]string{
		"A": "559aead08264d5795d3909718cdd05abd49572e84fe55590eef31a88a08fdffd",
		"B": "df7e70e5021544f4834bbee64a9e3789febc4be81470df629cad6ddb03320a5c",
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		for in, digest := range want {
			wg.Add(1)
			go func(in, digest string) {
				defer wg.Done()
				res, err := c.HashText(ctx, in, SHA256).Await(ctx)
				assert.NoError(t, err)
				assert.Equal(t, digest, res.Hash, "input %s", in)
			}(in, digest)
		}
	}
	wg.Wait()
}

func TestClient_SlowConsumerDoesNotDelayOthers(t *testing.T) {
	c := newTestClient(t, DefaultLimits())
	ctx := context.Background()

	release := make(chan struct{})
	defer close(release)
	entered := make(chan struct{})
	c.HashText(ctx, "A", SHA256).OnComplete(func(Result, error) {
		close(entered)
		<-release
	})
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first result never delivered")
	}

	start := time.Now()
	res, err := bridge.Wait(ctx, c.HashText(ctx, "B", SHA256))
	require.NoError(t, err)
	assert.Equal(t, "df7e70e5021544f4834bbee64a9e3789febc4be81470df629cad6ddb03320a5c", res.Hash)
	assert.Less(t, time.Since(start), time.Second)
}

func TestClient_InvalidAlgorithm(t *testing.T) {
	c := newTestClient(t, DefaultLimits())
	ctx := context.Background()

	_, err := c.HashText(ctx, "abc", "CRC32").Await(ctx)
	assert.ErrorIs(t, err, core.ErrInvalidAlgorithm)
	assert.Equal(t, core.CodeInvalidAlgorithm, core.CodeOf(err))
}

func TestClient_PayloadTooLarge(t *testing.T) {
	c := newTestClient(t, Limits{MaxTextBytes: 8, MaxFileBytes: 4})
	ctx := context.Background()

	_, err := c.HashText(ctx, strings.Repeat("x", 9), SHA256).Await(ctx)
	assert.ErrorIs(t, err, core.ErrPayloadTooLarge)

	_, err = c.HashFile(ctx, []byte("12345"), SHA256).Await(ctx)
	assert.ErrorIs(t, err, core.ErrPayloadTooLarge)

	_, err = c.HashText(ctx, strings.Repeat("x", 8), SHA256).Await(ctx)
	assert.NoError(t, err)
}

func TestHandlers_EnforceLimitsWorkerSide(t *testing.T) {
	mux := worker.NewMux()
	RegisterHandlers(mux, Limits{MaxTextBytes: 2})

	req, err := envelope.NewRequest("id", envelope.OpHashText, TextRequest{Text: "abc", Algorithm: "MD5"})
	require.NoError(t, err)
	resp, _ := mux.Dispatch(context.Background(), req)
	require.False(t, resp.OK())
	assert.Equal(t, core.CodePayloadTooLarge, resp.Error.Code)
}

func TestClient_UnavailableAfterStop(t *testing.T) {
	mux := worker.NewMux()
	RegisterHandlers(mux, DefaultLimits())
	b := bridge.New(envelope.FamilyHash, worker.LocalFactory(mux, worker.DefaultLocalConfig("hash")))
	c := NewClient(b, DefaultLimits())
	require.NoError(t, b.Stop())

	_, err := c.HashText(context.Background(), "abc", SHA256).Await(context.Background())
	assert.ErrorIs(t, err, core.ErrUnavailable)
}

func TestNewClient_RejectsWrongFamily(t *testing.T) {
	b := bridge.New(envelope.FamilyDiff, worker.LocalFactory(worker.NewMux(), worker.DefaultLocalConfig("diff")))
	assert.Panics(t, func() { NewClient(b, DefaultLimits()) })
}
