package web

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/fluxorio/fluxtools/pkg/app"
	"github.com/fluxorio/fluxtools/pkg/catalog"
	"github.com/fluxorio/fluxtools/pkg/config"
	"github.com/fluxorio/fluxtools/pkg/core"
	"github.com/fluxorio/fluxtools/pkg/diff"
	"github.com/fluxorio/fluxtools/pkg/hash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

const abcSHA256 = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"

func newAPI(t *testing.T, mutate func(*config.Config)) (*testClient, *app.Services) {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(&cfg)
	}
	svc, err := app.New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	s := NewServer(DefaultServerConfig(""))
	api := &API{
		Hash:    svc.Hash,
		Diff:    svc.Diff,
		Catalog: svc.Catalog,
		Bridges: svc.Bridges(),
		Metrics: func(rc *fasthttp.RequestCtx) { rc.SetBodyString("# metrics") },
	}
	api.Register(s.Router())
	return startServer(t, s), svc
}

func TestAPI_HashText(t *testing.T) {
	c, _ := newAPI(t, nil)

	tests := []struct {
		name      string
		body      string
		status    int
		hash      string
		algorithm hash.Algorithm
		code      core.Code
	}{
		{"default algorithm", `{"text":"abc"}`, fasthttp.StatusOK, abcSHA256, hash.SHA256, ""},
		{"md5", `{"text":"abc","algorithm":"md5"}`, fasthttp.StatusOK, "900150983cd24fb0d6963f7d28e17f72", hash.MD5, ""},
		{"unknown algorithm", `{"text":"abc","algorithm":"CRC32"}`, fasthttp.StatusBadRequest, "", "", core.CodeInvalidAlgorithm},
		{"malformed body", `{"text":`, fasthttp.StatusBadRequest, "", "", core.CodeMalformedPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := c.do(fasthttp.MethodPost, "/api/v1/hash/text", []byte(tt.body))
			require.Equal(t, tt.status, resp.StatusCode(), string(resp.Body()))
			if tt.code != "" {
				assert.Equal(t, tt.code, decodeError(t, resp).Code)
				return
			}
			var res hash.Result
			require.NoError(t, json.Unmarshal(resp.Body(), &res))
			assert.Equal(t, tt.hash, res.Hash)
			assert.Equal(t, tt.algorithm, res.Algorithm)
		})
	}
}

func TestAPI_HashFile(t *testing.T) {
	c, _ := newAPI(t, func(cfg *config.Config) { cfg.Hash.MaxFileBytes = 8 })

	resp := c.do(fasthttp.MethodPost, "/api/v1/hash/file?algorithm=SHA-256", []byte("abc"))
	require.Equal(t, fasthttp.StatusOK, resp.StatusCode())
	var res hash.Result
	require.NoError(t, json.Unmarshal(resp.Body(), &res))
	assert.Equal(t, abcSHA256, res.Hash)

	resp = c.do(fasthttp.MethodPost, "/api/v1/hash/file", []byte("more than eight bytes"))
	assert.Equal(t, fasthttp.StatusRequestEntityTooLarge, resp.StatusCode())
	assert.Equal(t, core.CodePayloadTooLarge, decodeError(t, resp).Code)
}

func TestAPI_Diff(t *testing.T) {
	c, _ := newAPI(t, nil)

	resp := c.do(fasthttp.MethodPost, "/api/v1/diff", []byte(`{"original":"a\nb\n","modified":"a\nc\n","unified":true}`))
	require.Equal(t, fasthttp.StatusOK, resp.StatusCode(), string(resp.Body()))

	var res diff.Result
	require.NoError(t, json.Unmarshal(resp.Body(), &res))
	assert.Equal(t, 1, res.Stats.LinesAdded)
	assert.Equal(t, 1, res.Stats.LinesRemoved)
	assert.Contains(t, res.Unified, "-b")
	assert.Contains(t, res.Unified, "+c")
}

func TestAPI_Catalog(t *testing.T) {
	c, svc := newAPI(t, nil)

	resp := c.do(fasthttp.MethodGet, "/api/v1/tools", nil)
	require.Equal(t, fasthttp.StatusOK, resp.StatusCode())
	var all toolsResponse
	require.NoError(t, json.Unmarshal(resp.Body(), &all))
	assert.Equal(t, svc.Catalog.Len(), all.Count)

	resp = c.do(fasthttp.MethodGet, "/api/v1/tools?q=checksum", nil)
	var found toolsResponse
	require.NoError(t, json.Unmarshal(resp.Body(), &found))
	require.NotZero(t, found.Count)
	for _, e := range found.Tools {
		assert.True(t, strings.Contains(strings.ToLower(e.ID+e.Name+e.Description+strings.Join(e.Tags, " ")), "checksum"), e.ID)
	}

	resp = c.do(fasthttp.MethodGet, "/api/v1/tools?category=reference", nil)
	var refs toolsResponse
	require.NoError(t, json.Unmarshal(resp.Body(), &refs))
	require.NotZero(t, refs.Count)
	for _, e := range refs.Tools {
		assert.Equal(t, catalog.CategoryReference, e.Category)
	}

	resp = c.do(fasthttp.MethodGet, "/api/v1/tools?q=no-such-tool-anywhere", nil)
	assert.JSONEq(t, `{"tools":[],"count":0}`, string(resp.Body()))

	resp = c.do(fasthttp.MethodGet, "/api/v1/tools/diff-checker", nil)
	require.Equal(t, fasthttp.StatusOK, resp.StatusCode())
	var entry catalog.Entry
	require.NoError(t, json.Unmarshal(resp.Body(), &entry))
	assert.Equal(t, "diff-checker", entry.ID)

	resp = c.do(fasthttp.MethodGet, "/api/v1/tools/missing", nil)
	assert.Equal(t, fasthttp.StatusNotFound, resp.StatusCode())
	assert.Equal(t, CodeNotFound, decodeError(t, resp).Code)

	resp = c.do(fasthttp.MethodGet, "/api/v1/categories", nil)
	var byCategory map[string][]catalog.Entry
	require.NoError(t, json.Unmarshal(resp.Body(), &byCategory))
	assert.Len(t, byCategory, len(svc.Catalog.Categories()))
}

func TestAPI_Health(t *testing.T) {
	c, svc := newAPI(t, nil)

	resp := c.do(fasthttp.MethodGet, "/healthz", nil)
	require.Equal(t, fasthttp.StatusOK, resp.StatusCode())
	var h healthResponse
	require.NoError(t, json.Unmarshal(resp.Body(), &h))
	assert.Equal(t, "ok", h.Status)
	assert.Len(t, h.Bridges, 2)

	resp = c.do(fasthttp.MethodGet, "/metrics", nil)
	assert.Equal(t, "# metrics", string(resp.Body()))

	require.NoError(t, svc.Close())
	resp = c.do(fasthttp.MethodGet, "/healthz", nil)
	assert.Equal(t, fasthttp.StatusServiceUnavailable, resp.StatusCode())

	resp = c.do(fasthttp.MethodPost, "/api/v1/hash/text", []byte(`{"text":"abc"}`))
	assert.Equal(t, fasthttp.StatusServiceUnavailable, resp.StatusCode())
	assert.Equal(t, core.CodeUnavailable, decodeError(t, resp).Code)
}
