package auth

import (
	"testing"
	"time"

	"github.com/fluxorio/fluxtools/pkg/core"
	"github.com/fluxorio/fluxtools/pkg/web"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

const secret = "test-secret"

func serveWithJWT(t *testing.T, cfg JWTConfig, uri string, headers ...string) (*fasthttp.RequestCtx, string) {
	t.Helper()
	var subject string

	s := web.NewServer(web.DefaultServerConfig(""))
	s.Router().GET("/api/v1/tools", func(ctx *web.RequestContext) error {
		subject, _ = GetSubject(ctx, cfg.ClaimsKey)
		return ctx.Text(fasthttp.StatusOK, "ok")
	}, JWT(cfg))
	s.Router().GET("/api/v1/public", func(ctx *web.RequestContext) error {
		return ctx.Text(fasthttp.StatusOK, "public")
	}, JWT(cfg))

	rc := &fasthttp.RequestCtx{}
	rc.Request.SetRequestURI(uri)
	for i := 0; i+1 < len(headers); i += 2 {
		rc.Request.Header.Set(headers[i], headers[i+1])
	}
	s.Handler()(rc)
	return rc, subject
}

func token(t *testing.T, key, issuer string, expiresIn time.Duration) string {
	t.Helper()
	tok, err := NewJWTTokenGenerator([]byte(key), issuer).Generate("alice", expiresIn)
	require.NoError(t, err)
	return tok
}

func TestJWT(t *testing.T) {
	cfg := DefaultJWTConfig(secret)
	cfg.Issuer = "fluxtools"
	cfg.TokenQuery = "token"
	cfg.SkipPaths = []string{"/api/v1/public"}

	valid := token(t, secret, "fluxtools", time.Minute)

	tests := []struct {
		name    string
		uri     string
		headers []string
		status  int
		subject string
	}{
		{"bearer header", "/api/v1/tools", []string{"Authorization", "Bearer " + valid}, fasthttp.StatusOK, "alice"},
		{"query token", "/api/v1/tools?token=" + valid, nil, fasthttp.StatusOK, "alice"},
		{"missing", "/api/v1/tools", nil, fasthttp.StatusUnauthorized, ""},
		{"wrong scheme", "/api/v1/tools", []string{"Authorization", "Basic " + valid}, fasthttp.StatusUnauthorized, ""},
		{"wrong secret", "/api/v1/tools", []string{"Authorization", "Bearer " + token(t, "other", "fluxtools", time.Minute)}, fasthttp.StatusUnauthorized, ""},
		{"wrong issuer", "/api/v1/tools", []string{"Authorization", "Bearer " + token(t, secret, "someone", time.Minute)}, fasthttp.StatusUnauthorized, ""},
		{"expired", "/api/v1/tools", []string{"Authorization", "Bearer " + token(t, secret, "fluxtools", -time.Minute)}, fasthttp.StatusUnauthorized, ""},
		{"skipped path", "/api/v1/public", nil, fasthttp.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc, subject := serveWithJWT(t, cfg, tt.uri, tt.headers...)
			require.Equal(t, tt.status, rc.Response.StatusCode())
			assert.Equal(t, tt.subject, subject)
			if tt.status == fasthttp.StatusUnauthorized {
				assert.Contains(t, string(rc.Response.Header.Peek("WWW-Authenticate")), "Bearer")
				var body web.ErrorBody
				require.NoError(t, core.JSONDecode(rc.Response.Body(), &body))
				assert.Equal(t, CodeUnauthorized, body.Error.Code)
			}
		})
	}
}

func TestVerifierRejectsOtherAlgorithms(t *testing.T) {
	v := NewVerifier(DefaultJWTConfig(secret))

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{"sub": "alice"}).SignedString([]byte(secret))
	require.NoError(t, err)
	_, err = v.Verify(tok)
	assert.Error(t, err)

	tok, err = jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "alice"}).SignedString([]byte(secret))
	require.NoError(t, err)
	claims, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims["sub"])
}

func TestTokenFromHeader(t *testing.T) {
	tok, err := TokenFromHeader("Bearer abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	for _, h := range []string{"", "Bearer", "Bearer ", "Token abc"} {
		_, err := TokenFromHeader(h)
		assert.Error(t, err, h)
	}
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	assert.Panics(t, func() { NewVerifier(JWTConfig{}) })
}
