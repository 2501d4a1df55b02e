// Package auth verifies HS256 bearer tokens on API routes.
package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/fluxorio/fluxtools/pkg/core"
	"github.com/fluxorio/fluxtools/pkg/core/failfast"
	"github.com/fluxorio/fluxtools/pkg/web"
	"github.com/golang-jwt/jwt/v5"
	"github.com/valyala/fasthttp"
)

// CodeUnauthorized is the error code of rejected credentials.
const CodeUnauthorized core.Code = "unauthorized"

// JWTConfig configures JWT authentication
type JWTConfig struct {
	// SecretKey signs and verifies HS256 tokens
	SecretKey string

	// Issuer requires a matching `iss` claim when set.
	Issuer string

	// Audience requires a matching `aud` claim when set.
	Audience []string

	// Leeway allows small clock skew for exp/nbf/iat validation.
	Leeway time.Duration

	// ClaimsKey is the request value holding the verified claims
	ClaimsKey string

	// TokenQuery, when set, also accepts the token in this query parameter
	// (browsers cannot set headers on WebSocket upgrades).
	TokenQuery string

	// SkipPaths are path prefixes served without a token
	SkipPaths []string
}

// DefaultJWTConfig returns a default JWT configuration
func DefaultJWTConfig(secretKey string) JWTConfig {
	return JWTConfig{
		SecretKey: secretKey,
		ClaimsKey: "claims",
	}
}

// Verifier checks tokens against a JWTConfig. It is shared by the HTTP
// middleware and the WebSocket gateway.
type Verifier struct {
	config  JWTConfig
	options []jwt.ParserOption
}

// NewVerifier validates config and builds the parser options.
func NewVerifier(config JWTConfig) *Verifier {
	failfast.If(config.SecretKey != "", "JWT: SecretKey must be provided")
	if config.ClaimsKey == "" {
		config.ClaimsKey = "claims"
	}

	options := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(config.Leeway))
	}
	if config.Issuer != "" {
		options = append(options, jwt.WithIssuer(config.Issuer))
	}
	if len(config.Audience) > 0 {
		options = append(options, jwt.WithAudience(config.Audience...))
	}
	return &Verifier{config: config, options: options}
}

// Verify parses tokenString and returns its claims.
func (v *Verifier) Verify(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, jwt.MapClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return []byte(v.config.SecretKey), nil
	}, v.options...)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("token is not valid")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// TokenFromHeader extracts the token of an "Authorization: Bearer" value.
func TokenFromHeader(header string) (string, error) {
	if header == "" {
		return "", fmt.Errorf("authorization header missing")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", fmt.Errorf("invalid authorization header format")
	}
	return token, nil
}

// JWT middleware validates bearer tokens and stores the claims under
// config.ClaimsKey.
func JWT(config JWTConfig) web.Middleware {
	v := NewVerifier(config)

	return func(next web.Handler) web.Handler {
		return func(ctx *web.RequestContext) error {
			path := ctx.Path()
			for _, skip := range v.config.SkipPaths {
				if strings.HasPrefix(path, skip) {
					return next(ctx)
				}
			}

			tokenString, err := TokenFromHeader(string(ctx.RequestCtx.Request.Header.Peek("Authorization")))
			if err != nil && v.config.TokenQuery != "" {
				if q := ctx.Query(v.config.TokenQuery); q != "" {
					tokenString, err = q, nil
				}
			}
			if err != nil {
				return unauthorized(ctx)
			}

			claims, err := v.Verify(tokenString)
			if err != nil {
				return unauthorized(ctx)
			}
			ctx.Set(v.config.ClaimsKey, claims)
			return next(ctx)
		}
	}
}

// unauthorized does not reflect the verification error to the caller.
func unauthorized(ctx *web.RequestContext) error {
	ctx.RequestCtx.Response.Header.Set("WWW-Authenticate", `Bearer realm="fluxtools", error="invalid_token"`)
	return ctx.JSON(fasthttp.StatusUnauthorized, web.ErrorBody{Error: core.Error{Code: CodeUnauthorized, Message: "invalid or missing token"}})
}

// GetClaims extracts JWT claims from request context
func GetClaims(ctx *web.RequestContext, key string) (jwt.MapClaims, error) {
	claims, ok := ctx.Get(key).(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("claims not found in context")
	}
	return claims, nil
}

// GetSubject returns the `sub` claim
func GetSubject(ctx *web.RequestContext, key string) (string, error) {
	claims, err := GetClaims(ctx, key)
	if err != nil {
		return "", err
	}
	return claims.GetSubject()
}

// JWTTokenGenerator generates JWT tokens
type JWTTokenGenerator struct {
	secret []byte
	issuer string
}

// NewJWTTokenGenerator creates a new JWT token generator
func NewJWTTokenGenerator(secret []byte, issuer string) *JWTTokenGenerator {
	return &JWTTokenGenerator{secret: secret, issuer: issuer}
}

// Generate signs an HS256 token for subject valid for expiresIn.
func (g *JWTTokenGenerator) Generate(subject string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    g.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}
