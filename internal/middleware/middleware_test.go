package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/scenario-steal/internal/config"
	"github.com/iliyamo/scenario-steal/internal/model"
)

func sign(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func serve(t *testing.T, mw []echo.MiddlewareFunc, token string) (*httptest.ResponseRecorder, echo.Context) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/scenarios/7/steal", nil)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/v1/scenarios/:id/steal")

	h := func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	require.NoError(t, h(c))
	return rec, c
}

func TestJWTAuth(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()

	rec, c := serve(t, []echo.MiddlewareFunc{JWTAuth("s3")}, sign(t, "s3", jwt.MapClaims{"sub": 42, "role": "user", "exp": exp}))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, int64(42), c.Get(ContextUserID))
	assert.Equal(t, model.RoleUser, c.Get(ContextRole))

	rec, c = serve(t, []echo.MiddlewareFunc{JWTAuth("s3")}, sign(t, "s3", jwt.MapClaims{"sub": "43", "role": "ADMIN", "exp": exp}))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, int64(43), c.Get(ContextUserID))

	cases := map[string]string{
		"missing":      "",
		"wrong secret": sign(t, "other", jwt.MapClaims{"sub": 42, "exp": exp}),
		"expired":      sign(t, "s3", jwt.MapClaims{"sub": 42, "exp": time.Now().Add(-time.Minute).Unix()}),
		"no subject":   sign(t, "s3", jwt.MapClaims{"role": "USER", "exp": exp}),
		"bad subject":  sign(t, "s3", jwt.MapClaims{"sub": "alice", "exp": exp}),
	}
	for name, tok := range cases {
		rec, _ := serve(t, []echo.MiddlewareFunc{JWTAuth("s3")}, tok)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, name)
	}
}

func TestRequireRole(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()
	chain := []echo.MiddlewareFunc{JWTAuth("s3"), RequireRole(model.RoleModerator, model.RoleAdmin)}

	rec, _ := serve(t, chain, sign(t, "s3", jwt.MapClaims{"sub": 1, "role": "MODERATOR", "exp": exp}))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, _ = serve(t, chain, sign(t, "s3", jwt.MapClaims{"sub": 1, "role": "USER", "exp": exp}))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = serve(t, chain, sign(t, "s3", jwt.MapClaims{"sub": 1, "exp": exp}))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRateKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/scenarios/7/steal", nil)
	req.Header.Set(echo.HeaderXRealIP, "10.0.0.1")
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/v1/scenarios/:id/steal")

	cfg := config.RateLimitConfig{Prefix: "rl", KeyStrategy: "user_route"}
	assert.Equal(t, "rl:user:anon:route:POST /v1/scenarios/:id/steal", rateKey(cfg, c))

	c.Set(ContextUserID, int64(1001))
	assert.Equal(t, "rl:user:1001:route:POST /v1/scenarios/:id/steal", rateKey(cfg, c))

	cfg.KeyStrategy = "ip_user_route"
	assert.Equal(t, "rl:ip:10.0.0.1:user:1001:route:POST /v1/scenarios/:id/steal", rateKey(cfg, c))
}

func TestDisabledMiddlewarePassThrough(t *testing.T) {
	limiter := NewTokenBucket(config.RateLimitConfig{Enabled: true}, nil, nil)
	var nilCache *HistoryCache
	rec, _ := serve(t, []echo.MiddlewareFunc{limiter, nilCache.Middleware()}, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))

	// no redis client: invalidation is a no-op
	NewHistoryCache(config.CacheConfig{Enabled: true}, nil, nil).Invalidate(context.Background(), 7)
}

func TestHistoryPayloadRoundTrip(t *testing.T) {
	hdr := http.Header{"Content-Type": {"application/json"}}
	bs, err := encodePayload(http.StatusOK, hdr, []byte(`{"history":[]}`))
	require.NoError(t, err)

	status, got, body, ok := decodePayload(bs)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "application/json", got.Get("Content-Type"))
	assert.Equal(t, `{"history":[]}`, string(body))

	_, _, _, ok = decodePayload(bs[:5])
	assert.False(t, ok)
	assert.Equal(t, "cache:scenario:7:history", HistoryKey("cache", 7))
}
