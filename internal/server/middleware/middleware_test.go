package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func principalEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := PrincipalFrom(r.Context())
		if p.Admin {
			w.Header().Set("X-Admin", "1")
		}
		_, _ = io.WriteString(w, p.Subject)
	})
}

func do(h http.Handler, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuthDisabled(t *testing.T) {
	rec := do(Auth(AuthConfig{})(principalEcho()), http.MethodPost, "/api/listings", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-Admin"))
}

func TestAuthAPIKey(t *testing.T) {
	h := Auth(AuthConfig{APIKey: "k"})(principalEcho())

	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodPost, "/x", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodPost, "/x", map[string]string{"X-API-Key": "nope"}).Code)

	rec := do(h, http.MethodPost, "/x", map[string]string{"X-API-Key": "k"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-Admin"))
}

func TestAuthJWT(t *testing.T) {
	h := Auth(AuthConfig{JWTSecret: secret, PublicPaths: []string{"/api/health"}})(principalEcho())
	sub := "0x1111111111111111111111111111111111111111"

	tok := signed(t, jwt.MapClaims{"sub": sub, "exp": time.Now().Add(time.Hour).Unix()})
	rec := do(h, http.MethodPost, "/x", map[string]string{"Authorization": "Bearer " + tok})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, sub, rec.Body.String())
	assert.Empty(t, rec.Header().Get("X-Admin"))

	admin := signed(t, jwt.MapClaims{"sub": sub, "role": "admin", "exp": time.Now().Add(time.Hour).Unix()})
	rec = do(h, http.MethodPost, "/x", map[string]string{"Authorization": "Bearer " + admin})
	assert.Equal(t, "1", rec.Header().Get("X-Admin"))

	expired := signed(t, jwt.MapClaims{"sub": sub, "exp": time.Now().Add(-time.Hour).Unix()})
	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodPost, "/x", map[string]string{"Authorization": "Bearer " + expired}).Code)

	noExp := signed(t, jwt.MapClaims{"sub": sub})
	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodPost, "/x", map[string]string{"Authorization": "Bearer " + noExp}).Code)

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/health", nil).Code)
}

func TestAuthPublicReads(t *testing.T) {
	h := Auth(AuthConfig{APIKey: "k", PublicReads: true})(principalEcho())
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/listings", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodPost, "/api/listings", nil).Code)
}

func TestRequireAdmin(t *testing.T) {
	h := RequireAdmin(principalEcho())
	assert.Equal(t, http.StatusForbidden, do(h, http.MethodPost, "/x", nil).Code)

	req := WithPrincipalRequest(httptest.NewRequest(http.MethodPost, "/x", nil), Principal{Admin: true})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLocalLimiter(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	l := NewLocalLimiter(time.Minute)
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(context.Background(), "k", 3, time.Second)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := l.Allow(context.Background(), "k", 3, time.Second)
	assert.False(t, ok)
	ok, _ = l.Allow(context.Background(), "other", 3, time.Second)
	assert.True(t, ok)

	now = now.Add(time.Second)
	ok, _ = l.Allow(context.Background(), "k", 3, time.Second)
	assert.True(t, ok)
}

type errLimiter struct{}

func (errLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, errors.New("redis down")
}

func TestRateLimitMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := RateLimit(NewLocalLimiter(time.Minute), 1, time.Minute, logger)(principalEcho())

	headers := map[string]string{"X-Forwarded-For": "10.0.0.1"}
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/x", headers).Code)
	rec := do(h, http.MethodGet, "/x", headers)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	open := RateLimit(errLimiter{}, 1, time.Minute, logger)(principalEcho())
	assert.Equal(t, http.StatusOK, do(open, http.MethodGet, "/x", nil).Code)
}

func TestCORSPreflight(t *testing.T) {
	h := CORS([]string{"https://app.example"})(principalEcho())
	rec := do(h, http.MethodOptions, "/x", map[string]string{"Origin": "https://app.example"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(h, http.MethodGet, "/x", map[string]string{"Origin": "https://evil.example"})
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestLoggingRequestID(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var seen string
	h := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFrom(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/listings", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	const inbound = "6f1c2a1e-8b1d-4d8e-9a57-3a0f1f0b2c11"
	req := httptest.NewRequest(http.MethodGet, "/api/listings", nil)
	req.Header.Set(RequestIDHeader, inbound)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, inbound, rec.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/api/listings", nil)
	req.Header.Set(RequestIDHeader, "not a uuid\n")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.NotEqual(t, "not a uuid\n", rec.Header().Get(RequestIDHeader))
}
