package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/BaSui01/agentweave/api/handlers"
	"github.com/BaSui01/agentweave/config"
	"github.com/BaSui01/agentweave/types"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// ownerEcho 返回上下文中的用户 ID
func ownerEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner, _ := types.OwnerID(r.Context())
		_, _ = w.Write([]byte(owner))
	})
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) handlers.Response {
	t.Helper()
	var resp handlers.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders()(okHandler())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "1; mode=block", w.Header().Get("X-XSS-Protection"))
	assert.Equal(t, "default-src 'self'", w.Header().Get("Content-Security-Policy"))
}

func TestSecurityHeaders_ChainedWithOtherMiddleware(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, RequestIDFromContext(r.Context()))
		w.Write([]byte("ok"))
	})

	handler := Chain(inner, SecurityHeaders(), RequestID())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestChain_Order(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	Chain(okHandler(), mark("outer"), mark("inner")).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestRequestID_PreservesClientValue(t *testing.T) {
	var seen string
	handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, "client-123", seen)
	assert.Equal(t, "client-123", w.Header().Get("X-Request-ID"))
	assert.Empty(t, RequestIDFromContext(context.Background()))
}

func TestRecovery(t *testing.T) {
	handler := Recovery(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/workflows", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	resp := decodeEnvelope(t, w)
	assert.False(t, resp.Success)
	assert.Equal(t, string(types.ErrInternalError), resp.Error.Code)
}

func TestRequestLogger_LevelByStatus(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	status := http.StatusOK
	handler := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}), RequestID(), RequestLogger(zap.New(core)))

	for _, status = range []int{http.StatusOK, http.StatusNotFound, http.StatusBadGateway} {
		r := httptest.NewRequest(http.MethodGet, "/v1/workflows", nil)
		r = r.WithContext(types.WithOwnerID(r.Context(), "alice"))
		handler.ServeHTTP(httptest.NewRecorder(), r)
	}

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	fields := entries[2].ContextMap()
	assert.Equal(t, int64(http.StatusBadGateway), fields["status"])
	assert.Equal(t, "alice", fields["owner_id"])
	assert.Contains(t, fields["request_id"], "req-")
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/health", "/health"},
		{"/v1/workflows", "/v1/workflows"},
		{"/v1/workflows/alice_1712345678901_0123456789ab", "/v1/workflows/:id"},
		{"/v1/workflows/bob.smith_1712345678901_0123456789ab/execute", "/v1/workflows/:id/execute"},
		{"/v1/workflows/anything/runs", "/v1/workflows/:id/runs"},
		{"/v1/other/12345", "/v1/other/:id"},
		{"/v1/other/550e8400-e29b-41d4-a716-446655440000", "/v1/other/:id"},
		{"/v1/other/static", "/v1/other/static"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizePath(tt.path))
		})
	}
}

func TestOwnerAuth_Header(t *testing.T) {
	handler := OwnerAuth(config.DefaultAuthConfig(), zap.NewNop())(ownerEcho())

	t.Run("owner from header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/v1/workflows", nil)
		r.Header.Set("X-Owner-ID", "alice")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "alice", w.Body.String())
	})

	t.Run("missing header", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/workflows", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, string(types.ErrUnauthorized), decodeEnvelope(t, w).Error.Code)
	})

	t.Run("public path", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Body.String())
	})
}

func signToken(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestOwnerAuth_JWT(t *testing.T) {
	cfg := config.AuthConfig{
		Enabled:     true,
		JWTSecret:   "test-secret",
		Issuer:      "agentweave-tests",
		OwnerHeader: "X-Owner-ID",
	}
	handler := OwnerAuth(cfg, zap.NewNop())(ownerEcho())

	valid := jwt.RegisteredClaims{
		Subject:   "alice",
		Issuer:    "agentweave-tests",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantOwner  string
	}{
		{name: "valid token", header: "Bearer " + signToken(t, "test-secret", valid), wantStatus: http.StatusOK, wantOwner: "alice"},
		{name: "missing header", header: "", wantStatus: http.StatusUnauthorized},
		{name: "not bearer", header: "Basic abc", wantStatus: http.StatusUnauthorized},
		{name: "wrong secret", header: "Bearer " + signToken(t, "other", valid), wantStatus: http.StatusUnauthorized},
		{
			name: "expired",
			header: "Bearer " + signToken(t, "test-secret", jwt.RegisteredClaims{
				Subject:   "alice",
				Issuer:    "agentweave-tests",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			}),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "wrong issuer",
			header: "Bearer " + signToken(t, "test-secret", jwt.RegisteredClaims{
				Subject:   "alice",
				Issuer:    "someone-else",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			}),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "no subject",
			header: "Bearer " + signToken(t, "test-secret", jwt.RegisteredClaims{
				Issuer:    "agentweave-tests",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			}),
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/v1/workflows", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			// 启用认证后请求头不再生效
			r.Header.Set("X-Owner-ID", "mallory")
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.wantOwner, w.Body.String())
			}
		})
	}
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := RateLimiter(ctx, 1, 2, zap.NewNop())(okHandler())

	send := func(owner, remote string) int {
		r := httptest.NewRequest(http.MethodGet, "/v1/workflows", nil)
		r.RemoteAddr = remote
		if owner != "" {
			r = r.WithContext(types.WithOwnerID(r.Context(), owner))
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send("alice", "10.0.0.1:1000"))
	assert.Equal(t, http.StatusOK, send("alice", "10.0.0.2:1000"))
	assert.Equal(t, http.StatusTooManyRequests, send("alice", "10.0.0.3:1000"), "same owner across addresses")

	assert.Equal(t, http.StatusOK, send("bob", "10.0.0.1:1000"), "owners are limited separately")

	assert.Equal(t, http.StatusOK, send("", "10.0.0.9:1000"))
	assert.Equal(t, http.StatusOK, send("", "10.0.0.9:2000"))
	assert.Equal(t, http.StatusTooManyRequests, send("", "10.0.0.9:3000"), "anonymous requests keyed by IP")
}

func TestRateLimiter_RetryAfter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := RateLimiter(ctx, 0.5, 1, zap.NewNop())(okHandler())

	send := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/workflows", nil))
		return w
	}
	require.Equal(t, http.StatusOK, send().Code)

	w := send()
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
	assert.Equal(t, string(types.ErrRateLimited), decodeEnvelope(t, w).Error.Code)
}

func TestClientLimiter(t *testing.T) {
	l := newClientLimiter(1, 0)
	now := time.Now()

	ok, _ := l.allow("ip:10.0.0.1", now)
	assert.True(t, ok, "burst is at least one")
	ok, wait := l.allow("ip:10.0.0.1", now)
	assert.False(t, ok)
	assert.InDelta(t, time.Second, wait, float64(10*time.Millisecond))

	ok, _ = l.allow("ip:10.0.0.1", now.Add(time.Second))
	assert.True(t, ok, "rejected requests do not consume tokens")

	l.allow("ip:10.0.0.2", now.Add(2*time.Minute))
	assert.Equal(t, 1, l.prune(now.Add(limiterIdleTTL+time.Second)))
}

func TestRateLimiter_Disabled(t *testing.T) {
	handler := RateLimiter(context.Background(), 0, 0, zap.NewNop())(okHandler())
	for i := 0; i < 50; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
}

func TestMaxBodyBytes(t *testing.T) {
	handler := MaxBodyBytes(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := handlers.DecodeJSONBody(w, r, &body, nil); err != nil {
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"input":"far too long"}`))
	r.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORS(t *testing.T) {
	handler := CORS([]string{"https://app.example.com"}, "X-Owner-ID")(okHandler())

	t.Run("allowed preflight", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodOptions, "/v1/workflows", nil)
		r.Header.Set("Origin", "https://app.example.com")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PATCH")
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-Owner-ID")
	})

	t.Run("unknown origin", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/v1/workflows", nil)
		r.Header.Set("Origin", "https://evil.example.com")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("no origins configured", func(t *testing.T) {
		closed := CORS(nil, "")(okHandler())
		r := httptest.NewRequest(http.MethodOptions, "/v1/workflows", nil)
		r.Header.Set("Origin", "https://app.example.com")
		w := httptest.NewRecorder()
		closed.ServeHTTP(w, r)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}
