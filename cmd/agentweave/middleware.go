package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/BaSui01/agentweave/api/handlers"
	"github.com/BaSui01/agentweave/config"
	"github.com/BaSui01/agentweave/internal/metrics"
	"github.com/BaSui01/agentweave/internal/telemetry"
	"github.com/BaSui01/agentweave/types"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// requestIDKey is the context key for the request ID.
type requestIDKey struct{}

// RequestIDFromContext extracts the request ID from the context.
// Returns an empty string if no request ID is present.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

// Middleware 类型定义
type Middleware func(http.Handler) http.Handler

// Chain 将多个中间件串联，第一个中间件位于最外层
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// publicPaths 不需要身份认证的路径
var publicPaths = []string{"/health", "/healthz", "/ready", "/readyz", "/version"}

// Recovery panic 恢复中间件
func Recovery(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}
					logger.Error("panic recovered",
						zap.Any("error", err),
						zap.String("path", r.URL.Path),
						zap.String("request_id", RequestIDFromContext(r.Context())),
						zap.Stack("stack"),
					)
					handlers.WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, "internal server error", nil)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger 访问日志；5xx 记为 error，4xx 记为 warn
func RequestLogger(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r)

			level := zapcore.InfoLevel
			switch {
			case rw.StatusCode >= http.StatusInternalServerError:
				level = zapcore.ErrorLevel
			case rw.StatusCode >= http.StatusBadRequest:
				level = zapcore.WarnLevel
			}
			ce := logger.Check(level, "request")
			if ce == nil {
				return
			}

			ctx := r.Context()
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rw.StatusCode),
				zap.Int64("bytes", rw.Size),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("request_id", RequestIDFromContext(ctx)),
			}
			if ownerID, ok := types.OwnerID(ctx); ok {
				fields = append(fields, zap.String("owner_id", ownerID))
			}
			if traceID, ok := types.TraceID(ctx); ok {
				fields = append(fields, zap.String("trace_id", traceID))
			}
			ce.Write(fields...)
		})
	}
}

// =============================================================================
// 📊 MetricsMiddleware
// =============================================================================

// MetricsMiddleware records HTTP request duration, status, and response size via
// the provided metrics.Collector. Path labels are normalized to avoid
// high-cardinality Prometheus time series.
func MetricsMiddleware(collector *metrics.Collector) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := handlers.NewResponseWriter(w)

			next.ServeHTTP(rw, r)

			collector.RecordHTTPRequest(
				r.Method,
				normalizePath(r.URL.Path),
				rw.StatusCode,
				time.Since(start),
				rw.Size,
			)
		})
	}
}

// pathSegmentPattern matches path segments that look like dynamic identifiers:
// UUIDs, hex strings (8+ chars), numeric IDs, or workflow IDs.
var pathSegmentPattern = regexp.MustCompile(
	`^[0-9a-fA-F]{8,}(-[0-9a-fA-F]{4,}){0,4}$|^[0-9]+$|_[0-9]{10,}_[0-9a-f]{12}$`,
)

const workflowsPrefix = "/v1/workflows/"

// normalizePath replaces dynamic path segments with ":id" to keep Prometheus
// label cardinality bounded. For example:
//
//	/v1/workflows/alice_1712345678901_0123456789ab/execute -> /v1/workflows/:id/execute
//	/v1/workflows -> /v1/workflows (unchanged)
func normalizePath(path string) string {
	switch path {
	case "/health", "/healthz", "/ready", "/readyz", "/version", "/metrics", "/v1/workflows":
		return path
	}

	// 工作流 ID 由用户 ID 拼接而成，格式不可预测，按位置替换
	if rest, ok := strings.CutPrefix(path, workflowsPrefix); ok && rest != "" {
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			return workflowsPrefix + ":id" + rest[i:]
		}
		return workflowsPrefix + ":id"
	}

	segments := strings.Split(path, "/")
	normalized := false
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		if pathSegmentPattern.MatchString(seg) {
			segments[i] = ":id"
			normalized = true
		}
	}
	if !normalized {
		return path
	}
	return strings.Join(segments, "/")
}

// =============================================================================
// 🔭 OTelTracing
// =============================================================================

// OTelTracing creates a server span for each HTTP request. Incoming trace
// context is extracted from the request headers and the trace ID is stored on
// the request context for log correlation.
func OTelTracing() Middleware {
	tracer := otel.Tracer("github.com/BaSui01/agentweave/http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := telemetry.ExtractHTTP(r.Context(), r.Header)

			ctx, span := tracer.Start(ctx, r.Method+" "+normalizePath(r.URL.Path),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			if sc := span.SpanContext(); sc.HasTraceID() {
				ctx = types.WithTraceID(ctx, sc.TraceID().String())
			}

			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r.WithContext(ctx))

			span.SetAttributes(attribute.Int("http.response.status_code", rw.StatusCode))
			if rw.StatusCode >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(rw.StatusCode))
			}
		})
	}
}

// =============================================================================
// 🔐 OwnerAuth
// =============================================================================

// OwnerAuth 确定请求所属用户并写入 types.WithOwnerID
//
// 启用认证时校验 Authorization: Bearer 中的 HS256 JWT，sub 即用户 ID；
// 未启用时直接读取 cfg.OwnerHeader 指定的请求头。publicPaths 跳过认证。
func OwnerAuth(cfg config.AuthConfig, logger *zap.Logger) Middleware {
	skipSet := make(map[string]struct{}, len(publicPaths))
	for _, p := range publicPaths {
		skipSet[p] = struct{}{}
	}

	resolve := headerOwner(cfg.OwnerHeader)
	if cfg.Enabled {
		resolve = jwtOwner(cfg, logger)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, skip := skipSet[r.URL.Path]; skip {
				next.ServeHTTP(w, r)
				return
			}
			ownerID, err := resolve(r)
			if err != nil {
				handlers.WriteErrorMessage(w, http.StatusUnauthorized, types.ErrUnauthorized, err.Error(), logger)
				return
			}
			next.ServeHTTP(w, r.WithContext(types.WithOwnerID(r.Context(), ownerID)))
		})
	}
}

type ownerResolver func(r *http.Request) (string, error)

func headerOwner(header string) ownerResolver {
	return func(r *http.Request) (string, error) {
		ownerID := strings.TrimSpace(r.Header.Get(header))
		if ownerID == "" {
			return "", fmt.Errorf("missing %s header", header)
		}
		return ownerID, nil
	}
}

func jwtOwner(cfg config.AuthConfig, logger *zap.Logger) ownerResolver {
	secret := []byte(cfg.JWTSecret)

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(cfg.Audience))
	}
	keyFunc := func(*jwt.Token) (any, error) { return secret, nil }

	return func(r *http.Request) (string, error) {
		tokenStr, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || tokenStr == "" {
			return "", errors.New("missing or malformed Authorization header")
		}

		claims := &jwt.RegisteredClaims{}
		if _, err := jwt.ParseWithClaims(tokenStr, claims, keyFunc, parserOpts...); err != nil {
			logger.Debug("JWT validation failed", zap.Error(err))
			return "", errors.New("invalid or expired token")
		}
		if claims.Subject == "" {
			return "", errors.New("token has no subject")
		}
		return claims.Subject, nil
	}
}

// =============================================================================
// 📏 请求体
// =============================================================================

// MaxBodyBytes 限制请求体大小，n <= 0 时不限制
func MaxBodyBytes(n int64) Middleware {
	return func(next http.Handler) http.Handler {
		if n <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil && r.Body != http.NoBody {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// =============================================================================
// 🌐 CORS / RequestID / SecurityHeaders
// =============================================================================

// CORS 跨域中间件
// allowedOrigins 为空时不设置 CORS 头，跨域预检请求返回 403。
func CORS(allowedOrigins []string, ownerHeader string) Middleware {
	originSet := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = struct{}{}
	}
	allowHeaders := "Content-Type, Authorization, X-Request-ID"
	if ownerHeader != "" {
		allowHeaders += ", " + ownerHeader
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if len(originSet) == 0 {
				if origin != "" && r.Method == http.MethodOptions {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			if _, ok := originSet[origin]; ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", allowHeaders)
				w.Header().Set("Access-Control-Max-Age", "86400")
				w.Header().Add("Vary", "Origin")
			}
			if r.Method == http.MethodOptions && origin != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID adds a unique request ID to each request via the X-Request-ID header
// and injects it into the request context. If the client already provides one,
// it is preserved.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(handlers.HeaderRequestID)
			if id == "" || len(id) > 128 {
				id = generateRequestID()
			}
			w.Header().Set(handlers.HeaderRequestID, id)
			ctx := context.WithValue(r.Context(), requestIDKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SecurityHeaders adds common security response headers to every request.
func SecurityHeaders() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Set("X-XSS-Protection", "1; mode=block")
			w.Header().Set("Content-Security-Policy", "default-src 'self'")
			next.ServeHTTP(w, r)
		})
	}
}

func generateRequestID() string {
	return "req-" + uuid.NewString()
}
