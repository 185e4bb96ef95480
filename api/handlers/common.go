package handlers

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net"
	"net/http"
	"time"

	"github.com/BaSui01/agentweave/types"
	"go.uber.org/zap"
)

const (
	// maxJSONBodyBytes 单个 JSON 请求体上限
	maxJSONBodyBytes = 1 << 20

	// HeaderRequestID 请求 ID 响应头，由中间件写入，响应信封回显同一个值
	HeaderRequestID = "X-Request-ID"
)

// =============================================================================
// 📦 通用响应结构
// =============================================================================

// Response 统一 API 响应结构
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo 错误信息结构
//
// Details 只在 4xx 时携带底层原因（如 JSON 解析位置），5xx 的原因只记日志。
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// =============================================================================
// 🎯 响应辅助函数
// =============================================================================

// WriteJSON 写入 JSON 响应
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)

	// 编码失败时响应头已写出，无法再补救
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess 写入成功响应
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

// WriteSuccessStatus 以指定状态码写入成功响应
func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	WriteJSON(w, status, envelope(w, true, data, nil))
}

func envelope(w http.ResponseWriter, success bool, data any, info *ErrorInfo) Response {
	return Response{
		Success:   success,
		Data:      data,
		Error:     info,
		Timestamp: time.Now(),
		RequestID: w.Header().Get(HeaderRequestID),
	}
}

// WriteError 写入错误响应（从 types.Error）
func WriteError(w http.ResponseWriter, err *types.Error, logger *zap.Logger) {
	status := err.HTTPStatus
	if status == 0 {
		status = mapErrorCodeToHTTPStatus(err.Code)
	}

	info := &ErrorInfo{
		Code:      string(err.Code),
		Message:   err.Message,
		Retryable: err.Retryable,
	}
	if err.Cause != nil && status < http.StatusInternalServerError {
		info.Details = err.Cause.Error()
	}

	if logger != nil {
		fields := []zap.Field{
			zap.String("code", string(err.Code)),
			zap.String("message", err.Message),
			zap.Int("status", status),
			zap.Bool("retryable", err.Retryable),
			zap.String("request_id", w.Header().Get(HeaderRequestID)),
		}
		if err.Cause != nil {
			fields = append(fields, zap.Error(err.Cause))
		}
		// 4xx 属于调用方问题，不按错误级别记录
		if status >= http.StatusInternalServerError {
			logger.Error("API error", fields...)
		} else {
			logger.Debug("API error", fields...)
		}
	}

	WriteJSON(w, status, envelope(w, false, nil, info))
}

// WriteErrorMessage 写入简单错误消息
func WriteErrorMessage(w http.ResponseWriter, status int, code types.ErrorCode, message string, logger *zap.Logger) {
	err := types.NewError(code, message).WithHTTPStatus(status)
	WriteError(w, err, logger)
}

// WriteAnyError 写入任意 error，非 types.Error 按内部错误处理
func WriteAnyError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if te, ok := types.AsError(err); ok {
		WriteError(w, te, logger)
		return
	}
	WriteError(w, types.NewInternalError("internal server error").WithCause(err), logger)
}

// =============================================================================
// 🔄 错误码到 HTTP 状态码映射
// =============================================================================

var statusByCode = map[types.ErrorCode]int{
	types.ErrInvalidRequest:      http.StatusBadRequest,
	types.ErrValidation:          http.StatusBadRequest,
	types.ErrUnauthorized:        http.StatusUnauthorized,
	types.ErrAccessDenied:        http.StatusForbidden,
	types.ErrNotFound:            http.StatusNotFound,
	types.ErrAlreadyRunning:      http.StatusConflict,
	types.ErrConditionEvaluation: http.StatusUnprocessableEntity,
	types.ErrRateLimited:         http.StatusTooManyRequests,
	types.ErrAgentExecution:      http.StatusBadGateway,
	types.ErrUpstreamError:       http.StatusBadGateway,
	types.ErrServiceUnavailable:  http.StatusServiceUnavailable,
	types.ErrTimeout:             http.StatusGatewayTimeout,
}

// mapErrorCodeToHTTPStatus 未登记的错误码一律按 500 处理
func mapErrorCodeToHTTPStatus(code types.ErrorCode) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// =============================================================================
// 🛡️ 请求验证辅助函数
// =============================================================================

// DecodeJSONBody 解码 JSON 请求体，空请求体视为错误
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) error {
	if r.Body == nil || r.Body == http.NoBody {
		err := types.NewError(types.ErrInvalidRequest, "request body is empty").WithHTTPStatus(http.StatusBadRequest)
		WriteError(w, err, logger)
		return err
	}

	if err := decodeJSON(w, r, dst); err != nil {
		WriteError(w, err, logger)
		return err
	}
	return nil
}

// decodeJSON 严格解码单个 JSON 值：拒绝未知字段与尾随内容，空请求体返回 io.EOF 包装的错误
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) *types.Error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		return decodeError(err)
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			err = errors.New("unexpected data after JSON value")
		}
		return decodeError(err)
	}
	return nil
}

func decodeError(err error) *types.Error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return types.NewError(types.ErrInvalidRequest, "request body too large").
			WithCause(err).
			WithHTTPStatus(http.StatusRequestEntityTooLarge)
	}
	return types.NewError(types.ErrInvalidRequest, "invalid JSON body").
		WithCause(err).
		WithHTTPStatus(http.StatusBadRequest)
}

// isEmptyBody 判断解码错误是否由空请求体导致
func isEmptyBody(err *types.Error) bool {
	return err != nil && errors.Is(err.Cause, io.EOF)
}

// ValidateContentType 验证 Content-Type
func ValidateContentType(w http.ResponseWriter, r *http.Request, logger *zap.Logger) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		err := types.NewError(types.ErrInvalidRequest, "Content-Type must be application/json").
			WithHTTPStatus(http.StatusUnsupportedMediaType)
		WriteError(w, err, logger)
		return false
	}
	return true
}

// =============================================================================
// 📊 响应包装器（用于捕获状态码）
// =============================================================================

// ResponseWriter 包装 http.ResponseWriter 以捕获状态码与响应大小
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode int
	Written    bool
	Size       int64
}

// NewResponseWriter 创建新的 ResponseWriter
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
	}
}

// WriteHeader 重写 WriteHeader 以捕获状态码
func (rw *ResponseWriter) WriteHeader(code int) {
	if !rw.Written {
		rw.StatusCode = code
		rw.Written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

// Write 重写 Write 以标记已写入
func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if !rw.Written {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.Size += int64(n)
	return n, err
}

// Unwrap 暴露底层 ResponseWriter，供 http.ResponseController 与 WebSocket 升级使用
func (rw *ResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Hijack 支持 WebSocket 升级
func (rw *ResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("underlying ResponseWriter does not support hijacking")
	}
	rw.Written = true
	return hj.Hijack()
}

// Flush 转发到底层 Flusher
func (rw *ResponseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
