package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BaSui01/agentweave/internal/telemetry"
	"github.com/BaSui01/agentweave/internal/tlsutil"
	"github.com/BaSui01/agentweave/types"
	"github.com/BaSui01/agentweave/workflow"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// =============================================================================
// 🤖 HTTP Agent 调用
// =============================================================================

const tracerName = "github.com/BaSui01/agentweave/internal/runner"

// Config HTTP 调用配置
type Config struct {
	// Agent 服务地址
	Endpoint string
	// 单次调用超时，0 表示只受 ctx 约束
	Timeout time.Duration
	// 每秒调用数，0 表示不限
	RateLimitRPS float64
	// 突发调用数
	RateLimitBurst int
	// Bearer Token
	APIKey string
	// 响应体大小上限
	MaxResponseBytes int64
	// 到 Agent 服务的最大连接数
	MaxConnsPerHost int
	// 自定义 CA 与客户端证书
	TLS tlsutil.ClientFiles
}

// CallRecorder 接收每次调用的结果与耗时，internal/metrics.Collector 实现了该接口
type CallRecorder interface {
	RecordRunnerCall(status string, duration time.Duration)
}

// runRequest 是发送给 Agent 服务的请求体
type runRequest struct {
	OwnerID string `json:"owner_id"`
	workflow.RunContext
}

// HTTPRunner 通过 HTTP 调用远程 Agent 服务，实现 workflow.AgentRunner
//
//	POST {endpoint}/agents/{agent_ref}/run
type HTTPRunner struct {
	cfg      Config
	base     *url.URL
	client   *http.Client
	limiter  *rate.Limiter
	tracer   trace.Tracer
	recorder CallRecorder
	logger   *zap.Logger
}

// Option 自定义 HTTPRunner
type Option func(*HTTPRunner)

// WithHTTPClient 替换默认的 HTTP 客户端
func WithHTTPClient(c *http.Client) Option {
	return func(r *HTTPRunner) { r.client = c }
}

// WithRecorder 设置调用指标记录器
func WithRecorder(rec CallRecorder) Option {
	return func(r *HTTPRunner) { r.recorder = rec }
}

// New 创建 HTTP 调用器
func New(cfg Config, logger *zap.Logger, opts ...Option) (*HTTPRunner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	base, err := url.Parse(strings.TrimRight(cfg.Endpoint, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("runner endpoint must be an absolute URL: %q", cfg.Endpoint)
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = 4 << 20
	}

	limit := rate.Inf
	if cfg.RateLimitRPS > 0 {
		limit = rate.Limit(cfg.RateLimitRPS)
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}

	tlsCfg, err := tlsutil.ClientTLSConfig(cfg.TLS)
	if err != nil {
		return nil, fmt.Errorf("runner tls: %w", err)
	}

	r := &HTTPRunner{
		cfg:  cfg,
		base: base,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: tlsutil.AgentTransport(tlsCfg, cfg.MaxConnsPerHost),
		},
		limiter: rate.NewLimiter(limit, burst),
		tracer:  otel.Tracer(tracerName),
		logger:  logger.With(zap.String("component", "http_runner")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Invoke implements workflow.AgentRunner.
func (r *HTTPRunner) Invoke(ctx context.Context, agentRef, ownerID string, rc workflow.RunContext) (resp *workflow.AgentRunResponse, err error) {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "agent.invoke",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("agent.ref", agentRef),
			attribute.String("workflow.id", rc.WorkflowID),
			attribute.String("workflow.node_id", rc.NodeID),
		),
	)
	defer func() {
		status := "success"
		switch {
		case err != nil:
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case !resp.Success || resp.Data == nil || !resp.Data.Success:
			status = "failure"
		}
		span.End()
		if r.recorder != nil {
			r.recorder.RecordRunnerCall(status, time.Since(start))
		}
	}()

	if err := r.limiter.Wait(ctx); err != nil {
		return nil, types.NewError(types.ErrRateLimited, "agent call rate limit wait aborted").
			WithCause(err).WithRetryable(true)
	}

	payload, err := json.Marshal(runRequest{OwnerID: ownerID, RunContext: rc})
	if err != nil {
		return nil, fmt.Errorf("marshal agent request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint(agentRef), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create agent request: %w", err)
	}
	r.buildHeaders(ctx, req, ownerID, rc)

	httpResp, err := r.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, types.NewError(types.ErrTimeout, "agent call timed out").WithCause(err).WithRetryable(true)
		}
		return nil, types.NewError(types.ErrUpstreamError, "agent service unreachable").WithCause(err).WithRetryable(true)
	}
	defer httpResp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", httpResp.StatusCode))

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, r.cfg.MaxResponseBytes+1))
	if err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "read agent response").WithCause(err).WithRetryable(true)
	}
	if int64(len(body)) > r.cfg.MaxResponseBytes {
		return nil, types.NewError(types.ErrUpstreamError,
			fmt.Sprintf("agent response exceeds %d bytes", r.cfg.MaxResponseBytes))
	}

	var out workflow.AgentRunResponse
	decodeErr := json.Unmarshal(body, &out)

	if httpResp.StatusCode >= 400 {
		// Agent 服务可能以统一响应体描述失败
		if decodeErr == nil && out.Error != "" {
			r.logger.Debug("agent returned failure",
				zap.String("agent_ref", agentRef),
				zap.Int("status", httpResp.StatusCode),
				zap.String("error", out.Error),
			)
			out.Success = false
			return &out, nil
		}
		return nil, mapHTTPError(httpResp.StatusCode, readErrorMessage(body), agentRef)
	}
	if decodeErr != nil {
		return nil, types.NewError(types.ErrUpstreamError, "invalid agent response").WithCause(decodeErr)
	}
	return &out, nil
}

func (r *HTTPRunner) endpoint(agentRef string) string {
	return r.base.String() + "/agents/" + url.PathEscape(agentRef) + "/run"
}

func (r *HTTPRunner) buildHeaders(ctx context.Context, req *http.Request, ownerID string, rc workflow.RunContext) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Owner-ID", ownerID)
	if rc.RunID != "" {
		req.Header.Set("X-Run-ID", rc.RunID)
	}
	if traceID, ok := types.TraceID(ctx); ok {
		req.Header.Set("X-Trace-ID", traceID)
	}
	if r.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	}
	telemetry.InjectHTTP(telemetry.WithRunBaggage(ctx, rc.WorkflowID, rc.NodeID, rc.RunID), req.Header)
}

// mapHTTPError 将 HTTP 状态码映射为带重试标记的 types.Error
func mapHTTPError(status int, msg, agentRef string) *types.Error {
	if msg == "" {
		msg = http.StatusText(status)
	}
	msg = fmt.Sprintf("agent %s: %s", agentRef, msg)

	switch {
	case status == http.StatusNotFound:
		return types.NewNotFoundError(msg)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return types.NewError(types.ErrUnauthorized, msg).WithHTTPStatus(http.StatusBadGateway)
	case status == http.StatusTooManyRequests:
		return types.NewError(types.ErrRateLimited, msg).WithHTTPStatus(status).WithRetryable(true)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return types.NewError(types.ErrTimeout, msg).WithHTTPStatus(http.StatusGatewayTimeout).WithRetryable(true)
	case status >= 500:
		return types.NewError(types.ErrUpstreamError, msg).WithHTTPStatus(http.StatusBadGateway).WithRetryable(true)
	default:
		return types.NewAgentExecutionError(msg)
	}
}

// readErrorMessage 尝试解析 {"error": "..."} 或 {"error": {"message": "..."}}，失败则回退到原始文本
func readErrorMessage(body []byte) string {
	var flat struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &flat); err == nil {
		if flat.Error != "" {
			return flat.Error
		}
		if flat.Message != "" {
			return flat.Message
		}
	}

	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &nested); err == nil && nested.Error.Message != "" {
		return nested.Error.Message
	}
	return strings.TrimSpace(string(body))
}
