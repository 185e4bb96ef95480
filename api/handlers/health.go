package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// 🏥 健康检查 Handler
// =============================================================================

const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"

	checkPass = "pass"
	checkFail = "fail"

	// 就绪检查的最大并发数
	maxConcurrentChecks = 8
)

// HealthCheck 依赖检查
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// RunningCounter 报告正在执行的工作流数量，*workflow.ExecutionGuard 满足该接口
type RunningCounter interface {
	Len() int
}

// HealthStatus 健康状态响应
//
// Status 取值 healthy / degraded / unhealthy。可选依赖失败时为 degraded，
// 仍返回 200；关键依赖失败时为 unhealthy，返回 503。
type HealthStatus struct {
	Status           string                 `json:"status"`
	Timestamp        time.Time              `json:"timestamp"`
	Version          string                 `json:"version,omitempty"`
	Uptime           string                 `json:"uptime,omitempty"`
	RunningWorkflows *int                   `json:"running_workflows,omitempty"`
	Checks           map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单个检查结果
type CheckResult struct {
	Status   string `json:"status"`
	Critical bool   `json:"critical"`
	Message  string `json:"message,omitempty"`
	Latency  string `json:"latency,omitempty"`
}

type registeredCheck struct {
	check    HealthCheck
	critical bool
}

// HealthHandler 存活、就绪与版本接口
type HealthHandler struct {
	logger  *zap.Logger
	version string
	timeout time.Duration
	started time.Time
	running RunningCounter

	mu     sync.RWMutex
	checks []registeredCheck
}

// NewHealthHandler 创建健康检查处理器，单次就绪检查默认超时 5 秒
func NewHealthHandler(version string, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		logger:  logger.With(zap.String("component", "health")),
		version: version,
		timeout: 5 * time.Second,
		started: time.Now(),
	}
}

// WithRunningCounter 在健康状态中报告正在执行的工作流数量
func (h *HealthHandler) WithRunningCounter(rc RunningCounter) *HealthHandler {
	h.running = rc
	return h
}

// WithTimeout 设置就绪检查超时
func (h *HealthHandler) WithTimeout(d time.Duration) *HealthHandler {
	if d > 0 {
		h.timeout = d
	}
	return h
}

// RegisterCheck 注册关键依赖检查，失败时服务不可用
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.register(check, true)
}

// RegisterOptionalCheck 注册可选依赖检查，失败时服务降级但仍就绪
func (h *HealthHandler) RegisterOptionalCheck(check HealthCheck) {
	h.register(check, false)
}

func (h *HealthHandler) register(check HealthCheck, critical bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, registeredCheck{check: check, critical: critical})
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleHealth 处理 /health 请求
// @Summary 健康检查
// @Description 进程存活状态、运行时长与正在执行的工作流数量
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus "服务正常"
// @Router /health [get]
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := h.baseStatus()
	status.Uptime = time.Since(h.started).Round(time.Second).String()
	WriteJSON(w, http.StatusOK, status)
}

// HandleHealthz 处理 /healthz 请求（Kubernetes 存活探针）
// @Summary Kubernetes 存活探针
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus "服务处于活动状态"
// @Router /healthz [get]
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{Status: statusHealthy, Timestamp: time.Now()})
}

// HandleReady 处理 /ready 请求，并发执行所有依赖检查
// @Summary 就绪检查
// @Description 检查工作流存储、Redis 等依赖是否可用
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus "服务已就绪（可能降级）"
// @Failure 503 {object} HealthStatus "关键依赖不可用"
// @Router /ready [get]
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	h.mu.RLock()
	checks := make([]registeredCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	results := make([]CheckResult, len(checks))
	var g errgroup.Group
	g.SetLimit(maxConcurrentChecks)
	for i, rc := range checks {
		g.Go(func() error {
			results[i] = h.run(ctx, rc)
			return nil
		})
	}
	_ = g.Wait()

	status := h.baseStatus()
	status.Checks = make(map[string]CheckResult, len(checks))
	code := http.StatusOK
	for i, rc := range checks {
		res := results[i]
		status.Checks[rc.check.Name()] = res
		if res.Status == checkPass {
			continue
		}
		if res.Critical {
			status.Status = statusUnhealthy
			code = http.StatusServiceUnavailable
		} else if status.Status == statusHealthy {
			status.Status = statusDegraded
		}
	}
	WriteJSON(w, code, status)
}

func (h *HealthHandler) run(ctx context.Context, rc registeredCheck) CheckResult {
	start := time.Now()
	err := rc.check.Check(ctx)
	latency := time.Since(start)

	res := CheckResult{Status: checkPass, Critical: rc.critical, Latency: latency.String()}
	if err != nil {
		res.Status = checkFail
		res.Message = err.Error()
		h.logger.Warn("readiness check failed",
			zap.String("check", rc.check.Name()),
			zap.Bool("critical", rc.critical),
			zap.Duration("latency", latency),
			zap.Error(err),
		)
	}
	return res
}

func (h *HealthHandler) baseStatus() HealthStatus {
	status := HealthStatus{Status: statusHealthy, Timestamp: time.Now(), Version: h.version}
	if h.running != nil {
		n := h.running.Len()
		status.RunningWorkflows = &n
	}
	return status
}

// HandleVersion 处理 /version 请求
// @Summary 版本信息
// @Tags 健康
// @Produce json
// @Success 200 {object} map[string]string "版本信息"
// @Router /version [get]
func (h *HealthHandler) HandleVersion(buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, map[string]string{
			"version":    h.version,
			"build_time": buildTime,
			"git_commit": gitCommit,
		})
	}
}

// =============================================================================
// 🔧 PingCheck
// =============================================================================

// PingCheck 把 Ping 函数包装为 HealthCheck（数据库、Redis 等）
type PingCheck struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingCheck 创建 ping 检查
func NewPingCheck(name string, ping func(ctx context.Context) error) *PingCheck {
	return &PingCheck{name: name, ping: ping}
}

func (c *PingCheck) Name() string { return c.name }

func (c *PingCheck) Check(ctx context.Context) error { return c.ping(ctx) }
