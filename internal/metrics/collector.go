// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"database/sql"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器，同时实现 workflow.MetricsRecorder
type Collector struct {
	registerer prometheus.Registerer
	namespace  string

	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 工作流指标
	workflowRunsTotal   *prometheus.CounterVec
	workflowRunDuration *prometheus.HistogramVec
	workflowsInFlight   prometheus.Gauge

	// 节点指标
	nodeRunsTotal   *prometheus.CounterVec
	nodeRunDuration *prometheus.HistogramVec
	nodeRetries     *prometheus.CounterVec

	// Agent 调用指标
	runnerCallsTotal   *prometheus.CounterVec
	runnerCallDuration *prometheus.HistogramVec

	// 存储指标
	storeOpsTotal   *prometheus.CounterVec
	storeOpDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器；reg 为 nil 时注册到默认 Registerer
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		registerer: reg,
		namespace:  namespace,
		logger:     logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	c.httpResponseSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 工作流指标
	c.workflowRunsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_runs_total",
			Help:      "Total number of workflow executions by outcome",
		},
		[]string{"status"},
	)
	c.workflowRunDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_run_duration_seconds",
			Help:      "Workflow execution duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		},
		[]string{"status"},
	)
	c.workflowsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workflows_in_flight",
			Help:      "Number of workflows currently executing",
		},
	)

	// 节点指标
	c.nodeRunsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_runs_total",
			Help:      "Total number of node executions by edge type and outcome",
		},
		[]string{"edge_type", "status"},
	)
	c.nodeRunDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_run_duration_seconds",
			Help:      "Node execution duration in seconds, retries included",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"edge_type"},
	)
	c.nodeRetries = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_retries_total",
			Help:      "Total number of node retry attempts",
		},
		[]string{"edge_type"},
	)

	// Agent 调用指标
	c.runnerCallsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runner_calls_total",
			Help:      "Total number of agent runner invocations",
		},
		[]string{"status"},
	)
	c.runnerCallDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "runner_call_duration_seconds",
			Help:      "Agent runner invocation duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"status"},
	)

	// 存储指标
	c.storeOpsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operations_total",
			Help:      "Total number of workflow store operations",
		},
		[]string{"backend", "operation", "status"},
	)
	c.storeOpDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Workflow store operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🔀 工作流指标记录
// =============================================================================

// RecordWorkflowRun 记录一次工作流执行
func (c *Collector) RecordWorkflowRun(status string, duration time.Duration) {
	c.workflowRunsTotal.WithLabelValues(status).Inc()
	c.workflowRunDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordNodeRun 记录一次节点执行
func (c *Collector) RecordNodeRun(edgeType, status string, retries int, duration time.Duration) {
	c.nodeRunsTotal.WithLabelValues(edgeType, status).Inc()
	c.nodeRunDuration.WithLabelValues(edgeType).Observe(duration.Seconds())
	if retries > 0 {
		c.nodeRetries.WithLabelValues(edgeType).Add(float64(retries))
	}
}

// SetInFlight 设置正在执行的工作流数
func (c *Collector) SetInFlight(n int) {
	c.workflowsInFlight.Set(float64(n))
}

// =============================================================================
// 🤖 Agent 调用与存储
// =============================================================================

// RecordRunnerCall 记录一次远程 Agent 调用
func (c *Collector) RecordRunnerCall(status string, duration time.Duration) {
	c.runnerCallsTotal.WithLabelValues(status).Inc()
	c.runnerCallDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordStoreOperation 记录一次存储操作
func (c *Collector) RecordStoreOperation(backend, operation string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	c.storeOpsTotal.WithLabelValues(backend, operation, status).Inc()
	c.storeOpDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// =============================================================================
// 🗄️ 数据库连接池
// =============================================================================

// RegisterDBStats 暴露 database/sql 连接池统计
func (c *Collector) RegisterDBStats(db *sql.DB, name string) error {
	return c.registerer.Register(collectors.NewDBStatsCollector(db, name))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码归并为状态类别
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return strconv.Itoa(code)
	}
}
