package telemetry

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// =============================================================================
// 📈 OTel 执行指标
// =============================================================================

const meterName = "github.com/BaSui01/agentweave/workflow"

// Recorder 把工作流与节点的执行指标写入 OTel Meter，由 MeterProvider 周期导出。
// 实现 workflow.MetricsRecorder。
type Recorder struct {
	workflowRuns     metric.Int64Counter
	workflowDuration metric.Float64Histogram
	nodeRuns         metric.Int64Counter
	nodeDuration     metric.Float64Histogram
	nodeRetries      metric.Int64Counter

	inFlight atomic.Int64
}

// NewRecorder 在 mp 上注册全部仪表
func NewRecorder(mp metric.MeterProvider) (*Recorder, error) {
	if mp == nil {
		return nil, errors.New("meter provider is nil")
	}
	m := mp.Meter(meterName)
	r := &Recorder{}

	var err error
	errs := make([]error, 0, 6)
	r.workflowRuns, err = m.Int64Counter("agentweave.workflow.runs",
		metric.WithDescription("Workflow executions by status"))
	errs = append(errs, err)
	r.workflowDuration, err = m.Float64Histogram("agentweave.workflow.duration",
		metric.WithDescription("Workflow execution duration"), metric.WithUnit("s"))
	errs = append(errs, err)
	r.nodeRuns, err = m.Int64Counter("agentweave.node.runs",
		metric.WithDescription("Node executions by edge type and status"))
	errs = append(errs, err)
	r.nodeDuration, err = m.Float64Histogram("agentweave.node.duration",
		metric.WithDescription("Node execution duration including retries"), metric.WithUnit("s"))
	errs = append(errs, err)
	r.nodeRetries, err = m.Int64Counter("agentweave.node.retries",
		metric.WithDescription("Retry attempts consumed by nodes"))
	errs = append(errs, err)
	_, err = m.Int64ObservableGauge("agentweave.workflow.in_flight",
		metric.WithDescription("Workflows currently executing"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(r.inFlight.Load())
			return nil
		}))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return r, nil
}

// MeterProvider 返回 Init 创建的 provider，禁用时为 nil
func (p *Providers) MeterProvider() metric.MeterProvider {
	if p == nil || p.mp == nil {
		return nil
	}
	return p.mp
}

func (r *Recorder) RecordWorkflowRun(status string, duration time.Duration) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("status", status))
	r.workflowRuns.Add(ctx, 1, attrs)
	r.workflowDuration.Record(ctx, duration.Seconds(), attrs)
}

func (r *Recorder) RecordNodeRun(edgeType, status string, retries int, duration time.Duration) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("edge_type", edgeType),
		attribute.String("status", status),
	)
	r.nodeRuns.Add(ctx, 1, attrs)
	r.nodeDuration.Record(ctx, duration.Seconds(), attrs)
	if retries > 0 {
		r.nodeRetries.Add(ctx, int64(retries), metric.WithAttributes(attribute.String("edge_type", edgeType)))
	}
}

func (r *Recorder) SetInFlight(n int) {
	r.inFlight.Store(int64(n))
}
