package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"

	"github.com/BaSui01/agentweave/config"
)

// =============================================================================
// 📡 OpenTelemetry 初始化
// =============================================================================

// 随 Agent 调用传播的 baggage 键
const (
	BaggageWorkflowID = "agentweave.workflow_id"
	BaggageNodeID     = "agentweave.node_id"
	BaggageRunID      = "agentweave.run_id"
)

// Providers 持有 SDK 的 TracerProvider / MeterProvider，禁用时均为 nil
type Providers struct {
	tp         *sdktrace.TracerProvider
	mp         *sdkmetric.MeterProvider
	instanceID string
}

// InstanceID 返回本进程的 service.instance.id，禁用时为空
func (p *Providers) InstanceID() string {
	if p == nil {
		return ""
	}
	return p.instanceID
}

// Init 安装 W3C trace-context 与 baggage 传播器；启用时创建 OTLP gRPC 导出器
// 并替换全局 provider
func Init(ctx context.Context, cfg config.TelemetryConfig, logger *zap.Logger) (*Providers, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "telemetry"))

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.Enabled {
		logger.Debug("telemetry disabled")
		return &Providers{}, nil
	}
	if cfg.OTLPEndpoint == "" {
		return nil, errors.New("telemetry enabled but otlp endpoint is empty")
	}

	instanceID := uuid.NewString()
	res, err := newResource(ctx, cfg, instanceID)
	if err != nil {
		return nil, err
	}

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}

	traceExporter, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	metricExporter, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		_ = traceExporter.Shutdown(ctx)
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}

	var readerOpts []sdkmetric.PeriodicReaderOption
	if cfg.ExportInterval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(cfg.ExportInterval))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(Sampler(cfg.SampleRate)),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, readerOpts...)),
		sdkmetric.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	logger.Info("telemetry initialized",
		zap.String("endpoint", cfg.OTLPEndpoint),
		zap.String("service_name", cfg.ServiceName),
		zap.String("instance_id", instanceID),
		zap.Float64("sample_rate", cfg.SampleRate),
	)
	return &Providers{tp: tp, mp: mp, instanceID: instanceID}, nil
}

func newResource(ctx context.Context, cfg config.TelemetryConfig, instanceID string) (*resource.Resource, error) {
	attrs := []resource.Option{
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(BuildVersion()),
			semconv.ServiceInstanceID(instanceID),
		),
		resource.WithProcessPID(),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.DeploymentEnvironment(cfg.Environment)))
	}
	if host, err := os.Hostname(); err == nil {
		attrs = append(attrs, resource.WithAttributes(semconv.HostName(host)))
	}

	res, err := resource.New(ctx, attrs...)
	if err != nil {
		return nil, fmt.Errorf("create otel resource: %w", err)
	}
	return res, nil
}

// Sampler 按采样率选择采样器；始终尊重上游的采样决定
func Sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case rate <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

// Shutdown 刷新并关闭导出器，对禁用的 Providers 是空操作
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.tp != nil {
		if err := p.tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer provider: %w", err))
		}
	}
	if p.mp != nil {
		if err := p.mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// 🔗 上下文传播
// =============================================================================

// ExtractHTTP 从入站请求头恢复远端 span 上下文与 baggage
func ExtractHTTP(ctx context.Context, h http.Header) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(h))
}

// InjectHTTP 把 ctx 中的 span 上下文与 baggage 写入出站请求头
func InjectHTTP(ctx context.Context, h http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(h))
}

// WithRunBaggage 把工作流、节点与运行 ID 放入 baggage，空值跳过。
// 调用方已有的 baggage 成员保留。
func WithRunBaggage(ctx context.Context, workflowID, nodeID, runID string) context.Context {
	bag := baggage.FromContext(ctx)
	for _, kv := range [][2]string{
		{BaggageWorkflowID, workflowID},
		{BaggageNodeID, nodeID},
		{BaggageRunID, runID},
	} {
		if kv[1] == "" {
			continue
		}
		m, err := baggage.NewMemberRaw(kv[0], kv[1])
		if err != nil {
			continue
		}
		if next, err := bag.SetMember(m); err == nil {
			bag = next
		}
	}
	return baggage.ContextWithBaggage(ctx, bag)
}

// RunFromBaggage 读取 WithRunBaggage 写入的工作流 ID 与运行 ID
func RunFromBaggage(ctx context.Context) (workflowID, runID string) {
	bag := baggage.FromContext(ctx)
	return bag.Member(BaggageWorkflowID).Value(), bag.Member(BaggageRunID).Value()
}

// BuildVersion 返回构建信息中的模块版本，未知时为 "dev"
func BuildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" || info.Main.Version == "(devel)" {
		return "dev"
	}
	return info.Main.Version
}
