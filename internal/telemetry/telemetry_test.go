package telemetry

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/baggage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/agentweave/config"
)

func restoreGlobals(t *testing.T) {
	t.Helper()
	tp, mp, prop := otel.GetTracerProvider(), otel.GetMeterProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
		otel.SetTextMapPropagator(prop)
	})
}

func TestInit_Disabled(t *testing.T) {
	restoreGlobals(t)

	p, err := Init(context.Background(), config.TelemetryConfig{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Nil(t, p.tp)
	assert.Nil(t, p.mp)
	assert.Empty(t, p.InstanceID())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_Enabled(t *testing.T) {
	restoreGlobals(t)

	cfg := config.DefaultTelemetryConfig()
	cfg.Enabled = true
	cfg.Environment = "test"
	cfg.ExportInterval = time.Hour

	p, err := Init(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})

	assert.NotEmpty(t, p.InstanceID())
	_, isSDK := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	assert.True(t, isSDK)
	assert.Same(t, p.tp, otel.GetTracerProvider())
}

func TestInit_EnabledWithoutEndpoint(t *testing.T) {
	restoreGlobals(t)

	_, err := Init(context.Background(), config.TelemetryConfig{Enabled: true, SampleRate: 1}, nil)
	assert.ErrorContains(t, err, "endpoint")
}

func TestProviders_NilShutdown(t *testing.T) {
	var p *Providers
	assert.NoError(t, p.Shutdown(context.Background()))
	assert.Empty(t, p.InstanceID())
}

func TestSampler(t *testing.T) {
	tests := map[float64]string{
		1:    "AlwaysOnSampler",
		1.5:  "AlwaysOnSampler",
		0:    "AlwaysOffSampler",
		-1:   "AlwaysOffSampler",
		0.25: "TraceIDRatioBased{0.25}",
	}
	for rate, want := range tests {
		assert.Contains(t, Sampler(rate).Description(), want, rate)
	}
}

func TestBuildVersion(t *testing.T) {
	assert.Equal(t, "dev", BuildVersion())
}

// =============================================================================
// 🧪 传播
// =============================================================================

func TestTraceContext_RoundTrip(t *testing.T) {
	restoreGlobals(t)
	_, err := Init(context.Background(), config.TelemetryConfig{}, nil)
	require.NoError(t, err)

	const traceparent = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
	in := http.Header{}
	in.Set("traceparent", traceparent)

	ctx := ExtractHTTP(context.Background(), in)
	sc := trace.SpanContextFromContext(ctx)
	require.True(t, sc.IsValid())
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", sc.TraceID().String())

	out := http.Header{}
	InjectHTTP(ctx, out)
	assert.Equal(t, traceparent, out.Get("traceparent"))
}

func TestRunBaggage(t *testing.T) {
	restoreGlobals(t)
	_, err := Init(context.Background(), config.TelemetryConfig{}, nil)
	require.NoError(t, err)

	tenant, err := baggage.NewMemberRaw("tenant", "acme")
	require.NoError(t, err)
	existing, err := baggage.New(tenant)
	require.NoError(t, err)
	ctx := baggage.ContextWithBaggage(context.Background(), existing)

	ctx = WithRunBaggage(ctx, "alice_1700000000_a1b2c3d4e5f6", "", "run-7")
	bag := baggage.FromContext(ctx)
	assert.Equal(t, "acme", bag.Member("tenant").Value())
	assert.Equal(t, "run-7", bag.Member(BaggageRunID).Value())
	assert.Empty(t, bag.Member(BaggageNodeID).Key(), "empty values are skipped")

	out := http.Header{}
	InjectHTTP(ctx, out)
	assert.Contains(t, out.Get("baggage"), BaggageWorkflowID+"=alice_1700000000_a1b2c3d4e5f6")

	wfID, runID := RunFromBaggage(ExtractHTTP(context.Background(), out))
	assert.Equal(t, "alice_1700000000_a1b2c3d4e5f6", wfID)
	assert.Equal(t, "run-7", runID)
}
