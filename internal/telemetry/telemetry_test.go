package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/execd/internal/config"
)

func TestNew_DisabledLeavesGlobalProviderUntouched(t *testing.T) {
	before := otel.GetTracerProvider()
	tel, err := New(context.Background(), config.TelemetryConfig{}, "test", zap.NewNop())
	require.NoError(t, err)
	assert.Same(t, before, otel.GetTracerProvider())
	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_EnabledInstallsGlobalProvider(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	exporter := tracetest.NewInMemoryExporter()
	tel, err := New(context.Background(), config.TelemetryConfig{
		Enabled:    true,
		Endpoint:   "localhost:4317",
		SampleRate: 1.0,
	}, "test", zap.NewNop(), WithSpanExporter(exporter))
	require.NoError(t, err)

	// Spans started through the global tracer must reach the exporter, not
	// the no-op provider.
	_, span := otel.Tracer("github.com/fyrsmithlabs/execd/internal/jobs").Start(context.Background(), "jobs.execute")
	span.End()
	require.NoError(t, tel.ForceFlush(context.Background()))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "jobs.execute", spans[0].Name)

	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_ZeroSampleRateDropsSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	exporter := tracetest.NewInMemoryExporter()
	tel, err := New(context.Background(), config.TelemetryConfig{
		Enabled:  true,
		Endpoint: "localhost:4317",
	}, "test", zap.NewNop(), WithSpanExporter(exporter))
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "dropped")
	span.End()
	require.NoError(t, tel.ForceFlush(context.Background()))

	assert.Empty(t, exporter.GetSpans())
	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestShutdown_NilSafe(t *testing.T) {
	var tel *Telemetry
	require.NoError(t, tel.Shutdown(context.Background()))
	require.NoError(t, tel.ForceFlush(context.Background()))
}
