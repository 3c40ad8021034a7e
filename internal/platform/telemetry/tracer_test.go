package telemetry

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStdoutProviderExportsSpansOnShutdown(t *testing.T) {
	var buf bytes.Buffer
	ctx := context.Background()
	provider, err := NewTracerProvider(ctx, Config{Exporter: ExporterStdout, SampleRatio: 1}, "1.2.3", &buf)
	require.NoError(t, err)

	_, span := provider.Tracer("rua/internal/core").Start(ctx, "create_project")
	span.End()
	require.NoError(t, provider.Shutdown(ctx))

	out := buf.String()
	require.Contains(t, out, `"Name":"create_project"`)
	require.Contains(t, out, `"rua"`)
	require.Contains(t, out, `"1.2.3"`)
}

func TestZeroSampleRatioDropsSpans(t *testing.T) {
	var buf bytes.Buffer
	ctx := context.Background()
	provider, err := NewTracerProvider(ctx, Config{Exporter: ExporterStdout}, "dev", &buf)
	require.NoError(t, err)

	_, span := provider.Tracer("rua/internal/core").Start(ctx, "create_project")
	span.End()
	require.NoError(t, provider.Shutdown(ctx))
	require.Empty(t, buf.String())
}

func TestOTLPProviderBuildsWithoutCollector(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	provider, err := NewTracerProvider(ctx, Config{Exporter: ExporterOTLP, Endpoint: "127.0.0.1:4317", Insecure: true, SampleRatio: 1}, "dev", nil)
	require.NoError(t, err)
	_ = provider.Shutdown(ctx)
}

func TestUnsupportedExporter(t *testing.T) {
	_, err := NewTracerProvider(context.Background(), Config{Exporter: "json"}, "dev", nil)
	require.ErrorContains(t, err, `unsupported trace exporter "json"`)
	require.False(t, Config{Exporter: "json"}.UsesProvider())
	require.True(t, Config{Exporter: ExporterOTLP}.UsesProvider())
}
