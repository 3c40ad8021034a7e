package core_test

import (
	"bytes"
	"context"
	"encoding/json"
	"slices"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"rua/internal/core"
	"rua/pkg/domain"
)

func TestPrometheusMetricsRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := core.NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("recorder: %v", err)
	}
	f := newFixture(t, core.WithMetrics(rec))
	f.viableProject("20111")
	_, _, _ = f.svc.CreateFolder(f.ctx, nil, nil)

	expected := `
# HELP rua_core_operations_total Core service operations by outcome
# TYPE rua_core_operations_total counter
rua_core_operations_total{operation="create_folder",result="error"} 1
rua_core_operations_total{operation="create_project",result="success"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "rua_core_operations_total"); err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
	n, err := testutil.GatherAndCount(reg, "rua_core_operation_duration_seconds")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected two histogram series, got %d", n)
	}
	if _, err := core.NewPrometheusMetricsRecorder(reg); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestJSONTracerRecordsOperations(t *testing.T) {
	var buf bytes.Buffer
	tracer := core.NewJSONTracer(&buf)
	f := newFixture(t, core.WithTracer(tracer))
	f.viableProject("20111")
	_, _ = f.svc.GetProject(f.ctx, 99)

	entries := tracer.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected two spans, got %+v", entries)
	}
	if entries[0].Operation != "create_project" || entries[0].Status != "success" {
		t.Fatalf("unexpected first span %+v", entries[0])
	}
	if entries[1].Operation != "get_project" || entries[1].Status != "error" || entries[1].Error == "" {
		t.Fatalf("unexpected second span %+v", entries[1])
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two JSON lines, got %q", buf.String())
	}
	var decoded core.JSONTraceEntry
	if err := json.Unmarshal([]byte(lines[1]), &decoded); err != nil {
		t.Fatalf("decode span: %v", err)
	}
	if decoded.Operation != "get_project" {
		t.Fatalf("unexpected decoded span %+v", decoded)
	}
}

func TestOTelTracerRecordsSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	f := newFixture(t, core.WithTracer(core.NewOTelTracer(provider, "")))
	f.viableProject("20111")
	_, _ = f.svc.GetProject(f.ctx, 99)

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected two spans, got %d", len(spans))
	}
	created, missing := spans[0], spans[1]
	if created.Name() != "create_project" || created.Status().Code != codes.Ok {
		t.Fatalf("unexpected first span %s %+v", created.Name(), created.Status())
	}
	if created.InstrumentationScope().Name != "rua/internal/core" {
		t.Fatalf("unexpected scope %q", created.InstrumentationScope().Name)
	}
	if !slices.Contains(created.Attributes(), attribute.String("rua.operation", "create_project")) {
		t.Fatalf("operation attribute missing: %v", created.Attributes())
	}
	if missing.Name() != "get_project" || missing.Status().Code != codes.Error || missing.Status().Description == "" {
		t.Fatalf("unexpected second span %s %+v", missing.Name(), missing.Status())
	}
	events := missing.Events()
	if len(events) != 1 || events[0].Name != "exception" {
		t.Fatalf("expected the error recorded as an exception event, got %+v", events)
	}
}

func TestServiceLogsRejectionsAsWarnings(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	f := newFixture(t, core.WithLogger(logger))
	_, _, _ = f.svc.CreateFolder(f.ctx, nil, nil)
	f.viableProject("20111")

	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("decode log line %q: %v", line, err)
		}
		entries = append(entries, m)
	}
	if len(entries) != 2 {
		t.Fatalf("expected two log entries, got %d", len(entries))
	}
	if entries[0]["level"] != "warn" || entries[0]["kind"] != string(domain.KindValidation) || entries[0]["component"] != "core" {
		t.Fatalf("unexpected rejection entry %+v", entries[0])
	}
	if entries[1]["level"] != "debug" || entries[1]["operation"] != "create_project" {
		t.Fatalf("unexpected success entry %+v", entries[1])
	}
}

func TestNotifierFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	f := newFixture(t, core.WithLogger(zerolog.New(&buf).Level(zerolog.WarnLevel)))
	f.notifier.FailWith(errBroker)
	p := f.seedProject(domain.Project{Kind: domain.KindMonoparental, Source: domain.SourceRUA, Login1: "20111", Status: domain.ProjectEnRevision})
	f.transition(p.ID, domain.EventRequestUpdate, core.TransitionPayload{Notify: true})
	if !strings.Contains(buf.String(), "notification not delivered") {
		t.Fatalf("expected delivery failure logged, got %q", buf.String())
	}
}
