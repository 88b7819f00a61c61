package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := trace.NewTracerProvider(
		trace.WithSyncer(exporter),
	)
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
	})
	return exporter
}

func TestInitTraceProviderNoopWhenEmpty(t *testing.T) {
	shutdown, err := InitTraceProvider(context.Background(), "", "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestStartRunSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	ctx, span := StartRunSpan(ctx, "deploy", "run-1")
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "ritual.run" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "ritual.run")
	}

	foundRitual, foundRun := false, false
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "demon.ritual_id" && a.Value.AsString() == "deploy" {
			foundRitual = true
		}
		if string(a.Key) == "demon.run_id" && a.Value.AsString() == "run-1" {
			foundRun = true
		}
	}
	if !foundRitual {
		t.Error("missing demon.ritual_id attribute")
	}
	if !foundRun {
		t.Error("missing demon.run_id attribute")
	}

	traceID, spanID := SpanContextIDs(ctx)
	if traceID == "" || spanID == "" {
		t.Error("expected non-empty trace/span ids while span is active")
	}
}

func TestStartCapsuleSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	_, span := StartCapsuleSpan(ctx, "example.com/img@sha256:deadbeef")
	EndCapsuleSpan(span, false, "nonzero exit")

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "capsule.invoke" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "capsule.invoke")
	}

	foundSuccess, foundReason := false, false
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "demon.success" && a.Value.AsBool() == false {
			foundSuccess = true
		}
		if string(a.Key) == "demon.exit_reason" && a.Value.AsString() == "nonzero exit" {
			foundReason = true
		}
	}
	if !foundSuccess {
		t.Error("missing demon.success attribute")
	}
	if !foundReason {
		t.Error("missing demon.exit_reason attribute")
	}
}

func TestNestedSpans(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	ctx, runSpan := StartRunSpan(ctx, "deploy", "run-1")
	_, stepSpan := StartStepSpan(ctx, "deploy", "build", "capsule")
	stepSpan.End()
	runSpan.End()

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}

	stepStub := spans[0]
	runStub := spans[1]

	if stepStub.Parent.TraceID() != runStub.SpanContext.TraceID() {
		t.Error("step span should share trace ID with run span")
	}
	if !stepStub.Parent.SpanID().IsValid() {
		t.Error("step span should have a valid parent span ID")
	}
}

func TestSpanContextIDsEmptyWithoutActiveSpan(t *testing.T) {
	traceID, spanID := SpanContextIDs(context.Background())
	if traceID != "" || spanID != "" {
		t.Errorf("expected empty ids without an active span, got %q/%q", traceID, spanID)
	}
}
