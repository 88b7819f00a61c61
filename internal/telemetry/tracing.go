// Package telemetry configures OpenTelemetry tracing for the ritual engine
// (§2.1/§2.2's provenance requirement): every envelope's provenance.trace/span
// identifiers come from the span active when the envelope was built.
//
// Custom span attributes use the `demon.` prefix.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "demon-systems/demon/engine"

// Tracer returns the package-level tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// InitTraceProvider initializes the OTel trace provider with an OTLP gRPC
// exporter. If endpoint is empty, tracing is disabled (no provider is
// installed, so the global no-op default stays in effect) per §6: OTEL_EXPORTER_OTLP_ENDPOINT gates this. Returns a
// shutdown function that must be called on application exit.
func InitTraceProvider(ctx context.Context, endpoint string, version string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String("demon-engine"),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// StartRunSpan creates the span for starting a ritual run; Engine.StartRun
// ends it when StartRun returns.
func StartRunSpan(ctx context.Context, ritualID, runID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "ritual.run",
		trace.WithAttributes(
			attribute.String("demon.ritual_id", ritualID),
			attribute.String("demon.run_id", runID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartStepSpan creates a child span for one ritual step's execution.
func StartStepSpan(ctx context.Context, ritualID, stepID, stepKind string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "ritual.step",
		trace.WithAttributes(
			attribute.String("demon.ritual_id", ritualID),
			attribute.String("demon.step_id", stepID),
			attribute.String("demon.step_kind", stepKind),
		),
	)
}

// StartCapsuleSpan creates a child span for one capsule invocation.
func StartCapsuleSpan(ctx context.Context, imageDigest string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "capsule.invoke",
		trace.WithAttributes(
			attribute.String("demon.image_digest", imageDigest),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndCapsuleSpan enriches the capsule span with its outcome.
func EndCapsuleSpan(span trace.Span, success bool, exitReason string) {
	span.SetAttributes(
		attribute.Bool("demon.success", success),
	)
	if exitReason != "" {
		span.SetAttributes(attribute.String("demon.exit_reason", exitReason))
	}
	span.End()
}

// StartGateSpan creates a child span covering one approval gate's await.
func StartGateSpan(ctx context.Context, ritualID, gateID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "approval.gate",
		trace.WithAttributes(
			attribute.String("demon.ritual_id", ritualID),
			attribute.String("demon.gate_id", gateID),
		),
	)
}

// SpanContextIDs extracts the hex trace/span IDs from the span active in
// ctx, for stamping onto an envelope's provenance. Both are empty if ctx
// carries no valid span context (tracing disabled or a context.Background()
// caller).
func SpanContextIDs(ctx context.Context) (traceID, spanID string) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}
