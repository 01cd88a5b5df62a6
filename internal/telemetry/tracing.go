/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package telemetry configures OpenTelemetry tracing for the orchestrator.
//
// Spans follow the OTel GenAI semantic conventions where applicable:
//   - gen_ai.system — the LLM provider
//   - gen_ai.request.model — the model name
//
// No token-usage attributes are set; LLM spans record prompt size as
// rlmrs.prompt_chars instead.
//
// Custom span attributes use the `rlmrs.` prefix.
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

const tracerName = "rlmrs.io/orchestrator"

// Tracer returns the package-level tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// InitTraceProvider initialises the OTel trace provider with an OTLP gRPC exporter.
// If endpoint is empty, tracing is disabled (noop provider is used).
// Returns a shutdown function that must be called on application exit.
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
			semconv.ServiceNameKey.String("rlmrs-orchestrator"),
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

// StartExecutionSpan creates the parent span for one pass through an execution's control loop.
func StartExecutionSpan(ctx context.Context, tenantID, sessionID, executionID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "execution.run",
		trace.WithAttributes(
			attribute.String("rlmrs.tenant", tenantID),
			attribute.String("rlmrs.session", sessionID),
			attribute.String("rlmrs.execution", executionID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartTurnSpan creates a child span for one orchestrator turn.
func StartTurnSpan(ctx context.Context, executionID string, turnIndex int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "execution.turn",
		trace.WithAttributes(
			attribute.String("rlmrs.execution", executionID),
			attribute.Int("rlmrs.turn_index", turnIndex),
		),
	)
}

// StartLLMCallSpan creates a child span for a completion-provider call, following GenAI conventions.
func StartLLMCallSpan(ctx context.Context, model, provider string, isRoot bool) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "gen_ai.chat",
		trace.WithAttributes(
			attribute.String("gen_ai.system", provider),
			attribute.String("gen_ai.request.model", model),
			attribute.Bool("rlmrs.is_root", isRoot),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndLLMCallSpan enriches the LLM span with usage data.
func EndLLMCallSpan(span trace.Span, promptChars int, cacheHit bool) {
	span.SetAttributes(
		attribute.Int("rlmrs.prompt_chars", promptChars),
		attribute.Bool("rlmrs.cache_hit", cacheHit),
	)
	span.End()
}

// StartStepSpan creates a child span for one StepExecutor invocation.
func StartStepSpan(ctx context.Context, executionID string, turnIndex int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "execution.step",
		trace.WithAttributes(
			attribute.String("rlmrs.execution", executionID),
			attribute.Int("rlmrs.turn_index", turnIndex),
		),
	)
}

// EndStepSpan enriches the step span with the result summary.
func EndStepSpan(span trace.Span, success bool, spanCount, toolRequestCount int, errorCode string) {
	span.SetAttributes(
		attribute.Bool("rlmrs.success", success),
		attribute.Int("rlmrs.span_count", spanCount),
		attribute.Int("rlmrs.tool_request_count", toolRequestCount),
	)
	if errorCode != "" {
		span.SetAttributes(attribute.String("rlmrs.error_code", errorCode))
	}
	span.End()
}

// StartToolResolveSpan creates a child span for the bounded-concurrency tool fan-out.
func StartToolResolveSpan(ctx context.Context, executionID string, llmCount, searchCount int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "execution.resolve_tools",
		trace.WithAttributes(
			attribute.String("rlmrs.execution", executionID),
			attribute.Int("rlmrs.llm_requests", llmCount),
			attribute.Int("rlmrs.search_requests", searchCount),
		),
	)
}
