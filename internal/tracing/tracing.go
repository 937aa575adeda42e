// Package tracing provides the OpenTelemetry tracer provider and span helpers
// used around store operations.
package tracing

import (
	"context"

	astracing "github.com/agentos-labs/agentstate/pkg/agentstate/v1/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName identifies spans emitted by the state store.
const TracerName = "github.com/agentos-labs/agentstate"

// Tracer returns the store tracer from provider, or a no-op tracer when
// provider is nil.
func Tracer(provider astracing.TracerProvider) trace.Tracer {
	if provider == nil {
		return NewNoOpProvider().GetTracer(TracerName)
	}
	return provider.GetTracer(TracerName)
}

// StartSpan starts an internal span named name with the given attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindInternal), trace.WithAttributes(attrs...))
}

// RecordError marks span as failed with err. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
