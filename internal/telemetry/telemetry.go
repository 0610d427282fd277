// Package telemetry wraps OpenTelemetry span handling for tree operations.
// Spans go to the globally registered tracer provider, which is a no-op until
// the embedding application installs one.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/brettbedarf/blobtree"

// Attribute keys.
const (
	AttrOperation = "blobtree.operation"
	AttrOpID      = "blobtree.op_id"
	AttrPath      = "blobtree.path"
	AttrDest      = "blobtree.dest"
	AttrKey       = "blobtree.key"
	AttrKeys      = "blobtree.keys"
	AttrSucceeded = "blobtree.succeeded"
	AttrFailed    = "blobtree.failed"
	AttrState     = "blobtree.state"
	AttrAttempt   = "blobtree.attempt"
)

// Tracer returns the tracer for this module.
func Tracer() trace.Tracer {
	return otel.GetTracerProvider().Tracer(instrumentationName)
}

// StartSpan starts a new span with the given name.
// The caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartTreeSpan starts a span for a public tree operation.
func StartTreeSpan(ctx context.Context, operation, opID, path string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{
		attribute.String(AttrOperation, operation),
		attribute.String(AttrOpID, opID),
		attribute.String(AttrPath, path),
	}, attrs...)
	return StartSpan(ctx, "tree."+operation, trace.WithAttributes(all...))
}

// AddEvent adds an event to the current span in the context.
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// State records a state machine transition as a span event.
func State(ctx context.Context, state string) {
	AddEvent(ctx, "state", attribute.String(AttrState, state))
}

// RecordError records err on the current span and marks it failed.
func RecordError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetAttributes sets attributes on the current span.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}

// TraceID returns the trace ID of the current span, or "" when none is
// recording.
func TraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

func Dest(path string) attribute.KeyValue { return attribute.String(AttrDest, path) }
func Key(key string) attribute.KeyValue   { return attribute.String(AttrKey, key) }
func Keys(n int) attribute.KeyValue       { return attribute.Int(AttrKeys, n) }
func Attempt(n int) attribute.KeyValue    { return attribute.Int(AttrAttempt, n) }

// Outcome attributes for a finished tree operation.
func Outcome(succeeded, failed int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrSucceeded, succeeded),
		attribute.Int(AttrFailed, failed),
	}
}
