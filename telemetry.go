package nekodb

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName    = "github.com/4-proxy/nekodb"
	instrumentationVersion = version
)

func (t *telemetry) enableTracing(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracingEnabled = enabled
	if enabled && t.tracer == nil {
		t.tracer = otel.Tracer(instrumentationName, trace.WithInstrumentationVersion(instrumentationVersion))
	}
}

func (t *telemetry) setTracerProvider(tp trace.TracerProvider) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracer = tp.Tracer(instrumentationName, trace.WithInstrumentationVersion(instrumentationVersion))
}

// startSpan opens a span with the common database attributes. When tracing
// is off it returns ctx unchanged and the span already in it.
func (t *telemetry) startSpan(ctx context.Context, operation, path, query string) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	t.mu.RLock()
	enabled, tracer, system := t.tracingEnabled, t.tracer, t.system
	t.mu.RUnlock()
	if !enabled || tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	ctx, span := tracer.Start(ctx, fmt.Sprintf("nekodb.%s", operation), trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("db.system", system),
		attribute.String("db.operation", operation),
	)
	if path != "" {
		span.SetAttributes(attribute.String("nekodb.path", path))
	}
	if query != "" {
		span.SetAttributes(attribute.String("db.statement", query))
	}
	return ctx, span
}

// finishSpan records err on span and ends it. Spans that startSpan did not
// create are left alone.
func (t *telemetry) finishSpan(span trace.Span, err error) {
	if t == nil {
		return
	}
	t.mu.RLock()
	enabled := t.tracingEnabled && t.tracer != nil
	t.mu.RUnlock()
	if !enabled {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
