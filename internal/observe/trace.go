package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope of every span the relay starts.
const tracerName = "github.com/MrWong99/voxrelay"

// tracer is looked up on each use so a provider installed after package
// init (or swapped in tests) is honoured.
func tracer() trace.Tracer {
	return otel.GetTracerProvider().Tracer(tracerName)
}

// StartSpan starts a span under the relay's scope. End it with span.End.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return tracer().Start(ctx, name, opts...)
}

// FailSpan marks span as failed with reason. A non-nil err is attached as an
// exception event.
func FailSpan(span trace.Span, err error, reason string) {
	if err != nil {
		span.RecordError(err)
	}
	span.SetStatus(codes.Error, reason)
}

// CorrelationID is the trace ID carried by ctx, or "" without a span.
// Control responses echo it in X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger is the default logger tagged with the trace_id and span_id of ctx.
// Without a valid span context it is [slog.Default] unchanged.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
