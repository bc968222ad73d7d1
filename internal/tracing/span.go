package tracing

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys attached to cmdlatency spans.
const (
	AttrCommand  = attribute.Key("cmdlatency.command")
	AttrLocal    = attribute.Key("cmdlatency.local")
	AttrRemote   = attribute.Key("cmdlatency.remote")
	AttrReportID = attribute.Key("cmdlatency.report.id")
	AttrBuckets  = attribute.Key("cmdlatency.report.buckets")
	AttrReset    = attribute.Key("cmdlatency.report.reset")
)

// StartCommandSpan starts a client span named after the command. The local
// endpoint is omitted when unknown.
func StartCommandSpan(ctx context.Context, tracer trace.Tracer, command, local, remote string) (context.Context, trace.Span) {
	name := command
	if name == "" {
		name = "command"
	}
	attrs := []attribute.KeyValue{AttrCommand.String(command), AttrRemote.String(remote)}
	if local != "" {
		attrs = append(attrs, AttrLocal.String(local))
	}
	return tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
}

// StartPublishSpan starts the span around one report publication.
func StartPublishSpan(ctx context.Context, tracer trace.Tracer, reset bool) (context.Context, trace.Span) {
	return tracer.Start(ctx, "publish latency report",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(AttrReset.Bool(reset)),
	)
}

// EndSpan sets attrs and the span status, then ends it. Cancellation is
// recorded as an event rather than an error.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
	case errors.Is(err, context.Canceled):
		span.AddEvent("cancelled")
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
