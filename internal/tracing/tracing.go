// Package tracing provides otel span helpers for the pipeline's stage
// boundaries (ingest -> classify -> validate -> orchestrate), tagged with
// the invoice id. No other package in this module starts these spans.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/mzemanski-eng/claims-ebilling"

// Tracer returns the package's named tracer, resolved lazily against
// whatever TracerProvider the process has configured (a no-op one if
// none was set, per otel's default).
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartPipelineStage starts a span for one named pipeline stage against
// a single invoice, tagging it with the invoice id for correlation.
func StartPipelineStage(ctx context.Context, stage string, invoiceID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, stage, trace.WithAttributes(
		attribute.String("invoice.id", invoiceID),
	))
}

// End records err on the span (if non-nil) and closes it. Call via defer
// immediately after StartPipelineStage.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
