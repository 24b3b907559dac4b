package contentasset

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/pdisakar/content-assets/pkg/contentasset"

var tracer = otel.Tracer(instrumentationName)

func startSpan(ctx context.Context, name string, entityType EntityType, id uuid.UUID) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String("entity.type", string(entityType))}
	if id != uuid.Nil {
		attrs = append(attrs, attribute.String("entity.id", id.String()))
	}
	return tracer.Start(ctx, "contentasset."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
