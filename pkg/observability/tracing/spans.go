package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanOperation represents a traced operation type.
type SpanOperation string

const (
	SpanOperationDBQuery  SpanOperation = "db.query"
	SpanOperationDBInsert SpanOperation = "db.insert"
	SpanOperationDBUpdate SpanOperation = "db.update"
	SpanOperationDBDelete SpanOperation = "db.delete"

	SpanOperationMsgPublish SpanOperation = "messaging.publish"
	SpanOperationMsgConsume SpanOperation = "messaging.consume"

	SpanOperationResolve      SpanOperation = "query.resolve"
	SpanOperationIndexRebuild SpanOperation = "index.rebuild"
)

// StartDatabaseSpan creates a client span for a document store operation.
func StartDatabaseSpan(ctx context.Context, operation SpanOperation, opts ...DatabaseSpanOption) (context.Context, trace.Span) {
	spanOpts := &databaseSpanOptions{
		attributes: []attribute.KeyValue{
			attribute.String("db.operation", string(operation)),
		},
	}
	for _, opt := range opts {
		opt(spanOpts)
	}

	spanName := fmt.Sprintf("DB %s", operation)
	if spanOpts.table != "" {
		spanName = fmt.Sprintf("DB %s %s", operation, spanOpts.table)
	}

	ctx, span := otel.Tracer("database").Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(spanOpts.attributes...)
	return ctx, span
}

// DatabaseSpanOption configures a database span.
type DatabaseSpanOption func(*databaseSpanOptions)

type databaseSpanOptions struct {
	table      string
	attributes []attribute.KeyValue
}

// WithDBTable sets the collection name for the span.
func WithDBTable(table string) DatabaseSpanOption {
	return func(opts *databaseSpanOptions) {
		opts.table = table
		opts.attributes = append(opts.attributes, attribute.String("db.table", table))
	}
}

// WithDBSystem sets the database system (e.g. "mongodb").
func WithDBSystem(system string) DatabaseSpanOption {
	return func(opts *databaseSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("db.system", system))
	}
}

// WithDBStatement records the rendered predicate.
func WithDBStatement(statement string) DatabaseSpanOption {
	return func(opts *databaseSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("db.statement", statement))
	}
}

// StartMessagingSpan creates a span for a pub/sub operation.
func StartMessagingSpan(ctx context.Context, operation SpanOperation, system, destination string) (context.Context, trace.Span) {
	kind := trace.SpanKindProducer
	if operation == SpanOperationMsgConsume {
		kind = trace.SpanKindConsumer
	}
	ctx, span := otel.Tracer("messaging").Start(ctx,
		fmt.Sprintf("MSG %s %s", operation, destination),
		trace.WithSpanKind(kind),
	)
	span.SetAttributes(
		attribute.String("messaging.operation", string(operation)),
		attribute.String("messaging.system", system),
		attribute.String("messaging.destination", destination),
	)
	return ctx, span
}

// StartEngineSpan creates an internal span for query engine work.
func StartEngineSpan(ctx context.Context, operation SpanOperation, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer("engine").Start(ctx, string(operation), trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attrs...)
	return ctx, span
}

// RecordError records err on the span and marks it failed.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// RecordSuccess sets the span status to OK.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
