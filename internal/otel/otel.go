package otel

import (
	"context"
	"sync"

	eventbus "github.com/hanpama/normcache/internal/eventbus"
	events "github.com/hanpama/normcache/internal/events"
	reqid "github.com/hanpama/normcache/internal/reqid"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
)

// Setup configures OpenTelemetry and attaches eventbus subscribers that turn
// transaction and publish lifecycle events into spans. If endpoint is empty,
// no telemetry is configured and the returned shutdown func is a no-op.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithInsecure()))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	sub := &subscriber{tracer: otel.Tracer("normcache")}
	sub.register()

	return tp.Shutdown, nil
}

// subscriber bridges eventbus lifecycle events to spans, keyed by the
// transaction ID reqid attaches to each transaction's context.
type subscriber struct {
	tracer trace.Tracer
	txSpans sync.Map // transaction ID -> trace.Span
}

func (s *subscriber) register() {
	eventbus.Subscribe(func(ctx context.Context, e events.TransactionStart) {
		_, span := s.tracer.Start(ctx, "cache.transaction")
		span.SetAttributes(attribute.Bool("cache.transaction.read_write", e.ReadWrite))
		s.txSpans.Store(e.TransactionID, span)
	})

	eventbus.Subscribe(func(ctx context.Context, e events.TransactionFinish) {
		v, ok := s.txSpans.LoadAndDelete(e.TransactionID)
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(
			attribute.Int64("cache.transaction.duration_ms", e.Duration.Milliseconds()),
			attribute.Int("cache.transaction.error_count", len(e.Errors)),
		)
		for _, err := range e.Errors {
			span.RecordError(err)
		}
		span.End()
	})

	eventbus.Subscribe(func(ctx context.Context, e events.PublishFinish) {
		rid, _ := reqid.FromContext(ctx)
		parent := ctx
		if v, ok := s.txSpans.Load(rid); ok {
			parent = trace.ContextWithSpan(ctx, v.(trace.Span))
		}
		_, span := s.tracer.Start(parent, "cache.publish")
		span.SetAttributes(
			attribute.Int("cache.publish.changed_count", len(e.Changed)),
			attribute.Int64("cache.publish.duration_ms", e.Duration.Milliseconds()),
		)
		span.End()
	})

	eventbus.Subscribe(func(ctx context.Context, e events.BatchLoadFinish) {
		parent := ctx
		if v, ok := s.txSpans.Load(e.TransactionID); ok {
			parent = trace.ContextWithSpan(ctx, v.(trace.Span))
		}
		_, span := s.tracer.Start(parent, "cache.batch_load")
		span.SetAttributes(
			attribute.Bool("cache.batch_load.read_write", e.ReadWrite),
			attribute.Int("cache.batch_load.depth", e.Depth),
			attribute.Int("cache.batch_load.key_count", e.KeyCount),
			attribute.Int64("cache.batch_load.duration_ms", e.Duration.Milliseconds()),
		)
		span.End()
	})
}
