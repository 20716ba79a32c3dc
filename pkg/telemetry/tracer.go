package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/openfroyo/rulegraph/pkg/engine"
)

// Span attribute keys set by the CLI and by RecordError.
var (
	AttrRuleName    = attribute.Key("rule.name")
	AttrRuleVersion = attribute.Key("rule.version")
	AttrRuleSource  = attribute.Key("rule.source")
	AttrErrorClass  = attribute.Key("error.class")
	AttrErrorCode   = attribute.Key("error.code")
)

// Tracer owns the span provider. Rules receive its trace.Tracer through
// engine.WithTracer and emit rule.execute and node.run spans.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// TracerOption configures NewTracer.
type TracerOption func(*tracerOptions)

type tracerOptions struct {
	exporter sdktrace.SpanExporter
}

// WithSpanExporter overrides cfg.Exporter and enables export, typically with
// tracetest's in-memory exporter.
func WithSpanExporter(exporter sdktrace.SpanExporter) TracerOption {
	return func(o *tracerOptions) { o.exporter = exporter }
}

// NewTracer builds the provider for cfg and installs it as the global one
// when spans are exported.
func NewTracer(cfg TracingConfig, serviceName, serviceVersion, environment string, opts ...TracerOption) (*Tracer, error) {
	var o tracerOptions
	for _, opt := range opts {
		opt(&o)
	}

	if !cfg.Enabled && o.exporter == nil {
		provider := sdktrace.NewTracerProvider()
		return &Tracer{provider: provider, tracer: provider.Tracer(serviceName)}, nil
	}

	exporter := o.exporter
	if exporter == nil {
		var err error
		if exporter, err = newSpanExporter(cfg); err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
	}

	res := resource.NewWithAttributes("",
		semconv.ServiceNameKey.String(serviceName),
		semconv.ServiceVersionKey.String(serviceVersion),
		attribute.String("environment", environment),
	)
	providerOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
	}
	if exporter != nil {
		var batch []sdktrace.BatchSpanProcessorOption
		if cfg.MaxExportBatchSize > 0 {
			batch = append(batch, sdktrace.WithMaxExportBatchSize(cfg.MaxExportBatchSize))
		}
		if cfg.ExportTimeout > 0 {
			batch = append(batch, sdktrace.WithExportTimeout(cfg.ExportTimeout))
		}
		providerOpts = append(providerOpts, sdktrace.WithBatcher(exporter, batch...))
	}

	provider := sdktrace.NewTracerProvider(providerOpts...)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return &Tracer{provider: provider, tracer: provider.Tracer(serviceName)}, nil
}

// newSpanExporter returns nil for the "none" exporter: spans are sampled but
// dropped.
func newSpanExporter(cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "none":
		return nil, nil
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp":
		grpcOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
		}
		if len(cfg.Headers) > 0 {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithHeaders(cfg.Headers))
		}
		return otlptracegrpc.New(context.Background(), grpcOpts...)
	}
	return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.Exporter)
}

// Tracer returns the tracer handed to engine.WithTracer.
func (t *Tracer) Tracer() trace.Tracer {
	return t.tracer
}

// StartSpan starts a span carrying attrs.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartBuildSpan starts the rule.build span around loading and building
// the document at source.
func (t *Tracer) StartBuildSpan(ctx context.Context, source string) (context.Context, trace.Span) {
	return t.StartSpan(ctx, "rule.build", AttrRuleSource.String(source))
}

// StartBatchSpan starts the rule.batch span around a CLI run of records.
func (t *Tracer) StartBatchSpan(ctx context.Context, rule string, records int) (context.Context, trace.Span) {
	return t.StartSpan(ctx, "rule.batch", AttrRuleName.String(rule), attribute.Int("batch.records", records))
}

// Shutdown flushes and stops the provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}

// ForceFlush exports pending spans.
func (t *Tracer) ForceFlush(ctx context.Context) error {
	return t.provider.ForceFlush(ctx)
}

// RecordError marks span as failed. Rule errors add their class and code.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	var re *engine.RuleError
	if errors.As(err, &re) {
		span.SetAttributes(AttrErrorClass.String(string(re.Class)), AttrErrorCode.String(re.Code))
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// RecordSuccess marks span as ok.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// TraceID returns the trace id of the span in ctx, or "".
func TraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
