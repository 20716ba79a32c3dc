package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/rulegraph/pkg/engine"
)

// Telemetry groups the logger, tracer and metrics built from one Config.
type Telemetry struct {
	Config  *Config
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
}

type telemetryKey struct{}

// NewTelemetry validates cfg and builds every component.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tel := &Telemetry{Config: cfg}

	var err error
	if tel.Logger, err = NewLogger(cfg.Logging); err != nil {
		return nil, err
	}
	if tel.Tracer, err = NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment); err != nil {
		return nil, err
	}
	if tel.Metrics, err = NewMetrics(cfg.Metrics); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return tel, nil
}

// EngineOptions returns the build options routing rule logs, node and
// execution metrics and spans to t.
func (t *Telemetry) EngineOptions() []engine.Option {
	return []engine.Option{
		engine.WithLogger(t.Logger.Zerolog()),
		engine.WithRecorder(t.Metrics),
		engine.WithTracer(t.Tracer.Tracer()),
	}
}

// WithContext stores t and its logger in ctx.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	return t.Logger.WithContext(context.WithValue(ctx, telemetryKey{}, t))
}

// FromTelemetryContext returns the Telemetry stored in ctx, or nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	t, _ := ctx.Value(telemetryKey{}).(*Telemetry)
	return t
}

// StartMetricsServer serves the metrics endpoint until ctx is done. It is a
// no-op when metrics are disabled.
func (t *Telemetry) StartMetricsServer(ctx context.Context) error {
	return t.Metrics.StartMetricsServer(ctx, t.Logger.Zerolog())
}

// Shutdown flushes pending spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.Tracer.Shutdown(ctx)
}

// Operation is one traced and logged unit of work, such as validating a
// rule file. Without Telemetry in the starting context it only logs.
type Operation struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger

	started time.Time
}

// StartOperation opens a span named operation and a logger tagged with the
// operation and, when sampled, its trace and span ids.
func StartOperation(ctx context.Context, operation string, attrs ...attribute.KeyValue) *Operation {
	op := &Operation{Ctx: ctx, started: time.Now()}

	tel := FromTelemetryContext(ctx)
	if tel == nil {
		op.Logger = FromContext(ctx)
		return op
	}

	op.Ctx, op.Span = tel.Tracer.StartSpan(ctx, operation, attrs...)
	op.Logger = tel.Logger.WithField("operation", operation)
	if sc := op.Span.SpanContext(); sc.IsValid() {
		op.Logger = op.Logger.WithFields(map[string]any{
			"trace_id": sc.TraceID().String(),
			"span_id":  sc.SpanID().String(),
		})
	}
	op.Ctx = op.Logger.WithContext(op.Ctx)
	return op
}

// End closes the span and logs the duration. Failures are logged at error
// level with the rule error class and code when err carries them.
func (op *Operation) End(err error) {
	if op.Span != nil {
		if err != nil {
			RecordError(op.Span, err)
		} else {
			RecordSuccess(op.Span)
		}
		op.Span.End()
	}

	zlog := op.Logger.Zerolog()
	event := zlog.Debug()
	if err != nil {
		event = zlog.Error().Err(err)
		var re *engine.RuleError
		if errors.As(err, &re) {
			event = event.Str("error_class", string(re.Class)).Str("error_code", re.Code)
		}
	}
	event.Dur("duration", time.Since(op.started)).Msg("Operation finished")
}
