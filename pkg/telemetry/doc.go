// Package telemetry provides logging, tracing and metrics for processes
// embedding the rule engine.
//
// # Logging
//
// Logger wraps zerolog with rule-specific helpers:
//
//	logger, _ := telemetry.NewLogger(cfg.Logging)
//	logger.WithRule("credit", rule.Metadata().Version).Info("rule loaded")
//
// # Tracing
//
// Tracer owns an OpenTelemetry tracer provider exporting over OTLP/gRPC or
// to stdout. Rules built with its tracer emit a "rule.execute" span per batch
// and a "node.run" span per invoked node. RecordError tags spans with the
// class and code of rule errors.
//
// # Metrics
//
// Metrics implements engine.Recorder and exposes Prometheus collectors for
// executions, evaluated rows, node invocations, errors by class and code,
// and scheduled chunks.
//
// # Wiring
//
// Telemetry bundles the three and hands them to the engine:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
//	rule, err := engine.BuildJSON(ctx, data, nodes.DefaultCatalog(), tel.EngineOptions()...)
package telemetry
