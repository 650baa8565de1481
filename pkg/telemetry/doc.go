// Package telemetry provides observability instrumentation for the engine.
//
// The telemetry package integrates structured logging (zerolog), distributed
// tracing (OpenTelemetry), metrics (Prometheus), and event publishing into a
// unified system for monitoring runs, plan steps, provider calls, drift
// detection, and the attachment controller.
//
// # Architecture
//
// The telemetry system is built on four pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry traces with multiple exporters
//  3. Metrics Collection - Prometheus metrics for operational insights
//  4. Event Publishing - Async event system for audit and notifications
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "terrane"
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	if err := tel.StartMetricsServer(); err != nil {
//	    log.Fatal(err)
//	}
//
// # Structured Logging
//
// The logger provides component-specific logging with field helpers for the
// engine's identifiers:
//
//	logger := tel.Logger.NewComponentLogger("executor")
//	logger = logger.WithRunID("run-123").WithResourceID("vpc.main")
//	logger.Info("starting step execution")
//	logger.WithError(err).Error("step failed")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Distributed Tracing
//
// Span helpers cover the engine's three span kinds:
//
//	ctx, end := tel.Tracer.RunSpan(ctx, runID)
//	defer end()
//
//	ctx, end := tel.Tracer.StepSpan(ctx, stepID, resourceID, action)
//	ctx, end := tel.Tracer.ProviderSpan(ctx, "sim", "create")
//
// Exporters: otlp (gRPC), stdout (debugging), none.
//
// # Metrics
//
// Prometheus metrics exposed on the configured listen address:
//
//   - terrane_runs_started_total
//   - terrane_runs_completed_total{status}
//   - terrane_run_duration_seconds{status}
//   - terrane_steps_executed_total{action,status}
//   - terrane_step_duration_seconds{action,resource_type}
//   - terrane_provider_calls_total{provider,operation}
//   - terrane_provider_call_duration_seconds{provider,operation}
//   - terrane_provider_errors_total{provider,operation}
//   - terrane_errors_by_class_total{class}
//   - terrane_errors_by_code_total{code}
//   - terrane_drift_detections_total{resource_type,status}
//   - terrane_target_health{target,state}
//   - terrane_health_transitions_total{from,to}
//   - terrane_probe_infra_errors_total
//   - terrane_active_runs
//
// # Events
//
// The event publisher delivers run, step, drift, and health transition
// events to subscribers, optionally buffered and batched:
//
//	tel.Events.Subscribe(func(ev telemetry.Event) {
//	    // persist or forward the event
//	}, telemetry.FilterByType(telemetry.EventTypeStepFailed))
package telemetry
