// Package telemetry wires structured logging (zerolog), tracing
// (OpenTelemetry) and Prometheus metrics for the policy catalog and the
// policyctl tool.
//
// Engine packages take a plain zerolog.Logger and an optional *Metrics; the
// Telemetry type builds both from one Config:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	mgr := policy.NewManager(tel.Logger.Zerolog(), policy.WithMetrics(tel.Metrics))
//
// Metrics are registered on a private registry and are only served when
// Metrics.Enabled is set. Every Metrics method is safe on a nil receiver.
package telemetry
