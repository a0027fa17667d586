// Package telemetry wires structured logging (zerolog), tracing
// (OpenTelemetry) and metrics (Prometheus) into depletion and recycle runs,
// plus a small synchronous progress event stream the CLI renders.
//
// A Telemetry value is created once per process and attached to the run
// context:
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//		return err
//	}
//	defer tel.Shutdown(context.Background())
//	ctx = tel.WithContext(ctx)
//
// Orchestrators then open one instrumented operation per run, cycle and
// step with StartOperation, and wrap every external solver invocation in
// RecordSolverOperation. Library packages below the orchestrators log
// through the global zerolog logger instead.
package telemetry
