// Package trace provides the tracing subsystem for heapkit.
//
// Heaps and VMs report allocation, deallocation and collection activity through
// a Tracer. Tracing is off unless a tracer is attached, so the hot paths only
// pay for an Enabled check.
//
// # Usage
//
// Enable tracing via command-line flags:
//
//	heapkit run --trace=- --trace-level=phase scenario.toml
//
// # Architecture
//
//   - Nop: zero-overhead tracer used when tracing is disabled
//   - StreamTracer: immediate write to output (file/stderr)
//   - RingTracer: circular buffer for post-mortem dumps
//   - MultiTracer: combines multiple tracers
//
// # Levels
//
//   - LevelOff: no tracing
//   - LevelError: only error events (ownership violations, use after free)
//   - LevelPhase: CLI runs and whole collection cycles
//   - LevelDetail: mark/trace/sweep phases
//   - LevelDebug: everything including per-object allocation and free
//
// # Scopes
//
//   - ScopeRun: top-level CLI operations
//   - ScopeCollect: one garbage collection cycle
//   - ScopePhase: one collector phase
//   - ScopeObject: a single object event
//
// # Context Propagation
//
//	ctx = trace.WithTracer(ctx, tracer)
//	t := trace.FromContext(ctx)
//
//	span := trace.Begin(t, trace.ScopeCollect, "gc", parentID)
//	defer span.End("")
package trace
