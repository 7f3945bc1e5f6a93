// Package trace holds the tracer used across sandboxd. It defaults to
// a noop tracer so embedders that do not configure OpenTelemetry pay
// nothing; installing a real provider lights up every span.
package trace

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// InstrumentName identifies sandboxd spans to the tracer provider.
const InstrumentName = "github.com/sandboxd/sandboxd"

// Span names used by the engine and workspace store.
const (
	SpanWorkspaceCreate = "workspace.create"
	SpanContainerRun    = "container.run"
	SpanToolExecute     = "tool.execute"
)

// Common attribute keys used in spans.
const (
	AttrSessionID = "session_id"
	AttrJobID     = "job_id"
	AttrTool      = "tool"
	AttrImage     = "image"
	AttrExitCode  = "exit_code"
	AttrTimedOut  = "timed_out"
)

var (
	// TracerProvider is the active provider. Noop until SetProvider.
	TracerProvider trace.TracerProvider = noop.NewTracerProvider()
	// Tracer is the tracer all sandboxd packages start spans from.
	Tracer = TracerProvider.Tracer(InstrumentName)
)

// SetProvider installs tp as the process tracer provider and rebinds
// the package tracer to it.
func SetProvider(tp trace.TracerProvider) {
	if tp == nil {
		return
	}
	TracerProvider = tp
	Tracer = tp.Tracer(InstrumentName)
	otel.SetTracerProvider(tp)
}
