// Package telemetry defines the logging, metrics, and tracing contracts used
// across the controller runtime. Components receive these via their Options
// and default to the no-op implementations, so tests run silent and
// production wires the clue/OTEL implementations once at startup.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// Logger emits structured log messages with alternating key/value pairs.
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics records counters and timers for runtime instrumentation.
	// Tags are alternating key/value strings.
	Metrics interface {
		IncCounter(name string, value float64, tags ...string)
		RecordTimer(name string, duration time.Duration, tags ...string)
	}

	// Tracer creates spans around runtime operations.
	Tracer interface {
		Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	}

	// Span is the subset of an OTEL span the runtime records to.
	Span interface {
		End(opts ...trace.SpanEndOption)
		RecordError(err error, opts ...trace.EventOption)
		SetStatus(code codes.Code, description string)
	}
)
