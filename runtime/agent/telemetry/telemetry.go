package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// Logger is the structured logging interface used throughout the workflow
	// and activity code. Implementations (ClueLogger, NoopLogger) decide how
	// keyvals are formatted and where they are written.
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics is the metrics-recording interface used by workflow and activity
	// code. Implementations (ClueMetrics, NoopMetrics) decide how counters,
	// timers, and gauges are exported.
	Metrics interface {
		IncCounter(name string, value float64, tags ...string)
		RecordTimer(name string, duration time.Duration, tags ...string)
		RecordGauge(name string, value float64, tags ...string)
	}

	// Tracer starts and resolves spans for workflow and activity code.
	Tracer interface {
		Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
		Span(ctx context.Context) Span
	}

	// Span is a single unit of tracing work, scoped the way OTEL spans are.
	Span interface {
		End(opts ...trace.SpanEndOption)
		AddEvent(name string, attrs ...any)
		SetStatus(code codes.Code, description string)
		RecordError(err error, opts ...trace.EventOption)
	}
)
