package observability

import (
	"context"
	"log/slog"
)

// Sink receives non-fatal errors from the core components.
type Sink interface {
	Report(ctx context.Context, component string, err error)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, component string, err error)

func (f SinkFunc) Report(ctx context.Context, component string, err error) { f(ctx, component, err) }

// LogSink logs through slog and counts per component.
type LogSink struct {
	Logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{Logger: logger}
}

func (s *LogSink) Report(ctx context.Context, component string, err error) {
	if err == nil {
		return
	}
	ComponentErrors.WithLabelValues(component).Inc()
	s.Logger.WarnContext(ctx, "component error", "component", component, "error", err)
}

// Discard drops every report.
var Discard Sink = SinkFunc(func(context.Context, string, error) {})
