package tracing

import (
	"context"
	"log/slog"

	"github.com/sarchlab/kcore/sim"
)

// LogTracer writes every hook event to a logger at the debug level.
type LogTracer struct {
	logger *slog.Logger
}

// NewLogTracer creates a LogTracer. A nil logger means the default logger.
func NewLogTracer(logger *slog.Logger) *LogTracer {
	if logger == nil {
		logger = slog.Default()
	}

	return &LogTracer{logger: logger}
}

// Func logs the event.
func (t *LogTracer) Func(ctx sim.HookCtx) {
	if !t.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}

	attrs := []any{"where", ctx.Domain.Name()}
	if a, b, ok := describe(ctx.Item); ok {
		attrs = append(attrs, "a", a, "b", b)
	}

	t.logger.Debug(ctx.Pos.Name, attrs...)
}
