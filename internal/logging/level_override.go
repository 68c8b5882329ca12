package logging

import (
	"context"
	"log/slog"
)

// minLevelHandler drops records below min before delegating. The wrapped
// handler should be configured for the most verbose level in use.
type minLevelHandler struct {
	next slog.Handler
	min  slog.Level
}

func (h minLevelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.min && h.next.Enabled(ctx, level)
}

func (h minLevelHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level < h.min {
		return nil
	}
	return h.next.Handle(ctx, r)
}

func (h minLevelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return minLevelHandler{next: h.next.WithAttrs(attrs), min: h.min}
}

func (h minLevelHandler) WithGroup(name string) slog.Handler {
	return minLevelHandler{next: h.next.WithGroup(name), min: h.min}
}

// WithLevelOverride returns a logger that enforces min while keeping the
// logger's attributes and output. Nested overrides replace rather than stack.
func WithLevelOverride(logger *slog.Logger, min slog.Level) *slog.Logger {
	if logger == nil {
		return NewNop()
	}
	next := logger.Handler()
	if existing, ok := next.(minLevelHandler); ok {
		next = existing.next
	}
	return slog.New(minLevelHandler{next: next, min: min})
}

// ForStage returns a logger tagged with the stage name. When overrides names
// the stage, the logger enforces that minimum level instead of the global one.
func ForStage(logger *slog.Logger, stage string, overrides map[string]string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	tagged := logger.With(String(FieldStage, stage))
	level, ok := overrides[stage]
	if !ok || level == "" {
		return tagged
	}
	return WithLevelOverride(tagged, parseLevel(level))
}
