package logger

import (
	"context"
	"io"
	"log/slog"
	"os"

	"classroom.app/discussion/core/config"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/trace"
)

// Setup installs the default logger. Logs go to stderr because the watcher
// renders the discussion on stdout.
func Setup(cfg config.Config) {
	slog.SetDefault(slog.New(newHandler(cfg, os.Stderr)))
}

func newHandler(cfg config.Config, w io.Writer) slog.Handler {
	level := slog.LevelInfo
	if cfg.IsDevelopment() {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	if !cfg.IsProduction() {
		return NewTraceHandler(slog.NewTextHandler(w, opts))
	}
	if !cfg.OTel.Enabled() {
		return NewTraceHandler(slog.NewJSONHandler(w, opts))
	}
	// the bridge exports span context itself, only discussion fields are added
	bridge := otelslog.NewHandler(cfg.OTel.ServiceName, otelslog.WithLoggerProvider(global.GetLoggerProvider()))
	return &TraceHandler{Handler: bridge, skipTraceIDs: true}
}

// TraceHandler decorates records with the span ids and the LogFields carried
// by the context.
type TraceHandler struct {
	slog.Handler
	skipTraceIDs bool
}

func NewTraceHandler(h slog.Handler) *TraceHandler {
	return &TraceHandler{Handler: h}
}

func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	if !h.skipTraceIDs {
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			r.AddAttrs(
				slog.String("trace_id", sc.TraceID().String()),
				slog.String("span_id", sc.SpanID().String()),
			)
		}
	}
	r.AddAttrs(GetLogFields(ctx).attrs()...)
	return h.Handler.Handle(ctx, r)
}

func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithAttrs(attrs), skipTraceIDs: h.skipTraceIDs}
}

func (h *TraceHandler) WithGroup(name string) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithGroup(name), skipTraceIDs: h.skipTraceIDs}
}
