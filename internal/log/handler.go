package log

import (
	"context"
	"log/slog"

	"github.com/Hadi-Serhan/vwrotation/internal/requestid"
	"github.com/Hadi-Serhan/vwrotation/internal/runid"
)

// ContextHandler wraps an slog.Handler and extracts run_id, job_id and
// request_id from the context of each log record, so anything logging
// through a run or request context carries them without threading
// attributes by hand.
type ContextHandler struct {
	inner slog.Handler
}

func NewContextHandler(inner slog.Handler) *ContextHandler {
	return &ContextHandler{inner: inner}
}

func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := runid.RunID(ctx); id != "" {
		r.AddAttrs(slog.String("run_id", id))
	}
	if id := runid.JobID(ctx); id != "" {
		r.AddAttrs(slog.String("job_id", id))
	}
	if id := requestid.FromContext(ctx); id != "" {
		r.AddAttrs(slog.String("request_id", id))
	}
	return h.inner.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{inner: h.inner.WithGroup(name)}
}
