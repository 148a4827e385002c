package ctxlogger

import (
	"context"
	"log/slog"
)

type ctxKey int

const attrsKey ctxKey = 0

// AppendCtx returns a context carrying the given attrs. ContextHandler
// attaches them to every record logged with that context.
func AppendCtx(parent context.Context, attrs ...slog.Attr) context.Context {
	if parent == nil {
		parent = context.Background()
	}

	if existing, ok := parent.Value(attrsKey).([]slog.Attr); ok {
		merged := make([]slog.Attr, 0, len(existing)+len(attrs))
		merged = append(merged, existing...)
		merged = append(merged, attrs...)
		return context.WithValue(parent, attrsKey, merged)
	}

	return context.WithValue(parent, attrsKey, attrs)
}

// ContextHandler wraps a slog.Handler and adds the attrs stored in the
// record's context by AppendCtx.
type ContextHandler struct {
	slog.Handler
}

func (h ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs, ok := ctx.Value(attrsKey).([]slog.Attr); ok {
		r.AddAttrs(attrs...)
	}

	return h.Handler.Handle(ctx, r)
}
