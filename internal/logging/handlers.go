package logging

import (
	"context"
	"errors"
	"log/slog"
)

// ContextProvider returns attributes stamped on every record at write time,
// such as the campaign session and the current tick.
type ContextProvider func() []slog.Attr

// stamped adds the provider's attributes to each record before passing it on.
type stamped struct {
	next    slog.Handler
	provide ContextProvider
}

func (h stamped) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h stamped) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(h.provide()...)
	return h.next.Handle(ctx, r)
}

func (h stamped) WithAttrs(attrs []slog.Attr) slog.Handler {
	return stamped{next: h.next.WithAttrs(attrs), provide: h.provide}
}

func (h stamped) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return stamped{next: h.next.WithGroup(name), provide: h.provide}
}

// fanout hands every record to each output that accepts its level. A failing
// output does not stop the others; their errors are joined.
type fanout []slog.Handler

func newFanout(hs ...slog.Handler) fanout {
	out := make(fanout, 0, len(hs))
	for _, h := range hs {
		if h != nil {
			out = append(out, h)
		}
	}
	return out
}

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f fanout) WithGroup(name string) slog.Handler {
	if name == "" {
		return f
	}
	return f.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f fanout) each(fn func(slog.Handler) slog.Handler) fanout {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = fn(h)
	}
	return out
}
