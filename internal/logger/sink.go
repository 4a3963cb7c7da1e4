package logger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Sink receives a copy of log records, typically the log pane of the window.
// Summary is a one-line header, detail is the message followed by its attributes.
type Sink interface {
	WriteLog(summary, detail string)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(summary, detail string)

// WriteLog calls f.
func (f SinkFunc) WriteLog(summary, detail string) {
	f(summary, detail)
}

const sinkTimeFormat = "2006-01-02 15:04:05.000"

type sinkHandler struct {
	next  slog.Handler
	sink  Sink
	level slog.Level
	attrs []slog.Attr
	group string
}

func (h *sinkHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level || h.next.Enabled(ctx, level)
}

func (h *sinkHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	if h.next.Enabled(ctx, r.Level) {
		err = h.next.Handle(ctx, r)
	}
	if r.Level < h.level {
		return err
	}

	summary := fmt.Sprintf("■ %s %s", r.Time.UTC().Format(sinkTimeFormat), r.Level.String())

	var b strings.Builder
	b.WriteString(r.Message)
	writeAttr := func(a slog.Attr) {
		key := a.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		fmt.Fprintf(&b, "\n%s=%v", key, a.Value.Any())
	}
	for _, a := range h.attrs {
		writeAttr(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(a)
		return true
	})

	h.sink.WriteLog(summary, b.String())
	return err
}

func (h *sinkHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.next = h.next.WithAttrs(attrs)
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

func (h *sinkHandler) WithGroup(name string) slog.Handler {
	clone := *h
	clone.next = h.next.WithGroup(name)
	if clone.group == "" {
		clone.group = name
	} else {
		clone.group = clone.group + "." + name
	}
	return &clone
}
