package logsink

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"time"
)

// Entry is a flattened log record handed to the tee callback.
type Entry struct {
	Time    time.Time
	Level   slog.Level
	Message string
	// Source is the accumulated dot-separated slog group, or "".
	Source string
	// Attrs holds handler and record attributes rendered as strings.
	Attrs map[string]string
}

// EntryCallback receives every record at or above the tee threshold.
type EntryCallback func(Entry)

// TeeHandler wraps a base [slog.Handler] and tees records at or above minLevel
// to a callback. All records go to the base handler regardless of level; only
// the callback is gated by minLevel.
type TeeHandler struct {
	base     slog.Handler
	callback EntryCallback
	minLevel slog.Level
	group    string
	attrs    []slog.Attr
}

// NewTeeHandler creates a TeeHandler. A nil callback makes it a plain
// pass-through to base.
func NewTeeHandler(base slog.Handler, minLevel slog.Level, callback EntryCallback) *TeeHandler {
	return &TeeHandler{
		base:     base,
		callback: callback,
		minLevel: minLevel,
	}
}

// Enabled defers to the base handler; minLevel only gates the callback.
func (h *TeeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

// Handle forwards the record to the base handler, then invokes the callback
// if the record's level meets minLevel. The callback runs even when the base
// handler fails.
func (h *TeeHandler) Handle(ctx context.Context, record slog.Record) error {
	err := h.base.Handle(ctx, record)

	if h.callback != nil && record.Level >= h.minLevel {
		entry := Entry{
			Time:    record.Time,
			Level:   record.Level,
			Message: record.Message,
			Source:  h.group,
		}
		if n := len(h.attrs) + record.NumAttrs(); n > 0 {
			entry.Attrs = make(map[string]string, n)
			for _, a := range h.attrs {
				entry.Attrs[a.Key] = a.Value.Resolve().String()
			}
			record.Attrs(func(a slog.Attr) bool {
				entry.Attrs[a.Key] = a.Value.Resolve().String()
				return true
			})
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					// stderr, not slog: logging here would re-enter this handler.
					fmt.Fprintf(os.Stderr, "[logsink] callback panicked: %v\n%s\n", r, debug.Stack())
				}
			}()
			h.callback(entry)
		}()
	}

	// slog.Logger reports a base handler error to stderr itself.
	return err
}

// WithAttrs returns a TeeHandler whose base handler has attrs applied. The
// attrs are also carried into tee entries.
func (h *TeeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &TeeHandler{
		base:     h.base.WithAttrs(attrs),
		callback: h.callback,
		minLevel: h.minLevel,
		group:    h.group,
		attrs:    merged,
	}
}

// WithGroup returns a TeeHandler whose base handler is wrapped with the group
// name. The name is appended to the accumulated group, separated by ".".
func (h *TeeHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	newGroup := name
	if h.group != "" {
		newGroup = h.group + "." + name
	}
	return &TeeHandler{
		base:     h.base.WithGroup(name),
		callback: h.callback,
		minLevel: h.minLevel,
		group:    newGroup,
		attrs:    h.attrs,
	}
}
