package logsink

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func newTestCallback() (EntryCallback, func() []Entry) {
	var mu sync.Mutex
	var entries []Entry
	cb := func(e Entry) {
		mu.Lock()
		defer mu.Unlock()
		entries = append(entries, e)
	}
	get := func() []Entry {
		mu.Lock()
		defer mu.Unlock()
		return append([]Entry(nil), entries...)
	}
	return cb, get
}

func TestTeeHandlerThreshold(t *testing.T) {
	tests := []struct {
		name      string
		minLevel  slog.Level
		log       func(*slog.Logger)
		wantTee   bool
		wantLevel slog.Level
	}{
		{
			name:      "error above warn threshold",
			minLevel:  slog.LevelWarn,
			log:       func(l *slog.Logger) { l.Error("spawn failed") },
			wantTee:   true,
			wantLevel: slog.LevelError,
		},
		{
			name:      "warn at threshold",
			minLevel:  slog.LevelWarn,
			log:       func(l *slog.Logger) { l.Warn("stopping gracefully") },
			wantTee:   true,
			wantLevel: slog.LevelWarn,
		},
		{
			name:     "info below warn threshold",
			minLevel: slog.LevelWarn,
			log:      func(l *slog.Logger) { l.Info("keymap loaded") },
			wantTee:  false,
		},
		{
			name:      "info at info threshold",
			minLevel:  slog.LevelInfo,
			log:       func(l *slog.Logger) { l.Info("launch") },
			wantTee:   true,
			wantLevel: slog.LevelInfo,
		},
		{
			name:     "debug below info threshold",
			minLevel: slog.LevelInfo,
			log:      func(l *slog.Logger) { l.Debug("sample") },
			wantTee:  false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			base := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
			cb, get := newTestCallback()
			tt.log(slog.New(NewTeeHandler(base, tt.minLevel, cb)))

			if buf.Len() == 0 {
				t.Fatal("base handler received nothing")
			}
			entries := get()
			if !tt.wantTee {
				if len(entries) != 0 {
					t.Fatalf("callback invoked %d times, want 0", len(entries))
				}
				return
			}
			if len(entries) != 1 {
				t.Fatalf("callback invoked %d times, want 1", len(entries))
			}
			if entries[0].Level != tt.wantLevel {
				t.Fatalf("level = %v, want %v", entries[0].Level, tt.wantLevel)
			}
		})
	}
}

func TestTeeHandlerCarriesAttrs(t *testing.T) {
	cb, get := newTestCallback()
	base := slog.NewTextHandler(io.Discard, nil)
	logger := slog.New(NewTeeHandler(base, slog.LevelInfo, cb)).With("component", "runner")

	logger.Info("[runner] launched", "pid", 4242, "err", errors.New("boom"))

	entries := get()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	want := map[string]string{"component": "runner", "pid": "4242", "err": "boom"}
	for k, v := range want {
		if entries[0].Attrs[k] != v {
			t.Errorf("Attrs[%q] = %q, want %q", k, entries[0].Attrs[k], v)
		}
	}
	if entries[0].Message != "[runner] launched" {
		t.Fatalf("Message = %q", entries[0].Message)
	}
}

func TestTeeHandlerNoAttrsLeavesMapNil(t *testing.T) {
	cb, get := newTestCallback()
	slog.New(NewTeeHandler(slog.NewTextHandler(io.Discard, nil), slog.LevelInfo, cb)).Warn("bare")
	if got := get(); len(got) != 1 || got[0].Attrs != nil {
		t.Fatalf("entries = %+v, want one entry with nil Attrs", got)
	}
}

func TestTeeHandlerGroups(t *testing.T) {
	tests := []struct {
		name   string
		groups []string
		want   string
	}{
		{name: "no group", groups: nil, want: ""},
		{name: "single", groups: []string{"watcher"}, want: "watcher"},
		{name: "nested", groups: []string{"dispatch", "runner"}, want: "dispatch.runner"},
		{name: "empty group ignored", groups: []string{"dispatch", ""}, want: "dispatch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, get := newTestCallback()
			var h slog.Handler = NewTeeHandler(slog.NewTextHandler(io.Discard, nil), slog.LevelInfo, cb)
			for _, g := range tt.groups {
				h = h.WithGroup(g)
			}
			slog.New(h).Warn("x")
			entries := get()
			if len(entries) != 1 || entries[0].Source != tt.want {
				t.Fatalf("entries = %+v, want source %q", entries, tt.want)
			}
		})
	}
}

func TestTeeHandlerNilCallback(t *testing.T) {
	var buf bytes.Buffer
	slog.New(NewTeeHandler(slog.NewTextHandler(&buf, nil), slog.LevelDebug, nil)).Error("x")
	if !strings.Contains(buf.String(), "msg=x") {
		t.Fatalf("base output = %q", buf.String())
	}
}

type errorHandler struct{ err error }

func (h *errorHandler) Enabled(context.Context, slog.Level) bool  { return true }
func (h *errorHandler) Handle(context.Context, slog.Record) error { return h.err }
func (h *errorHandler) WithAttrs([]slog.Attr) slog.Handler        { return h }
func (h *errorHandler) WithGroup(string) slog.Handler             { return h }

func TestTeeHandlerBaseErrorStillTees(t *testing.T) {
	baseErr := errors.New("disk full")
	cb, get := newTestCallback()
	h := NewTeeHandler(&errorHandler{err: baseErr}, slog.LevelWarn, cb)

	record := slog.NewRecord(timeZero, slog.LevelError, "write failed", 0)
	if err := h.Handle(context.Background(), record); !errors.Is(err, baseErr) {
		t.Fatalf("Handle() error = %v, want %v", err, baseErr)
	}
	if len(get()) != 1 {
		t.Fatal("callback not invoked after base error")
	}
}

func TestTeeHandlerCallbackPanicDoesNotPropagate(t *testing.T) {
	h := NewTeeHandler(slog.NewTextHandler(io.Discard, nil), slog.LevelWarn, func(Entry) {
		panic("subscriber exploded")
	})
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("panic escaped Handle: %v", r)
		}
	}()
	record := slog.NewRecord(timeZero, slog.LevelError, "x", 0)
	if err := h.Handle(context.Background(), record); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
}
