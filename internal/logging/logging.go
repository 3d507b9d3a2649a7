// Package logging keeps recent log records in a bounded in-memory buffer so
// they can be inspected after the fact (e.g. over the HTTP API).
package logging

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

// DefaultCapacity is the number of events a Buffer keeps.
const DefaultCapacity = 500

// Event is one captured log record.
type Event struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

// Buffer is a fixed-capacity ring of events. The oldest event is evicted
// when a new one arrives on a full buffer.
type Buffer struct {
	mu      sync.Mutex
	events  []Event
	next    int
	full    bool
	evicted uint64
}

// NewBuffer returns a buffer holding at most capacity events.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{events: make([]Event, capacity)}
}

func (b *Buffer) add(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.full {
		b.evicted++
	}
	b.events[b.next] = e
	b.next++
	if b.next == len(b.events) {
		b.next = 0
		b.full = true
	}
}

// Events returns a copy of the buffered events, oldest first.
func (b *Buffer) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.full {
		out := make([]Event, b.next)
		copy(out, b.events[:b.next])
		return out
	}
	out := make([]Event, 0, len(b.events))
	out = append(out, b.events[b.next:]...)
	return append(out, b.events[:b.next]...)
}

// Evicted returns how many events have been dropped to make room.
func (b *Buffer) Evicted() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.evicted
}

// Handler is an slog.Handler that records into a Buffer and optionally
// forwards to another handler.
type Handler struct {
	buf   *Buffer
	level slog.Leveler
	next  slog.Handler
	attrs []slog.Attr
	group string
}

// NewHandler builds a handler recording records at or above level into buf.
// next may be nil.
func NewHandler(buf *Buffer, level slog.Leveler, next slog.Handler) *Handler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &Handler{buf: buf, level: level, next: next}
}

func (h *Handler) Enabled(ctx context.Context, l slog.Level) bool {
	if l >= h.level.Level() {
		return true
	}
	return h.next != nil && h.next.Enabled(ctx, l)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= h.level.Level() {
		fields := make(map[string]any, len(h.attrs)+r.NumAttrs())
		for _, a := range h.attrs {
			put(fields, "", a)
		}
		r.Attrs(func(a slog.Attr) bool {
			put(fields, h.group, a)
			return true
		})
		if len(fields) == 0 {
			fields = nil
		}
		h.buf.add(Event{Time: r.Time, Level: r.Level.String(), Message: r.Message, Context: fields})
	}
	if h.next != nil && h.next.Enabled(ctx, r.Level) {
		return h.next.Handle(ctx, r)
	}
	return nil
}

func put(fields map[string]any, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if prefix != "" && key != "" {
		key = prefix + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		if a.Key == "" {
			key = prefix
		}
		for _, ga := range a.Value.Group() {
			put(fields, key, ga)
		}
		return
	}
	fields[key] = a.Value.Any()
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	clone.attrs = append(clone.attrs, h.attrs...)
	for _, a := range attrs {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		clone.attrs = append(clone.attrs, a)
	}
	if h.next != nil {
		clone.next = h.next.WithAttrs(attrs)
	}
	return &clone
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	if h.group != "" {
		clone.group = h.group + "." + name
	} else {
		clone.group = name
	}
	if h.next != nil {
		clone.next = h.next.WithGroup(name)
	}
	return &clone
}

// New returns a logger writing into buf and, when w is non-nil, as text to w.
func New(buf *Buffer, level slog.Level, w io.Writer) *slog.Logger {
	var next slog.Handler
	if w != nil {
		next = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}
	return slog.New(NewHandler(buf, level, next))
}

// Nop returns a logger that discards everything.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// ParseLevel maps debug/info/warn/error to a level, defaulting to info.
func ParseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
