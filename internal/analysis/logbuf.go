package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// LogCapacity is the number of lines kept per session.
const LogCapacity = 2000

type Line struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// LogBuffer is a bounded ring of log lines addressed by absolute cursors.
// Cursor n always refers to the n-th line ever appended, so a client polling
// with the last cursor it saw never receives a line twice.
type LogBuffer struct {
	mu    sync.Mutex
	lines []Line
	base  int
	cap   int
}

func NewLogBuffer(capacity int) *LogBuffer {
	if capacity <= 0 {
		capacity = LogCapacity
	}
	return &LogBuffer{cap: capacity}
}

func (b *LogBuffer) Append(l Line) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, l)
	if over := len(b.lines) - b.cap; over > 0 {
		b.lines = append(b.lines[:0:0], b.lines[over:]...)
		b.base += over
	}
}

// Since returns the lines at or after cursor and the cursor to poll with next.
// Lines that fell out of the ring are skipped silently.
func (b *LogBuffer) Since(cursor int) ([]Line, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cursor < b.base {
		cursor = b.base
	}
	end := b.base + len(b.lines)
	if cursor >= end {
		return []Line{}, end
	}
	out := make([]Line, end-cursor)
	copy(out, b.lines[cursor-b.base:])
	return out, end
}

// teeHandler forwards records to next and copies info-and-above records into
// a session log buffer.
type teeHandler struct {
	next  slog.Handler
	buf   *LogBuffer
	attrs []slog.Attr
}

func newTeeLogger(base *slog.Logger, buf *LogBuffer) *slog.Logger {
	return slog.New(&teeHandler{next: base.Handler(), buf: buf})
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= slog.LevelInfo || h.next.Enabled(ctx, level)
}

func (h *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelInfo {
		h.buf.Append(Line{Time: r.Time, Level: r.Level.String(), Message: formatRecord(r, h.attrs)})
	}
	if h.next.Enabled(ctx, r.Level) {
		return h.next.Handle(ctx, r)
	}
	return nil
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	all := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	all = append(all, h.attrs...)
	all = append(all, attrs...)
	return &teeHandler{next: h.next.WithAttrs(attrs), buf: h.buf, attrs: all}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	return &teeHandler{next: h.next.WithGroup(name), buf: h.buf, attrs: h.attrs}
}

func formatRecord(r slog.Record, attrs []slog.Attr) string {
	var sb strings.Builder
	sb.WriteString(r.Message)
	write := func(a slog.Attr) bool {
		fmt.Fprintf(&sb, " %s=%v", a.Key, a.Value.Any())
		return true
	}
	for _, a := range attrs {
		write(a)
	}
	r.Attrs(write)
	return sb.String()
}
