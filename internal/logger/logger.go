// Package logger provides the console slog handler used by every atelier surface.
package logger

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Options configures a Handler.
type Options struct {
	// Level is the minimum level to log. Defaults to slog.LevelInfo.
	Level slog.Leveler

	// TimeFormat is the timestamp layout. Empty disables timestamps.
	TimeFormat string

	// NoColor disables ANSI colors (useful when stderr is not a terminal).
	NoColor bool
}

// Handler is a compact, colored slog.Handler writing one line per record.
type Handler struct {
	opts   Options
	attrs  []slog.Attr
	groups []string

	mu  *sync.Mutex
	out io.Writer
}

// NewHandler creates a Handler writing to out.
func NewHandler(out io.Writer, opts Options) *Handler {
	if opts.Level == nil {
		opts.Level = slog.LevelInfo
	}
	return &Handler{opts: opts, mu: &sync.Mutex{}, out: out}
}

// New returns a *slog.Logger backed by a Handler.
func New(out io.Writer, opts Options) *slog.Logger {
	return slog.New(NewHandler(out, opts))
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *slog.Logger {
	return slog.New(NewHandler(io.Discard, Options{Level: slog.Level(99)}))
}

// ParseLevel maps "debug", "info", "warn", "error" to a slog.Level.
// Unknown values fall back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Enabled implements slog.Handler.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level.Level()
}

// Handle implements slog.Handler.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var buf bytes.Buffer

	if h.opts.TimeFormat != "" && !r.Time.IsZero() {
		buf.WriteString(h.paint(color.New(color.Faint), r.Time.Format(h.opts.TimeFormat)))
		buf.WriteByte(' ')
	}

	buf.WriteString(h.levelLabel(r.Level))
	buf.WriteByte(' ')
	buf.WriteString(r.Message)

	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	write := func(prefix string, a slog.Attr) {
		if a.Equal(slog.Attr{}) {
			return
		}
		c := color.New(color.FgCyan)
		if strings.Contains(a.Key, "err") {
			c = color.New(color.FgRed)
		}
		buf.WriteByte(' ')
		buf.WriteString(h.paint(c, prefix+a.Key+"="))
		buf.WriteString(a.Value.Resolve().String())
	}
	for _, a := range h.attrs {
		write("", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		write(prefix, a)
		return true
	})
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.out.Write(buf.Bytes())
	return err
}

// WithAttrs implements slog.Handler.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	h2 := *h
	h2.attrs = append([]slog.Attr{}, h.attrs...)
	for _, a := range attrs {
		h2.attrs = append(h2.attrs, slog.Attr{Key: prefix + a.Key, Value: a.Value})
	}
	return &h2
}

// WithGroup implements slog.Handler.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.groups = append(append([]string{}, h.groups...), name)
	return &h2
}

func (h *Handler) levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return h.paint(color.New(color.BgRed, color.FgHiWhite), "ERROR")
	case level >= slog.LevelWarn:
		return h.paint(color.New(color.BgYellow, color.FgHiWhite), "WARN ")
	case level >= slog.LevelInfo:
		return h.paint(color.New(color.BgGreen, color.FgHiWhite), "INFO ")
	default:
		return h.paint(color.New(color.BgCyan, color.FgHiWhite), "DEBUG")
	}
}

func (h *Handler) paint(c *color.Color, s string) string {
	if h.opts.NoColor {
		return s
	}
	c.EnableColor()
	return c.Sprint(s)
}

// Err wraps an error as a slog attribute under the "err" key.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("err", err.Error())
}

// Duration formats a duration attribute in milliseconds.
func Duration(key string, d time.Duration) slog.Attr {
	return slog.String(key, fmt.Sprintf("%dms", d.Milliseconds()))
}
