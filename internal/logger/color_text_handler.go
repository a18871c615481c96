package logger

import (
	"context"
	"io"
	"log/slog"
)

// ColorTextHandler wraps slog.TextHandler to add ANSI color codes per level
// and, when a record carries a "process" attribute, highlights the process
// name so a pipeline's interleaved process logs stay readable on an
// interactive TTY.
type ColorTextHandler struct {
	*slog.TextHandler
}

// NewColorTextHandler creates a new ColorTextHandler. showTime controls
// whether the handler emits its own timestamp at all: the daemon's ringlog
// files already carry an authoritative one, so a caller may turn it off
// for TTY mirroring (cmd/clierd runs with it on).
func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions, showTime bool) *ColorTextHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	if !showTime {
		opts = &slog.HandlerOptions{
			Level:     opts.Level,
			AddSource: opts.AddSource,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if len(groups) == 0 && a.Key == slog.TimeKey {
					return slog.Attr{}
				}
				return a
			},
		}
	}
	return &ColorTextHandler{TextHandler: slog.NewTextHandler(w, opts)}
}

// Handle implements slog.Handler.
func (h *ColorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	var colorCode string
	switch r.Level {
	case slog.LevelDebug:
		colorCode = "\033[36m" // Cyan
	case slog.LevelInfo:
		colorCode = "\033[32m" // Green
	case slog.LevelWarn:
		colorCode = "\033[33m" // Yellow
	case slog.LevelError:
		colorCode = "\033[31m" // Red
	default:
		colorCode = "\033[0m" // Reset/default
	}

	originalMsg := r.Message
	r.Message = colorCode + r.Level.String() + "\033[0m  " + originalMsg
	if proc, ok := processAttr(r); ok {
		r.Message += " \033[1m[" + proc + "]\033[0m"
	}

	return h.TextHandler.Handle(ctx, r)
}

// processAttr looks for a top-level "process" attribute, the key every
// procmodel/orchestrator log call uses to identify which pipeline item a
// record is about.
func processAttr(r slog.Record) (string, bool) {
	var name string
	found := false
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "process" {
			name = a.Value.String()
			found = true
			return false
		}
		return true
	})
	return name, found
}
