// Package logging provides the structured logger used by the daemon, web
// server, and orchestration cycles. CLI command output stays on plain fmt;
// this logger is for long-running paths where lines get scraped.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Config controls logger construction
type Config struct {
	Level  string // debug, info, warn, error (default info)
	Format string // text, json, auto (default auto)
	Output io.Writer
}

// Logger wraps slog.Logger so call sites stay decoupled from handler setup
type Logger struct {
	*slog.Logger
}

// New builds a Logger from cfg. Format "auto" picks text on a terminal and
// json otherwise, so daemon logs piped to a collector stay machine-readable.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	switch resolveFormat(cfg.Format, out) {
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	default:
		handler = slog.NewTextHandler(out, opts)
	}
	return &Logger{slog.New(handler)}
}

// NewNop returns a logger that discards everything. Used in tests.
func NewNop() *Logger {
	return &Logger{slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 4}))}
}

// WithRun returns a logger carrying run correlation fields
func (l *Logger) WithRun(runID, projectID string) *Logger {
	return &Logger{l.Logger.With("run", runID, "project", projectID)}
}

// WithComponent returns a logger tagged with a component name
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{l.Logger.With("component", name)}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

func resolveFormat(format string, out io.Writer) string {
	switch strings.ToLower(format) {
	case "text", "json":
		return strings.ToLower(format)
	}
	if f, ok := out.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		return "text"
	}
	return "json"
}
