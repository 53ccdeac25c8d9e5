// Package logger is the process-wide structured logger.
//
// It wraps log/slog with a global, reconfigurable handler (colored text or
// JSON) and adds context-aware variants that prepend the login session
// fields stored by WithContext.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

// Config holds logger configuration
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text, json
	Output string // stdout, stderr, or file path
}

var (
	level slog.LevelVar

	mu       sync.RWMutex
	format   = "text"
	output   io.Writer = os.Stderr
	useColor bool
	slogger  *slog.Logger
)

func init() {
	level.Set(slog.LevelInfo)
	useColor = term.IsTerminal(int(os.Stderr.Fd()))
	reconfigure()
}

// ParseLevel converts DEBUG/INFO/WARN/ERROR (any case) to a slog level.
func ParseLevel(s string) (slog.Level, bool) {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug, true
	case "INFO":
		return slog.LevelInfo, true
	case "WARN", "WARNING":
		return slog.LevelWarn, true
	case "ERROR":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

// reconfigure rebuilds the handler from the current output and format.
// The level is shared through the LevelVar so SetLevel needs no rebuild.
func reconfigure() {
	mu.Lock()
	defer mu.Unlock()

	opts := &slog.HandlerOptions{Level: &level}

	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(output, opts)
	} else {
		h = NewColorTextHandler(output, opts, useColor)
	}
	slogger = slog.New(h)
}

// Init configures the logger. Output can be "stdout", "stderr", or a file path.
func Init(cfg Config) error {
	if cfg.Output != "" {
		var w io.Writer
		var color bool

		switch strings.ToLower(cfg.Output) {
		case "stdout":
			w = os.Stdout
			color = term.IsTerminal(int(os.Stdout.Fd()))
		case "stderr":
			w = os.Stderr
			color = term.IsTerminal(int(os.Stderr.Fd()))
		default:
			f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				return fmt.Errorf("failed to open log file %q: %w", cfg.Output, err)
			}
			w = f
		}

		mu.Lock()
		output = w
		useColor = color
		mu.Unlock()
	}

	if cfg.Level != "" {
		SetLevel(cfg.Level)
	}
	if cfg.Format != "" {
		SetFormat(cfg.Format)
	}
	reconfigure()
	return nil
}

// InitWithWriter sends output to w. Mostly useful for tests.
func InitWithWriter(w io.Writer, lvl, fmtName string, enableColor bool) {
	mu.Lock()
	output = w
	useColor = enableColor
	mu.Unlock()

	if lvl != "" {
		SetLevel(lvl)
	}
	if fmtName != "" {
		SetFormat(fmtName)
	}
	reconfigure()
}

// SetLevel sets the minimum log level. Unknown levels are ignored.
func SetLevel(lvl string) {
	if l, ok := ParseLevel(lvl); ok {
		level.Set(l)
	}
}

// SetFormat sets the output format (text or json). Unknown formats are ignored.
func SetFormat(f string) {
	f = strings.ToLower(f)
	if f != "text" && f != "json" {
		return
	}
	mu.Lock()
	format = f
	mu.Unlock()
	reconfigure()
}

// Enabled reports whether messages at lvl are currently emitted.
func Enabled(lvl slog.Level) bool {
	return lvl >= level.Level()
}

func getLogger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return slogger
}

// ============================================================================
// Structured Logging API
// ============================================================================

// Debug logs at debug level with structured fields
// Usage: Debug("message", "key1", value1, "key2", value2)
func Debug(msg string, args ...any) {
	if !Enabled(slog.LevelDebug) {
		return
	}
	getLogger().Debug(msg, args...)
}

func Info(msg string, args ...any) {
	if !Enabled(slog.LevelInfo) {
		return
	}
	getLogger().Info(msg, args...)
}

func Warn(msg string, args ...any) {
	if !Enabled(slog.LevelWarn) {
		return
	}
	getLogger().Warn(msg, args...)
}

func Error(msg string, args ...any) {
	getLogger().Error(msg, args...)
}

// ============================================================================
// Context-aware Logging API
// ============================================================================

// DebugCtx logs at debug level, prepending the LogContext fields of ctx.
func DebugCtx(ctx context.Context, msg string, args ...any) {
	if !Enabled(slog.LevelDebug) {
		return
	}
	getLogger().Debug(msg, appendContextFields(ctx, args)...)
}

func InfoCtx(ctx context.Context, msg string, args ...any) {
	if !Enabled(slog.LevelInfo) {
		return
	}
	getLogger().Info(msg, appendContextFields(ctx, args)...)
}

func WarnCtx(ctx context.Context, msg string, args ...any) {
	if !Enabled(slog.LevelWarn) {
		return
	}
	getLogger().Warn(msg, appendContextFields(ctx, args)...)
}

func ErrorCtx(ctx context.Context, msg string, args ...any) {
	getLogger().Error(msg, appendContextFields(ctx, args)...)
}

func appendContextFields(ctx context.Context, args []any) []any {
	lc := FromContext(ctx)
	if lc == nil {
		return args
	}

	ctxArgs := make([]any, 0, 10+len(args))
	if lc.TraceID != "" {
		ctxArgs = append(ctxArgs, KeyTraceID, lc.TraceID)
	}
	if lc.SpanID != "" {
		ctxArgs = append(ctxArgs, KeySpanID, lc.SpanID)
	}
	if lc.SessionID != "" {
		ctxArgs = append(ctxArgs, KeySessionID, lc.SessionID)
	}
	if lc.Origin != "" {
		ctxArgs = append(ctxArgs, KeyOrigin, lc.Origin)
	}
	if lc.Phase != "" {
		ctxArgs = append(ctxArgs, KeyPhase, lc.Phase)
	}
	return append(ctxArgs, args...)
}

// With returns a logger with pre-bound attributes.
func With(args ...any) *slog.Logger {
	return getLogger().With(args...)
}

// Duration returns the time elapsed since start in milliseconds.
func Duration(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
