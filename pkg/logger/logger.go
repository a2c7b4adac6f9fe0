// ==============================================================================
// LOGGER PACKAGE - pkg/logger/logger.go
// ==============================================================================
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

type Logger interface {
	Info(message string, fields map[string]interface{})
	Error(message string, fields map[string]interface{})
	Warn(message string, fields map[string]interface{})
	Debug(message string, fields map[string]interface{})
	Fatal(message string, fields map[string]interface{})
}

// Options controls handler selection. Format "console" writes colored
// output through tint, anything else writes JSON lines.
type Options struct {
	Level  string
	Format string
	Output io.Writer
}

type slogLogger struct {
	logger *slog.Logger
	exit   func(int)
}

// New returns a JSON logger on stdout at the level from LOG_LEVEL.
func New(serviceName string) Logger {
	return NewWithOptions(serviceName, Options{
		Level:  os.Getenv("LOG_LEVEL"),
		Format: os.Getenv("LOG_FORMAT"),
	})
}

func NewWithOptions(serviceName string, opts Options) Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	level := ParseLevel(opts.Level)

	var handler slog.Handler
	if strings.EqualFold(opts.Format, "console") {
		handler = tint.NewHandler(out, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	}

	return &slogLogger{
		logger: slog.New(handler).With("service", serviceName),
		exit:   os.Exit,
	}
}

// ParseLevel maps debug, warn and error; everything else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

func (l *slogLogger) log(level slog.Level, message string, fields map[string]interface{}) {
	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]slog.Attr, 0, len(keys))
	for _, k := range keys {
		v := fields[k]
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		attrs = append(attrs, slog.Any(k, v))
	}
	l.logger.LogAttrs(ctx, level, message, attrs...)
}

func (l *slogLogger) Info(message string, fields map[string]interface{}) {
	l.log(slog.LevelInfo, message, fields)
}

func (l *slogLogger) Error(message string, fields map[string]interface{}) {
	l.log(slog.LevelError, message, fields)
}

func (l *slogLogger) Warn(message string, fields map[string]interface{}) {
	l.log(slog.LevelWarn, message, fields)
}

func (l *slogLogger) Debug(message string, fields map[string]interface{}) {
	l.log(slog.LevelDebug, message, fields)
}

func (l *slogLogger) Fatal(message string, fields map[string]interface{}) {
	l.log(slog.LevelError+4, message, fields)
	l.exit(1)
}

func NewNop() Logger {
	return &nopLogger{}
}

type nopLogger struct{}

func (l *nopLogger) Info(message string, fields map[string]interface{})  {}
func (l *nopLogger) Error(message string, fields map[string]interface{}) {}
func (l *nopLogger) Warn(message string, fields map[string]interface{})  {}
func (l *nopLogger) Debug(message string, fields map[string]interface{}) {}
func (l *nopLogger) Fatal(message string, fields map[string]interface{}) {}
