package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"ragbridge/internal/middleware"
)

// ContextHandler stamps the correlation id carried by ctx on every record.
type ContextHandler struct {
	slog.Handler
}

func NewContextHandler(h slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: h}
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if id, ok := ctx.Value(middleware.CorrelationKey).(string); ok && id != "" {
		r.AddAttrs(slog.String("correlation_id", id))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithGroup(name)}
}

type Options struct {
	Level string
	// File enables a rotating log file next to stdout when set.
	File string
}

// New builds the process logger: JSON to stdout, optionally mirrored to a
// rotating file.
func New(opts Options) *slog.Logger {
	return slog.New(NewContextHandler(slog.NewJSONHandler(writer(opts.File), &slog.HandlerOptions{
		Level: ParseLevel(opts.Level),
	})))
}

func writer(file string) io.Writer {
	if file == "" {
		return os.Stdout
	}
	return io.MultiWriter(os.Stdout, &lumberjack.Logger{
		Filename:   file,
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	})
}

func ParseLevel(s string) slog.Level {
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
