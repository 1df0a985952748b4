package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileOptions configures rotated file output.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Setup configures the standard library logger to emit structured JSON and returns
// the underlying slog.Logger for richer logging within the service. All log lines
// include the service name and environment when provided.
func Setup(service, env string) *slog.Logger {
	return setup(os.Stdout, service, env, slog.LevelInfo)
}

// SetupWithFile is Setup writing to both stdout and a rotated log file. An
// empty path behaves like Setup.
func SetupWithFile(service, env string, level slog.Level, file FileOptions) (*slog.Logger, io.Closer) {
	if strings.TrimSpace(file.Path) == "" {
		return setup(os.Stdout, service, env, level), nopCloser{}
	}
	rotator := &lumberjack.Logger{
		Filename:   file.Path,
		MaxSize:    file.MaxSizeMB,
		MaxBackups: file.MaxBackups,
		MaxAge:     file.MaxAgeDays,
		Compress:   true,
	}
	return setup(io.MultiWriter(os.Stdout, rotator), service, env, level), rotator
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// ParseLevel maps a config string onto a slog level, defaulting to info.
func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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

func setup(w io.Writer, service, env string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		AddSource: false,
		Level:     level,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.TimeKey {
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			}
			if attr.Key == slog.LevelKey {
				level := strings.ToUpper(attr.Value.String())
				return slog.String("severity", level)
			}
			if attr.Key == slog.MessageKey {
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			return redactAttr(attr)
		},
	})

	attrs := []slog.Attr{
		slog.String("service", strings.TrimSpace(service)),
	}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}

	withArgs := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		withArgs = append(withArgs, attr)
	}

	base := slog.New(handler).With(withArgs...)
	slog.SetDefault(base)

	// Bridge the standard library logger so existing packages continue to work.
	stdBridge := slog.NewLogLogger(handler.WithAttrs(attrs), slog.LevelInfo)
	stdBridge.SetFlags(0)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base
}
