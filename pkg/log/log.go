// Package log configures the process-wide slog logger.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

type config struct {
	format string
	output io.Writer
}

// Option configures Setup.
type Option func(*config)

// WithFormat selects "text" (default) or "json" output.
func WithFormat(format string) Option {
	return func(c *config) { c.format = strings.ToLower(format) }
}

// WithOutput redirects log output, stderr by default.
func WithOutput(w io.Writer) Option {
	return func(c *config) { c.output = w }
}

// ParseLevel maps a level name to a slog level. Unknown names mean info.
func ParseLevel(logLevel string) slog.Level {
	switch strings.ToLower(logLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func Setup(logLevel string, opts ...Option) {
	cfg := config{format: "text", output: os.Stderr}
	for _, opt := range opts {
		opt(&cfg)
	}

	handlerOptions := &slog.HandlerOptions{Level: ParseLevel(logLevel)}

	var handler slog.Handler
	if cfg.format == "json" {
		handler = slog.NewJSONHandler(cfg.output, handlerOptions)
	} else {
		handler = slog.NewTextHandler(cfg.output, handlerOptions)
	}

	slog.SetDefault(slog.New(handler))
}

func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}

// WithFlow scopes a logger to one flow.
func WithFlow(logger *slog.Logger, flowID int64) *slog.Logger {
	return logger.With("flow_id", flowID)
}
