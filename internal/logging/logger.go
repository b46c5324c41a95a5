// Package logging configures log/slog for the server and the CLI.
//
// Console output is text or JSON. When a log file is configured every record
// is also written to it as JSON through a slog-multi fanout.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	slogmulti "github.com/samber/slog-multi"
)

// Setup builds the process logger, installs it as the slog default and
// returns it with a cleanup func that closes the log file.
//
// Level values: "debug", "info", "warn", "error" (default: "info")
// Format values: "text", "json" (default: "text")
func Setup(level, format, logFile string) (*slog.Logger, func() error) {
	if logFile == "" {
		logger := NewWithWriters(os.Stdout, nil, level, format)
		slog.SetDefault(logger)
		return logger, func() error { return nil }
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger := NewWithWriters(os.Stdout, nil, level, format)
		slog.SetDefault(logger)
		logger.Error("failed to open log file, using stdout only", "error", err, "file", logFile)
		return logger, func() error { return nil }
	}

	logger := NewWithWriters(os.Stdout, file, level, format)
	slog.SetDefault(logger)
	return logger, file.Close
}

// NewWithWriters creates a logger writing to console and, when file is not
// nil, JSON to file.
func NewWithWriters(console, file io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var consoleHandler slog.Handler
	if strings.ToLower(format) == "json" {
		consoleHandler = slog.NewJSONHandler(console, opts)
	} else {
		consoleHandler = slog.NewTextHandler(console, opts)
	}
	if file == nil {
		return slog.New(consoleHandler)
	}
	return slog.New(slogmulti.Fanout(consoleHandler, slog.NewJSONHandler(file, opts)))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// FromContext returns the default logger with chi's request id attached when
// ctx carries one.
func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		logger = logger.With("request_id", reqID)
	}
	return logger
}
