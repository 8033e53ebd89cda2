package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/loyalty-reconciliation/internal/config"
)

// ParseLevel maps a LOG_LEVEL value onto a slog level, defaulting to info
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

// NewLogger creates the process JSON logger tagged with the application and process role
func NewLogger(cfg *config.Config, processType string) *slog.Logger {
	return newLogger(cfg, processType, os.Stdout)
}

func newLogger(cfg *config.Config, processType string, w io.Writer) *slog.Logger {
	level := ParseLevel(cfg.Logging.Level)

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	logger := slog.New(slog.NewJSONHandler(w, opts)).With(
		"app", cfg.Application.Name,
		"env", cfg.Application.Env,
		"process_type", processType,
	)

	logger.Info("logger initialized", "level", level.String())

	return logger
}
