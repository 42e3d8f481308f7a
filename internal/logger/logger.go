package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"clinic/reception-service/internal/config"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

var level = new(slog.LevelVar)

// Init builds the process logger from cfg and installs it as slog's default.
func Init(cfg config.LoggerConfig) (*slog.Logger, error) {
	writer, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}
	level.Set(ParseLevel(cfg.Level))
	logger := slog.New(NewHandler(writer, cfg.Format, level))
	slog.SetDefault(logger)
	return logger, nil
}

// NewHandler returns a JSON handler for format "json" and a tint console
// handler otherwise, coloured only when w is a terminal.
func NewHandler(w io.Writer, format string, leveler slog.Leveler) slog.Handler {
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: leveler})
	}
	return tint.NewHandler(w, &tint.Options{
		Level:      leveler,
		TimeFormat: time.DateTime,
		NoColor:    !isTerminal(w),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == "error" && a.Value.Kind() == slog.KindAny {
				if err, ok := a.Value.Any().(error); ok {
					return tint.Err(err)
				}
			}
			return a
		},
	})
}

func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(raw) {
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

func SetLevel(l slog.Level) {
	level.Set(l)
}

func WithComponent(component string) *slog.Logger {
	return slog.Default().With("component", component)
}

func openOutput(path string) (io.Writer, error) {
	switch strings.ToLower(path) {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return term.IsTerminal(int(f.Fd()))
	}
	return false
}
