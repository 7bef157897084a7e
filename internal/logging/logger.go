package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/TheGojiOG/mcpanel/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger    *slog.Logger
	initOnce  sync.Once
	logCloser io.Closer
)

// Init installs the process-wide logger. It writes to stderr so that tables
// and JSON printed by mcpanel commands own stdout. Lines from the std log
// package are re-emitted through it.
func Init(cfg config.LoggingConfig) (*slog.Logger, error) {
	initOnce.Do(func() {
		output, closer := buildOutput(cfg, os.Stderr)
		logCloser = closer
		logger = newLogger(cfg, output)
		slog.SetDefault(logger)
		log.SetFlags(0)
		log.SetOutput(slogWriter{logger: logger})
	})
	return logger, nil
}

func newLogger(cfg config.LoggingConfig, output io.Writer) *slog.Logger {
	options := &slog.HandlerOptions{Level: parseLevel(cfg.Level), AddSource: strings.EqualFold(cfg.Level, "debug")}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(output, options))
	}
	options.ReplaceAttr = shortTime
	return slog.New(slog.NewTextHandler(output, options))
}

// shortTime renders text-format timestamps as a wall clock.
func shortTime(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
		return slog.String(slog.TimeKey, a.Value.Time().Format(time.TimeOnly))
	}
	return a
}

// L returns the logger, discarding everything before Init.
func L() *slog.Logger {
	if logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return logger
}

// Close closes the rotated log file.
func Close() error {
	if logCloser != nil {
		return logCloser.Close()
	}
	return nil
}

type slogWriter struct {
	logger *slog.Logger
}

// Write turns "[Lifecycle] Starting..." into a record with
// component=Lifecycle.
func (w slogWriter) Write(p []byte) (int, error) {
	msg := strings.TrimSpace(string(p))
	if msg == "" {
		return len(p), nil
	}
	if component, rest, ok := splitComponent(msg); ok {
		w.logger.Info(rest, "component", component)
		return len(p), nil
	}
	w.logger.Info(msg)
	return len(p), nil
}

func splitComponent(msg string) (component, rest string, ok bool) {
	if !strings.HasPrefix(msg, "[") {
		return "", msg, false
	}
	end := strings.IndexByte(msg, ']')
	if end <= 1 || strings.ContainsAny(msg[1:end], " \t") {
		return "", msg, false
	}
	return msg[1:end], strings.TrimSpace(msg[end+1:]), true
}

// buildOutput tees into logging.file when set. Rotation is lumberjack's.
func buildOutput(cfg config.LoggingConfig, console io.Writer) (io.Writer, io.Closer) {
	if strings.TrimSpace(cfg.File) == "" {
		return console, nil
	}

	fileLogger := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   true,
	}

	return io.MultiWriter(console, fileLogger), fileLogger
}

func parseLevel(level string) slog.Level {
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
