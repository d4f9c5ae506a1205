// Package logging builds the process logger: slog JSON records written to
// stdout, or to a rotating file when one is configured.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Level      string
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	Compress   bool
}

// Manager owns the log writer so it can be closed at shutdown.
type Manager struct {
	writer io.Writer
	file   *lumberjack.Logger
	level  slog.Level
}

func NewManager(cfg Config) *Manager {
	m := &Manager{writer: os.Stdout, level: ParseLevel(cfg.Level)}
	if cfg.FilePath != "" {
		m.file = &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   cfg.Compress,
			LocalTime:  true,
		}
		m.writer = m.file
	}
	return m
}

func (m *Manager) NewLogger() *slog.Logger {
	return New(m.writer, m.level)
}

func (m *Manager) Close() error {
	if m.file == nil {
		return nil
	}
	return m.file.Close()
}

func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// ParseLevel defaults to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// Discard is a logger for tests and quiet CLI commands.
func Discard() *slog.Logger {
	return New(io.Discard, slog.LevelError)
}
