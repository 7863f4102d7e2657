// Package logging configures the process-wide structured logger: console
// output for interactive runs, rotated files for long-lived deployments,
// and a separate error log for the loud parts of a video pipeline.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logging configuration.
type Config struct {
	Level   string        `yaml:"level"`  // debug, info, warn, error
	Format  string        `yaml:"format"` // text, json
	Dir     string        `yaml:"dir"`
	Console ConsoleConfig `yaml:"console"`
	File    FileConfig    `yaml:"file"`
	Rotate  RotateConfig  `yaml:"rotation"`
}

// ConsoleConfig controls stderr output.
type ConsoleConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
}

// FileConfig controls rotated file output.
type FileConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
}

// RotateConfig holds rotation settings for file output.
type RotateConfig struct {
	MaxSize    int  `yaml:"max_size"` // MB
	MaxBackups int  `yaml:"max_backups"`
	MaxAge     int  `yaml:"max_age"` // days
	Compress   bool `yaml:"compress"`
}

// DefaultConfig logs text to the console at info level.
func DefaultConfig() Config {
	return Config{
		Level:   "info",
		Format:  "text",
		Dir:     "logs",
		Console: ConsoleConfig{Enabled: true},
		Rotate:  RotateConfig{MaxSize: 50, MaxBackups: 5, MaxAge: 14},
	}
}

var (
	logFiles   []*lumberjack.Logger
	logFilesMu sync.Mutex
)

// Initialize builds the logger from configuration and installs it as the
// slog default.
func Initialize(cfg Config) error {
	logger, err := NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	slog.SetDefault(logger)
	return nil
}

// NewLogger creates a logger instance with the given configuration.
func NewLogger(cfg Config) (*slog.Logger, error) {
	var handlers []slog.Handler

	if cfg.Console.Enabled {
		level := parseLevel(firstNonEmpty(cfg.Console.Level, cfg.Level))
		format := firstNonEmpty(cfg.Console.Format, cfg.Format)
		handlers = append(handlers, newHandler(os.Stderr, format, level))
	}

	if cfg.File.Enabled {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		mainFile := &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Dir, "vidbot.log"),
			MaxSize:    cfg.Rotate.MaxSize,
			MaxBackups: cfg.Rotate.MaxBackups,
			MaxAge:     cfg.Rotate.MaxAge,
			Compress:   cfg.Rotate.Compress,
		}
		registerLogFile(mainFile)
		level := parseLevel(firstNonEmpty(cfg.File.Level, cfg.Level))
		format := firstNonEmpty(cfg.File.Format, cfg.Format)
		handlers = append(handlers, newHandler(mainFile, format, level))

		errorFile := &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Dir, "errors.log"),
			MaxSize:    cfg.Rotate.MaxSize,
			MaxBackups: cfg.Rotate.MaxBackups,
			MaxAge:     cfg.Rotate.MaxAge,
			Compress:   cfg.Rotate.Compress,
		}
		registerLogFile(errorFile)
		handlers = append(handlers,
			newLevelFloor(newHandler(errorFile, format, slog.LevelWarn), slog.LevelWarn))
	}

	if len(handlers) == 0 {
		return slog.New(newHandler(io.Discard, "text", slog.LevelError)), nil
	}
	return slog.New(newFanout(handlers...)), nil
}

// Shutdown closes all rotated log files.
func Shutdown() error {
	logFilesMu.Lock()
	defer logFilesMu.Unlock()
	for _, f := range logFiles {
		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to close log file: %w", err)
		}
	}
	logFiles = nil
	return nil
}

func registerLogFile(f *lumberjack.Logger) {
	logFilesMu.Lock()
	defer logFilesMu.Unlock()
	logFiles = append(logFiles, f)
}

func parseLevel(level string) slog.Level {
	switch level {
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

func newHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
