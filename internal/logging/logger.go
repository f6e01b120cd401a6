package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/workgraph/internal/config"
)

const defaultMaxBackups = 3

// Logger owns a configured logrus logger and the log file behind it, if any
type Logger struct {
	*logrus.Logger
	path       string
	maxSize    int64
	maxBackups int
	file       *os.File
}

// New builds a logger from the logging section. Console output goes to
// console (stderr when nil); when a file is configured every entry is also
// appended there, rotating it first when it exceeds max_size_mb.
func New(cfg config.LoggingConfig, console io.Writer) (*Logger, error) {
	if console == nil {
		console = os.Stderr
	}

	level := logrus.InfoLevel
	if cfg.Level != "" {
		parsed, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	l := &Logger{
		Logger:     logrus.New(),
		path:       cfg.File,
		maxSize:    int64(cfg.MaxSizeMB) * 1024 * 1024,
		maxBackups: defaultMaxBackups,
	}
	l.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	out := console
	if l.path != "" {
		if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		if err := l.rotateIfNeeded(); err != nil {
			return nil, fmt.Errorf("failed to rotate logs: %w", err)
		}
		file, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", l.path, err)
		}
		l.file = file
		out = io.MultiWriter(console, file)
	}
	l.SetOutput(out)
	return l, nil
}

// rotateIfNeeded shifts path -> path.1 -> path.2 ... when the current file
// has grown past maxSize.
func (l *Logger) rotateIfNeeded() error {
	if l.maxSize <= 0 {
		return nil
	}
	info, err := os.Stat(l.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	if info.Size() < l.maxSize {
		return nil
	}

	for i := l.maxBackups - 1; i >= 1; i-- {
		oldPath := fmt.Sprintf("%s.%d", l.path, i)
		if _, err := os.Stat(oldPath); err == nil {
			_ = os.Rename(oldPath, fmt.Sprintf("%s.%d", l.path, i+1))
		}
	}
	if err := os.Rename(l.path, l.path+".1"); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}
	return nil
}

// Path returns the log file path, empty when logging to the console only
func (l *Logger) Path() string {
	return l.path
}

// Close closes the log file if one is open
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.SetOutput(os.Stderr)
	return err
}
