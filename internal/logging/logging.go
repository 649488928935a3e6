// Package logging configures the process logger from the rules document's
// logging settings.
package logging

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options holds logger configuration.
type Options struct {
	File        string // empty disables file output
	Level       string
	MaxSizeMB   int // 0 disables rotation
	BackupCount int // 0 disables rotation
	Stderr      io.Writer
}

// ParseLevel maps a level name to a slog level. An empty name means info.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "critical":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
}

// New builds a text logger writing to stderr and, when configured, to a
// size-rotated log file. The returned closer releases the file.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	out := opts.Stderr
	if out == nil {
		out = os.Stderr
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		file, err := openLogFile(opts)
		if err != nil {
			return nil, nil, err
		}
		out = io.MultiWriter(out, file)
		closer = file
	}

	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	return logger, closer, nil
}

// openLogFile returns a size-rotated writer for opts.File. A zero size or
// backup count means the file is never rotated: lumberjack would read zero
// as its 100 MB default size or as "keep every backup".
func openLogFile(opts Options) (io.WriteCloser, error) {
	if opts.MaxSizeMB <= 0 || opts.BackupCount <= 0 {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		return f, nil
	}
	return &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.BackupCount,
	}, nil
}

// Install makes logger the process default for both slog and the log package.
func Install(logger *slog.Logger) {
	slog.SetDefault(logger)
	log.SetFlags(0)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
