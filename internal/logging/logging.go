// Package logging installs the process wide go-ethereum logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Level string
	// Format is "terminal" or "json".
	Format string
	// File, when set, also writes the log to a rotated file.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

var DefaultConfig = Config{
	Level:      "info",
	Format:     "terminal",
	MaxSizeMB:  100,
	MaxBackups: 10,
	MaxAgeDays: 30,
}

// Init replaces the default logger. The returned closer releases the log file, if any.
func Init(config Config, stderr io.Writer) (io.Closer, error) {
	level, err := toSlogLevel(config.Level)
	if err != nil {
		return nil, err
	}
	output := stderr
	var closer io.Closer = nopCloser{}
	if config.File != "" {
		file := &lumberjack.Logger{
			Filename:   config.File,
			MaxSize:    config.MaxSizeMB,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAgeDays,
			Compress:   config.Compress,
		}
		output = io.MultiWriter(stderr, file)
		closer = file
	}
	handler, err := handlerFor(config.Format, output, stderr == os.Stderr)
	if err != nil {
		return nil, err
	}
	glogger := log.NewGlogHandler(handler)
	glogger.Verbosity(level)
	log.SetDefault(log.NewLogger(glogger))
	return closer, nil
}

func toSlogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "trace":
		return log.LevelTrace, nil
	case "debug":
		return log.LevelDebug, nil
	case "", "info":
		return log.LevelInfo, nil
	case "warn":
		return log.LevelWarn, nil
	case "error":
		return log.LevelError, nil
	case "crit":
		return log.LevelCrit, nil
	}
	return 0, errors.Errorf("invalid log level %q", level)
}

func handlerFor(format string, output io.Writer, color bool) (slog.Handler, error) {
	switch format {
	case "", "terminal":
		return log.NewTerminalHandler(output, color), nil
	case "json":
		return log.JSONHandler(output), nil
	}
	return nil, errors.Errorf("unknown log format %q", format)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
