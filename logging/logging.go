// Package logging configures the daemon's zerolog output: leveled,
// optionally rotated via lumberjack, matching spec.md §6's log_level and
// log_backup configuration keys.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Options configures New.
type Options struct {
	// Level is one of DEBUG, INFO, WARNING, CRITICAL (case-insensitive),
	// matching spec.md §6's log_level values.
	Level string
	// Path, if non-empty, rotates logs to a file instead of stderr.
	Path string
	// MaxBackups is the number of rotated files lumberjack keeps.
	MaxBackups int
	// MaxSizeMB is the size, in megabytes, at which a log file rotates.
	MaxSizeMB int
}

// New builds a zerolog.Logger per opts. Taking an io.Writer-producing
// Options struct (rather than a global) keeps the logger parameterizable
// for tests, per spec.md §9 Design Notes.
func New(opts Options) zerolog.Logger {
	var w io.Writer = os.Stderr
	if opts.Path != "" {
		w = &lumberjack.Logger{
			Filename:   opts.Path,
			MaxBackups: opts.MaxBackups,
			MaxSize:    maxSizeOrDefault(opts.MaxSizeMB),
		}
	}
	logger := zerolog.New(w).With().Timestamp().Logger()
	logger = logger.Level(parseLevel(opts.Level))
	return logger
}

func maxSizeOrDefault(mb int) int {
	if mb <= 0 {
		return 100
	}
	return mb
}

// parseLevel maps spec.md §6's log_level vocabulary onto zerolog's
// levels. CRITICAL has no direct zerolog equivalent; it maps to Error,
// the closest level that still surfaces by default.
func parseLevel(level string) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARNING", "WARN":
		return zerolog.WarnLevel
	case "CRITICAL", "ERROR":
		return zerolog.ErrorLevel
	case "INFO", "":
		return zerolog.InfoLevel
	default:
		return zerolog.InfoLevel
	}
}
