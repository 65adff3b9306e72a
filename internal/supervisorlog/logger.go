// Package supervisorlog provides the supervisor process's own log file:
// plain stdlib *log.Logger text, written through a lumberjack rotating
// writer so long daemon uptimes don't grow one unbounded file. This is
// distinct from per-task worker logs (the wrapper scripts generated by
// internal/dispatch write those); this package is for the pulse loop's own
// diagnostics.
package supervisorlog

import (
	"fmt"
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls rotation. Zero values fall back to sane defaults.
type Config struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	Stderr     bool // also tee to stderr, for foreground/debug runs
}

// Logger is a thin wrapper so callers depend on a narrow interface rather
// than *log.Logger directly.
type Logger struct {
	*log.Logger
	closer io.Closer
}

// New opens (creating parent directories as needed) a rotating log writer
// at cfg.Path and returns a ready-to-use Logger. Callers must Close it on
// shutdown to flush.
func New(cfg Config) (*Logger, error) {
	if cfg.Path == "" {
		return &Logger{Logger: log.New(os.Stderr, "", log.LstdFlags), closer: nopCloser{}}, nil
	}
	lj := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    orDefault(cfg.MaxSizeMB, 50),
		MaxBackups: orDefault(cfg.MaxBackups, 5),
		MaxAge:     orDefault(cfg.MaxAgeDays, 14),
		Compress:   cfg.Compress,
	}
	var w io.Writer = lj
	if cfg.Stderr {
		w = io.MultiWriter(lj, os.Stderr)
	}
	return &Logger{Logger: log.New(w, "", log.LstdFlags|log.Lmicroseconds), closer: lj}, nil
}

func (l *Logger) Close() error { return l.closer.Close() }

// Cyclef logs one pulse-cycle line tagged with the cycle ID, the shape most
// of the pulse loop's own logging uses.
func (l *Logger) Cyclef(cycleID, format string, args ...any) {
	l.Printf("[cycle %s] %s", cycleID, fmt.Sprintf(format, args...))
}

func orDefault(v, d int) int {
	if v == 0 {
		return d
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
