// Package logging provides the small leveled wrapper around the
// standard library's log.Logger used throughout streamcore, matching
// the plain log.Printf/log.Println style the teacher codebase uses
// rather than pulling in a structured logging library the corpus never
// imports for this concern.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
)

// Level controls which messages a Logger emits.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger wraps a *log.Logger with a level filter and a component tag.
// Callers get one per subsystem (e.g. logging.New("udpsock", os.Stderr,
// LevelInfo)) rather than reaching for a package-level global, so tests
// can redirect output and production can wire multiple tagged streams.
type Logger struct {
	tag   string
	level Level
	std   *log.Logger
}

// New creates a tagged Logger writing to w at or above minLevel.
func New(tag string, w io.Writer, minLevel Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return &Logger{
		tag:   tag,
		level: minLevel,
		std:   log.New(w, "", log.LstdFlags|log.Lmicroseconds),
	}
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	if level < l.level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	l.std.Printf("[%s] %s: %s", level, l.tag, msg)
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.log(LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.log(LevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.log(LevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.log(LevelError, format, args...) }

// With returns a child Logger sharing the same output and level but
// tagged with a nested component name, e.g. base.With("ring").
func (l *Logger) With(subtag string) *Logger {
	return &Logger{tag: l.tag + "." + subtag, level: l.level, std: l.std}
}
