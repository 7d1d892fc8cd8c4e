// Package log provides the process-wide leveled logger. The level is
// stored atomically so hot paths can gate on it without locking, and the
// sink can be redirected when the terminal is owned by the TUI.
package log

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync/atomic"
)

// Level is the severity of a log message.
type Level uint32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
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
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a string, case insensitively, to a Level. Unknown
// strings report false and leave the caller on LevelInfo.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug, true
	case "INFO":
		return LevelInfo, true
	case "WARN", "WARNING":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	case "FATAL":
		return LevelFatal, true
	default:
		return LevelInfo, false
	}
}

var current atomic.Uint32

var sink = stdlog.New(os.Stderr, "", stdlog.Ldate|stdlog.Ltime|stdlog.Lmicroseconds)

func init() {
	SetLevel(LevelInfo)
}

// SetLevel changes the global level. Safe to call from any goroutine.
func SetLevel(l Level) {
	current.Store(uint32(l))
}

// GetLevel returns the current global level.
func GetLevel() Level {
	return Level(current.Load())
}

// SetOutput redirects all subsequent log output to w.
func SetOutput(w io.Writer) {
	sink.SetOutput(w)
}

func enabled(l Level) bool {
	return l >= GetLevel()
}

func emit(l Level, msg string) {
	sink.Printf("[%-5s] %s", l, msg)
}

// Debugf logs a formatted debug message.
func Debugf(format string, v ...any) {
	if enabled(LevelDebug) {
		emit(LevelDebug, fmt.Sprintf(format, v...))
	}
}

// Infof logs a formatted info message.
func Infof(format string, v ...any) {
	if enabled(LevelInfo) {
		emit(LevelInfo, fmt.Sprintf(format, v...))
	}
}

// Warnf logs a formatted warning message.
func Warnf(format string, v ...any) {
	if enabled(LevelWarn) {
		emit(LevelWarn, fmt.Sprintf(format, v...))
	}
}

// Errorf logs a formatted error message.
func Errorf(format string, v ...any) {
	if enabled(LevelError) {
		emit(LevelError, fmt.Sprintf(format, v...))
	}
}

// Fatalf logs a formatted message and exits. Fatal messages ignore the
// configured level.
func Fatalf(format string, v ...any) {
	sink.Fatalf("[%-5s] %s", LevelFatal, fmt.Sprintf(format, v...))
}

// Debug logs its arguments at debug level.
func Debug(v ...any) {
	if enabled(LevelDebug) {
		emit(LevelDebug, fmt.Sprint(v...))
	}
}

// Info logs its arguments at info level.
func Info(v ...any) {
	if enabled(LevelInfo) {
		emit(LevelInfo, fmt.Sprint(v...))
	}
}

// Warn logs its arguments at warn level.
func Warn(v ...any) {
	if enabled(LevelWarn) {
		emit(LevelWarn, fmt.Sprint(v...))
	}
}

// Error logs its arguments at error level.
func Error(v ...any) {
	if enabled(LevelError) {
		emit(LevelError, fmt.Sprint(v...))
	}
}
