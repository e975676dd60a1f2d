// Package logger is a small leveled wrapper around the standard log package.
package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"
)

// Level is the severity of a log message.
type Level int32

const (
	TRACE Level = iota
	DEBUG
	INFO
	WARN
	ERROR
	FATAL
)

var (
	current atomic.Int32
	std     = log.New(os.Stderr, "", log.LstdFlags)
)

func init() {
	current.Store(int32(INFO))
}

// SetLevel sets the minimum level that is written.
func SetLevel(l Level) {
	current.Store(int32(l))
}

// Enabled reports whether messages at l are written.
func Enabled(l Level) bool {
	return int32(l) >= current.Load()
}

// LevelFromString converts a level name to a Level, defaulting to INFO.
func LevelFromString(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return TRACE
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

func (l Level) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

func logf(l Level, format string, v ...any) {
	if !Enabled(l) {
		return
	}
	_ = std.Output(3, "["+l.String()+"] "+fmt.Sprintf(format, v...))
}

// Arguments to the functions below are handled in the manner of [fmt.Printf].

func Tracef(format string, v ...any) { logf(TRACE, format, v...) }
func Debugf(format string, v ...any) { logf(DEBUG, format, v...) }
func Infof(format string, v ...any)  { logf(INFO, format, v...) }
func Warnf(format string, v ...any)  { logf(WARN, format, v...) }
func Errorf(format string, v ...any) { logf(ERROR, format, v...) }

// Fatalf logs at FATAL and exits the process.
func Fatalf(format string, v ...any) {
	logf(FATAL, format, v...)
	os.Exit(1)
}
