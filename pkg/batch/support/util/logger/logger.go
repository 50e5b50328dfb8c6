// Package logger provides the process-wide logging utility for billcache.
// It keeps a small printf-style API (Debugf, Infof, ...) on top of a zerolog logger so that
// call sites stay terse while output can be switched between console and JSON.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel is a type representing the logging level.
type LogLevel int

const (
	// LevelDebug is the log level used for detailed debugging information.
	LevelDebug LogLevel = iota
	// LevelInfo is the log level used for general informational messages.
	LevelInfo
	// LevelWarn is the log level used for potential issues or warning messages.
	LevelWarn
	// LevelError is the log level used for error messages.
	LevelError
	// LevelFatal is the log level used for fatal error messages that cause application termination.
	LevelFatal
)

const (
	// FormatConsole renders human readable, optionally colored lines.
	FormatConsole = "console"
	// FormatJSON renders one JSON object per line.
	FormatJSON = "json"
)

var (
	mu       sync.RWMutex
	logLevel = LevelInfo
	base     = newZerolog(os.Stderr, FormatConsole)
)

func newZerolog(w io.Writer, format string) zerolog.Logger {
	if strings.ToLower(format) == FormatJSON {
		return zerolog.New(w).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
}

// SetLogLevel sets the global log level.
// Valid string values are "DEBUG", "INFO", "WARN", "ERROR", "FATAL" (case-insensitive).
// If an invalid value is specified, the default "INFO" level is used and a warning is printed.
func SetLogLevel(level string) {
	mu.Lock()
	defer mu.Unlock()
	switch strings.ToUpper(level) {
	case "INFO":
		logLevel = LevelInfo
	case "WARN":
		logLevel = LevelWarn
	case "ERROR":
		logLevel = LevelError
	case "FATAL":
		logLevel = LevelFatal
	case "DEBUG":
		logLevel = LevelDebug
	default:
		fmt.Fprintf(os.Stderr, "Unknown log level '%s' specified. Defaulting to INFO level.\n", level)
		logLevel = LevelInfo
	}
}

// SetFormat switches the output format ("console" or "json").
func SetFormat(format string) {
	SetOutput(os.Stderr, format)
}

// SetOutput redirects log output to w using the given format.
// Tests use it to capture log lines.
func SetOutput(w io.Writer, format string) {
	mu.Lock()
	defer mu.Unlock()
	base = newZerolog(w, format)
}

// GetLogLevel returns the current log level.
func GetLogLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return logLevel
}

func enabled(level LogLevel) (zerolog.Logger, bool) {
	mu.RLock()
	defer mu.RUnlock()
	return base, logLevel <= level
}

// Debugf formats and outputs a DEBUG level log message.
//
// format: A format string in the same format as `fmt.Printf`.
// v: Arguments to pass to the format string.
func Debugf(format string, v ...interface{}) {
	if l, ok := enabled(LevelDebug); ok {
		l.Debug().Msgf(format, v...)
	}
}

// Infof formats and outputs an INFO level log message.
//
// format: A format string in the same format as `fmt.Printf`.
// v: Arguments to pass to the format string.
func Infof(format string, v ...interface{}) {
	if l, ok := enabled(LevelInfo); ok {
		l.Info().Msgf(format, v...)
	}
}

// Warnf formats and outputs a WARN level log message.
//
// format: A format string in the same format as `fmt.Printf`.
// v: Arguments to pass to the format string.
func Warnf(format string, v ...interface{}) {
	if l, ok := enabled(LevelWarn); ok {
		l.Warn().Msgf(format, v...)
	}
}

// Errorf formats and outputs an ERROR level log message.
//
// format: A format string in the same format as `fmt.Printf`.
// v: Arguments to pass to the format string.
func Errorf(format string, v ...interface{}) {
	if l, ok := enabled(LevelError); ok {
		l.Error().Msgf(format, v...)
	}
}

// Fatalf formats and outputs a FATAL level log message,
// then terminates the program by calling os.Exit(1).
func Fatalf(format string, v ...interface{}) {
	l, _ := enabled(LevelFatal)
	l.Fatal().Msgf(format, v...)
}

// With returns a zerolog logger carrying the given key/value fields.
// It is used where structured fields matter more than a formatted line,
// e.g. per-run workflow logs.
func With(fields map[string]interface{}) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base.With().Fields(fields).Logger()
}
