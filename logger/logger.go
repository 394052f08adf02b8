package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	TRACE LogLevel = iota // Wire-level detail: individual fragments, driver events
	DEBUG                 // Protocol decisions: scoring, selection, state transitions
	INFO                  // High-level events: connections, reassembled packets
	WARN                  // Warnings
	ERROR                 // Errors
)

var levelNames = map[LogLevel]string{
	TRACE: "TRACE",
	DEBUG: "DEBUG",
	INFO:  "INFO ",
	WARN:  "WARN ",
	ERROR: "ERROR",
}

var (
	mu           sync.RWMutex
	currentLevel LogLevel  = INFO
	out          io.Writer = os.Stdout
)

// SetLevel sets the global log level
func SetLevel(level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	currentLevel = level
}

// GetLevel returns the current log level
func GetLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return currentLevel
}

// SetOutput redirects log output, primarily for tests
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

// ParseLevel converts a string to a LogLevel
func ParseLevel(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "TRACE":
		return TRACE
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

func logf(level LogLevel, prefix, format string, args ...interface{}) {
	mu.RLock()
	enabled := level >= currentLevel
	w := out
	mu.RUnlock()
	if !enabled {
		return
	}

	msg := fmt.Sprintf(format, args...)
	if prefix != "" {
		fmt.Fprintf(w, "[%s %s] %s\n", prefix, levelNames[level], msg)
	} else {
		fmt.Fprintf(w, "[%s] %s\n", levelNames[level], msg)
	}
}

// Trace logs wire-level detail (fragments, raw driver events)
func Trace(prefix, format string, args ...interface{}) {
	logf(TRACE, prefix, format, args...)
}

// Debug logs protocol decisions
func Debug(prefix, format string, args ...interface{}) {
	logf(DEBUG, prefix, format, args...)
}

// Info logs high-level events
func Info(prefix, format string, args ...interface{}) {
	logf(INFO, prefix, format, args...)
}

// Warn logs a warning message
func Warn(prefix, format string, args ...interface{}) {
	logf(WARN, prefix, format, args...)
}

// Error logs an error message
func Error(prefix, format string, args ...interface{}) {
	logf(ERROR, prefix, format, args...)
}

// ToJSON converts a value to a pretty-printed JSON string for logging.
// Protobuf messages go through protojson so field names come out right.
func ToJSON(v interface{}) string {
	if msg, ok := v.(proto.Message); ok {
		marshaler := protojson.MarshalOptions{
			Multiline:       true,
			Indent:          "  ",
			EmitUnpopulated: false,
		}
		jsonBytes, err := marshaler.Marshal(msg)
		if err != nil {
			return fmt.Sprintf("<error: %v>", err)
		}
		return string(jsonBytes)
	}

	jsonBytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("<error: %v>", err)
	}
	return string(jsonBytes)
}

// DebugJSON logs a debug message with a JSON representation of v
func DebugJSON(prefix, label string, v interface{}) {
	if GetLevel() > DEBUG {
		return
	}
	logf(DEBUG, prefix, "%s:\n%s", label, ToJSON(v))
}
