package logging

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"
)

// Level represents log severity level.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
	LevelFatal Level = "FATAL"
)

// Logger provides JSON structured logging.
type Logger struct {
	mu       sync.Mutex
	output   io.Writer
	resource map[string]string
}

// Entry is a single log line.
type Entry struct {
	Timestamp  string                 `json:"ts"`
	Level      string                 `json:"level"`
	Message    string                 `json:"msg"`
	Attributes map[string]interface{} `json:"attrs,omitempty"`
	Resource   map[string]string      `json:"resource,omitempty"`
}

var defaultLogger = &Logger{output: os.Stdout}

// SetOutput sets the output writer for the default logger.
func SetOutput(w io.Writer) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.output = w
}

// SetResource sets resource attributes (service name, version) attached to
// every log line. Should be called once at startup.
func SetResource(resource map[string]string) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.resource = resource
}

func (l *Logger) log(level Level, msg string, attrs map[string]interface{}) {
	entry := Entry{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Level:      string(level),
		Message:    msg,
		Attributes: attrs,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.resource != nil {
		entry.Resource = l.resource
	}
	data, _ := json.Marshal(entry)
	_, _ = l.output.Write(data)
	_, _ = l.output.Write([]byte("\n"))
}

// Info logs an info level message.
func Info(msg string, fields ...map[string]interface{}) {
	defaultLogger.log(LevelInfo, msg, first(fields))
}

// Warn logs a warning level message.
func Warn(msg string, fields ...map[string]interface{}) {
	defaultLogger.log(LevelWarn, msg, first(fields))
}

// Error logs an error level message.
func Error(msg string, fields ...map[string]interface{}) {
	defaultLogger.log(LevelError, msg, first(fields))
}

// Fatal logs a fatal level message and exits.
func Fatal(msg string, fields ...map[string]interface{}) {
	defaultLogger.log(LevelFatal, msg, first(fields))
	os.Exit(1)
}

func first(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

// F builds an attribute map from alternating key/value pairs. Keys that are
// not strings are skipped.
func F(kv ...interface{}) map[string]interface{} {
	attrs := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		attrs[key] = kv[i+1]
	}
	return attrs
}
