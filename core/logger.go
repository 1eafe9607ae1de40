package core

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"
)

// LogLevel controls which messages a StructuredLogger emits.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// ParseLogLevel converts a level name to a LogLevel. Unknown names map to InfoLevel.
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DebugLevel
	case "INFO":
		return InfoLevel
	case "WARN", "WARNING":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// StructuredLogger is a line-oriented logger with text and JSON output.
// Base fields set at construction are merged into every entry.
type StructuredLogger struct {
	level  LogLevel
	json   bool
	fields map[string]interface{}
}

// NewStructuredLogger creates a logger with the given level and format.
// Format is "json" or "text".
func NewStructuredLogger(level LogLevel, format string) *StructuredLogger {
	return &StructuredLogger{
		level:  level,
		json:   strings.EqualFold(format, "json"),
		fields: make(map[string]interface{}),
	}
}

// WithFields returns a logger that includes the given fields in every entry.
func (l *StructuredLogger) WithFields(fields map[string]interface{}) *StructuredLogger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &StructuredLogger{level: l.level, json: l.json, fields: merged}
}

func (l *StructuredLogger) Debug(msg string, fields map[string]interface{}) {
	l.emit(DebugLevel, "DEBUG", msg, fields)
}

func (l *StructuredLogger) Info(msg string, fields map[string]interface{}) {
	l.emit(InfoLevel, "INFO", msg, fields)
}

func (l *StructuredLogger) Warn(msg string, fields map[string]interface{}) {
	l.emit(WarnLevel, "WARN", msg, fields)
}

func (l *StructuredLogger) Error(msg string, fields map[string]interface{}) {
	l.emit(ErrorLevel, "ERROR", msg, fields)
}

func (l *StructuredLogger) emit(level LogLevel, name, msg string, fields map[string]interface{}) {
	if level < l.level {
		return
	}

	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		merged[k] = v
	}

	if l.json {
		merged["level"] = name
		merged["msg"] = msg
		merged["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
		data, err := json.Marshal(merged)
		if err != nil {
			log.Printf("[%s] %s (unmarshalable fields: %v)", name, msg, err)
			return
		}
		log.Println(string(data))
		return
	}

	parts := []string{fmt.Sprintf("[%s]", name), msg}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, merged[k]))
	}
	log.Println(strings.Join(parts, " "))
}
