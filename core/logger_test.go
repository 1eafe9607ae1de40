package core

import (
	"bytes"
	"encoding/json"
	"log"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Writer()
	prevFlags := log.Flags()
	log.SetOutput(&buf)
	log.SetFlags(0)
	t.Cleanup(func() {
		log.SetOutput(prev)
		log.SetFlags(prevFlags)
	})
	return &buf
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLogLevel("debug"))
	assert.Equal(t, InfoLevel, ParseLogLevel("INFO"))
	assert.Equal(t, WarnLevel, ParseLogLevel("warning"))
	assert.Equal(t, ErrorLevel, ParseLogLevel("Error"))
	assert.Equal(t, InfoLevel, ParseLogLevel("bogus"))
}

func TestStructuredLoggerFiltersBelowLevel(t *testing.T) {
	buf := captureLog(t)
	logger := NewStructuredLogger(WarnLevel, "text")

	logger.Debug("debug msg", nil)
	logger.Info("info msg", nil)
	logger.Warn("warn msg", nil)
	logger.Error("error msg", nil)

	out := buf.String()
	assert.NotContains(t, out, "debug msg")
	assert.NotContains(t, out, "info msg")
	assert.Contains(t, out, "warn msg")
	assert.Contains(t, out, "error msg")
}

func TestStructuredLoggerTextFormat(t *testing.T) {
	buf := captureLog(t)
	logger := NewStructuredLogger(InfoLevel, "text")

	logger.Info("backend connected", map[string]interface{}{
		"driver": "redis",
		"db":     2,
	})

	line := strings.TrimSpace(buf.String())
	assert.Contains(t, line, "[INFO] backend connected")
	assert.Contains(t, line, "db=2")
	assert.Contains(t, line, "driver=redis")
}

func TestStructuredLoggerJSONFormat(t *testing.T) {
	buf := captureLog(t)
	logger := NewStructuredLogger(InfoLevel, "json")

	logger.Info("backend connected", map[string]interface{}{"driver": "redis"})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "backend connected", entry["msg"])
	assert.Equal(t, "redis", entry["driver"])
	assert.NotEmpty(t, entry["ts"])
}

func TestStructuredLoggerWithFields(t *testing.T) {
	buf := captureLog(t)
	logger := NewStructuredLogger(InfoLevel, "text").WithFields(map[string]interface{}{
		"component": "store",
	})

	logger.Info("cache hit", map[string]interface{}{"memory_id": "abc"})

	out := buf.String()
	assert.Contains(t, out, "component=store")
	assert.Contains(t, out, "memory_id=abc")
}
