package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{name: "default config", config: nil},
		{
			name: "json format",
			config: &Config{
				Level:  LevelInfo,
				Format: "json",
				Output: &bytes.Buffer{},
			},
		},
		{
			name: "console format",
			config: &Config{
				Level:  LevelDebug,
				Format: "console",
				Output: &bytes.Buffer{},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Error("NewLogger() returned nil")
			}
		})
	}
}

func TestLoggerWithContext(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{
		Level:  LevelDebug,
		Format: "json",
		Output: &buf,
		Sync:   true,
	}

	logger := NewLogger(config)

	threadLogger := logger.WithThread(42)
	threadLogger.Info("test message")

	output := buf.String()
	if !strings.Contains(output, `"iothread_id":42`) {
		t.Errorf("Expected iothread_id=42 in output, got: %s", output)
	}

	buf.Reset()
	connLogger := threadLogger.WithConn(1)
	connLogger.Info("conn message")

	output = buf.String()
	if !strings.Contains(output, `"iothread_id":42`) {
		t.Errorf("Expected iothread_id=42 in conn logger output, got: %s", output)
	}
	if !strings.Contains(output, `"conn_id":1`) {
		t.Errorf("Expected conn_id=1 in output, got: %s", output)
	}
}

func TestLoggerWithRequest(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{
		Level:  LevelDebug,
		Format: "json",
		Output: &buf,
		Sync:   true,
	}

	logger := NewLogger(config)
	requestLogger := logger.WithRequest(123, "READ")
	requestLogger.Debug("processing request")

	output := buf.String()
	if !strings.Contains(output, `"request_id":123`) {
		t.Errorf("Expected request_id=123 in output, got: %s", output)
	}
	if !strings.Contains(output, `"op":"READ"`) {
		t.Errorf("Expected op=READ in output, got: %s", output)
	}
}

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{
		Level:  LevelDebug,
		Format: "json",
		Output: &buf,
		Sync:   true,
	}

	logger := NewLogger(config)
	testErr := errors.New("test error")
	errorLogger := logger.WithError(testErr)
	errorLogger.Error("operation failed")

	output := buf.String()
	if !strings.Contains(output, "test error") {
		t.Errorf("Expected 'test error' in output, got: %s", output)
	}
}

func TestGlobalLoggerFunctions(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{
		Level:  LevelDebug,
		Format: "json",
		Output: &buf,
		Sync:   true,
	}

	prev := Default()
	defer SetDefault(prev)
	SetDefault(NewLogger(config))

	Debug("debug message", "key", "value")
	output := buf.String()
	if !strings.Contains(output, "debug message") {
		t.Errorf("Expected debug message, got: %s", output)
	}
	if !strings.Contains(output, `"key":"value"`) {
		t.Errorf("Expected key=value, got: %s", output)
	}

	buf.Reset()
	Info("info message")
	output = buf.String()
	if !strings.Contains(output, "info message") {
		t.Errorf("Expected info message, got: %s", output)
	}

	buf.Reset()
	Warn("warning message")
	output = buf.String()
	if !strings.Contains(output, "warning message") {
		t.Errorf("Expected warning message, got: %s", output)
	}

	buf.Reset()
	Error("error message")
	output = buf.String()
	if !strings.Contains(output, "error message") {
		t.Errorf("Expected error message, got: %s", output)
	}
}
