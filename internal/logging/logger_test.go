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
		want   string
	}{
		{
			name:   "default config",
			config: nil,
			want:   "text",
		},
		{
			name: "json format",
			config: &Config{
				Level:  LevelInfo,
				Format: "json",
				Output: &bytes.Buffer{},
			},
			want: "json",
		},
		{
			name: "text format",
			config: &Config{
				Level:  LevelDebug,
				Format: "text",
				Output: &bytes.Buffer{},
			},
			want: "text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Fatal("NewLogger() returned nil")
			}
			if logger.format != tt.want {
				t.Errorf("format = %q, want %q", logger.format, tt.want)
			}
		})
	}
}

func TestLoggerWithContext(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{
		Level:   LevelDebug,
		Format:  "text",
		Output:  &buf,
		Sync:    true,
		NoColor: true,
	}

	logger := NewLogger(config)

	handleLogger := logger.WithHandle(42)
	handleLogger.Info("test message")

	output := buf.String()
	if !strings.Contains(output, "handle_id=42") {
		t.Errorf("expected handle_id=42 in output, got: %s", output)
	}

	buf.Reset()
	opLogger := handleLogger.WithOp(1, "send")
	opLogger.Info("op message")

	output = buf.String()
	if !strings.Contains(output, "handle_id=42") {
		t.Errorf("expected handle_id=42 in op logger output, got: %s", output)
	}
	if !strings.Contains(output, "seq=1") {
		t.Errorf("expected seq=1 in output, got: %s", output)
	}
	if !strings.Contains(output, "op=send") {
		t.Errorf("expected op=send in output, got: %s", output)
	}
}

func TestLoggerWithOp(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{Level: LevelDebug, Format: "text", Output: &buf}

	logger := NewLogger(config)
	opLogger := logger.WithOp(123, "receive")
	opLogger.Debug("processing operation")

	output := buf.String()
	if !strings.Contains(output, "seq=123") {
		t.Errorf("expected seq=123 in output, got: %s", output)
	}
	if !strings.Contains(output, "op=receive") {
		t.Errorf("expected op=receive in output, got: %s", output)
	}
}

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{Level: LevelDebug, Format: "text", Output: &buf}

	logger := NewLogger(config)
	testErr := errors.New("test error")
	errorLogger := logger.WithError(testErr)
	errorLogger.Error("operation failed")

	output := buf.String()
	if !strings.Contains(output, "test error") {
		t.Errorf("expected 'test error' in output, got: %s", output)
	}
}

func TestLoggerTraceBelowDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Format: "text", Output: &buf})

	logger.Trace("should not appear")
	if buf.Len() != 0 {
		t.Errorf("expected trace to be suppressed at debug level, got: %s", buf.String())
	}

	logger2 := NewLogger(&Config{Level: LevelTrace, Format: "text", Output: &buf})
	logger2.Trace("should appear")
	if !strings.Contains(buf.String(), "should appear") {
		t.Errorf("expected trace line at trace level, got: %s", buf.String())
	}
}

func TestGlobalLoggerFunctions(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{
		Level:   LevelDebug,
		Format:  "text",
		Output:  &buf,
		Sync:    true,
		NoColor: true,
	}

	SetDefault(NewLogger(config))

	Debug("debug message", "key", "value")
	output := buf.String()
	if !strings.Contains(output, "debug message") {
		t.Errorf("expected debug message, got: %s", output)
	}
	if !strings.Contains(output, "key=value") {
		t.Errorf("expected key=value, got: %s", output)
	}

	buf.Reset()
	Info("info message")
	output = buf.String()
	if !strings.Contains(output, "info message") {
		t.Errorf("expected info message, got: %s", output)
	}

	buf.Reset()
	Warn("warning message")
	output = buf.String()
	if !strings.Contains(output, "warning message") {
		t.Errorf("expected warning message, got: %s", output)
	}

	buf.Reset()
	Error("error message")
	output = buf.String()
	if !strings.Contains(output, "error message") {
		t.Errorf("expected error message, got: %s", output)
	}
}
