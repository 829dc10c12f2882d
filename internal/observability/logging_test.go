package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config LogConfig
	}{
		{
			name:   "json format",
			config: LogConfig{Level: "info", Format: "json"},
		},
		{
			name:   "text format",
			config: LogConfig{Level: "debug", Format: "text"},
		},
		{
			name:   "defaults",
			config: LogConfig{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.config.Output = &buf
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Fatal("NewLogger() returned nil")
			}
			logger.Info("hello")
			if !strings.Contains(buf.String(), "hello") {
				t.Errorf("expected output to contain message, got %q", buf.String())
			}
		})
	}
}

func TestLogLevelFromString(t *testing.T) {
	tests := []struct {
		level    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			if got := LogLevelFromString(tt.level); got != tt.expected {
				t.Errorf("LogLevelFromString(%q) = %v, want %v", tt.level, got, tt.expected)
			}
		})
	}
}

func TestLoggerLevelVar(t *testing.T) {
	var buf bytes.Buffer
	levelVar := new(slog.LevelVar)
	logger := NewLogger(LogConfig{Level: "error", Output: &buf, LevelVar: levelVar})

	logger.Info("suppressed")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be suppressed at error level, got %q", buf.String())
	}

	levelVar.Set(slog.LevelDebug)
	logger.Debug("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Errorf("expected debug output after level change, got %q", buf.String())
	}
}

func TestLoggerJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})

	logger.Info("test message", "key", "value", "number", 42)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to parse JSON log output: %v", err)
	}
	for _, field := range []string{"time", "level", "msg", "key", "number"} {
		if _, ok := entry[field]; !ok {
			t.Errorf("Expected %q field in JSON log", field)
		}
	}
}

func TestLoggerContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})

	ctx := AddRequestID(context.Background(), "req-123")
	ctx = AddSessionID(ctx, "sess-456")
	logger.InfoContext(ctx, "test message")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if entry["request_id"] != "req-123" {
		t.Errorf("request_id = %v, want req-123", entry["request_id"])
	}
	if entry["session_id"] != "sess-456" {
		t.Errorf("session_id = %v, want sess-456", entry["session_id"])
	}
}

func TestLoggerRedaction(t *testing.T) {
	tests := []struct {
		name   string
		log    func(*slog.Logger)
		secret string
	}{
		{
			name:   "openai key in message",
			log:    func(l *slog.Logger) { l.Info("using sk-abcdefghijklmnopqrstuvwxyz123456") },
			secret: "sk-abcdefghijklmnopqrstuvwxyz123456",
		},
		{
			name:   "sensitive attribute key",
			log:    func(l *slog.Logger) { l.Info("configured", "api_key", "plain-value") },
			secret: "plain-value",
		},
		{
			name: "error attribute",
			log: func(l *slog.Logger) {
				l.Error("failed", "error", errors.New("bearer abcdefghijklmnopqrstuvwxyz"))
			},
			secret: "abcdefghijklmnopqrstuvwxyz",
		},
		{
			name: "logger with attrs",
			log: func(l *slog.Logger) {
				l.With("token", "tok-value").Info("child")
			},
			secret: "tok-value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(LogConfig{Output: &buf})
			tt.log(logger)

			out := buf.String()
			if strings.Contains(out, tt.secret) {
				t.Errorf("secret leaked into log: %s", out)
			}
			if !strings.Contains(out, "[REDACTED]") {
				t.Errorf("expected redaction marker, got %s", out)
			}
		})
	}
}

func TestLoggerCustomRedactPattern(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf, RedactPatterns: []string{`widget-\d+`}})
	logger.Info("deleted widget-42")
	if strings.Contains(buf.String(), "widget-42") {
		t.Errorf("custom pattern not applied: %s", buf.String())
	}
}
