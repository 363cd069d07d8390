package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fedibird/fedimind/pkg/config"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&config.LoggingConfig{Level: "INFO", Format: "json"}, zapcore.AddSync(&buf))

	WithActivity(logger, "https://remote.example/notes/1").Info("test message", zap.String("key", "value"))

	var logObj map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logObj); err != nil {
		t.Fatalf("Failed to parse JSON: %v", err)
	}

	if logObj["message"] != "test message" {
		t.Errorf("Expected message 'test message', got: %v", logObj["message"])
	}
	if logObj["key"] != "value" {
		t.Errorf("Expected field 'key'='value', got: %v", logObj["key"])
	}
	if logObj["activity_uri"] != "https://remote.example/notes/1" {
		t.Errorf("Expected activity_uri field, got: %v", logObj["activity_uri"])
	}
	if logObj["level"] != "info" {
		t.Errorf("Expected lowercase level, got: %v", logObj["level"])
	}
	if _, ok := logObj["timestamp"]; !ok {
		t.Error("Expected 'timestamp' field in log output")
	}
}

func TestNewLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&config.LoggingConfig{Level: "WARN", Format: "json"}, zapcore.AddSync(&buf))

	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("Expected info to be filtered at WARN, got: %s", buf.String())
	}

	logger.Warn("kept")
	if buf.Len() == 0 {
		t.Error("Expected warn line to be written")
	}
}

func TestGetLoggerFallback(t *testing.T) {
	old := Logger
	defer func() { Logger = old }()

	Logger = nil
	if GetLogger() == nil {
		t.Fatal("GetLogger() returned nil")
	}
}
