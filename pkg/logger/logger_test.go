package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestNewParsesLevelAndFormat(t *testing.T) {
	log := New(LoggingConfig{Level: "debug", Format: "json"})
	if log.GetLevel() != logrus.DebugLevel {
		t.Fatalf("expected debug level, got %s", log.GetLevel())
	}
	if _, ok := log.Formatter.(*logrus.JSONFormatter); !ok {
		t.Fatalf("expected json formatter, got %T", log.Formatter)
	}

	fallback := New(LoggingConfig{Level: "loud"})
	if fallback.GetLevel() != logrus.InfoLevel {
		t.Fatalf("expected info fallback, got %s", fallback.GetLevel())
	}
}

func TestWithContextAddsCorrelationFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(LoggingConfig{Format: "json"}).Named("messaging")
	log.SetOutput(&buf)

	ctx := WithUserID(WithTraceID(context.Background(), "trace-1"), "u1")
	log.WithContext(ctx).Info("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["trace_id"] != "trace-1" || line["user_id"] != "u1" || line["component"] != "messaging" {
		t.Fatalf("unexpected fields: %v", line)
	}
}

func TestLogRequestLevels(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{200, "info"},
		{404, "warning"},
		{503, "error"},
	}
	for _, tc := range tests {
		var buf bytes.Buffer
		log := New(LoggingConfig{Format: "json"})
		log.SetOutput(&buf)
		log.LogRequest(context.Background(), "GET", "/api/users", tc.status, time.Millisecond)

		var line map[string]any
		if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
			t.Fatalf("decode log line: %v", err)
		}
		if line["level"] != tc.level {
			t.Fatalf("status %d: expected level %s, got %v", tc.status, tc.level, line["level"])
		}
	}
}

func TestTraceIDEmptyContext(t *testing.T) {
	if TraceID(context.Background()) != "" {
		t.Fatalf("expected empty trace id")
	}
	if WithTraceID(context.Background(), "") != context.Background() {
		t.Fatalf("empty trace id should not wrap the context")
	}
}
