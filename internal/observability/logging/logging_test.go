package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewDefaultsToJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf})
	logger.Info("hello", "key", "value")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
	}
	if record["msg"] != "hello" || record["key"] != "value" {
		t.Fatalf("unexpected record: %v", record)
	}
}

func TestNewTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf, Format: "text"})
	logger.Info("hello")

	if !strings.Contains(buf.String(), "msg=hello") {
		t.Fatalf("expected text output, got %q", buf.String())
	}
}

func TestLevelFiltering(t *testing.T) {
	tests := []struct {
		level     string
		debugSeen bool
		warnSeen  bool
	}{
		{level: "debug", debugSeen: true, warnSeen: true},
		{level: "", debugSeen: false, warnSeen: true},
		{level: "warn", debugSeen: false, warnSeen: true},
		{level: "error", debugSeen: false, warnSeen: false},
	}
	for _, tc := range tests {
		t.Run("level "+tc.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(Config{Writer: &buf, Level: tc.level, Format: "text"})
			logger.Debug("debug line")
			logger.Warn("warn line")

			if got := strings.Contains(buf.String(), "debug line"); got != tc.debugSeen {
				t.Fatalf("debug visibility = %v, want %v", got, tc.debugSeen)
			}
			if got := strings.Contains(buf.String(), "warn line"); got != tc.warnSeen {
				t.Fatalf("warn visibility = %v, want %v", got, tc.warnSeen)
			}
		})
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := WithComponent(New(Config{Writer: &buf, Format: "text"}), "engine")
	logger.Info("tick")

	if !strings.Contains(buf.String(), "component=engine") {
		t.Fatalf("expected component field, got %q", buf.String())
	}
	if WithComponent(nil, "engine") != nil {
		t.Fatal("expected nil logger passthrough")
	}
}

func TestContextRequestAndSessionIDs(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-1")
	ctx = ContextWithSessionID(ctx, "sess-1")

	requestID, ok := RequestIDFromContext(ctx)
	if !ok || requestID != "req-1" {
		t.Fatalf("request id = %q ok=%v", requestID, ok)
	}
	sessionID, ok := SessionIDFromContext(ctx)
	if !ok || sessionID != "sess-1" {
		t.Fatalf("session id = %q ok=%v", sessionID, ok)
	}

	// Blank values are not stored.
	if _, ok := RequestIDFromContext(ContextWithRequestID(context.Background(), "  ")); ok {
		t.Fatal("expected blank request id to be dropped")
	}
}

func TestWithContextAnnotatesLogger(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Writer: &buf, Format: "text"})

	ctx := ContextWithRequestID(context.Background(), "req-9")
	WithContext(ctx, base).Info("annotated")

	if !strings.Contains(buf.String(), "request_id=req-9") {
		t.Fatalf("expected request_id field, got %q", buf.String())
	}
}

func TestRequestLoggerLogsCompletedRequests(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf})

	handler := RequestLogger(RequestLoggerConfig{Logger: logger})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/media", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if record["method"] != "GET" || record["path"] != "/api/media" {
		t.Fatalf("unexpected record: %v", record)
	}
	if status, ok := record["status"].(float64); !ok || int(status) != http.StatusTeapot {
		t.Fatalf("status = %v", record["status"])
	}
}
