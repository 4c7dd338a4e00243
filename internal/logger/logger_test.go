package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/google/uuid"
)

func TestNew_WritesServiceJSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "posmon-test", slog.LevelInfo)
	log.Debug("hidden")
	log.Info("hello", slog.Int("n", 3))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not one JSON record: %v (%s)", err, buf.String())
	}
	if rec["service"] != "posmon-test" {
		t.Errorf("service: got %v, want posmon-test", rec["service"])
	}
	if rec["msg"] != "hello" {
		t.Errorf("msg: got %v, want hello", rec["msg"])
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"":        slog.LevelInfo,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Errorf("ParseLevel(%q): unexpected error %v", in, err)
		}
		if got != want {
			t.Errorf("ParseLevel(%q): got %v, want %v", in, got, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("ParseLevel(loud): expected error")
	}
}

func TestTraceID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	if tid := TraceID(ctx); tid != "" {
		t.Errorf("expected empty trace id, got %q", tid)
	}

	ctx = WithTraceID(ctx, "test-trace-123")
	if tid := TraceID(ctx); tid != "test-trace-123" {
		t.Errorf("expected 'test-trace-123', got %q", tid)
	}
}

func TestNewTraceID(t *testing.T) {
	a, b := NewTraceID(), NewTraceID()
	if a == b {
		t.Errorf("trace ids should differ, both %s", a)
	}
	if _, err := uuid.Parse(a); err != nil {
		t.Errorf("trace id %q is not a uuid: %v", a, err)
	}
}

func TestLogWithTrace(t *testing.T) {
	ctx := context.Background()
	if attrs := LogWithTrace(ctx); attrs != nil {
		t.Errorf("expected nil attrs when no trace id, got %v", attrs)
	}

	ctx = WithTraceID(ctx, "abc-123")
	if attrs := LogWithTrace(ctx); len(attrs) != 1 {
		t.Fatalf("expected one attr with trace id set, got %v", attrs)
	}
}
