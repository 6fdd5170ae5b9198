package pacelog

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestLoggerRedactsSensitiveFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter("debug", &buf)

	l.Info(context.Background(), "call", Field{Key: "token", Value: "secret-value"}, Field{Key: "count", Value: 3})

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("unmarshal log entry: %v", err)
	}
	if entry["token"] != "[REDACTED]" {
		t.Errorf("token = %v, want [REDACTED]", entry["token"])
	}
	if entry["count"] != float64(3) {
		t.Errorf("count = %v, want 3", entry["count"])
	}
}

func TestLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter("warn", &buf)

	l.Debug(context.Background(), "should be dropped")
	l.Warn(context.Background(), "should be kept")

	out := buf.String()
	if strings.Contains(out, "should be dropped") {
		t.Error("debug line was written despite warn level filter")
	}
	if !strings.Contains(out, "should be kept") {
		t.Error("warn line was not written")
	}
}

func TestLoggerWithPrimitiveAttachesAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter("info", &buf).WithPrimitive(PrimitiveMeta{Kind: "debouncer", Name: "search"})

	l.Info(context.Background(), "fired")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("unmarshal log entry: %v", err)
	}
	if entry["pacer.kind"] != "debouncer" || entry["pacer.name"] != "search" {
		t.Errorf("entry = %v, want pacer.kind=debouncer pacer.name=search", entry)
	}
}

func TestNoopObserverNeverPanics(t *testing.T) {
	o := NoopObserver()
	o.Logger.Info(context.Background(), "x")
	o.Metrics.RecordDecision(context.Background(), PrimitiveMeta{Kind: "debouncer"}, OutcomeExecuted)
}

func TestResolveFillsNilFields(t *testing.T) {
	o := Resolve(&Observer{})
	if o.Logger == nil || o.Metrics == nil {
		t.Error("Resolve did not fill nil Logger/Metrics")
	}
	if Resolve(nil) == nil {
		t.Error("Resolve(nil) returned nil")
	}
}
