package pacelog

import (
	"context"
	"os"
	"strings"
	"testing"
)

func TestNewMetricsReaderInvalidName(t *testing.T) {
	_, err := NewMetricsReader(context.Background(), "bogus")
	if err == nil {
		t.Fatal("expected error for invalid exporter name")
	}
	if !strings.Contains(err.Error(), "invalid exporter") {
		t.Errorf("expected 'invalid exporter' in error, got: %v", err)
	}
}

func TestNewMetricsReaderStdout(t *testing.T) {
	reader, err := NewMetricsReader(context.Background(), "stdout")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reader == nil {
		t.Fatal("expected non-nil reader")
	}
}

func TestNewMetricsReaderNone(t *testing.T) {
	reader, err := NewMetricsReader(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reader == nil {
		t.Fatal("expected non-nil reader")
	}
}

func TestNewMetricsReaderOtlpMissingEndpoint(t *testing.T) {
	os.Unsetenv("PACER_OTLP_ENDPOINT")
	os.Unsetenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT")

	_, err := NewMetricsReader(context.Background(), "otlp")
	if err == nil {
		t.Fatal("expected error when OTLP endpoint not configured")
	}
	if !strings.Contains(err.Error(), "endpoint not configured") {
		t.Errorf("expected 'endpoint not configured' in error, got: %v", err)
	}
}

func TestNewExporterObserverStdout(t *testing.T) {
	obs, shutdown, err := NewExporterObserver(context.Background(), "stdout", PrimitiveMeta{Kind: "test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obs == nil || obs.Logger == nil || obs.Metrics == nil {
		t.Fatal("expected fully populated observer")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown returned error: %v", err)
	}
}
