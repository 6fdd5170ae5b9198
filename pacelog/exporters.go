package pacelog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Errors for exporter configuration.
var (
	// ErrEndpointNotConfigured indicates a required endpoint environment
	// variable is not set.
	ErrEndpointNotConfigured = errors.New("pacelog: endpoint not configured")

	// ErrInvalidExporter indicates an unknown exporter name.
	ErrInvalidExporter = errors.New("pacelog: invalid exporter")
)

// NewMetricsReader builds an OTel metrics Reader for the named exporter,
// so callers can wire a primitive's Observer to a real telemetry backend
// without depending on the SDK plumbing directly.
//
// Supported exporters:
//   - "stdout": writes metrics to stdout (for development).
//   - "otlp": OTLP gRPC exporter (requires PACER_OTLP_ENDPOINT or
//     OTEL_EXPORTER_OTLP_METRICS_ENDPOINT).
//   - "prometheus": Prometheus scrape endpoint.
//   - "none" or "": discards metrics.
func NewMetricsReader(ctx context.Context, name string) (sdkmetric.Reader, error) {
	switch name {
	case "stdout":
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(os.Stdout))
		if err != nil {
			return nil, fmt.Errorf("pacelog: stdout metrics exporter: %w", err)
		}
		return sdkmetric.NewPeriodicReader(exp), nil

	case "otlp":
		endpoint := os.Getenv("PACER_OTLP_ENDPOINT")
		if endpoint == "" {
			endpoint = os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT")
		}
		if endpoint == "" {
			return nil, fmt.Errorf("%w: set PACER_OTLP_ENDPOINT or OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", ErrEndpointNotConfigured)
		}
		exp, err := otlpmetricgrpc.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("pacelog: otlp metrics exporter: %w", err)
		}
		return sdkmetric.NewPeriodicReader(exp), nil

	case "prometheus":
		exp, err := prometheus.New()
		if err != nil {
			return nil, fmt.Errorf("pacelog: prometheus exporter: %w", err)
		}
		return exp, nil

	case "none", "":
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(io.Discard))
		if err != nil {
			return nil, err
		}
		return sdkmetric.NewPeriodicReader(exp), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidExporter, name)
	}
}

// NewExporterObserver builds a complete Observer backed by the named
// metrics exporter: constructs the reader, wraps it in a MeterProvider,
// and derives a Metrics sink from it. The returned shutdown func flushes
// and releases exporter resources and should be deferred by the caller.
func NewExporterObserver(ctx context.Context, exporterName string, meta PrimitiveMeta) (*Observer, func(context.Context) error, error) {
	reader, err := NewMetricsReader(ctx, exporterName)
	if err != nil {
		return nil, nil, err
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("go-pacer")

	metrics, err := NewMetrics(meter)
	if err != nil {
		return nil, nil, err
	}

	logger := NewLogger("info").WithPrimitive(meta)
	return &Observer{Logger: logger, Metrics: metrics}, provider.Shutdown, nil
}
