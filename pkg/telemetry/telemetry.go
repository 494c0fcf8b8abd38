// Package telemetry wires the engine's metrics and tracing, following the
// teacher's pkg/output/hooks/prometheus.go and otel.go: a private
// prometheus.Registry so the engine never pollutes a host process's
// default registry, and an OpenTelemetry TracerProvider that degrades to a
// no-op when no collector endpoint is configured, rather than failing scan
// startup over an unreachable collector.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/vulnscan/scanengine/pkg/defaults"
)

// Config controls metric namespacing and optional OTLP export.
type Config struct {
	Namespace string
	// OTLPEndpoint, when empty, disables tracing: Telemetry.Tracer()
	// returns a no-op tracer and Shutdown is a no-op.
	OTLPEndpoint      string
	OTLPInsecure      bool
	ConnectionTimeout time.Duration
}

// DefaultConfig returns namespace "scanengine" with tracing disabled.
func DefaultConfig() Config {
	return Config{Namespace: "scanengine", ConnectionTimeout: 10 * time.Second}
}

// Metrics holds the engine's Prometheus instruments.
type Metrics struct {
	PagesScanned     prometheus.Counter
	VulnerabilitiesFound *prometheus.CounterVec
	EndpointsTested  prometheus.Counter
	InFlightRequests prometheus.Gauge
	WorkerRestarts   prometheus.Counter
	ScanDuration     prometheus.Histogram
}

func newMetrics(reg *prometheus.Registry, namespace string) *Metrics {
	m := &Metrics{
		PagesScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "pages_scanned_total", Help: "Pages fully processed by the Page Scanner.",
		}),
		VulnerabilitiesFound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "vulnerabilities_found_total", Help: "Findings emitted, by category and severity.",
		}, []string{"category", "severity"}),
		EndpointsTested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "endpoints_tested_total", Help: "Detector payload attempts dispatched.",
		}),
		InFlightRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "in_flight_requests", Help: "Scan tasks currently in flight across all workers.",
		}),
		WorkerRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "worker_restarts_total", Help: "Worker Pool slots that restarted after a crash.",
		}),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "scan_duration_seconds", Help: "Wall-clock duration of completed scans.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
	reg.MustRegister(m.PagesScanned, m.VulnerabilitiesFound, m.EndpointsTested, m.InFlightRequests, m.WorkerRestarts, m.ScanDuration)
	return m
}

// Telemetry bundles the engine's metrics registry and tracer.
type Telemetry struct {
	Metrics  *Metrics
	registry *prometheus.Registry
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// New builds a Telemetry. If cfg.OTLPEndpoint is empty, tracing is a no-op
// and Shutdown never dials out.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if cfg.Namespace == "" {
		cfg = DefaultConfig()
	}
	reg := prometheus.NewRegistry()
	t := &Telemetry{
		Metrics:  newMetrics(reg, cfg.Namespace),
		registry: reg,
		tracer:   otel.Tracer("scanengine/noop"),
	}
	if cfg.OTLPEndpoint == "" {
		return t, nil
	}

	dialOpts := []grpc.DialOption{}
	exporterOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.OTLPInsecure {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		exporterOpts = append(exporterOpts, otlptracegrpc.WithInsecure())
	}
	exporterOpts = append(exporterOpts, otlptracegrpc.WithDialOption(dialOpts...))

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectionTimeout)
	defer cancel()
	exporter, err := otlptracegrpc.New(connectCtx, exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: connect otlp exporter: %w", err)
	}

	res := resource.NewWithAttributes(
		"https://opentelemetry.io/schemas/1.26.0",
		attribute.String("service.name", defaults.ToolName),
		attribute.String("service.version", defaults.Version),
		attribute.String("service.component", "scanengine"),
	)
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(provider)

	t.provider = provider
	t.tracer = provider.Tracer("scanengine")
	return t, nil
}

// Tracer returns the tracer scans should use to start spans. It is always
// non-nil, and a genuine no-op when no collector was configured.
func (t *Telemetry) Tracer() trace.Tracer { return t.tracer }

// Handler serves this Telemetry's metrics for scraping. Mount it under
// "/metrics" or equivalent in the host process; this package never starts
// its own HTTP server.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and closes the tracer provider, if one was created.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
