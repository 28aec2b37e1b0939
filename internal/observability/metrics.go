package observability

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsCollector records service metrics and exposes them for Prometheus.
// A nil or disabled collector accepts every call and records nothing.
type MetricsCollector struct {
	provider *sdkmetric.MeterProvider
	registry *promclient.Registry

	// Upstream metrics
	upstreamAttempts metric.Int64Counter
	upstreamLatency  metric.Float64Histogram
	upstreamRetries  metric.Int64Counter

	// Pipeline metrics
	recoveryLayers    metric.Int64Counter
	operations        metric.Int64Counter
	operationDuration metric.Float64Histogram

	// HTTP metrics
	httpRequests metric.Int64Counter
	httpDuration metric.Float64Histogram
}

// MetricsConfig configures the metrics collector
type MetricsConfig struct {
	Enabled        bool `yaml:"enabled"`
	PrometheusPort int  `yaml:"prometheus_port"`
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(config MetricsConfig) (*MetricsCollector, error) {
	if !config.Enabled {
		return &MetricsCollector{}, nil
	}

	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("coderev")

	m := &MetricsCollector{provider: provider, registry: registry}

	if m.upstreamAttempts, err = meter.Int64Counter(
		"coderev.upstream.attempts",
		metric.WithDescription("Upstream completion attempts by outcome"),
		metric.WithUnit("{attempt}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create upstream_attempts counter: %w", err)
	}

	if m.upstreamLatency, err = meter.Float64Histogram(
		"coderev.upstream.latency",
		metric.WithDescription("Upstream attempt latency in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create upstream_latency histogram: %w", err)
	}

	if m.upstreamRetries, err = meter.Int64Counter(
		"coderev.upstream.retries",
		metric.WithDescription("Backoff waits scheduled before another upstream attempt"),
		metric.WithUnit("{retry}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create upstream_retries counter: %w", err)
	}

	if m.recoveryLayers, err = meter.Int64Counter(
		"coderev.recovery.results",
		metric.WithDescription("Structured replies recovered, by schema and winning layer"),
		metric.WithUnit("{result}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create recovery_results counter: %w", err)
	}

	if m.operations, err = meter.Int64Counter(
		"coderev.operations",
		metric.WithDescription("Review pipeline operations by outcome"),
		metric.WithUnit("{operation}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create operations counter: %w", err)
	}

	if m.operationDuration, err = meter.Float64Histogram(
		"coderev.operation.duration",
		metric.WithDescription("Review pipeline operation duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create operation_duration histogram: %w", err)
	}

	if m.httpRequests, err = meter.Int64Counter(
		"coderev.http.requests",
		metric.WithDescription("HTTP requests served"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create http_requests counter: %w", err)
	}

	if m.httpDuration, err = meter.Float64Histogram(
		"coderev.http.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create http_duration histogram: %w", err)
	}

	return m, nil
}

// Enabled reports whether the collector records anything.
func (m *MetricsCollector) Enabled() bool {
	return m != nil && m.registry != nil
}

// Handler serves the Prometheus exposition format.
func (m *MetricsCollector) Handler() http.Handler {
	if !m.Enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// NewServer builds the Prometheus scrape server for addr.
func (m *MetricsCollector) NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Shutdown flushes and stops the meter provider.
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// RecordUpstreamAttempt records one completion attempt.
// outcome is one of success, timeout, status, network, payload.
func (m *MetricsCollector) RecordUpstreamAttempt(ctx context.Context, model, outcome string, status int, latency time.Duration) {
	if m == nil || m.upstreamAttempts == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("outcome", outcome),
		attribute.String("status", strconv.Itoa(status)),
	)
	m.upstreamAttempts.Add(ctx, 1, attrs)
	m.upstreamLatency.Record(ctx, latency.Seconds(), attrs)
}

// RecordUpstreamRetry records a scheduled backoff wait.
func (m *MetricsCollector) RecordUpstreamRetry(ctx context.Context, reason string) {
	if m == nil || m.upstreamRetries == nil {
		return
	}
	m.upstreamRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordRecovery records which recovery layer produced a structured result.
func (m *MetricsCollector) RecordRecovery(ctx context.Context, schema, layer string) {
	if m == nil || m.recoveryLayers == nil {
		return
	}
	m.recoveryLayers.Add(ctx, 1, metric.WithAttributes(
		attribute.String("schema", schema),
		attribute.String("layer", layer),
	))
}

// RecordOperation records a finished pipeline operation.
func (m *MetricsCollector) RecordOperation(ctx context.Context, operation string, err error, duration time.Duration) {
	if m == nil || m.operations == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)
	m.operations.Add(ctx, 1, attrs)
	m.operationDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordHTTPRequest records a served HTTP request.
func (m *MetricsCollector) RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration) {
	if m == nil || m.httpRequests == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status", strconv.Itoa(status)),
	)
	m.httpRequests.Add(ctx, 1, attrs)
	m.httpDuration.Record(ctx, duration.Seconds(), attrs)
}
