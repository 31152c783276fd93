// Package telemetry wires up Prometheus + OpenTelemetry exporters used across
// the project.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"pablodns/pkg/config"
	"pablodns/pkg/logging"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Telemetry holds telemetry providers and exporters
type Telemetry struct {
	cfg                *config.TelemetryConfig
	meterProvider      metric.MeterProvider
	tracerProvider     trace.TracerProvider
	prometheusExporter *prometheus.Exporter
	prometheusServer   *http.Server
	logger             *logging.Logger
}

// Metrics holds all application metrics
type Metrics struct {
	// DNS query metrics
	DNSQueriesTotal      metric.Int64Counter
	DNSQueriesByType     metric.Int64Counter
	DNSQueryDuration     metric.Float64Histogram
	DNSRefusedQueries    metric.Int64Counter
	DNSRedirectedQueries metric.Int64Counter
	DNSMaintenanceHits   metric.Int64Counter
	DNSForwardedQueries  metric.Int64Counter
	DNSServfailQueries   metric.Int64Counter

	// Rule engine metrics
	RuleCount metric.Int64UpDownCounter

	// Storage metrics
	StorageQueriesDropped metric.Int64Counter
}

// New creates a new telemetry instance
func New(ctx context.Context, cfg *config.TelemetryConfig, logger *logging.Logger) (*Telemetry, error) {
	if !cfg.Enabled {
		logger.Info("Telemetry disabled")
		return &Telemetry{
			cfg:            cfg,
			meterProvider:  noop.NewMeterProvider(),
			tracerProvider: tracenoop.NewTracerProvider(),
			logger:         logger,
		}, nil
	}

	t := &Telemetry{
		cfg:            cfg,
		tracerProvider: tracenoop.NewTracerProvider(),
		logger:         logger,
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := t.setupMetrics(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to setup metrics: %w", err)
	}

	logger.Info("Telemetry initialized",
		"service", cfg.ServiceName,
		"version", cfg.ServiceVersion,
		"prometheus", cfg.PrometheusEnabled,
	)

	return t, nil
}

// setupMetrics initializes the metrics provider
func (t *Telemetry) setupMetrics(_ context.Context, res *resource.Resource) error {
	if !t.cfg.PrometheusEnabled {
		t.meterProvider = noop.NewMeterProvider()
		return nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	t.prometheusExporter = exporter

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	t.meterProvider = provider
	otel.SetMeterProvider(provider)

	if err := t.startPrometheusServer(); err != nil {
		return fmt.Errorf("failed to start prometheus server: %w", err)
	}

	t.logger.Info("Prometheus metrics enabled", "port", t.cfg.PrometheusPort)
	return nil
}

// startPrometheusServer starts the Prometheus metrics HTTP server
func (t *Telemetry) startPrometheusServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	t.prometheusServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", t.cfg.PrometheusPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := t.prometheusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.logger.Error("Prometheus server failed", "error", err)
		}
	}()

	return nil
}

// InitMetrics initializes and returns all application metrics
func (t *Telemetry) InitMetrics() (*Metrics, error) {
	meter := t.meterProvider.Meter("pablodns")

	queriesTotal, err := meter.Int64Counter(
		"dns.queries.total",
		metric.WithDescription("Total number of DNS queries received"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create queries counter: %w", err)
	}

	queriesByType, err := meter.Int64Counter(
		"dns.queries.by_type",
		metric.WithDescription("DNS queries by query type"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create queries by type counter: %w", err)
	}

	queryDuration, err := meter.Float64Histogram(
		"dns.query.duration",
		metric.WithDescription("DNS query processing duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query duration histogram: %w", err)
	}

	refusedQueries, err := meter.Int64Counter(
		"dns.queries.refused",
		metric.WithDescription("Number of queries answered with REFUSED by a rule"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create refused queries counter: %w", err)
	}

	redirectedQueries, err := meter.Int64Counter(
		"dns.queries.redirected",
		metric.WithDescription("Number of queries answered with a rule's redirect address"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create redirected queries counter: %w", err)
	}

	maintenanceHits, err := meter.Int64Counter(
		"dns.queries.maintenance",
		metric.WithDescription("Number of queries answered by the maintenance notice"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create maintenance counter: %w", err)
	}

	forwardedQueries, err := meter.Int64Counter(
		"dns.queries.forwarded",
		metric.WithDescription("Number of queries forwarded upstream"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create forwarded queries counter: %w", err)
	}

	servfailQueries, err := meter.Int64Counter(
		"dns.queries.servfail",
		metric.WithDescription("Number of queries answered with SERVFAIL"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create servfail counter: %w", err)
	}

	ruleCount, err := meter.Int64UpDownCounter(
		"rules.count",
		metric.WithDescription("Number of configured rules"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rule count gauge: %w", err)
	}

	storageQueriesDropped, err := meter.Int64Counter(
		"storage.queries.dropped",
		metric.WithDescription("Number of query log entries dropped due to full buffer"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage queries dropped counter: %w", err)
	}

	return &Metrics{
		DNSQueriesTotal:       queriesTotal,
		DNSQueriesByType:      queriesByType,
		DNSQueryDuration:      queryDuration,
		DNSRefusedQueries:     refusedQueries,
		DNSRedirectedQueries:  redirectedQueries,
		DNSMaintenanceHits:    maintenanceHits,
		DNSForwardedQueries:   forwardedQueries,
		DNSServfailQueries:    servfailQueries,
		RuleCount:             ruleCount,
		StorageQueriesDropped: storageQueriesDropped,
	}, nil
}

// MeterProvider returns the meter provider
func (t *Telemetry) MeterProvider() metric.MeterProvider {
	return t.meterProvider
}

// TracerProvider returns the tracer provider
func (t *Telemetry) TracerProvider() trace.TracerProvider {
	return t.tracerProvider
}

// AddDroppedQuery implements storage.MetricsRecorder interface
// This allows Metrics to be passed to storage without creating import cycles
func (m *Metrics) AddDroppedQuery(ctx context.Context, count int64) {
	if m != nil && m.StorageQueriesDropped != nil {
		m.StorageQueriesDropped.Add(ctx, count)
	}
}

// Shutdown gracefully shuts down telemetry
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error

	if t.prometheusServer != nil {
		if err := t.prometheusServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("prometheus server shutdown: %w", err))
		}
	}

	if provider, ok := t.meterProvider.(*sdkmetric.MeterProvider); ok {
		if err := provider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("telemetry shutdown errors: %v", errs)
	}

	t.logger.Info("Telemetry shut down")
	return nil
}
