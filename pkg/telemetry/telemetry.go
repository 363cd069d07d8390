// Package telemetry owns the trace and metric providers of a fedimind
// process and the pipeline instruments recorded on them.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/fedibird/fedimind/pkg/config"
	"github.com/fedibird/fedimind/pkg/logging"
)

const instrumentation = "github.com/fedibird/fedimind"

var tracer trace.Tracer

// Telemetry is the set of providers built for one process
type Telemetry struct {
	// Metrics records pipeline counters; nil when telemetry is disabled
	Metrics *Metrics

	registry *promclient.Registry
	shutdown []func(context.Context) error
	logger   *zap.Logger
}

// Init builds the trace and meter providers described by cfg and registers
// the pipeline instruments on the meter provider. Spans go to Jaeger when a
// collector URL is set; counters are exposed for Prometheus scraping when
// enabled and otherwise aggregated in-process only.
func Init(cfg *config.TelemetryConfig) (*Telemetry, error) {
	t := &Telemetry{logger: logging.WithComponent("telemetry")}
	if !cfg.Enabled {
		t.logger.Info("Telemetry disabled")
		return t, nil
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("0.1.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if cfg.JaegerURL != "" {
		if err := t.traceToJaeger(cfg.JaegerURL, res); err != nil {
			return nil, err
		}
	}

	mp, err := t.meterProvider(cfg, res)
	if err != nil {
		t.Shutdown()
		return nil, err
	}
	if t.Metrics, err = NewMetrics(mp.Meter(instrumentation)); err != nil {
		t.Shutdown()
		return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	tracer = otel.Tracer(cfg.ServiceName)
	return t, nil
}

func (t *Telemetry) traceToJaeger(url string, res *resource.Resource) error {
	exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(url)))
	if err != nil {
		return fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	t.shutdown = append(t.shutdown, tp.Shutdown)
	t.logger.Info("Tracing to Jaeger", zap.String("url", url))
	return nil
}

// meterProvider reads into a private Prometheus registry so that only the
// pipeline instruments are served by MetricsHandler
func (t *Telemetry) meterProvider(cfg *config.TelemetryConfig, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if cfg.PrometheusEnabled {
		reg := promclient.NewRegistry()
		exporter, err := prometheus.New(prometheus.WithRegisterer(reg))
		if err != nil {
			return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(exporter))
		t.registry = reg
		t.logger.Info("Prometheus exporter initialized", zap.Int("port", cfg.PrometheusPort))
	}
	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)
	t.shutdown = append(t.shutdown, mp.Shutdown)
	return mp, nil
}

// MetricsHandler serves the pipeline counters, or nil when Prometheus is off
func (t *Telemetry) MetricsHandler() http.Handler {
	if t == nil || t.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops every provider Init started
func (t *Telemetry) Shutdown() {
	if t == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(t.shutdown) - 1; i >= 0; i-- {
		if err := t.shutdown[i](ctx); err != nil {
			t.logger.Error("Error shutting down telemetry", zap.Error(err))
		}
	}
	t.shutdown = nil
}

// Tracer returns the process tracer, a no-op one before Init
func Tracer() trace.Tracer {
	if tracer == nil {
		return noop.NewTracerProvider().Tracer("fedimind")
	}
	return tracer
}

// StartSpan starts a new span
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}
