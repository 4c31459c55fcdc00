package app

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/vmcpmesh/gateway"

// telemetry bundles the tracer/meter pair the monitoring sink emits
// through, plus the HTTP handler /metrics is served from and the
// TracerProvider shutdown hook.
type telemetry struct {
	tracer     trace.Tracer
	meter      metric.Meter
	metricsMux *http.ServeMux
	tracerProv *sdktrace.TracerProvider
	meterProv  *sdkmetric.MeterProvider
}

// newTelemetry wires an OTel tracer/meter pair: spans flow through an
// always-sampling TracerProvider (no exporter configured — a demo/CLI
// run has nowhere to ship them), metrics flow through a Prometheus
// registry exposed for local scraping at /metrics.
func newTelemetry() (*telemetry, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, err
	}
	meterProv := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	tracerProv := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &telemetry{
		tracer:     tracerProv.Tracer(instrumentationName),
		meter:      meterProv.Meter(instrumentationName),
		metricsMux: mux,
		tracerProv: tracerProv,
		meterProv:  meterProv,
	}, nil
}

func (t *telemetry) shutdown(ctx context.Context) {
	_ = t.tracerProv.Shutdown(ctx)
	_ = t.meterProv.Shutdown(ctx)
}
