package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	serviceName    = "analytics-dashboard"
	serviceVersion = "1.0.0"
)

// Config holds OTLP exporter settings.
type Config struct {
	Enabled  bool
	Endpoint string
	Insecure bool
}

// OTel records query cache events as OpenTelemetry instruments.
type OTel struct {
	provider      *sdkmetric.MeterProvider
	hits          metric.Int64Counter
	misses        metric.Int64Counter
	fetches       metric.Int64Counter
	fetchDuration metric.Float64Histogram
	discarded     metric.Int64Counter
	evictions     metric.Int64Counter
}

// NewOTLPExporter creates a recorder that pushes to an OTLP collector.
func NewOTLPExporter(ctx context.Context, cfg Config) (*OTel, error) {
	if !cfg.Enabled || cfg.Endpoint == "" {
		return nil, fmt.Errorf("OTEL exporter is disabled or endpoint not configured")
	}

	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	return NewOTel(ctx, sdkmetric.NewPeriodicReader(exp))
}

// NewOTel creates a recorder on a meter provider fed by reader.
func NewOTel(ctx context.Context, reader sdkmetric.Reader) (*OTel, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)
	meter := provider.Meter(serviceName)

	o := &OTel{provider: provider}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&o.hits, "dashboard_query_cache_hits_total", "Activations served without a fetch"},
		{&o.misses, "dashboard_query_cache_misses_total", "Activations that started a fetch"},
		{&o.fetches, "dashboard_query_fetches_total", "Fetch results applied to the cache"},
		{&o.discarded, "dashboard_query_discarded_total", "Cancelled or superseded fetch results"},
		{&o.evictions, "dashboard_query_evictions_total", "Cache entries evicted"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("creating %s counter: %w", c.name, err)
		}
		*c.dst = counter
	}

	o.fetchDuration, err = meter.Float64Histogram(
		"dashboard_query_fetch_duration_seconds",
		metric.WithDescription("Upstream fetch duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating fetch duration histogram: %w", err)
	}
	return o, nil
}

func endpointAttr(endpoint string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("endpoint", endpoint))
}

func (o *OTel) Hit(endpoint string) {
	o.hits.Add(context.Background(), 1, endpointAttr(endpoint))
}

func (o *OTel) Miss(endpoint string) {
	o.misses.Add(context.Background(), 1, endpointAttr(endpoint))
}

func (o *OTel) FetchCompleted(endpoint, outcome string, d time.Duration) {
	opt := metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("outcome", outcome),
	)
	o.fetches.Add(context.Background(), 1, opt)
	o.fetchDuration.Record(context.Background(), d.Seconds(), opt)
}

func (o *OTel) Discarded(endpoint string) {
	o.discarded.Add(context.Background(), 1, endpointAttr(endpoint))
}

func (o *OTel) Evicted(n int) {
	if n > 0 {
		o.evictions.Add(context.Background(), int64(n))
	}
}

// Close flushes pending metrics and shuts the provider down.
func (o *OTel) Close(ctx context.Context) error {
	return o.provider.Shutdown(ctx)
}
