// Package otel provides OpenTelemetry initialization for tb.
//
// Each tb invocation is one short-lived process: a root span per command,
// child spans per bridge operation, and a handful of counters. Everything
// is flushed on Shutdown before the process exits.
//
// Exports go to an OTLP endpoint (config file, OTEL_EXPORTER_OTLP_ENDPOINT,
// or standard OTEL env vars) with optional headers from
// OTEL_EXPORTER_OTLP_HEADERS. If no endpoint is set, telemetry is a no-op.
package otel

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const serviceName = "tmux-bridge"

// Version is set by the caller (from the linker-injected cmd.Version).
// Defaults to "dev" if not set.
var Version = "dev"

// OTELConfig holds the configuration needed by the OTEL init.
type OTELConfig struct {
	Endpoint string // OTLP base URL, e.g. "http://localhost:3000/api/public/otel"
	Headers  string // Comma-separated key=value pairs, e.g. "Authorization=Basic abc123"
}

// Telemetry holds the OTEL providers and metric instruments.
type Telemetry struct {
	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider

	Tracer  trace.Tracer
	Metrics *Metrics
}

// parseHeaders parses a comma-separated "key=value,key2=value2" string into a map.
// This matches the OTEL_EXPORTER_OTLP_HEADERS format.
func parseHeaders(raw string) map[string]string {
	headers := make(map[string]string)
	if raw == "" {
		return headers
	}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if idx := strings.IndexByte(pair, '='); idx > 0 {
			key := strings.TrimSpace(pair[:idx])
			val := strings.TrimSpace(pair[idx+1:])
			if key != "" {
				headers[key] = val
			}
		}
	}
	return headers
}

// Init builds tracer and meter providers exporting over OTLP/HTTP. With an
// empty cfg.Endpoint nothing is exported, but the tracer and instruments
// are still usable.
func Init(ctx context.Context, cfg OTELConfig) (*Telemetry, error) {
	t := &Telemetry{}
	if cfg.Endpoint != "" {
		dest, err := parseEndpoint(cfg.Endpoint, cfg.Headers)
		if err != nil {
			return nil, err
		}
		res, err := resource.New(ctx,
			resource.WithAttributes(
				semconv.ServiceName(serviceName),
				semconv.ServiceVersion(Version),
			),
			resource.WithHost(),
			resource.WithProcessPID(),
		)
		if err != nil {
			return nil, fmt.Errorf("otel resource: %w", err)
		}
		if t.tp, err = newTracerProvider(ctx, dest, res); err != nil {
			return nil, err
		}
		if t.mp, err = newMeterProvider(ctx, dest, res); err != nil {
			_ = t.tp.Shutdown(ctx)
			return nil, err
		}
		otel.SetTracerProvider(t.tp)
		otel.SetMeterProvider(t.mp)
	}

	t.Tracer = otel.Tracer(serviceName)
	metrics, err := NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("otel metrics: %w", err)
	}
	t.Metrics = metrics
	return t, nil
}

// destination is where both signals are exported.
type destination struct {
	host     string // host:port
	basePath string // without trailing slash; signal paths are appended
	insecure bool
	headers  map[string]string
}

// parseEndpoint splits an OTLP base URL such as
// "http://localhost:4318/api/otel" into host and base path.
func parseEndpoint(endpoint, headers string) (destination, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return destination{}, fmt.Errorf("otel: invalid endpoint URL %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return destination{}, fmt.Errorf("otel: endpoint %q has no host", endpoint)
	}
	return destination{
		host:     u.Host,
		basePath: strings.TrimRight(u.Path, "/"),
		insecure: u.Scheme == "http",
		headers:  parseHeaders(headers),
	}, nil
}

func newTracerProvider(ctx context.Context, d destination, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(d.host),
		otlptracehttp.WithURLPath(d.basePath + "/v1/traces"),
		otlptracehttp.WithHeaders(d.headers),
	}
	if d.insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otel trace exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp, sdktrace.WithBatchTimeout(time.Second)),
		sdktrace.WithResource(res),
	), nil
}

// newMeterProvider exports on an interval longer than most tb runs;
// Shutdown does the final export.
func newMeterProvider(ctx context.Context, d destination, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(d.host),
		otlpmetrichttp.WithURLPath(d.basePath + "/v1/metrics"),
		otlpmetrichttp.WithHeaders(d.headers),
	}
	if d.insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exp, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otel metric exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(30*time.Second))),
		sdkmetric.WithResource(res),
	), nil
}

// Noop returns telemetry that records nothing. Used by tests and when
// Init fails.
func Noop() *Telemetry {
	return &Telemetry{Tracer: noop.NewTracerProvider().Tracer(serviceName)}
}

// Enabled reports whether spans and metrics are exported.
func (t *Telemetry) Enabled() bool {
	return t != nil && t.tp != nil
}

// StartCommand starts the root span of one tb invocation. Bridge spans
// started under the returned context are its children. The returned func
// ends the span and records err when it is non-nil.
func (t *Telemetry) StartCommand(ctx context.Context, name string) (context.Context, func(error)) {
	if t == nil || t.Tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := t.Tracer.Start(ctx, name)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// Shutdown flushes and shuts down all OTEL providers.
func (t *Telemetry) Shutdown(ctx context.Context) {
	if t == nil {
		return
	}
	if t.tp != nil {
		_ = t.tp.Shutdown(ctx)
	}
	if t.mp != nil {
		_ = t.mp.Shutdown(ctx)
	}
}
