// Package tracing sets up OpenTelemetry for cmdlatency and provides span
// helpers for simulated commands and report publication.
package tracing

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/torosent/cmdlatency/internal/config"
)

const instrumentationName = "github.com/torosent/cmdlatency"

// Provider owns the SDK tracer provider. The zero value and a nil *Provider
// are valid and hand out no-op tracers.
type Provider struct {
	sdk    *sdktrace.TracerProvider
	tracer trace.Tracer
}

// exportSettings is a TracingConfig with environment fallbacks applied.
type exportSettings struct {
	service  string
	endpoint string
	protocol string
	insecure bool
	sampler  sdktrace.Sampler
}

func resolve(cfg config.TracingConfig) (exportSettings, error) {
	s := exportSettings{
		service:  firstNonEmpty(cfg.ServiceName, os.Getenv("OTEL_SERVICE_NAME"), "cmdlatency"),
		endpoint: firstNonEmpty(strings.TrimSpace(cfg.Endpoint), os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		protocol: firstNonEmpty(strings.ToLower(strings.TrimSpace(cfg.Protocol)), "grpc"),
		insecure: cfg.Insecure,
	}
	sampler, err := samplerFor(cfg.SampleRate)
	if err != nil {
		return exportSettings{}, err
	}
	s.sampler = sampler
	if s.protocol != "grpc" && s.protocol != "http" {
		return exportSettings{}, fmt.Errorf("unsupported OTLP protocol %q: use \"grpc\" or \"http\"", s.protocol)
	}
	return s, nil
}

// samplerFor maps a sample ratio to a parent-based sampler so a sampled
// publish cycle keeps its child spans.
func samplerFor(ratio float64) (sdktrace.Sampler, error) {
	switch {
	case ratio < 0 || ratio > 1:
		return nil, fmt.Errorf("tracing sample_rate must be between 0.0 and 1.0, got %g", ratio)
	case ratio == 0:
		return sdktrace.ParentBased(sdktrace.NeverSample()), nil
	case ratio == 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample()), nil
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio)), nil
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Init builds an OTLP-exporting provider from cfg and installs it as the
// global tracer provider. Without an endpoint it returns a no-op Provider.
func Init(ctx context.Context, cfg config.TracingConfig) (*Provider, error) {
	if !cfg.Enabled() {
		return &Provider{}, nil
	}
	s, err := resolve(cfg)
	if err != nil {
		return nil, err
	}
	exporter, err := s.exporter(ctx)
	if err != nil {
		return nil, fmt.Errorf("tracing exporter: %w", err)
	}
	return newProvider(ctx, s, sdktrace.WithBatcher(exporter))
}

// NewWithExporter builds a provider that sends spans synchronously to exporter,
// regardless of the configured endpoint.
func NewWithExporter(ctx context.Context, cfg config.TracingConfig, exporter sdktrace.SpanExporter) (*Provider, error) {
	s, err := resolve(cfg)
	if err != nil {
		return nil, err
	}
	return newProvider(ctx, s, sdktrace.WithSyncer(exporter))
}

func newProvider(ctx context.Context, s exportSettings, export sdktrace.TracerProviderOption) (*Provider, error) {
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(s.service),
		attribute.String("cmdlatency.otlp.protocol", s.protocol),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	sdk := sdktrace.NewTracerProvider(export, sdktrace.WithResource(res), sdktrace.WithSampler(s.sampler))
	otel.SetTracerProvider(sdk)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return &Provider{sdk: sdk, tracer: sdk.Tracer(instrumentationName)}, nil
}

func (s exportSettings) exporter(ctx context.Context) (sdktrace.SpanExporter, error) {
	if s.protocol == "http" {
		var opts []otlptracehttp.Option
		if s.endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(s.endpoint))
		}
		if s.insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	}

	var opts []otlptracegrpc.Option
	if s.endpoint != "" {
		opts = append(opts, otlptracegrpc.WithEndpoint(s.endpoint))
	}
	if s.insecure {
		opts = append(opts,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	return otlptracegrpc.New(ctx, opts...)
}

// Enabled reports whether spans are exported.
func (p *Provider) Enabled() bool {
	return p != nil && p.sdk != nil
}

// Tracer returns the provider's tracer, or a no-op tracer when disabled.
func (p *Provider) Tracer() trace.Tracer {
	if !p.Enabled() {
		return noop.NewTracerProvider().Tracer(instrumentationName)
	}
	return p.tracer
}

// Flush exports buffered spans without shutting down.
func (p *Provider) Flush(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	return p.sdk.ForceFlush(ctx)
}

// Shutdown flushes and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	return p.sdk.Shutdown(ctx)
}
