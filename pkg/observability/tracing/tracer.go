// Package tracing wires OpenTelemetry tracing for job processing.
package tracing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

const defaultShutdownTimeout = 10 * time.Second

// ErrInvalidTracerConfig is returned when tracing is enabled with an
// unusable configuration.
var ErrInvalidTracerConfig = errors.New("invalid tracer config")

// TracerConfig configures a worker's tracer provider.
type TracerConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Environment    string
	// Tube is attached to the resource so spans from one worker process can
	// be told apart from its siblings.
	Tube string
	// Endpoint is the OTLP gRPC collector address, e.g. "localhost:4317".
	Endpoint        string
	SampleRate      float64
	ShutdownTimeout time.Duration
}

func (c *TracerConfig) normalize() {
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
}

func (c TracerConfig) validate() error {
	switch {
	case c.ServiceName == "":
		return fmt.Errorf("%w: service name is required", ErrInvalidTracerConfig)
	case c.Endpoint == "":
		return fmt.Errorf("%w: OTLP endpoint is required", ErrInvalidTracerConfig)
	case c.SampleRate < 0 || c.SampleRate > 1:
		return fmt.Errorf("%w: sample rate %v is outside [0, 1]", ErrInvalidTracerConfig, c.SampleRate)
	}
	return nil
}

// TracerProvider owns the SDK provider so pending spans can be flushed
// before the worker exits.
type TracerProvider struct {
	provider        *sdktrace.TracerProvider
	shutdownTimeout time.Duration
}

// NewTracerProvider installs an OTLP-exporting provider as the global one.
// When tracing is disabled the global provider stays untouched and the
// returned provider records nothing.
func NewTracerProvider(ctx context.Context, cfg TracerConfig) (*TracerProvider, error) {
	cfg.normalize()
	if !cfg.Enabled {
		return &TracerProvider{provider: sdktrace.NewTracerProvider(), shutdownTimeout: cfg.ShutdownTimeout}, nil
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
	))
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
	}
	if cfg.Tube != "" {
		attrs = append(attrs, AttrTube.String(cfg.Tube))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return &TracerProvider{provider: provider, shutdownTimeout: cfg.ShutdownTimeout}, nil
}

// Tracer returns a named tracer from the owned provider.
func (tp *TracerProvider) Tracer(name string) trace.Tracer {
	return tp.provider.Tracer(name)
}

// Shutdown flushes pending spans, bounded by the configured timeout.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp == nil || tp.provider == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, tp.shutdownTimeout)
	defer cancel()
	if err := tp.provider.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown tracer provider: %w", err)
	}
	return nil
}
