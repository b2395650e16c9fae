package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func setupTestTracer(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(previous) })
	return recorder
}

func spanAttributes(span sdktrace.ReadOnlySpan) map[string]string {
	attrs := map[string]string{}
	for _, kv := range span.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	return attrs
}

func TestStartProcessSpan(t *testing.T) {
	recorder := setupTestTracer(t)

	_, span := StartProcessSpan(context.Background(), JobSpan{
		System:      "redis",
		Tube:        "mail",
		ID:          "42",
		Name:        "send",
		Attempt:     2,
		PayloadSize: 5,
	})
	Finish(span, "deleted", nil)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	got := spans[0]
	if got.Name() != "process mail" {
		t.Fatalf("unexpected span name %q", got.Name())
	}
	if got.SpanKind() != trace.SpanKindConsumer {
		t.Fatalf("expected consumer span, got %v", got.SpanKind())
	}
	attrs := spanAttributes(got)
	want := map[string]string{
		"messaging.system":             "redis",
		"messaging.destination":        "mail",
		"messaging.message_id":         "42",
		"messaging.payload_size_bytes": "5",
		"queue.job.name":               "send",
		"queue.job.attempt":            "2",
		"queue.job.outcome":            "deleted",
	}
	for key, value := range want {
		if attrs[key] != value {
			t.Errorf("attribute %s = %q, want %q", key, attrs[key], value)
		}
	}
	if got.Status().Code != codes.Ok {
		t.Fatalf("expected OK status, got %v", got.Status())
	}
}

func TestStartPushSpan(t *testing.T) {
	recorder := setupTestTracer(t)

	_, span := StartPushSpan(context.Background(), JobSpan{})
	Finish(span, "", nil)

	got := recorder.Ended()[0]
	if got.SpanKind() != trace.SpanKindProducer {
		t.Fatalf("expected producer span, got %v", got.SpanKind())
	}
	if got.Name() != "push" {
		t.Fatalf("unexpected span name %q", got.Name())
	}
	attrs := spanAttributes(got)
	if _, ok := attrs["queue.job.outcome"]; ok {
		t.Fatalf("did not expect an outcome on a push span: %v", attrs)
	}
	if _, ok := attrs["queue.job.attempt"]; ok {
		t.Fatalf("zero attempt should be omitted: %v", attrs)
	}
}

func TestFinishRecordsError(t *testing.T) {
	recorder := setupTestTracer(t)

	_, span := StartProcessSpan(context.Background(), JobSpan{Tube: "mail"})
	Finish(span, "buried", errors.New("boom"))

	got := recorder.Ended()[0]
	if got.Status().Code != codes.Error || got.Status().Description != "boom" {
		t.Fatalf("unexpected status %+v", got.Status())
	}
	if len(got.Events()) != 1 {
		t.Fatalf("expected one error event, got %d", len(got.Events()))
	}
	if spanAttributes(got)["queue.job.outcome"] != "buried" {
		t.Fatalf("expected buried outcome")
	}
}

func TestNewTracerProvider(t *testing.T) {
	provider, err := NewTracerProvider(context.Background(), TracerConfig{Enabled: false})
	if err != nil || provider.Tracer("x") == nil {
		t.Fatalf("disabled provider = %v, %v", provider, err)
	}
	if err := provider.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	tests := []struct {
		name string
		cfg  TracerConfig
	}{
		{name: "missing service", cfg: TracerConfig{Enabled: true, Endpoint: "localhost:4317"}},
		{name: "missing endpoint", cfg: TracerConfig{Enabled: true, ServiceName: "queuevisor"}},
		{name: "bad sample rate", cfg: TracerConfig{Enabled: true, ServiceName: "queuevisor", Endpoint: "localhost:4317", SampleRate: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTracerProvider(context.Background(), tt.cfg)
			if !errors.Is(err, ErrInvalidTracerConfig) {
				t.Fatalf("expected ErrInvalidTracerConfig, got %v", err)
			}
		})
	}
}
