package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/nimburion/queuevisor"

// Attribute keys set on job spans.
const (
	AttrSystem      = attribute.Key("messaging.system")
	AttrTube        = attribute.Key("messaging.destination")
	AttrJobID       = attribute.Key("messaging.message_id")
	AttrPayloadSize = attribute.Key("messaging.payload_size_bytes")
	AttrJobName     = attribute.Key("queue.job.name")
	AttrAttempt     = attribute.Key("queue.job.attempt")
	AttrOutcome     = attribute.Key("queue.job.outcome")
)

// JobSpan describes the job a span is started for. Zero fields are omitted.
type JobSpan struct {
	System      string
	Tube        string
	ID          string
	Name        string
	Attempt     int
	PayloadSize int
}

func (j JobSpan) attributes() []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 6)
	if j.System != "" {
		attrs = append(attrs, AttrSystem.String(j.System))
	}
	if j.Tube != "" {
		attrs = append(attrs, AttrTube.String(j.Tube))
	}
	if j.ID != "" {
		attrs = append(attrs, AttrJobID.String(j.ID))
	}
	if j.Name != "" {
		attrs = append(attrs, AttrJobName.String(j.Name))
	}
	if j.Attempt > 0 {
		attrs = append(attrs, AttrAttempt.Int(j.Attempt))
	}
	if j.PayloadSize > 0 {
		attrs = append(attrs, AttrPayloadSize.Int(j.PayloadSize))
	}
	return attrs
}

func (j JobSpan) spanName(verb string) string {
	if j.Tube == "" {
		return verb
	}
	return verb + " " + j.Tube
}

// StartProcessSpan starts the consumer span wrapping one handler run.
func StartProcessSpan(ctx context.Context, job JobSpan) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, job.spanName("process"),
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(job.attributes()...),
	)
}

// StartPushSpan starts the producer span wrapping an enqueue.
func StartPushSpan(ctx context.Context, job JobSpan) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, job.spanName("push"),
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(job.attributes()...),
	)
}

// Finish records outcome and err on span and ends it. A nil err marks the
// span OK.
func Finish(span trace.Span, outcome string, err error) {
	if outcome != "" {
		span.SetAttributes(AttrOutcome.String(outcome))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
