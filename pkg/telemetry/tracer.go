package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

// Tracer wraps one span of a campaign phase. The dummy implementation
// keeps call sites branch-free when telemetry is disabled.
type Tracer interface {
	Start()
	WithAttributes(attrs *SpanAttributes) Tracer
	AddEvent(name string, attrs EventAttributes)
	SetStatus(code codes.Code, message string)
	Spawn(spanName string) Tracer
	End()
}

// TracerKey stores the active tracer in a context.
type TracerKey struct{}

// FromContext returns the tracer stored in ctx, or a dummy.
func FromContext(ctx context.Context) Tracer {
	if t, ok := ctx.Value(TracerKey{}).(Tracer); ok {
		return t
	}
	return &DummyTracer{}
}

type TracerFactory struct {
	telemetry Telemetry
}

type TracerFactoryParams struct {
	fx.In
	Telemetry Telemetry `optional:"true"`
}

func NewTracerFactory(p TracerFactoryParams) *TracerFactory {
	return &TracerFactory{telemetry: p.Telemetry}
}

func (f *TracerFactory) NewTracer(ctx context.Context, spanName string) Tracer {
	if f.telemetry == nil || f.telemetry.GetTracer() == nil {
		return &DummyTracer{}
	}
	return &telemetryTracer{
		tracer:    f.telemetry.GetTracer(),
		tracerCtx: ctx,
		spanName:  spanName,
		attrs:     EmptySpanAttributes(),
	}
}

type telemetryTracer struct {
	tracer    trace.Tracer
	span      trace.Span
	tracerCtx context.Context
	spanName  string
	attrs     *SpanAttributes
	started   bool
}

func (t *telemetryTracer) Start() {
	t.tracerCtx, t.span = t.tracer.Start(t.tracerCtx, t.spanName,
		trace.WithAttributes(t.attrs.Attributes()...))
	t.started = true
}

func (t *telemetryTracer) WithAttributes(attrs *SpanAttributes) Tracer {
	t.attrs.Merge(attrs)
	if t.started {
		t.span.SetAttributes(t.attrs.Attributes()...)
	}
	return t
}

func (t *telemetryTracer) AddEvent(name string, attrs EventAttributes) {
	if t.started {
		t.span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}

func (t *telemetryTracer) SetStatus(code codes.Code, message string) {
	if t.started {
		t.span.SetStatus(code, message)
	}
}

func (t *telemetryTracer) Spawn(spanName string) Tracer {
	child := &telemetryTracer{
		tracer:    t.tracer,
		tracerCtx: t.tracerCtx,
		spanName:  spanName,
		attrs:     EmptySpanAttributes(),
	}
	return child.WithAttributes(t.attrs)
}

func (t *telemetryTracer) End() {
	if t.started {
		t.span.End()
	}
}

// DummyTracer does nothing; used when telemetry is disabled.
type DummyTracer struct{}

func (t *DummyTracer) Start()                                    {}
func (t *DummyTracer) WithAttributes(a *SpanAttributes) Tracer   { return t }
func (t *DummyTracer) AddEvent(name string, a EventAttributes)   {}
func (t *DummyTracer) SetStatus(code codes.Code, message string) {}
func (t *DummyTracer) Spawn(spanName string) Tracer              { return t }
func (t *DummyTracer) End()                                      {}

// SpanAttributes accumulates the attributes attached to a campaign span.
type SpanAttributes struct {
	extra map[string]any
}

func EmptySpanAttributes() *SpanAttributes {
	return &SpanAttributes{extra: make(map[string]any)}
}

func (o *SpanAttributes) Merge(other *SpanAttributes) {
	if other == nil {
		return
	}
	if o.extra == nil {
		o.extra = make(map[string]any)
	}
	for k, v := range other.extra {
		if _, exists := o.extra[k]; !exists {
			o.extra[k] = v
		}
	}
}

func (o *SpanAttributes) WithExtraAttribute(key string, value any) *SpanAttributes {
	if o.extra == nil {
		o.extra = make(map[string]any)
	}
	o.extra[key] = value
	return o
}

func (o *SpanAttributes) Attributes() []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(o.extra))
	for k, v := range o.extra {
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprint(val)))
		}
	}
	return attrs
}

// EventAttributes are attributes attached to one span event.
type EventAttributes []attribute.KeyValue

func NewEventAttributes(kv map[string]string) EventAttributes {
	attrs := make(EventAttributes, 0, len(kv))
	for k, v := range kv {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}
