package tracer

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultServiceName names the tracer when none is given.
const DefaultServiceName = "chainstate"

// Provider hands out the tracer for one component.
type Provider struct {
	serviceName string
	tracer      trace.Tracer
}

// New creates a provider backed by the global TracerProvider.
func New(serviceName string) *Provider {
	if serviceName == "" {
		serviceName = DefaultServiceName
	}
	return &Provider{
		serviceName: serviceName,
		tracer:      otel.Tracer(serviceName),
	}
}

// ServiceName returns the instrumentation name.
func (p *Provider) ServiceName() string {
	return p.serviceName
}

// Tracer returns the underlying tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Start starts a span named name.
func (p *Provider) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// Shutdown flushes nothing: the provider does not own an exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	return ctx.Err()
}

// End records err on span, if any, sets the status and ends the span.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
