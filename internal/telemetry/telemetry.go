package telemetry

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Telemetry manages a TracerProvider and its graceful shutdown. Provider
// construction never returns a hard error from New; failures degrade the
// instance instead, following the teacher's telemetry package.
type Telemetry struct {
	config         *Config
	tracerProvider *trace.TracerProvider

	healthy  atomic.Bool
	degraded atomic.Bool
}

// Option configures Telemetry construction, chiefly for tests that want a
// span exporter that records in memory instead of the default no-op.
type Option func(*options)

type options struct {
	exporter trace.SpanExporter
}

// WithSpanExporter attaches a SpanExporter to the constructed provider.
func WithSpanExporter(exp trace.SpanExporter) Option {
	return func(o *options) { o.exporter = exp }
}

// New builds a Telemetry instance. When cfg.Enabled is false it returns a
// no-op instance; otherwise it installs a global TracerProvider with W3C
// trace-context propagation.
func New(cfg *Config, opts ...Option) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	t := &Telemetry{config: cfg}
	t.healthy.Store(true)

	if !cfg.Enabled {
		return t, nil
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	res := newResource(cfg)
	tp := newTracerProvider(cfg, res, o.exporter)
	t.tracerProvider = tp
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return t, nil
}

// Tracer returns a tracer for name, falling back to the global provider
// (a no-op when none was installed) if this instance is nil or has no
// tracer provider of its own (telemetry disabled).
func (t *Telemetry) Tracer(name string, opts ...oteltrace.TracerOption) oteltrace.Tracer {
	if t == nil || t.tracerProvider == nil {
		return otel.GetTracerProvider().Tracer(name, opts...)
	}
	return t.tracerProvider.Tracer(name, opts...)
}

// Shutdown flushes and closes the tracer provider, with ctx's deadline
// falling back to the configured shutdown timeout when unset.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || t.tracerProvider == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.ShutdownTimeout)
		defer cancel()
	}
	err := t.tracerProvider.Shutdown(ctx)
	t.healthy.Store(false)
	return err
}

// HealthStatus reports whether telemetry is live and whether it degraded
// to a no-op at some point during construction or operation.
type HealthStatus struct {
	Healthy  bool
	Degraded bool
}

// Health returns the current telemetry health status.
func (t *Telemetry) Health() HealthStatus {
	if t == nil {
		return HealthStatus{Healthy: false, Degraded: true}
	}
	return HealthStatus{Healthy: t.healthy.Load(), Degraded: t.degraded.Load()}
}
