package observability

import (
	"context"
	"time"

	"github.com/axilum2025/sturdy-pancake-sub003/internal/ratelimit"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedLimiter wraps a ratelimit.Limiter with a span per decision,
// a decision counter and, when the inner limiter can report it, a gauge of
// failover state.
type InstrumentedLimiter struct {
	inner     ratelimit.Limiter
	tracer    trace.Tracer
	decisions metric.Int64Counter
	duration  metric.Float64Histogram
}

// NewInstrumentedLimiter creates the wrapper and registers its instruments.
func NewInstrumentedLimiter(inner ratelimit.Limiter) (*InstrumentedLimiter, error) {
	meter := otel.Meter("agentgate/ratelimit")

	decisions, err := meter.Int64Counter(
		"ratelimit.decisions",
		metric.WithDescription("Number of rate limit decisions by result and backend"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"ratelimit.decision.duration",
		metric.WithDescription("Duration of rate limit decisions in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	if reporter, ok := inner.(ratelimit.BackendReporter); ok {
		_, err = meter.Int64ObservableGauge(
			"ratelimit.degraded",
			metric.WithDescription("1 while counting on the fallback store"),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				var v int64
				if reporter.Degraded() {
					v = 1
				}
				o.Observe(v, metric.WithAttributes(attribute.String("backend", reporter.ActiveBackend())))
				return nil
			}),
		)
		if err != nil {
			return nil, err
		}
	}

	return &InstrumentedLimiter{
		inner:     inner,
		tracer:    otel.Tracer("agentgate/ratelimit"),
		decisions: decisions,
		duration:  duration,
	}, nil
}

func (l *InstrumentedLimiter) Allow(ctx context.Context, key ratelimit.RateKey) (ratelimit.Decision, error) {
	ctx, span := l.tracer.Start(ctx, "ratelimit.Allow",
		trace.WithAttributes(
			attribute.String("ratelimit.scope", key.Scope),
			attribute.String("ratelimit.resource", key.Resource),
		),
	)
	defer span.End()

	start := time.Now()
	decision, err := l.inner.Allow(ctx, key)
	elapsed := time.Since(start).Seconds()

	result := "allowed"
	switch {
	case err != nil:
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case !decision.Allowed:
		result = "denied"
		span.SetAttributes(attribute.String("ratelimit.violated", string(decision.Violated)))
	}
	span.SetAttributes(attribute.String("ratelimit.result", result))

	attrs := metric.WithAttributes(
		attribute.String("result", result),
		attribute.String("backend", decision.Backend),
	)
	l.decisions.Add(ctx, 1, attrs)
	l.duration.Record(ctx, elapsed, attrs)

	return decision, err
}

func (l *InstrumentedLimiter) Policy() ratelimit.Policy { return l.inner.Policy() }

// ActiveBackend forwards to the inner limiter, or "unknown".
func (l *InstrumentedLimiter) ActiveBackend() string {
	if r, ok := l.inner.(ratelimit.BackendReporter); ok {
		return r.ActiveBackend()
	}
	return "unknown"
}

func (l *InstrumentedLimiter) Degraded() bool {
	if r, ok := l.inner.(ratelimit.BackendReporter); ok {
		return r.Degraded()
	}
	return false
}
