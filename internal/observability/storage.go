package observability

import (
	"context"
	"errors"
	"time"

	"github.com/axilum2025/sturdy-pancake-sub003/internal/models"
	"github.com/axilum2025/sturdy-pancake-sub003/internal/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedStorage wraps a storage.Storage implementation with
// OpenTelemetry tracing and metrics instrumentation.
type InstrumentedStorage struct {
	inner    storage.Storage
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

// NewInstrumentedStorage creates a new storage wrapper that records trace spans,
// operation latency histograms, and error counters for every storage method call.
func NewInstrumentedStorage(inner storage.Storage) (*InstrumentedStorage, error) {
	tracer := otel.Tracer("agentgate/storage")
	meter := otel.Meter("agentgate/storage")

	duration, err := meter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Duration of storage operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"storage.operation.errors",
		metric.WithDescription("Number of storage operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStorage{
		inner:    inner,
		tracer:   tracer,
		duration: duration,
		errors:   errCounter,
	}, nil
}

func (s *InstrumentedStorage) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "storage."+operation,
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("storage.operation", operation),
		}, attrs...)...),
	)
	return ctx, span
}

func (s *InstrumentedStorage) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	elapsed := time.Since(start).Seconds()
	attrs := metric.WithAttributes(attribute.String("operation", operation))

	s.duration.Record(ctx, elapsed, attrs)

	if err != nil {
		s.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

func (s *InstrumentedStorage) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	ctx, span := s.startSpan(ctx, "CreateSubscription",
		attribute.String("subscription_id", sub.ID),
		attribute.String("agent_id", sub.AgentID),
	)
	start := time.Now()
	err := s.inner.CreateSubscription(ctx, sub)
	s.record(ctx, span, "CreateSubscription", start, err)
	return err
}

func (s *InstrumentedStorage) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	ctx, span := s.startSpan(ctx, "GetSubscription", attribute.String("subscription_id", id))
	start := time.Now()
	result, err := s.inner.GetSubscription(ctx, id)
	s.record(ctx, span, "GetSubscription", start, ignoreNotFound(err))
	return result, err
}

func (s *InstrumentedStorage) ListSubscriptions(ctx context.Context, ownerID, agentID string) ([]*models.Subscription, error) {
	ctx, span := s.startSpan(ctx, "ListSubscriptions",
		attribute.String("owner_id", ownerID),
		attribute.String("agent_id", agentID),
	)
	start := time.Now()
	result, err := s.inner.ListSubscriptions(ctx, ownerID, agentID)
	s.record(ctx, span, "ListSubscriptions", start, err)
	return result, err
}

func (s *InstrumentedStorage) ListActiveSubscriptions(ctx context.Context, agentID string, event models.EventType) ([]*models.Subscription, error) {
	ctx, span := s.startSpan(ctx, "ListActiveSubscriptions",
		attribute.String("agent_id", agentID),
		attribute.String("event", string(event)),
	)
	start := time.Now()
	result, err := s.inner.ListActiveSubscriptions(ctx, agentID, event)
	s.record(ctx, span, "ListActiveSubscriptions", start, err)
	return result, err
}

func (s *InstrumentedStorage) UpdateSubscription(ctx context.Context, sub *models.Subscription) error {
	ctx, span := s.startSpan(ctx, "UpdateSubscription", attribute.String("subscription_id", sub.ID))
	start := time.Now()
	err := s.inner.UpdateSubscription(ctx, sub)
	s.record(ctx, span, "UpdateSubscription", start, ignoreNotFound(err))
	return err
}

func (s *InstrumentedStorage) DeleteSubscription(ctx context.Context, id string) error {
	ctx, span := s.startSpan(ctx, "DeleteSubscription", attribute.String("subscription_id", id))
	start := time.Now()
	err := s.inner.DeleteSubscription(ctx, id)
	s.record(ctx, span, "DeleteSubscription", start, ignoreNotFound(err))
	return err
}

func (s *InstrumentedStorage) RecordDelivery(ctx context.Context, id string, success bool, at time.Time) error {
	ctx, span := s.startSpan(ctx, "RecordDelivery",
		attribute.String("subscription_id", id),
		attribute.Bool("success", success),
	)
	start := time.Now()
	err := s.inner.RecordDelivery(ctx, id, success, at)
	s.record(ctx, span, "RecordDelivery", start, ignoreNotFound(err))
	return err
}

func (s *InstrumentedStorage) Ping(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Ping")
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.record(ctx, span, "Ping", start, err)
	return err
}

func (s *InstrumentedStorage) Close() error {
	return s.inner.Close()
}

// ignoreNotFound keeps lookups of missing subscriptions out of the error
// counter; they are an expected answer, not a storage failure.
func ignoreNotFound(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}
