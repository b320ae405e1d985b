package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/axilum2025/sturdy-pancake-sub003/internal/models"
	"github.com/axilum2025/sturdy-pancake-sub003/internal/storage"
)

const (
	DefaultDeliveryTimeout = models.MaxWebhookTimeout
	DefaultUserAgent       = "agentgate-webhooks"

	// Response bodies are drained up to this size so connections can be reused.
	maxDrainBytes = 64 << 10
)

// Outcome classifies a delivery attempt.
type Outcome string

const (
	OutcomeSuccess      Outcome = "success"
	OutcomeHTTPError    Outcome = "http-error"
	OutcomeNetworkError Outcome = "network-error"
	OutcomeTimeout      Outcome = "timeout"
)

// DeliveryAttempt describes one POST to one subscriber. It is not persisted.
type DeliveryAttempt struct {
	SubscriptionID string
	DeliveryID     string
	Event          models.EventType
	Body           []byte
	Signature      string
	StatusCode     int
	Outcome        Outcome
	Err            error
	Duration       time.Duration
}

// Dispatcher fans agent events out to matching subscriptions. Each delivery
// runs in its own goroutine, detached from the request that fired the event.
// Failed deliveries are not retried; they only increment the subscription's
// failure count.
type Dispatcher struct {
	store     storage.Storage
	client    *http.Client
	timeout   time.Duration
	userAgent string
	logger    *slog.Logger
	now       func() time.Time

	deliveries metric.Int64Counter
	duration   metric.Float64Histogram

	// mu orders Fire's wg.Add against Shutdown's wg.Wait.
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

type DispatcherOption func(*Dispatcher)

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(client *http.Client) DispatcherOption {
	return func(d *Dispatcher) {
		if client != nil {
			d.client = client
		}
	}
}

// WithDeliveryTimeout sets the per-call timeout. Values above
// DefaultDeliveryTimeout are clamped to it.
func WithDeliveryTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = min(timeout, DefaultDeliveryTimeout)
		}
	}
}

func WithUserAgent(userAgent string) DispatcherOption {
	return func(d *Dispatcher) {
		if userAgent != "" {
			d.userAgent = userAgent
		}
	}
}

func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher creates a dispatcher reading subscriptions from store.
func NewDispatcher(store storage.Storage, opts ...DispatcherOption) (*Dispatcher, error) {
	meter := otel.Meter("agentgate/webhook")

	deliveries, err := meter.Int64Counter(
		"webhook.deliveries",
		metric.WithDescription("Number of webhook delivery attempts by outcome"),
		metric.WithUnit("{delivery}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"webhook.delivery.duration",
		metric.WithDescription("Duration of webhook deliveries in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	d := &Dispatcher{
		store: store,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		timeout:    DefaultDeliveryTimeout,
		userAgent:  DefaultUserAgent,
		logger:     slog.Default(),
		now:        func() time.Time { return time.Now().UTC() },
		deliveries: deliveries,
		duration:   duration,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Fire schedules delivery of an event to every active subscription of the
// agent that includes eventType, and returns immediately. The payload is
// serialised before Fire returns.
func (d *Dispatcher) Fire(agentID string, eventType models.EventType, payload any) {
	event, err := models.NewEvent(eventType, agentID, payload)
	if err != nil {
		d.logger.Error("Failed to build webhook event",
			"agent_id", agentID,
			"event", eventType,
			"error", err,
		)
		return
	}

	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		d.logger.Warn("Dispatcher is shut down, dropping event",
			"agent_id", agentID,
			"event", eventType,
		)
		return
	}
	d.wg.Add(1)
	d.mu.RUnlock()

	go func() {
		defer d.wg.Done()
		d.fanOut(event)
	}()
}

// fanOut looks up matching subscriptions and starts one delivery per match.
func (d *Dispatcher) fanOut(event *models.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	subs, err := d.store.ListActiveSubscriptions(ctx, event.AgentID, event.Type)
	cancel()
	if err != nil {
		d.logger.Error("Failed to look up webhook subscriptions",
			"agent_id", event.AgentID,
			"event", event.Type,
			"error", err,
		)
		return
	}

	for _, sub := range subs {
		d.wg.Add(1)
		go func(sub *models.Subscription) {
			defer d.wg.Done()
			d.Deliver(context.Background(), sub, event)
		}(sub)
	}
}

// Deliver performs one signed POST and records the outcome on the
// subscription. It blocks for at most the delivery timeout plus the time to
// record the result.
func (d *Dispatcher) Deliver(ctx context.Context, sub *models.Subscription, event *models.Event) DeliveryAttempt {
	attempt := DeliveryAttempt{
		SubscriptionID: sub.ID,
		DeliveryID:     uuid.NewString(),
		Event:          event.Type,
	}

	body, err := event.Body()
	if err != nil {
		attempt.Outcome = OutcomeNetworkError
		attempt.Err = err
		d.finish(ctx, sub, &attempt)
		return attempt
	}
	attempt.Body = body
	attempt.Signature = Sign(sub.Secret, body)

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	attempt.StatusCode, attempt.Err = d.post(ctx, sub.URL, &attempt)
	attempt.Duration = time.Since(start)
	attempt.Outcome = classify(attempt.StatusCode, attempt.Err)

	d.finish(context.WithoutCancel(ctx), sub, &attempt)
	return attempt
}

// Shutdown stops accepting events and waits for in-flight deliveries.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for webhook deliveries: %w", ctx.Err())
	}
}

func (d *Dispatcher) post(ctx context.Context, url string, attempt *DeliveryAttempt) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(attempt.Body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set(HeaderSignature, attempt.Signature)
	req.Header.Set(HeaderEvent, string(attempt.Event))
	req.Header.Set(HeaderDelivery, attempt.DeliveryID)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("subscriber responded with status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// finish records delivery health, metrics and a log line.
func (d *Dispatcher) finish(ctx context.Context, sub *models.Subscription, attempt *DeliveryAttempt) {
	success := attempt.Outcome == OutcomeSuccess

	recordCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.store.RecordDelivery(recordCtx, sub.ID, success, d.now()); err != nil {
		d.logger.Error("Failed to record webhook delivery",
			"subscription_id", sub.ID,
			"error", err,
		)
	}

	attrs := metric.WithAttributes(
		attribute.String("event", string(attempt.Event)),
		attribute.String("outcome", string(attempt.Outcome)),
	)
	d.deliveries.Add(ctx, 1, attrs)
	d.duration.Record(ctx, attempt.Duration.Seconds(), attrs)

	if success {
		d.logger.Debug("Webhook delivered",
			"subscription_id", sub.ID,
			"delivery_id", attempt.DeliveryID,
			"event", attempt.Event,
			"status", attempt.StatusCode,
			"duration", attempt.Duration,
		)
		return
	}
	d.logger.Warn("Webhook delivery failed",
		"subscription_id", sub.ID,
		"delivery_id", attempt.DeliveryID,
		"event", attempt.Event,
		"outcome", attempt.Outcome,
		"status", attempt.StatusCode,
		"duration", attempt.Duration,
		"error", attempt.Err,
	)
}

func classify(status int, err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	if status != 0 {
		return OutcomeHTTPError
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return OutcomeTimeout
	}
	return OutcomeNetworkError
}
