package observability

import (
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// Histogram boundaries in seconds. The SDK defaults are sized for
// milliseconds and would put every observation in the first bucket.
var (
	// LimiterDecisionBuckets covers in-process counting through a Redis round trip.
	LimiterDecisionBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25}

	// DeliveryBuckets spans a fast subscriber up to the webhook timeout cap.
	DeliveryBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

	// StorageBuckets covers subscription queries against SQLite or PostgreSQL.
	StorageBuckets = []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}
)

// histogramViews maps each duration instrument to its bucket layout.
func histogramViews() []sdkmetric.View {
	return []sdkmetric.View{
		bucketView("ratelimit.decision.duration", LimiterDecisionBuckets),
		bucketView("webhook.delivery.duration", DeliveryBuckets),
		bucketView("storage.operation.duration", StorageBuckets),
	}
}

func bucketView(name string, bounds []float64) sdkmetric.View {
	return sdkmetric.NewView(
		sdkmetric.Instrument{Name: name, Kind: sdkmetric.InstrumentKindHistogram},
		sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{Boundaries: bounds}},
	)
}

// NewMeterProvider builds a meter provider that exports through reader with
// agentgate's histogram views applied. res may be nil.
func NewMeterProvider(res *resource.Resource, reader sdkmetric.Reader) *sdkmetric.MeterProvider {
	opts := []sdkmetric.Option{sdkmetric.WithReader(reader)}
	if res != nil {
		opts = append(opts, sdkmetric.WithResource(res))
	}
	for _, v := range histogramViews() {
		opts = append(opts, sdkmetric.WithView(v))
	}
	return sdkmetric.NewMeterProvider(opts...)
}
