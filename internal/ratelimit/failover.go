package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// FailoverLimiter routes each request to the primary limiter while its store
// reports healthy and to the local fallback otherwise. Counts are not copied
// between backends: a key first seen after a switch starts at zero.
type FailoverLimiter struct {
	primary  *SlidingWindowLimiter
	fallback *SlidingWindowLimiter
	logger   *slog.Logger

	degraded atomic.Bool
	errLog   *rate.Sometimes
}

func NewFailoverLimiter(primary, fallback *SlidingWindowLimiter, logger *slog.Logger) *FailoverLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailoverLimiter{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		errLog:   &rate.Sometimes{First: 1, Interval: 30 * time.Second},
	}
}

func (f *FailoverLimiter) Allow(ctx context.Context, key RateKey) (Decision, error) {
	if f.primary.Healthy() {
		d, err := f.primary.Allow(ctx, key)
		if err == nil {
			f.recovered()
			return d, nil
		}
		if !errors.Is(err, ErrStoreUnavailable) {
			return Decision{}, err
		}
		f.errLog.Do(func() {
			f.logger.Warn("Rate limit store call failed, evaluating on fallback",
				"primary", f.primary.Backend(),
				"error", err,
			)
		})
	}
	f.failedOver()
	return f.fallback.Allow(ctx, key)
}

func (f *FailoverLimiter) Policy() Policy { return f.primary.Policy() }

// Degraded reports whether requests are being served by the fallback: the
// primary store reports unhealthy, or the last request had to fail over.
func (f *FailoverLimiter) Degraded() bool {
	return !f.primary.Healthy() || f.degraded.Load()
}

// ActiveBackend names the store that answers the next request.
func (f *FailoverLimiter) ActiveBackend() string {
	if f.Degraded() {
		return f.fallback.Backend()
	}
	return f.primary.Backend()
}

func (f *FailoverLimiter) failedOver() {
	if f.degraded.CompareAndSwap(false, true) {
		f.logger.Warn("Rate limiting failed over to local store",
			"primary", f.primary.Backend(),
			"fallback", f.fallback.Backend(),
		)
	}
}

func (f *FailoverLimiter) recovered() {
	if f.degraded.CompareAndSwap(true, false) {
		f.logger.Info("Rate limiting recovered to primary store",
			"primary", f.primary.Backend(),
		)
	}
}
