package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultRedisKeyPrefix      = "agentgate:rl:"
	DefaultRedisOpTimeout      = 250 * time.Millisecond
	DefaultHealthCheckInterval = 5 * time.Second
)

// RedisStore keeps one sorted set of timestamps per (key, window) in Redis.
// Scores are unix milliseconds. The hash tag around the key keeps every window
// of a key in the same cluster slot so a MULTI/EXEC can span them.
type RedisStore struct {
	client         redis.UniversalClient
	prefix         string
	timeout        time.Duration
	healthInterval time.Duration
	logger         *slog.Logger

	healthy   atomic.Bool
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type RedisOption func(*RedisStore)

func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// WithOpTimeout bounds every store call so a slow Redis cannot stall admission.
func WithOpTimeout(d time.Duration) RedisOption {
	return func(s *RedisStore) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithHealthCheckInterval(d time.Duration) RedisOption {
	return func(s *RedisStore) {
		if d > 0 {
			s.healthInterval = d
		}
	}
}

func WithLogger(logger *slog.Logger) RedisOption {
	return func(s *RedisStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewRedisStore wraps client and starts the background health loop. The
// initial liveness flag comes from one synchronous ping; a failed ping does not
// fail construction, the store simply starts out unhealthy.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:         client,
		prefix:         DefaultRedisKeyPrefix,
		timeout:        DefaultRedisOpTimeout,
		healthInterval: DefaultHealthCheckInterval,
		logger:         slog.Default(),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.healthy.Store(s.ping() == nil)
	if !s.healthy.Load() {
		s.logger.Warn("Redis rate limit store unreachable at startup", "prefix", s.prefix)
	}

	s.wg.Add(1)
	go s.healthLoop()
	return s
}

// CountOnly prunes and counts one window in a single transaction.
func (s *RedisStore) CountOnly(ctx context.Context, key string, window time.Duration, now time.Time) (WindowCount, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	k := s.windowKey(key, window)
	var card *redis.IntCmd
	var oldest *redis.ZSliceCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, k, "-inf", pruneBound(now, window))
		card = pipe.ZCard(ctx, k)
		oldest = pipe.ZRangeWithScores(ctx, k, 0, 0)
		return nil
	})
	if err != nil {
		return WindowCount{}, s.unavailable("count", err)
	}
	return windowCountOf(card.Val(), oldest.Val()), nil
}

// IncrementAndCount records now into every window of key in one MULTI/EXEC.
func (s *RedisStore) IncrementAndCount(ctx context.Context, key string, now time.Time, windows ...time.Duration) ([]WindowCount, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + uuid.NewString()
	score := float64(now.UnixMilli())

	cards := make([]*redis.IntCmd, len(windows))
	oldest := make([]*redis.ZSliceCmd, len(windows))
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, window := range windows {
			k := s.windowKey(key, window)
			pipe.ZRemRangeByScore(ctx, k, "-inf", pruneBound(now, window))
			pipe.ZAdd(ctx, k, redis.Z{Score: score, Member: member})
			pipe.PExpire(ctx, k, window)
			cards[i] = pipe.ZCard(ctx, k)
			oldest[i] = pipe.ZRangeWithScores(ctx, k, 0, 0)
		}
		return nil
	})
	if err != nil {
		return nil, s.unavailable("increment", err)
	}

	out := make([]WindowCount, len(windows))
	for i := range windows {
		out[i] = windowCountOf(cards[i].Val(), oldest[i].Val())
	}
	return out, nil
}

// Healthy reports the last observed liveness without touching the network.
func (s *RedisStore) Healthy() bool { return s.healthy.Load() }

// Name identifies the backend.
func (s *RedisStore) Name() string { return "redis" }

// Close stops the health loop and closes the client.
func (s *RedisStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		err = s.client.Close()
	})
	return err
}

func (s *RedisStore) windowKey(key string, window time.Duration) string {
	return fmt.Sprintf("%s{%s}:%d", s.prefix, key, window.Milliseconds())
}

func (s *RedisStore) healthLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			err := s.ping()
			was := s.healthy.Swap(err == nil)
			switch {
			case was && err != nil:
				s.logger.Warn("Redis rate limit store became unreachable", "error", err)
			case !was && err == nil:
				s.logger.Info("Redis rate limit store reachable again")
			}
		}
	}
}

func (s *RedisStore) ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

// unavailable marks the store unhealthy until the next successful ping.
func (s *RedisStore) unavailable(op string, err error) error {
	s.healthy.Store(false)
	return fmt.Errorf("%w: redis %s: %v", ErrStoreUnavailable, op, err)
}

// pruneBound is the exclusive upper score for entries older than the window.
func pruneBound(now time.Time, window time.Duration) string {
	return "(" + strconv.FormatInt(now.Add(-window).UnixMilli(), 10)
}

func windowCountOf(card int64, oldest []redis.Z) WindowCount {
	wc := WindowCount{Count: int(card)}
	if len(oldest) > 0 {
		wc.Oldest = time.UnixMilli(int64(oldest[0].Score))
	}
	return wc
}
