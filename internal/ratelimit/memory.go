package ratelimit

import (
	"context"
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	memoryShardCount = 64

	// DefaultSweepInterval is how often empty keys are evicted.
	DefaultSweepInterval = 5 * time.Minute
)

// memoryShard guards a slice of the key space. All windows of one key hash to
// the same shard, so a multi-window increment happens under a single lock.
type memoryShard struct {
	mu      sync.Mutex
	entries map[string][]time.Time
}

// MemoryStore is the in-process CounterStore used when Redis is unavailable.
// A background goroutine periodically prunes every sequence against the
// longest window and evicts keys left empty.
type MemoryStore struct {
	shards        [memoryShardCount]*memoryShard
	maxWindow     time.Duration
	sweepInterval time.Duration

	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryStore creates a store and starts its sweep goroutine.
func NewMemoryStore(sweepInterval time.Duration) *MemoryStore {
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	m := &MemoryStore{
		maxWindow:     LongWindow,
		sweepInterval: sweepInterval,
		done:          make(chan struct{}),
	}
	for i := range m.shards {
		m.shards[i] = &memoryShard{entries: make(map[string][]time.Time)}
	}
	go m.sweepLoop()
	return m
}

// CountOnly prunes and counts the window.
func (m *MemoryStore) CountOnly(_ context.Context, key string, window time.Duration, now time.Time) (WindowCount, error) {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	ek := entryKey(key, window)
	seq := s.prune(ek, now.Add(-window))
	return countOf(seq), nil
}

// IncrementAndCount records now into every window of key under one lock.
func (m *MemoryStore) IncrementAndCount(_ context.Context, key string, now time.Time, windows ...time.Duration) ([]WindowCount, error) {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]WindowCount, len(windows))
	for i, window := range windows {
		ek := entryKey(key, window)
		seq := s.prune(ek, now.Add(-window))

		// Concurrent callers may read the clock before taking the lock, so
		// insert in order rather than append.
		pos := sort.Search(len(seq), func(j int) bool { return seq[j].After(now) })
		seq = slices.Insert(seq, pos, now)
		s.entries[ek] = seq
		out[i] = countOf(seq)
	}
	return out, nil
}

// Healthy always reports true; the local store cannot be unreachable.
func (m *MemoryStore) Healthy() bool { return true }

// Name identifies the backend.
func (m *MemoryStore) Name() string { return "memory" }

// Close stops the sweep goroutine. It is safe to call more than once.
func (m *MemoryStore) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return nil
}

func (m *MemoryStore) shard(key string) *memoryShard {
	return m.shards[xxhash.Sum64String(key)%memoryShardCount]
}

func (m *MemoryStore) sweepLoop() {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.sweep(time.Now())
		}
	}
}

// sweep evicts keys whose sequence is empty after pruning against the
// longest supported window.
func (m *MemoryStore) sweep(now time.Time) {
	cutoff := now.Add(-m.maxWindow)
	for _, s := range m.shards {
		s.mu.Lock()
		for ek := range s.entries {
			s.prune(ek, cutoff)
		}
		s.mu.Unlock()
	}
}

// size returns the number of tracked (key, window) sequences.
func (m *MemoryStore) size() int {
	n := 0
	for _, s := range m.shards {
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

// prune drops timestamps before cutoff and deletes the entry when nothing is
// left. Callers must hold s.mu.
func (s *memoryShard) prune(ek string, cutoff time.Time) []time.Time {
	seq, ok := s.entries[ek]
	if !ok {
		return nil
	}
	i := sort.Search(len(seq), func(j int) bool { return !seq[j].Before(cutoff) })
	if i > 0 {
		seq = slices.Delete(seq, 0, i)
	}
	if len(seq) == 0 {
		delete(s.entries, ek)
		return nil
	}
	s.entries[ek] = seq
	return seq
}

func entryKey(key string, window time.Duration) string {
	return key + "|" + strconv.FormatInt(window.Milliseconds(), 10)
}

func countOf(seq []time.Time) WindowCount {
	if len(seq) == 0 {
		return WindowCount{}
	}
	return WindowCount{Count: len(seq), Oldest: seq[0]}
}
