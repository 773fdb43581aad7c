package optimizer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/GoLogware/loggate/internal/model"
	"github.com/GoLogware/loggate/internal/pkg/apperrors"
)

type recordingSink struct {
	mu        sync.Mutex
	delivered [][]*model.LogRecord
	delay     time.Duration
	err       error
}

func (s *recordingSink) Deliver(ctx context.Context, records []*model.LogRecord) error {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered = append(s.delivered, records)
	return nil
}

func (s *recordingSink) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, batch := range s.delivered {
		n += len(batch)
	}
	return n
}

func rec(level model.Level, msg, service string) *model.LogRecord {
	return &model.LogRecord{
		Timestamp: time.Now(),
		Level:     level,
		Message:   msg,
		Service:   service,
	}
}

func newTestOptimizer(sink Sink, cfg Config) *Optimizer {
	if cfg.MaxBatchSize == 0 {
		cfg.MaxBatchSize = 100
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Minute
	}
	return New(cfg, sink)
}

func TestBatchSizeLimitFailsFast(t *testing.T) {
	sink := &recordingSink{}
	o := newTestOptimizer(sink, Config{MaxBatchSize: 10})

	records := make([]*model.LogRecord, 11)
	for i := range records {
		records[i] = rec(model.LevelInfo, fmt.Sprintf("msg %d", i), "api")
	}

	results, err := o.ProcessBatch(context.Background(), records, BatchOptions{})
	if err == nil {
		t.Fatal("expected size limit error")
	}
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %T", err)
	}
	assert.Equal(t, apperrors.ErrBatchLimit, appErr.Type)
	assert.Nil(t, results)
	assert.Equal(t, 0, sink.total(), "nothing should reach the sink")

	snap := o.GetMetrics()
	assert.Zero(t, snap.TotalRecords)
	assert.Zero(t, snap.TotalBatches)
}

func TestCacheHitShortCircuitsDelivery(t *testing.T) {
	sink := &recordingSink{}
	o := newTestOptimizer(sink, Config{})

	first := []*model.LogRecord{rec(model.LevelError, "connection refused", "db")}
	results, err := o.ProcessBatch(context.Background(), first, BatchOptions{})
	if err != nil {
		t.Fatalf("first batch: %v", err)
	}
	assert.False(t, results[0].Cached)
	assert.Equal(t, 1, sink.total())

	second := []*model.LogRecord{rec(model.LevelError, "connection refused", "db")}
	results, err = o.ProcessBatch(context.Background(), second, BatchOptions{})
	if err != nil {
		t.Fatalf("second batch: %v", err)
	}
	assert.True(t, results[0].Cached)
	assert.Equal(t, 1, sink.total(), "cached record must not be re-delivered")

	snap := o.GetMetrics()
	assert.Equal(t, 0.5, snap.CacheHitRate)
}

func TestCacheKeyUsesMessagePrefix(t *testing.T) {
	long := make([]byte, messagePrefixLen)
	for i := range long {
		long[i] = 'a'
	}
	a := rec(model.LevelWarn, string(long)+" tail one", "api")
	b := rec(model.LevelWarn, string(long)+" tail two", "api")
	assert.Equal(t, cacheKey(a), cacheKey(b))

	c := rec(model.LevelError, string(long)+" tail one", "api")
	assert.NotEqual(t, cacheKey(a), cacheKey(c))
}

func TestCacheEntriesExpireAfterTTL(t *testing.T) {
	cache := newTTLCache(100*time.Millisecond, 10)
	start := time.Now()

	cache.put("k", start)
	if !cache.hit("k", start.Add(50*time.Millisecond)) {
		t.Fatal("entry should be fresh within the TTL")
	}
	if cache.hit("k", start.Add(150*time.Millisecond)) {
		t.Fatal("entry should expire after the TTL without explicit eviction")
	}
	assert.Equal(t, 0, cache.len(), "lazy expiry removes the entry")
}

func TestCacheEvictsOldestAtCapacity(t *testing.T) {
	cache := newTTLCache(time.Minute, 3)
	now := time.Now()

	cache.put("a", now)
	cache.put("b", now.Add(time.Millisecond))
	cache.put("c", now.Add(2*time.Millisecond))
	cache.put("d", now.Add(3*time.Millisecond))

	assert.Equal(t, 3, cache.len())
	assert.False(t, cache.hit("a", now.Add(4*time.Millisecond)), "oldest entry evicted")
	assert.True(t, cache.hit("d", now.Add(4*time.Millisecond)))
}

func TestCacheCleanupCompactsOrderQueue(t *testing.T) {
	cache := newTTLCache(time.Millisecond, 1000)
	now := time.Now()

	// Each key expires before the next arrives, so the janitor is the
	// only thing that ever removes it. The order queue must shrink with
	// the map instead of accumulating one stale key per put.
	for i := 0; i < 5000; i++ {
		cache.put(fmt.Sprintf("key-%d", i), now)
		now = now.Add(2 * time.Millisecond)
		cache.cleanup(now)
	}

	assert.Equal(t, 0, cache.len())
	cache.mu.Lock()
	orderLen := len(cache.order)
	cache.mu.Unlock()
	assert.Equal(t, 0, orderLen, "cleanup must drop expired keys from the order queue")
}

func TestBatchTimeoutReturnsNoPartialResults(t *testing.T) {
	sink := &recordingSink{delay: 200 * time.Millisecond}
	o := newTestOptimizer(sink, Config{})

	records := []*model.LogRecord{rec(model.LevelInfo, "slow path", "api")}
	results, err := o.ProcessBatch(context.Background(), records, BatchOptions{
		Timeout: 20 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %T", err)
	}
	assert.Equal(t, apperrors.ErrBatchTimeout, appErr.Type)
	assert.Nil(t, results)

	snap := o.GetMetrics()
	assert.Equal(t, int64(1), snap.Timeouts)
	assert.Zero(t, snap.TotalRecords, "timed-out batch contributes no records")
}

func TestSinkErrorCountsAsBatchError(t *testing.T) {
	sink := &recordingSink{err: errors.New("downstream unavailable")}
	o := newTestOptimizer(sink, Config{})

	_, err := o.ProcessBatch(context.Background(),
		[]*model.LogRecord{rec(model.LevelInfo, "x", "api")}, BatchOptions{})
	if err == nil {
		t.Fatal("expected sink error")
	}

	snap := o.GetMetrics()
	assert.Equal(t, int64(1), snap.Errors)
	assert.Positive(t, snap.ErrorRate)
}

func TestHighPriorityFanOut(t *testing.T) {
	sink := &recordingSink{}
	o := newTestOptimizer(sink, Config{
		MaxBatchSize:          500,
		ParallelChunks:        4,
		HighPriorityThreshold: 10,
	})

	records := make([]*model.LogRecord, 80)
	for i := range records {
		records[i] = rec(model.LevelError, fmt.Sprintf("unique error %d", i), "api")
	}

	results, err := o.ProcessBatch(context.Background(), records, BatchOptions{Priority: PriorityHigh})
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	assert.Len(t, results, 80)
	assert.Equal(t, 80, sink.total())
	sink.mu.Lock()
	chunkCount := len(sink.delivered)
	sink.mu.Unlock()
	assert.Greater(t, chunkCount, 1, "large high-priority group should split into chunks")
}

func TestGroupingKeepsLevelServiceLocality(t *testing.T) {
	records := []*model.LogRecord{
		rec(model.LevelInfo, "a", "api"),
		rec(model.LevelError, "b", "api"),
		rec(model.LevelInfo, "c", "api"),
		rec(model.LevelInfo, "d", "worker"),
	}
	groups := groupRecords(records)
	assert.Len(t, groups, 3)
	assert.Len(t, groups[0], 2, "same (level, service) records grouped together")
}

func TestMetricsSnapshotAverages(t *testing.T) {
	sink := &recordingSink{}
	o := newTestOptimizer(sink, Config{})

	for i := 0; i < 3; i++ {
		batch := []*model.LogRecord{
			rec(model.LevelInfo, fmt.Sprintf("batch %d rec 0", i), "api"),
			rec(model.LevelInfo, fmt.Sprintf("batch %d rec 1", i), "api"),
		}
		if _, err := o.ProcessBatch(context.Background(), batch, BatchOptions{}); err != nil {
			t.Fatalf("batch %d: %v", i, err)
		}
	}

	snap := o.GetMetrics()
	assert.Equal(t, int64(6), snap.TotalRecords)
	assert.Equal(t, int64(3), snap.TotalBatches)
	assert.Equal(t, 2.0, snap.AvgBatchSize)
	assert.Zero(t, snap.ErrorRate)
}
