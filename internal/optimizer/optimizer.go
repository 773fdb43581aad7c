// Package optimizer groups inbound records into bounded batches for
// downstream delivery, dedupes identical records through a TTL cache,
// and watches process memory pressure.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GoLogware/loggate/internal/model"
	"github.com/GoLogware/loggate/internal/pkg/apperrors"
	"github.com/GoLogware/loggate/internal/pkg/logger"
	"github.com/GoLogware/loggate/internal/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// Priority selects the batch scheduling mode.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Sink is the external delivery layer. The optimizer never implements
// transport itself, only the hand-off.
type Sink interface {
	Deliver(ctx context.Context, records []*model.LogRecord) error
}

// PoolReporter is optionally implemented by sinks that expose their
// connection-pool utilization for the metrics snapshot.
type PoolReporter interface {
	Utilization() float64
}

// Config bounds one Optimizer instance.
type Config struct {
	MaxBatchSize          int
	BatchTimeout          time.Duration
	CacheTTL              time.Duration
	CacheMaxEntries       int
	ParallelChunks        int
	HighPriorityThreshold int
	MemoryCheckInterval   time.Duration
	MemoryLimitBytes      uint64
	MemoryPressureRatio   float64
	MetricsInterval       time.Duration
}

// BatchOptions tune one ProcessBatch call.
type BatchOptions struct {
	Priority Priority
	Timeout  time.Duration
}

// Result reports the outcome for one record of a batch.
type Result struct {
	Key    string `json:"key"`
	Cached bool   `json:"cached"`
}

// Snapshot is the pull-based metrics surface, derived from running
// counters only.
type Snapshot struct {
	TotalRecords     int64   `json:"total_records"`
	TotalBatches     int64   `json:"total_batches"`
	Timeouts         int64   `json:"timeouts"`
	Errors           int64   `json:"errors"`
	ThroughputPerSec float64 `json:"throughput_per_sec"`
	AvgBatchSize     float64 `json:"avg_batch_size"`
	AvgLatencyMs     float64 `json:"avg_latency_ms"`
	CacheHitRate     float64 `json:"cache_hit_rate"`
	CacheEntries     int     `json:"cache_entries"`
	ErrorRate        float64 `json:"error_rate"`
	PoolUtilization  float64 `json:"pool_utilization"`
	MemoryPressure   bool    `json:"memory_pressure"`
}

// Optimizer owns the cache, the counters and the background timers.
// Batches may run concurrently; shared state is either atomic or behind
// the cache's own lock.
type Optimizer struct {
	cfg   Config
	sink  Sink
	cache *ttlCache
	now   func() time.Time
	log   *slog.Logger

	totalRecords   atomic.Int64
	totalBatches   atomic.Int64
	totalLatencyMs atomic.Int64
	cacheHits      atomic.Int64
	cacheMisses    atomic.Int64
	errorCount     atomic.Int64
	timeoutCount   atomic.Int64
	memoryPressure atomic.Bool

	startTime time.Time
	stopOnce  sync.Once
	stop      chan struct{}
	wg        sync.WaitGroup
}

func New(cfg Config, sink Sink) *Optimizer {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 500
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 30 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Minute
	}
	if cfg.ParallelChunks <= 0 {
		cfg.ParallelChunks = 4
	}
	if cfg.HighPriorityThreshold <= 0 {
		cfg.HighPriorityThreshold = 50
	}
	if cfg.MemoryPressureRatio <= 0 || cfg.MemoryPressureRatio > 1 {
		cfg.MemoryPressureRatio = 0.8
	}
	return &Optimizer{
		cfg:       cfg,
		sink:      sink,
		cache:     newTTLCache(cfg.CacheTTL, cfg.CacheMaxEntries),
		now:       time.Now,
		log:       logger.Named("optimizer"),
		startTime: time.Now(),
		stop:      make(chan struct{}),
	}
}

// Start launches the independent timers: cache janitor, memory checks
// and periodic metrics reporting. They run concurrently with batch
// processing and are stopped by Stop.
func (o *Optimizer) Start() {
	o.spawnTicker(o.cfg.CacheTTL, func(now time.Time) {
		if removed := o.cache.cleanup(now); removed > 0 {
			o.log.Debug("cache janitor", "removed", removed)
		}
	})
	if o.cfg.MemoryCheckInterval > 0 {
		o.spawnTicker(o.cfg.MemoryCheckInterval, o.checkMemory)
	}
	if o.cfg.MetricsInterval > 0 {
		o.spawnTicker(o.cfg.MetricsInterval, func(time.Time) {
			snap := o.GetMetrics()
			o.log.Info("optimizer metrics",
				"throughput", snap.ThroughputPerSec,
				"avg_batch_size", snap.AvgBatchSize,
				"cache_hit_rate", snap.CacheHitRate,
				"error_rate", snap.ErrorRate)
		})
	}
}

func (o *Optimizer) spawnTicker(interval time.Duration, fn func(now time.Time)) {
	if interval <= 0 {
		return
	}
	o.wg.Add(1)
	ticker := time.NewTicker(interval)
	go func() {
		defer o.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fn(o.now())
			case <-o.stop:
				return
			}
		}
	}()
}

// Stop halts the background timers. In-flight batches finish on their
// own deadlines.
func (o *Optimizer) Stop() {
	o.stopOnce.Do(func() { close(o.stop) })
	o.wg.Wait()
}

// ProcessBatch validates, groups and delivers one batch. A batch that
// misses its deadline is abandoned: the timeout counter increments and
// no partial results are returned.
func (o *Optimizer) ProcessBatch(ctx context.Context, records []*model.LogRecord, opts BatchOptions) ([]Result, error) {
	if len(records) > o.cfg.MaxBatchSize {
		return nil, apperrors.NewBatchLimit(
			fmt.Sprintf("batch size %d exceeds limit %d", len(records), o.cfg.MaxBatchSize))
	}
	if len(records) == 0 {
		return nil, nil
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = o.cfg.BatchTimeout
	}
	priority := opts.Priority
	if priority == "" {
		priority = PriorityNormal
	}

	start := o.now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		results []Result
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		results, err := o.run(ctx, records, priority)
		done <- outcome{results, err}
	}()

	select {
	case out := <-done:
		if errors.Is(out.err, context.DeadlineExceeded) {
			return nil, o.timedOut(len(records), timeout, out.err)
		}
		latency := o.now().Sub(start)
		o.totalBatches.Add(1)
		o.totalLatencyMs.Add(latency.Milliseconds())
		metrics.BatchLatency.WithLabelValues(string(priority)).Observe(latency.Seconds())
		if out.err != nil {
			o.errorCount.Add(1)
			return nil, out.err
		}
		o.totalRecords.Add(int64(len(records)))
		return out.results, nil
	case <-ctx.Done():
		return nil, o.timedOut(len(records), timeout, ctx.Err())
	}
}

func (o *Optimizer) timedOut(size int, timeout time.Duration, cause error) error {
	o.timeoutCount.Add(1)
	metrics.BatchTimeouts.Inc()
	return apperrors.New(apperrors.ErrBatchTimeout,
		fmt.Sprintf("batch of %d records timed out after %s", size, timeout), cause)
}

// run groups records by (level, service) for downstream locality, then
// processes each group either sequentially or, for large high-priority
// groups, fanned out across a fixed number of parallel chunks.
func (o *Optimizer) run(ctx context.Context, records []*model.LogRecord, priority Priority) ([]Result, error) {
	groups := groupRecords(records)

	var mu sync.Mutex
	results := make([]Result, 0, len(records))

	for _, group := range groups {
		if priority == PriorityHigh && len(group) > o.cfg.HighPriorityThreshold {
			chunks := splitChunks(group, o.cfg.ParallelChunks)
			g, gctx := errgroup.WithContext(ctx)
			for _, chunk := range chunks {
				chunk := chunk
				g.Go(func() error {
					res, err := o.processChunk(gctx, chunk)
					if err != nil {
						return err
					}
					mu.Lock()
					results = append(results, res...)
					mu.Unlock()
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return nil, err
			}
			continue
		}
		res, err := o.processChunk(ctx, group)
		if err != nil {
			return nil, err
		}
		mu.Lock()
		results = append(results, res...)
		mu.Unlock()
	}
	return results, nil
}

// processChunk resolves each record against the cache and delivers the
// misses to the sink in one call.
func (o *Optimizer) processChunk(ctx context.Context, records []*model.LogRecord) ([]Result, error) {
	now := o.now()
	results := make([]Result, 0, len(records))
	var misses []*model.LogRecord

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := cacheKey(rec)
		if o.cache.hit(key, now) {
			o.cacheHits.Add(1)
			metrics.CacheHits.Inc()
			results = append(results, Result{Key: key, Cached: true})
			continue
		}
		o.cacheMisses.Add(1)
		metrics.CacheMisses.Inc()
		misses = append(misses, rec)
		results = append(results, Result{Key: key, Cached: false})
	}

	if len(misses) > 0 && o.sink != nil {
		if err := o.sink.Deliver(ctx, misses); err != nil {
			return nil, err
		}
	}
	for _, rec := range misses {
		o.cache.put(cacheKey(rec), now)
	}
	return results, nil
}

// GetMetrics derives the snapshot from running counters, never by
// replaying stored records.
func (o *Optimizer) GetMetrics() Snapshot {
	total := o.totalRecords.Load()
	batches := o.totalBatches.Load()
	hits := o.cacheHits.Load()
	misses := o.cacheMisses.Load()
	errs := o.errorCount.Load()
	timeouts := o.timeoutCount.Load()

	snap := Snapshot{
		TotalRecords:   total,
		TotalBatches:   batches,
		Timeouts:       timeouts,
		Errors:         errs,
		CacheEntries:   o.cache.len(),
		MemoryPressure: o.memoryPressure.Load(),
	}
	elapsed := o.now().Sub(o.startTime).Seconds()
	if elapsed > 0 {
		snap.ThroughputPerSec = float64(total) / elapsed
	}
	if batches > 0 {
		snap.AvgBatchSize = float64(total) / float64(batches)
		snap.AvgLatencyMs = float64(o.totalLatencyMs.Load()) / float64(batches)
	}
	if hits+misses > 0 {
		snap.CacheHitRate = float64(hits) / float64(hits+misses)
	}
	attempts := batches + errs + timeouts
	if attempts > 0 {
		snap.ErrorRate = float64(errs+timeouts) / float64(attempts)
	}
	if pr, ok := o.sink.(PoolReporter); ok {
		snap.PoolUtilization = pr.Utilization()
	}
	return snap
}

func groupRecords(records []*model.LogRecord) [][]*model.LogRecord {
	index := make(map[string]int)
	var groups [][]*model.LogRecord
	for _, rec := range records {
		key := string(rec.Level) + "|" + rec.Service
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], rec)
	}
	return groups
}

func splitChunks(records []*model.LogRecord, n int) [][]*model.LogRecord {
	if n <= 1 || len(records) <= 1 {
		return [][]*model.LogRecord{records}
	}
	if n > len(records) {
		n = len(records)
	}
	size := (len(records) + n - 1) / n
	var chunks [][]*model.LogRecord
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		chunks = append(chunks, records[start:end])
	}
	return chunks
}
