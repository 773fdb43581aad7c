package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/GoLogware/loggate/internal/audit"
	"github.com/GoLogware/loggate/internal/correlation"
	"github.com/GoLogware/loggate/internal/model"
	"github.com/GoLogware/loggate/internal/optimizer"
	"github.com/GoLogware/loggate/internal/pkg/logger"
	"github.com/GoLogware/loggate/internal/pkg/metrics"
	"github.com/GoLogware/loggate/internal/rules"
)

const recordChanSize = 4096

// PipelineConfig bounds the batching side of the pipeline.
type PipelineConfig struct {
	FlushSize     int
	FlushInterval time.Duration
	AuditDomains  []string
}

// Pipeline is the ingest fan-out: each submitted record is stamped
// with its correlation id, evaluated by the rule engine, appended to
// the audit chain when it is audit-worthy, and queued for batched
// downstream delivery.
type Pipeline struct {
	engine    *rules.Engine
	chain     *audit.Chain
	optimizer *optimizer.Optimizer

	recordChan   chan *model.LogRecord
	flushSize    int
	flushTicker  time.Duration
	auditDomains map[string]struct{}

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
	log      *slog.Logger
}

func NewPipeline(engine *rules.Engine, chain *audit.Chain, opt *optimizer.Optimizer, cfg PipelineConfig) *Pipeline {
	if cfg.FlushSize <= 0 {
		cfg.FlushSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	domains := make(map[string]struct{}, len(cfg.AuditDomains))
	for _, d := range cfg.AuditDomains {
		domains[d] = struct{}{}
	}
	p := &Pipeline{
		engine:       engine,
		chain:        chain,
		optimizer:    opt,
		recordChan:   make(chan *model.LogRecord, recordChanSize),
		flushSize:    cfg.FlushSize,
		flushTicker:  cfg.FlushInterval,
		auditDomains: domains,
		done:         make(chan struct{}),
		log:          logger.Named("pipeline"),
	}
	p.wg.Add(1)
	go p.consumeBatches()
	return p
}

// Submit runs the synchronous stages (correlation stamping, rule
// evaluation, audit intake) and queues the record for batching. A full
// queue drops the record rather than stalling the caller.
func (p *Pipeline) Submit(ctx context.Context, rec *model.LogRecord) []*model.TriggeredAlert {
	if rec.CorrelationID == "" {
		if id := correlation.Current(ctx); id != "" {
			rec.CorrelationID = id
		}
	} else {
		ctx = correlation.With(ctx, rec.CorrelationID)
	}
	metrics.RecordsIngested.WithLabelValues(string(rec.Level), rec.Service).Inc()

	alerts := p.engine.Process(ctx, rec)
	p.auditIntake(ctx, rec, alerts)

	select {
	case p.recordChan <- rec:
	default:
		p.log.Warn("record queue full, dropping record",
			"service", rec.Service, "level", string(rec.Level))
	}
	return alerts
}

// auditIntake appends audit-worthy traffic to the chain: WARN and
// above, records carrying an error, records from configured sensitive
// domains, and one entry per triggered alert.
func (p *Pipeline) auditIntake(ctx context.Context, rec *model.LogRecord, alerts []*model.TriggeredAlert) {
	if p.chain == nil {
		return
	}
	if p.auditWorthy(rec) {
		opts := audit.EntryOptions{
			Severity:    auditSeverity(rec.Level),
			UserID:      rec.UserID,
			Resource:    rec.Domain,
			Result:      "observed",
			Description: rec.Message,
		}
		if rec.Error != nil {
			opts.Context = map[string]interface{}{
				"error_type":    rec.Error.Type,
				"error_message": rec.Error.Message,
			}
		}
		if _, err := p.chain.LogEvent(ctx, "log_record", "ingest", opts); err != nil {
			p.log.Error("audit intake failed", "error", err)
		}
	}
	for _, alert := range alerts {
		_, err := p.chain.LogEvent(ctx, "alert_triggered", "evaluate", audit.EntryOptions{
			Severity:    alert.Severity,
			Resource:    alert.RuleID,
			Result:      "triggered",
			Description: alert.RuleName,
			Context: map[string]interface{}{
				"conditions_met": alert.ConditionsMet,
				"alert_id":       alert.ID,
			},
		})
		if err != nil {
			p.log.Error("alert audit failed", "rule", alert.RuleID, "error", err)
		}
	}
}

func (p *Pipeline) auditWorthy(rec *model.LogRecord) bool {
	if rec.Level.Rank() >= model.LevelWarn.Rank() {
		return true
	}
	if rec.Error != nil {
		return true
	}
	_, ok := p.auditDomains[rec.Domain]
	return ok
}

func auditSeverity(level model.Level) model.Severity {
	switch level {
	case model.LevelFatal:
		return model.SeverityCritical
	case model.LevelError:
		return model.SeverityHigh
	case model.LevelWarn:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

// consumeBatches drains the record queue into batches, flushing on
// size or on the interval, whichever comes first.
func (p *Pipeline) consumeBatches() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.flushTicker)
	defer ticker.Stop()

	batch := make([]*model.LogRecord, 0, p.flushSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		p.flush(batch)
		batch = make([]*model.LogRecord, 0, p.flushSize)
	}

	for {
		select {
		case rec := <-p.recordChan:
			batch = append(batch, rec)
			if len(batch) >= p.flushSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-p.done:
			// Drain what is already queued before exiting.
			for {
				select {
				case rec := <-p.recordChan:
					batch = append(batch, rec)
					if len(batch) >= p.flushSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func (p *Pipeline) flush(batch []*model.LogRecord) {
	if p.optimizer == nil {
		return
	}
	opts := optimizer.BatchOptions{Priority: optimizer.PriorityNormal}
	for _, rec := range batch {
		if rec.Level.Rank() >= model.LevelError.Rank() {
			opts.Priority = optimizer.PriorityHigh
			break
		}
	}
	if _, err := p.optimizer.ProcessBatch(context.Background(), batch, opts); err != nil {
		p.log.Error("batch flush failed", "size", len(batch), "error", err)
	}
}

// Close flushes the remaining queue and stops the consumer.
func (p *Pipeline) Close() {
	p.stopOnce.Do(func() { close(p.done) })
	p.wg.Wait()
}
