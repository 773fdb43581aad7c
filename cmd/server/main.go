package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GoLogware/loggate/internal/audit"
	"github.com/GoLogware/loggate/internal/config"
	"github.com/GoLogware/loggate/internal/handler"
	"github.com/GoLogware/loggate/internal/middleware"
	"github.com/GoLogware/loggate/internal/model"
	"github.com/GoLogware/loggate/internal/optimizer"
	"github.com/GoLogware/loggate/internal/pkg/logger"
	"github.com/GoLogware/loggate/internal/repository"
	"github.com/GoLogware/loggate/internal/rules"
	"github.com/GoLogware/loggate/internal/service"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.Server.LogLevel)

	// 2. Initialize the audit chain and its cold store
	// (Postgres > Redis > in-memory only)
	chain := audit.NewChain(cfg.Audit.SecretKey, cfg.Audit.MaxMemoryEntries, cfg.Audit.Retention)

	var ruleStore handler.RuleStore
	archived := false
	if cfg.Database.DSN != "" {
		db, err := repository.NewDB(cfg)
		if err == nil {
			logger.Info("✅ Connected to PostgreSQL")
			chain.Subscribe(repository.NewPostgresAuditArchive(db))
			archived = true
		} else {
			logger.Error("⚠️ Failed to connect to DB", "error", err)
		}
		if store, err := repository.NewPostgresRuleStore(cfg.Database.DSN); err == nil {
			ruleStore = store
		} else {
			logger.Error("⚠️ Rule persistence unavailable", "error", err)
		}
	}
	if !archived && cfg.Redis.Addr != "" {
		redisClient, err := repository.NewRedisClient(cfg)
		if err == nil {
			logger.Info("✅ Connected to Redis")
			chain.Subscribe(repository.NewRedisAuditArchive(redisClient,
				cfg.Redis.ArchiveListKey, cfg.Redis.ArchiveListMax))
			archived = true
		} else {
			logger.Error("⚠️ Failed to connect to Redis", "error", err)
		}
	}
	if !archived {
		logger.Warn("No cold store configured, archived audit entries are dropped")
	}

	// 3. Initialize Core Services
	streamHub := handler.NewStreamHub()
	registry := service.NewRegistry()
	registry.Register("log", service.NewLogNotifier())
	registry.Register("stream", streamHub)
	if cfg.Notify.WebhookURL != "" {
		registry.Register("webhook", service.NewWebhookNotifier(cfg.Notify.WebhookURL,
			time.Duration(cfg.Notify.WebhookTimeoutMs)*time.Millisecond))
	}

	engine := rules.NewEngine(cfg.Engine.MaxWindowRecords, registry)
	loadRules(engine, ruleStore, cfg)

	opt := optimizer.New(optimizer.Config{
		MaxBatchSize:          cfg.Optimizer.MaxBatchSize,
		BatchTimeout:          time.Duration(cfg.Optimizer.BatchTimeoutMs) * time.Millisecond,
		CacheTTL:              time.Duration(cfg.Optimizer.CacheTTLMs) * time.Millisecond,
		CacheMaxEntries:       cfg.Optimizer.CacheMaxEntries,
		ParallelChunks:        cfg.Optimizer.ParallelChunks,
		HighPriorityThreshold: cfg.Optimizer.HighPriorityThreshold,
		MemoryCheckInterval:   time.Duration(cfg.Optimizer.MemoryCheckIntervalMs) * time.Millisecond,
		MemoryLimitBytes:      uint64(cfg.Optimizer.MemoryLimitMB) * 1024 * 1024,
		MemoryPressureRatio:   cfg.Optimizer.MemoryPressureRatio,
		MetricsInterval:       time.Duration(cfg.Optimizer.MetricsIntervalMs) * time.Millisecond,
	}, logSink{})
	opt.Start()

	pipeline := service.NewPipeline(engine, chain, opt, service.PipelineConfig{
		FlushSize:     cfg.Optimizer.MaxBatchSize,
		FlushInterval: time.Duration(cfg.Optimizer.FlushIntervalMs) * time.Millisecond,
		AuditDomains:  cfg.Audit.AutoDomains,
	})

	// 4. Initialize Handlers
	ingestHandler := handler.NewIngestHandler(pipeline)
	rulesHandler := handler.NewRulesHandler(engine, ruleStore)
	auditHandler := handler.NewAuditHandler(chain)
	systemHandler := handler.NewSystemHandler(opt, streamHub)

	// 5. Setup Router
	r := gin.Default()

	// Global Middleware
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CorrelationMiddleware())
	r.Use(middleware.MetricsMiddleware())

	// Health Check
	r.GET("/health", systemHandler.Health)

	// Metrics Endpoint
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	// API V1 Routes
	v1 := r.Group("/v1")
	v1.Use(middleware.AuthMiddleware(cfg))
	v1.Use(middleware.RateLimitMiddleware(cfg.Ingest.RateQPS, cfg.Ingest.RateBurst))
	{
		v1.POST("/logs", ingestHandler.Ingest)
		v1.POST("/logs/batch", ingestHandler.IngestBatch)
		v1.GET("/rules", rulesHandler.List)
		v1.POST("/rules", rulesHandler.Create)
		v1.GET("/rules/stats", rulesHandler.Stats)
		v1.GET("/rules/:id", rulesHandler.Get)
		v1.DELETE("/rules/:id", rulesHandler.Delete)
		v1.PATCH("/rules/:id", rulesHandler.SetEnabled)
		v1.GET("/audit", auditHandler.Query)
		v1.GET("/audit/verify", auditHandler.Verify)
		v1.GET("/audit/stats", auditHandler.Stats)
		v1.GET("/audit/export", auditHandler.Export)
		v1.GET("/alerts/stream", streamHub.Serve)
		v1.GET("/optimizer/metrics", systemHandler.Stats)
	}

	// 6. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	go func() {
		logger.Info("🚀 LogGate started", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pipeline.Close()
	opt.Stop()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}

	logger.Info("Server exiting")
}

// logSink is the default downstream: batches are acknowledged in the
// structured log. Deployments with a real downstream replace this with
// their own forwarder.
type logSink struct{}

func (logSink) Deliver(_ context.Context, records []*model.LogRecord) error {
	logger.Debug("batch delivered", "records", len(records))
	return nil
}

// loadRules seeds the engine from the persisted store first, then from
// the declarative rules in the config file. Config rules that collide
// with persisted ones lose.
func loadRules(engine *rules.Engine, store handler.RuleStore, cfg *config.Config) {
	if pg, ok := store.(*repository.PostgresRuleStore); ok {
		persisted, err := pg.List(context.Background())
		if err != nil {
			logger.Error("Failed to load persisted rules", "error", err)
		}
		for _, rule := range persisted {
			if err := engine.Register(rule); err != nil {
				logger.Error("Skipping persisted rule", "rule", rule.ID, "error", err)
			}
		}
	}
	for i := range cfg.Rules {
		rule, err := cfg.Rules[i].ToRule()
		if err != nil {
			logger.Error("Skipping config rule", "rule", cfg.Rules[i].ID, "error", err)
			continue
		}
		if err := engine.Register(rule); err != nil {
			logger.Warn("Config rule not registered", "rule", rule.ID, "error", err)
		}
	}
}
