package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/prosemill/orchestrator/internal/activities"
	"github.com/prosemill/orchestrator/internal/config"
	"github.com/prosemill/orchestrator/internal/db"
	"github.com/prosemill/orchestrator/internal/graph"
	"github.com/prosemill/orchestrator/internal/health"
	"github.com/prosemill/orchestrator/internal/httpapi"
	"github.com/prosemill/orchestrator/internal/profile"
	"github.com/prosemill/orchestrator/internal/providers"
	"github.com/prosemill/orchestrator/internal/service"
	temporallog "github.com/prosemill/orchestrator/internal/temporal"
	"github.com/prosemill/orchestrator/internal/workflows"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Hot reload of the tunable scoring section; everything else needs a
	// restart.
	if configPath != "" {
		watcher := config.NewWatcher(cfg, configPath, logger)
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Warn("Config watcher stopped", zap.Error(err))
			}
		}()
	}

	// ------------------------------------------------------------------
	// Persistence
	// ------------------------------------------------------------------
	dbClient, err := db.NewClient(cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer dbClient.Close()
	if cfg.Database.Driver == "sqlite3" {
		if err := dbClient.EnsureSchema(ctx); err != nil {
			logger.Fatal("Failed to ensure schema", zap.Error(err))
		}
	}

	// ------------------------------------------------------------------
	// Knowledge-graph store (best-effort; the pipeline runs without it)
	// ------------------------------------------------------------------
	var graphStore *graph.Store
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis unreachable, knowledge-graph sync disabled", zap.Error(err))
		}
		graphStore = graph.NewStore(rdb, graph.Options{
			MaxChars:      cfg.Graph.SummaryMaxChars,
			NeighborLimit: cfg.Graph.NeighborLimit,
			TTL:           cfg.Graph.TTL,
		}, logger)
	}

	// ------------------------------------------------------------------
	// Providers
	// ------------------------------------------------------------------
	searchProviders := make([]providers.SearchProvider, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		searchProviders = append(searchProviders, providers.NewHTTPSearchProvider(pc))
	}
	var crawler providers.Crawler
	if cfg.Run.CrawlerURL != "" {
		crawler = providers.NewHTTPCrawler(cfg.Run.CrawlerURL)
	}
	var extractor providers.Extractor
	if cfg.Extraction.URL != "" {
		extractor = providers.NewHTTPExtractor(cfg.Extraction.URL)
	}
	var media providers.MediaSynthesizer
	if cfg.Media.URL != "" {
		media = providers.NewHTTPMediaSynthesizer(cfg.Media.URL)
	}

	schema := profile.DefaultSchema()
	if cfg.Extraction.SchemaPath != "" {
		schema, err = profile.LoadSchema(cfg.Extraction.SchemaPath)
		if err != nil {
			logger.Fatal("Failed to load profile schema", zap.Error(err))
		}
	}

	// ------------------------------------------------------------------
	// Temporal client and worker
	// ------------------------------------------------------------------
	temporalClient, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    temporallog.NewZapAdapter(logger),
	})
	if err != nil {
		logger.Fatal("Failed to connect to Temporal", zap.Error(err))
	}
	defer temporalClient.Close()

	acts, err := activities.NewActivities(activities.Deps{
		Config:    cfg,
		DB:        dbClient,
		Graph:     graphStore,
		Search:    searchProviders,
		Crawler:   crawler,
		Extractor: extractor,
		Media:     media,
		Schema:    schema,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("Failed to build activities", zap.Error(err))
	}

	w := worker.New(temporalClient, cfg.Temporal.TaskQueue, worker.Options{})
	w.RegisterWorkflow(workflows.PipelineWorkflow)
	w.RegisterActivity(acts)

	// ------------------------------------------------------------------
	// Admin HTTP: API, health, metrics
	// ------------------------------------------------------------------
	svc := service.New(temporalClient, cfg, logger)

	hm := health.NewManager(logger)
	hm.Register(&health.DBChecker{Client: dbClient})
	hm.Register(&health.TemporalChecker{Client: temporalClient, Namespace: cfg.Temporal.Namespace})
	if rdb != nil {
		hm.Register(&health.RedisChecker{Client: rdb})
	}

	mux := http.NewServeMux()
	httpapi.NewHandler(svc, logger).RegisterRoutes(mux)
	hm.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Admin HTTP listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Admin HTTP server failed", zap.Error(err))
		}
	}()

	// ------------------------------------------------------------------
	// Run until signaled
	// ------------------------------------------------------------------
	workerErr := make(chan error, 1)
	go func() {
		workerErr <- w.Run(worker.InterruptCh())
	}()
	logger.Info("Pipeline worker started",
		zap.String("task_queue", cfg.Temporal.TaskQueue),
		zap.Int("providers", len(searchProviders)),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
	case err := <-workerErr:
		if err != nil {
			logger.Error("Worker stopped with error", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Admin HTTP shutdown failed", zap.Error(err))
	}
	cancel()
}
