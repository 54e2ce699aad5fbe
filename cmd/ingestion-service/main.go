package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/energy-process/platform/pkg/common/config"
	"github.com/energy-process/platform/pkg/common/database"
	"github.com/energy-process/platform/pkg/common/kafka"
	"github.com/energy-process/platform/pkg/common/logger"
	"github.com/energy-process/platform/pkg/common/middleware"
	"github.com/energy-process/platform/pkg/ingestion"
	"github.com/energy-process/platform/pkg/observability/metrics"
	"github.com/gorilla/mux"
)

func main() {
	logger.Init("ingestion-service")
	cfg := config.Load()

	rules, err := ingestion.LoadRules(cfg.RulesPath)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to load ingestion rules")
	}

	store, ready := openStore(cfg)

	content, err := ingestion.NewLocalContentStore(cfg.UploadDir)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to prepare upload dir")
	}

	cache := ingestion.NewStatusCache(database.GetRedis(cfg), cfg.StatusCacheTTL)
	defer database.CloseRedis()

	var notifier ingestion.Notifier
	if cfg.NotifyWithKafka {
		eventsProducer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaEventsTopic)
		defer eventsProducer.Close()
		notifier = ingestion.NewKafkaNotifier(eventsProducer)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		scheduler ingestion.Scheduler
		pool      *ingestion.WorkerPool
		kafkaJobs *ingestion.KafkaScheduler
	)
	switch cfg.SchedulerBackend {
	case "kafka":
		jobsProducer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaJobsTopic)
		defer jobsProducer.Close()
		jobsConsumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaJobsTopic, cfg.KafkaGroupID)
		defer jobsConsumer.Close()
		kafkaJobs = ingestion.NewKafkaScheduler(jobsProducer, jobsConsumer)
		scheduler = kafkaJobs
	default:
		pool = ingestion.NewWorkerPool(cfg.WorkerCount)
		scheduler = pool
	}

	svc, err := ingestion.NewService(ingestion.Dependencies{
		Store:     store,
		Content:   content,
		Scheduler: scheduler,
		Cache:     cache,
		Notifier:  notifier,
	}, rules, ingestion.Options{
		FlushEvery:           cfg.FlushEvery,
		MaxRuntime:           cfg.MaxJobRuntime,
		MaxUploadBytes:       cfg.MaxUploadBytes,
		RejectDuplicateFiles: cfg.RejectDuplicateFiles,
		StaleAfter:           cfg.StaleJobAfter,
	})
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to build ingestion service")
	}

	if pool != nil {
		pool.Start(svc)
	}
	if kafkaJobs != nil {
		go func() {
			if err := kafkaJobs.Serve(ctx, svc); err != nil && !errors.Is(err, context.Canceled) {
				logger.Log.WithError(err).Error("job consumer stopped")
			}
		}()
	}

	if err := svc.Recover(ctx); err != nil {
		logger.Log.WithError(err).Error("startup recovery failed")
	}

	handler := ingestion.NewHTTPHandler(svc, cfg.MaxUploadBytes+1<<20)

	router := mux.NewRouter()
	router.Use(middleware.Logging)
	router.Use(middleware.Recovery)
	router.Use(middleware.CORS(cfg.CORSOrigins))
	router.Use(middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
	router.Use(middleware.BodyLimit(cfg.MaxRequestBody))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := ready(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"not ready"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w)
	}).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	handler.Register(api)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host":      cfg.ServerHost,
			"port":      cfg.ServerPort,
			"store":     cfg.StoreBackend,
			"scheduler": cfg.SchedulerBackend,
		}).Info("Ingestion Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Ingestion Service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	cancel()
	if pool != nil {
		pool.Stop()
	}
	if err := database.ClosePostgres(); err != nil {
		logger.Log.WithError(err).Warn("failed to close postgres")
	}

	logger.Log.Info("Ingestion Service stopped")
}

// openStore picks the persistence backend and returns a readiness probe for it.
func openStore(cfg *config.Config) (ingestion.Store, func(context.Context) error) {
	if cfg.StoreBackend == "memory" {
		logger.Log.Warn("using in-memory store, data is lost on restart")
		return ingestion.NewMemoryStore(), func(context.Context) error { return nil }
	}

	db, err := database.GetPostgres(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}

	repo := ingestion.NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate ingestion tables")
	}

	return repo, func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
}
