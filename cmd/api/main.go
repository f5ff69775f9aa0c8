package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kycdesk/api/internal/app"
	"kycdesk/api/internal/archive"
	"kycdesk/api/internal/checklist"
	"kycdesk/api/internal/config"
	"kycdesk/api/internal/export"
	"kycdesk/api/internal/inference"
	"kycdesk/api/internal/lease"
	"kycdesk/api/internal/logger"
	"kycdesk/api/internal/metrics"
	"kycdesk/api/internal/search"
	"kycdesk/api/internal/store"
)

type caseStore interface {
	Create(context.Context, store.Case) error
	Get(context.Context, string) (store.Case, error)
	Update(context.Context, string, func(*store.Case) error) (store.Case, error)
	Delete(context.Context, string) error
	List(context.Context) ([]store.Case, error)
	Ping(context.Context) error
}

func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	ctx := context.Background()

	var cases caseStore
	switch cfg.CaseStore {
	case "postgres":
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("database connection failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
		if err != nil {
			log.Error("migrations failed", "error", err)
			os.Exit(1)
		}
		log.Info("migrations applied", "count", applied)
		cases = store.NewPostgresStore(db)
	case "memory":
		log.Warn("using in-memory case store, cases are lost on restart")
		cases = store.NewMemoryStore()
	default:
		log.Error("unknown CASE_STORE", "value", cfg.CaseStore)
		os.Exit(1)
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	opts := []app.Option{
		app.WithLogger(log),
		app.WithMetrics(m),
		app.WithSummary(export.NewService()),
		app.WithExtractionConcurrency(cfg.ExtractionConcurrency),
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		locker, err := lease.NewRedisLocker(cfg.RedisURL, log)
		if err != nil {
			log.Error("redis connection failed", "error", err)
			os.Exit(1)
		}
		defer locker.Close()
		log.Info("using redis for extraction leases")
		opts = append(opts, app.WithLocker(locker, cfg.LeaseTTL))
	} else {
		opts = append(opts, app.WithLocker(lease.NewMemoryLocker(), cfg.LeaseTTL))
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, cases, log)
	defer searchService.Close()
	searchService.ReindexAll(ctx)
	opts = append(opts, app.WithSearch(searchService))

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		objects, err := archive.New(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL, log)
		if err != nil {
			log.Warn("document archive disabled", "endpoint", cfg.MinioEndpoint, "error", err)
		} else {
			opts = append(opts, app.WithArchive(objects))
		}
	}

	service := app.New(cases, inference.New(cfg.InferenceURL), checklist.New(cfg.ExportURL), opts...)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, log, m, promhttp.Handler())
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Extraction requests wait on the model, which can take minutes.
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("KYC API listening", "addr", cfg.Addr, "inference_url", cfg.InferenceURL, "case_store", cfg.CaseStore)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}
}
