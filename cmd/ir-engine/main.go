package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/miradorstack/mirador-ir/internal/api"
	"github.com/miradorstack/mirador-ir/internal/audit"
	"github.com/miradorstack/mirador-ir/internal/cache"
	"github.com/miradorstack/mirador-ir/internal/config"
	"github.com/miradorstack/mirador-ir/internal/engine"
	"github.com/miradorstack/mirador-ir/internal/events"
	"github.com/miradorstack/mirador-ir/internal/incident"
	"github.com/miradorstack/mirador-ir/internal/investigation"
	"github.com/miradorstack/mirador-ir/internal/metrics"
	"github.com/miradorstack/mirador-ir/internal/playbook"
	"github.com/miradorstack/mirador-ir/internal/services"
	"github.com/miradorstack/mirador-ir/internal/storage"
	"github.com/miradorstack/mirador-ir/internal/timeline"
	"github.com/miradorstack/mirador-ir/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting mirador-ir", slog.String("address", cfg.Server.Address), slog.String("storage", cfg.Storage.Driver))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	store, err := openStore(cfg.Storage)
	if err != nil {
		logger.Error("failed to open storage", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	hasher, err := audit.HasherByName(cfg.Audit.HashAlgorithm)
	if err != nil {
		logger.Error("unsupported audit hash", slog.Any("error", err))
		os.Exit(1)
	}
	policies, err := audit.LoadPolicyFile(cfg.Audit.PolicyFile)
	if err != nil {
		logger.Error("failed to load audit policies", slog.Any("error", err))
		os.Exit(1)
	}
	sinkOpts := audit.Options{
		Store:           store,
		Hasher:          hasher,
		Logger:          logger,
		DefaultPolicyID: cfg.Audit.DefaultPolicyID,
		Policies:        policies,
	}
	ruleEngine, err := engine.NewRuleEngine(cfg.Audit.RulesPath, logger)
	if err != nil {
		logger.Error("failed to load compliance rule pack", slog.Any("error", err))
		os.Exit(1)
	}
	if ruleEngine != nil {
		sinkOpts.Recommender = ruleEngine
	}
	sink, err := audit.NewSink(sinkOpts)
	if err != nil {
		logger.Error("failed to create audit sink", slog.Any("error", err))
		os.Exit(1)
	}

	var publisher timeline.Publisher
	if cfg.Events.Enabled {
		p, err := events.Connect(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, logger)
		if err != nil {
			logger.Warn("timeline event stream unavailable", slog.Any("error", err))
		} else {
			publisher = p
			defer p.Close()
		}
	}
	recorder := timeline.NewRecorder(sink, publisher, nil, logger)

	reportCache := cache.NewLRUProvider(cfg.Cache.ReportSize, cfg.Cache.ReportTTL)
	defer reportCache.Close()

	manager, err := incident.NewManager(incident.Options{
		Store:       store,
		Recorder:    recorder,
		Logger:      logger,
		ReportCache: reportCache,
		ReportTTL:   cfg.Cache.ReportTTL,
	})
	if err != nil {
		logger.Error("failed to create incident manager", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loaded, err := manager.Load(ctx)
	if err != nil {
		logger.Error("failed to restore incidents", slog.Any("error", err))
		os.Exit(1)
	}

	registry := playbook.NewRegistry(nil, logger)
	playbooks, err := registry.LoadPack(ctx, cfg.Playbooks.PackPath)
	if err != nil {
		logger.Error("failed to load playbook pack", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("engine state restored", slog.Int("incidents", loaded), slog.Int("playbooks", playbooks))

	irService := services.NewIRService(logger, services.Components{
		Incidents:      manager,
		Playbooks:      registry,
		Executions:     playbook.NewExecutor(registry, manager, nil, logger),
		Investigations: investigation.NewTracker(manager, nil, logger),
		Audit:          sink,
	}, cfg.Server.RequestTimeout)

	server, err := api.NewServer(cfg.Server, irService)
	if err != nil {
		logger.Error("failed to create gRPC server", slog.Any("error", err))
		os.Exit(1)
	}

	var adminServer *http.Server
	if cfg.Server.HTTPAddress != "" {
		admin := api.NewAdminServer(sink, nil, nil, logger)
		adminServer = &http.Server{
			Addr:         cfg.Server.HTTPAddress,
			Handler:      admin.Handler(),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 30 * time.Second,
		}
		go func() {
			logger.Info("admin server listening", slog.String("address", cfg.Server.HTTPAddress))
			if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("admin server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if adminServer != nil {
		adminCtx, cancelAdmin := context.WithTimeout(context.Background(), 5*time.Second)
		if err := adminServer.Shutdown(adminCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("admin server shutdown", slog.Any("error", err))
		}
		cancelAdmin()
	}

	logger.Info("mirador-ir stopped", slog.Duration("p95_latency", irService.LatencyP95()))
}

func openStore(cfg config.StorageConfig) (storage.Store, error) {
	if cfg.Driver == "sqlite" {
		store, err := storage.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return storage.NewMemoryStore(cfg.RingCapacity), nil
}
