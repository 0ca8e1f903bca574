package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"IntelHive/internal/api"
	"IntelHive/internal/config"
	"IntelHive/internal/dispatch"
	"IntelHive/internal/identity"
	"IntelHive/internal/job"
	"IntelHive/internal/observability/alerting"
	"IntelHive/internal/pipeline"
	"IntelHive/internal/plugin"
	"IntelHive/internal/plugin/builtin"
	"IntelHive/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("intelhived failed: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("INTELHIVE_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "intelhive.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled: cfg.Logging.AuditPath != "",
			Path:    cfg.Logging.AuditPath,
		},
	}); err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	paramStore, jobStore, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = paramStore.Close()
		_ = jobStore.Close()
	}()

	// Deployments integrate their own user directory; the in-memory one
	// serves single-tenant setups without organizations.
	directory := identity.NewMemoryDirectory()

	handlers := plugin.NewHandlerRegistry()
	if err := builtin.RegisterAll(handlers); err != nil {
		return err
	}

	resolver := plugin.NewResolver(paramStore, directory)
	registry := plugin.NewRegistry(handlers, resolver, directory, cfg.Dispatch.Queues, cfg.Dispatch.DefaultQueue, cfg.Dispatch.DefaultSoftLimit)

	manifest, err := plugin.LoadManifest(cfg.Manifest.Path)
	if err != nil {
		return err
	}
	if err := registry.ApplyManifest(ctx, manifest, paramStore); err != nil {
		return err
	}

	builder := dispatch.NewBuilder(registry, resolver, cfg.Dispatch.Queues, cfg.Dispatch.DefaultQueue, cfg.Dispatch.StageStatusLimit)

	var coordinatorOpts []pipeline.CoordinatorOption
	if cfg.Alerting.WebhookURL != "" {
		dispatcher := alerting.NewFanout(&alerting.WebhookNotifier{
			Sender: alerting.NewHTTPWebhookSender(cfg.Alerting.WebhookURL),
		})
		coordinatorOpts = append(coordinatorOpts, pipeline.WithAlertDispatcher(dispatcher))
	}

	var coordinator *pipeline.Coordinator
	var worker *pipeline.Worker
	var submitter dispatch.Submitter

	switch cfg.Broker.Driver {
	case "", "memory":
		// In-process pool: descriptors loop straight back into the worker.
		// The closures are resolved lazily, after coordinator and worker
		// exist; nothing runs before the first Submit.
		pool := dispatch.NewMemoryPool(ctx,
			func(ctx context.Context, descriptor *dispatch.Descriptor) error {
				return worker.Run(ctx, descriptor)
			},
			func(ctx context.Context, event dispatch.CompletionEvent) {
				coordinator.OnTaskFinished(ctx, event)
			},
		)
		submitter = pool
	case "rabbitmq":
		rmq, err := dispatch.NewRabbitMQSubmitter(dispatch.RabbitMQConfig{
			URL:     cfg.Broker.RabbitMQ.URL,
			Queues:  cfg.Dispatch.Queues,
			Durable: cfg.Broker.RabbitMQ.Durable,
		})
		if err != nil {
			return err
		}
		submitter = rmq
	case "redis":
		rds, err := dispatch.NewRedisSubmitter(dispatch.RedisConfig{
			Address:  cfg.Broker.Redis.Address,
			Password: cfg.Broker.Redis.Password,
			DB:       cfg.Broker.Redis.DB,
		})
		if err != nil {
			return err
		}
		submitter = rds
	default:
		return fmt.Errorf("unknown broker driver: %s", cfg.Broker.Driver)
	}
	defer func() {
		if err := submitter.Close(); err != nil {
			log.Printf("closing submitter failed: %v", err)
		}
	}()

	coordinator = pipeline.NewCoordinator(jobStore, registry, builder, submitter, coordinatorOpts...)
	worker = pipeline.NewWorker(handlers, coordinator)

	server := api.NewServer(cfg.Server.Address, coordinator, jobStore, registry)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openStores(cfg *config.Config) (plugin.ParameterStore, job.Store, error) {
	switch cfg.Storage.Driver {
	case "", "memory":
		return plugin.NewMemoryParameterStore(), job.NewMemoryStore(), nil
	case "mysql":
		// Both stores share one connection pool.
		db, err := sql.Open("mysql", cfg.Storage.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open MySQL connection: %w", err)
		}
		if cfg.Storage.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.Storage.MaxOpenConns)
		}
		if cfg.Storage.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.Storage.MaxIdleConns)
		}
		if cfg.Storage.ConnMaxLifetimeSeconds > 0 {
			db.SetConnMaxLifetime(time.Duration(cfg.Storage.ConnMaxLifetimeSeconds) * time.Second)
		}
		if err := db.Ping(); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("ping MySQL: %w", err)
		}
		paramStore, err := plugin.NewMySQLParameterStoreFromDB(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		jobStore, err := job.NewMySQLStoreFromDB(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return paramStore, jobStore, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver: %s", cfg.Storage.Driver)
	}
}
