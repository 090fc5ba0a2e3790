// Package main provides the entry point for the citation harvest worker.
// The worker hosts the Temporal workflow and activity implementations, the
// background sweep over pending harvest targets, and the Kafka operator
// command listener.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.temporal.io/sdk/client"

	"github.com/helixir/citation-harvest-service/internal/authorship"
	"github.com/helixir/citation-harvest-service/internal/config"
	"github.com/helixir/citation-harvest-service/internal/database"
	"github.com/helixir/citation-harvest-service/internal/events"
	"github.com/helixir/citation-harvest-service/internal/harvester"
	"github.com/helixir/citation-harvest-service/internal/observability"
	"github.com/helixir/citation-harvest-service/internal/planner"
	"github.com/helixir/citation-harvest-service/internal/reconcile"
	"github.com/helixir/citation-harvest-service/internal/repository"
	"github.com/helixir/citation-harvest-service/internal/source"
	"github.com/helixir/citation-harvest-service/internal/temporal"
	"github.com/helixir/citation-harvest-service/internal/temporal/activities"
	"github.com/helixir/citation-harvest-service/internal/temporal/workflows"
	"github.com/helixir/citation-harvest-service/internal/tracker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "worker").Logger()
	logger.Info().Msg("citation-harvest-service worker starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to PostgreSQL.
	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info().Msg("database connection established")

	// Create repositories.
	paperRepo := repository.NewPgPaperRepository(db)
	editionRepo := repository.NewPgEditionRepository(db)
	citationRepo := repository.NewPgCitationRepository(db)
	targetRepo := repository.NewPgTargetRepository(db)

	// Create metrics.
	metrics := observability.NewMetrics("citation_harvest")

	// Create the lifecycle event publisher.
	var publisher events.Publisher
	if cfg.Kafka.Enabled {
		kafkaPublisher := events.NewKafkaPublisher(cfg.Kafka, logger)
		defer func() {
			if err := kafkaPublisher.Close(); err != nil {
				logger.Error().Err(err).Msg("failed to close kafka publisher")
			}
		}()
		publisher = kafkaPublisher
		logger.Info().
			Strs("brokers", cfg.Kafka.Brokers).
			Str("topic", cfg.Kafka.EventsTopic).
			Msg("kafka event publisher created")
	} else {
		publisher = events.NewNoopPublisher()
	}

	// Create the target tracker and the reconciler.
	trk := tracker.New(targetRepo, editionRepo, cfg.Tracker, publisher, metrics, logger)
	reconciler := reconcile.New(db, paperRepo, editionRepo, citationRepo, publisher, metrics, logger)

	// Create the search source client.
	src := source.NewClient(source.ClientConfig{
		BaseURL:   cfg.Source.BaseURL,
		Timeout:   cfg.Source.Timeout,
		RateLimit: cfg.Source.RateLimit,
		BurstSize: cfg.Source.BurstSize,
		UserAgent: cfg.Source.UserAgent,
		APIKey:    cfg.Source.APIKey,
	}, logger)
	logger.Info().Str("base_url", cfg.Source.BaseURL).Msg("source client created")

	// Create the partition planner and the harvest engine. One shared
	// block state coordinates cooldowns across every concurrent target.
	pln := planner.New(cfg.Planner.BatchSize, logger, metrics)
	blocks := harvester.NewBlockState()
	engine := harvester.New(src, trk, reconciler, pln, blocks, cfg.Harvester, cfg.Source, metrics, logger)
	coordinator := harvester.NewCoordinator(targetRepo, editionRepo, paperRepo, engine, pln, cfg.Harvester, cfg.Source, metrics, logger)

	// Create the authorship filter if enabled.
	var filter *authorship.Filter
	if cfg.Authorship.Enabled {
		verifier := authorship.NewClient(cfg.Authorship, logger)
		filter = authorship.NewFilter(verifier, citationRepo, metrics, logger)
		logger.Info().Str("base_url", cfg.Authorship.BaseURL).Msg("authorship filter enabled")
	}

	// Create Temporal client.
	temporalClient, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    observability.NewTemporalLogger(logger),
	})
	if err != nil {
		return fmt.Errorf("connect to temporal: %w", err)
	}
	defer temporalClient.Close()
	logger.Info().
		Str("host_port", cfg.Temporal.HostPort).
		Str("namespace", cfg.Temporal.Namespace).
		Msg("temporal client connected")

	// Create WorkerManager and register workflows and activities.
	workerConfig := temporal.DefaultWorkerConfig(cfg.Temporal.TaskQueue)
	if cfg.Harvester.MaxConcurrentTargets > 0 {
		workerConfig.MaxConcurrentActivityExecutionSize = cfg.Harvester.MaxConcurrentTargets
	}
	manager, err := temporal.NewWorkerManager(temporalClient, workerConfig)
	if err != nil {
		return fmt.Errorf("create worker manager: %w", err)
	}

	manager.RegisterWorkflow(workflows.HarvestEditionWorkflow)
	manager.RegisterActivity(activities.NewHarvestActivities(trk, coordinator, reconciler, editionRepo, filter))

	// Start the operator command listener if Kafka is configured.
	if cfg.Kafka.Enabled && cfg.Kafka.CommandsTopic != "" {
		listener := events.NewCommandListener(cfg.Kafka, trk, logger)
		defer func() {
			if err := listener.Close(); err != nil {
				logger.Error().Err(err).Msg("failed to close command listener")
			}
		}()

		go func() {
			if err := listener.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("command listener error")
			}
		}()

		logger.Info().
			Str("topic", cfg.Kafka.CommandsTopic).
			Str("group_id", cfg.Kafka.GroupID).
			Msg("command listener started")
	}

	// Run the background sweep over pending targets.
	go func() {
		if err := coordinator.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("coordinator error")
		}
	}()

	logger.Info().
		Str("task_queue", cfg.Temporal.TaskQueue).
		Msg("starting temporal worker")

	// Start the worker and block until context is cancelled.
	if err := manager.Start(ctx); err != nil {
		if ctx.Err() != nil {
			logger.Info().Msg("worker stopped via signal")
			return nil
		}
		return fmt.Errorf("worker error: %w", err)
	}

	return nil
}
