package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	firebase "firebase.google.com/go/v4"

	shared "github.com/fitglue/ingest/pkg"
	"github.com/fitglue/ingest/pkg/backfill"
	"github.com/fitglue/ingest/pkg/deadletter"
	infraauth "github.com/fitglue/ingest/pkg/infrastructure/auth"
	"github.com/fitglue/ingest/pkg/infrastructure/database"
	"github.com/fitglue/ingest/pkg/infrastructure/notifications"
	"github.com/fitglue/ingest/pkg/infrastructure/oauth"
	infrapubsub "github.com/fitglue/ingest/pkg/infrastructure/pubsub"
	"github.com/fitglue/ingest/pkg/infrastructure/sentry"
	infrastorage "github.com/fitglue/ingest/pkg/infrastructure/storage"
	"github.com/fitglue/ingest/pkg/providers"
	"github.com/fitglue/ingest/pkg/queue"
	"github.com/fitglue/ingest/pkg/stats"
)

// Infrastructure are the external adapters a Service is built from.
type Infrastructure struct {
	DB       shared.Database
	Store    shared.BlobStore
	Pub      shared.Publisher
	Notifier shared.NotificationService
	Auth     shared.IDTokenVerifier
	Registry *providers.Registry
}

// Service holds initialized dependencies
type Service struct {
	Config *Config
	Logger *slog.Logger

	DB       shared.Database
	Store    shared.BlobStore
	Pub      shared.Publisher
	Notifier shared.NotificationService
	Auth     shared.IDTokenVerifier
	Registry *providers.Registry

	Tokens     *oauth.Engine
	DeadLetter *deadletter.Migrator
	Processor  *queue.Processor
	Backfill   *backfill.Orchestrator
	Stats      *stats.Aggregator
}

// Wire builds the ingest components on top of the given adapters.
func Wire(cfg *Config, infra Infrastructure, logger *slog.Logger) *Service {
	registry := infra.Registry
	if registry == nil {
		registry = providers.NewDefaultRegistry(cfg.ProviderSecrets())
	}

	tokens := oauth.NewEngine(infra.DB, registry, logger.With("component", "token-engine"))
	migrator := deadletter.NewMigrator(infra.DB, sentry.Reporter{Logger: logger}, logger.With("component", "dead-letter"))

	return &Service{
		Config:   cfg,
		Logger:   logger,
		DB:       infra.DB,
		Store:    infra.Store,
		Pub:      infra.Pub,
		Notifier: infra.Notifier,
		Auth:     infra.Auth,
		Registry: registry,

		Tokens:     tokens,
		DeadLetter: migrator,
		Processor: queue.NewProcessor(queue.Config{
			MaxRetry:    cfg.MaxRetry,
			Bucket:      cfg.GCSArtifactBucket,
			BatchSize:   cfg.DrainBatchSize,
			Concurrency: cfg.DrainConcurrency,
		}, infra.DB, tokens, registry, migrator, infra.Store, infra.Pub, logger.With("component", "queue")),
		Backfill: backfill.NewOrchestrator(infra.DB, tokens, registry, infra.Notifier, cfg.BackfillTimeout, logger.With("component", "backfill")),
		Stats: stats.NewAggregator(infra.DB, registry.Kinds(), stats.Config{
			MaxRetry:   cfg.MaxRetry,
			SampleSize: cfg.StatsSampleSize,
		}, logger.With("component", "stats")),
	}
}

// NewService initializes all standard dependencies
func NewService(ctx context.Context, serviceName string) (*Service, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	logger := InitLogger(serviceName, cfg.LogLevel)

	logger.Info("Initializing service", "project_id", cfg.ProjectID, "environment", cfg.Environment)

	if err := sentry.Init(sentry.Config{
		DSN:         cfg.SentryDSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
		ServerName:  serviceName,
	}, logger); err != nil {
		logger.Warn("Continuing without Sentry", "error", err)
	}

	// Firestore
	fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		logger.Error("Firestore init failed", "error", err)
		return nil, fmt.Errorf("firestore init: %w", err)
	}
	db := database.NewFirestoreAdapter(fsClient)

	// Pub/Sub
	var pub shared.Publisher
	if cfg.EnablePublish {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("PubSub init failed", "error", err)
			return nil, fmt.Errorf("pubsub init: %w", err)
		}
		pub = &infrapubsub.PubSubAdapter{Client: psClient}
		logger.Info("Pub/Sub: REAL (ENABLE_PUBLISH=true)")
	} else {
		pub = &infrapubsub.LogPublisher{Logger: logger}
		logger.Info("Pub/Sub: MOCK (LogPublisher)")
	}

	// Storage
	gcsClient, err := storage.NewClient(ctx)
	if err != nil {
		logger.Error("Storage init failed", "error", err)
		return nil, fmt.Errorf("storage init: %w", err)
	}

	// Firebase: ID tokens and push notifications
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID})
	if err != nil {
		logger.Error("Firebase init failed", "error", err)
		return nil, fmt.Errorf("firebase init: %w", err)
	}
	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase auth init: %w", err)
	}
	notifier, err := notifications.NewFCMAdapter(ctx, app, db, logger)
	if err != nil {
		return nil, fmt.Errorf("fcm init: %w", err)
	}

	return Wire(cfg, Infrastructure{
		DB:       db,
		Store:    &infrastorage.StorageAdapter{Client: gcsClient},
		Pub:      pub,
		Notifier: notifier,
		Auth:     &infraauth.FirebaseVerifier{Client: authClient},
	}, logger), nil
}
