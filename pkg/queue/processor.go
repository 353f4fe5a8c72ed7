// Package queue processes pending provider queue items: credential fallback,
// fetch, persist, retry accounting and dead-lettering.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	shared "github.com/fitglue/ingest/pkg"
	"github.com/fitglue/ingest/pkg/deadletter"
	"github.com/fitglue/ingest/pkg/domain/fit_parser"
	"github.com/fitglue/ingest/pkg/failure"
	"github.com/fitglue/ingest/pkg/infrastructure/pubsub"
	infrastorage "github.com/fitglue/ingest/pkg/infrastructure/storage"
	"github.com/fitglue/ingest/pkg/providers"
	"github.com/fitglue/ingest/pkg/types"
)

// Outcome is the result of processing one item.
type Outcome string

const (
	OutcomeSkipped      Outcome = "skipped"
	OutcomeProcessed    Outcome = "processed"
	OutcomeRetry        Outcome = "retry"
	OutcomeDeadLettered Outcome = "dead_lettered"
)

// Store is the subset of shared.Database the processor uses.
type Store interface {
	ListCredentialsByExternalUser(ctx context.Context, provider types.ProviderKind, externalUserID string) ([]*types.Credential, error)
	GetQueueItem(ctx context.Context, collection, id string) (*types.QueueItem, error)
	ListQueueItems(ctx context.Context, collection string, q types.QueueQuery) ([]*types.QueueItem, error)
	RecordQueueFailure(ctx context.Context, collection, id string, entry types.QueueError) error
	MarkQueueItemProcessed(ctx context.Context, collection, id string, at time.Time) error
	SetWorkout(ctx context.Context, workout *types.Workout) error
}

// TokenResolver returns a usable credential or a refresh failure.
type TokenResolver interface {
	Resolve(ctx context.Context, cred *types.Credential, force bool) (*types.Credential, error)
}

// DeadLetter migrates an item out of its queue.
type DeadLetter interface {
	Migrate(ctx context.Context, collection string, item *types.QueueItem, cause error, contextCode string) error
}

// ProviderLookup resolves a provider adapter.
type ProviderLookup interface {
	Get(kind types.ProviderKind) (providers.Provider, error)
}

type Config struct {
	MaxRetry    int
	Bucket      string
	BatchSize   int
	Concurrency int
}

type Processor struct {
	cfg        Config
	store      Store
	tokens     TokenResolver
	providers  ProviderLookup
	deadLetter DeadLetter
	blobs      shared.BlobStore
	pub        shared.Publisher
	logger     *slog.Logger
	now        func() time.Time
}

func NewProcessor(cfg Config, store Store, tokens TokenResolver, registry ProviderLookup, dl DeadLetter, blobs shared.BlobStore, pub shared.Publisher, logger *slog.Logger) *Processor {
	if cfg.MaxRetry <= 0 {
		cfg.MaxRetry = shared.DefaultMaxRetry
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = shared.DefaultDrainBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = shared.DefaultDrainConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		cfg:        cfg,
		store:      store,
		tokens:     tokens,
		providers:  registry,
		deadLetter: dl,
		blobs:      blobs,
		pub:        pub,
		logger:     logger,
		now:        time.Now,
	}
}

// ProcessByID loads an item and processes it.
func (p *Processor) ProcessByID(ctx context.Context, kind types.ProviderKind, id string) (Outcome, error) {
	adapter, err := p.providers.Get(kind)
	if err != nil {
		return "", err
	}
	item, err := p.store.GetQueueItem(ctx, adapter.Config().QueueCollection, id)
	if err != nil {
		return "", fmt.Errorf("get queue item %s: %w", id, err)
	}
	return p.Process(ctx, kind, item)
}

// attempt is one candidate credential's failure.
type attempt struct {
	credentialID string
	err          error
}

// Process runs one item through the credential fallback chain. Candidates are
// tried strictly in order and the first successful fetch ends the chain.
func (p *Processor) Process(ctx context.Context, kind types.ProviderKind, item *types.QueueItem) (Outcome, error) {
	if item.Processed {
		return OutcomeSkipped, nil
	}
	adapter, err := p.providers.Get(kind)
	if err != nil {
		return "", err
	}
	collection := adapter.Config().QueueCollection
	logger := p.logger.With("provider", kind, "item_id", item.ID, "workout_id", item.WorkoutID)

	creds, err := p.store.ListCredentialsByExternalUser(ctx, kind, item.ExternalUserID)
	if err != nil {
		return "", fmt.Errorf("list credentials: %w", err)
	}
	if len(creds) == 0 {
		logger.Warn("No credential for queue item", "external_user_id", item.ExternalUserID)
		cause := failure.New(failure.KindNoTokenFound, "no %s credential for external user %s", kind, item.ExternalUserID)
		if err := p.deadLetter.Migrate(ctx, collection, item, cause, string(failure.KindNoTokenFound)); err != nil {
			return "", err
		}
		return OutcomeDeadLettered, nil
	}

	var attempts []attempt
	for _, cred := range creds {
		if ctx.Err() != nil {
			attempts = append(attempts, attempt{credentialID: cred.ID, err: failure.Wrap(failure.KindTimeout, ctx.Err(), "invocation cancelled")})
			break
		}
		credLogger := logger.With("user_id", cred.UserID, "credential_id", cred.ID)

		resolved, err := p.tokens.Resolve(ctx, cred, false)
		if err != nil {
			credLogger.Warn("Credential unusable", "error", err)
			attempts = append(attempts, attempt{credentialID: cred.ID, err: err})
			continue
		}

		data, err := adapter.FetchActivity(ctx, resolved, item)
		if err != nil {
			credLogger.Warn("Fetch failed", "error", err)
			attempts = append(attempts, attempt{credentialID: cred.ID, err: err})
			continue
		}

		if err := p.persist(ctx, adapter, collection, resolved, item, data, credLogger); err != nil {
			credLogger.Error("Persisting workout failed", "error", err)
			attempts = append(attempts, attempt{credentialID: cred.ID, err: err})
			// The fetch worked; another credential would only fetch the same file.
			break
		}
		return OutcomeProcessed, nil
	}

	return p.fail(ctx, collection, item, attempts, logger)
}

func (p *Processor) fail(ctx context.Context, collection string, item *types.QueueItem, attempts []attempt, logger *slog.Logger) (Outcome, error) {
	last := attempts[len(attempts)-1].err

	if fe, ok := terminalFailure(attempts); ok {
		logger.Warn("Workout gone upstream, dead-lettering", "provider_code", fe.ProviderCode)
		if err := p.deadLetter.Migrate(ctx, collection, item, last, deadletter.ContextCode(last)); err != nil {
			return "", err
		}
		return OutcomeDeadLettered, nil
	}

	if item.RetryCount >= p.cfg.MaxRetry {
		cause := fmt.Errorf("%s after %d retries: %w", shared.QueueErrorAllAttemptsFailed, item.RetryCount, last)
		if err := p.deadLetter.Migrate(ctx, collection, item, cause, string(failure.KindMaxRetryReached)); err != nil {
			return "", err
		}
		return OutcomeDeadLettered, nil
	}

	details := make([]string, 0, len(attempts))
	for _, a := range attempts {
		details = append(details, fmt.Sprintf("credential %s: %s", a.credentialID, deadletter.NormalizeError(a.err)))
	}
	entry := types.QueueError{
		Timestamp: p.now(),
		Error:     shared.QueueErrorAllAttemptsFailed,
		Details:   details,
	}
	if err := p.store.RecordQueueFailure(ctx, collection, item.ID, entry); err != nil {
		return "", fmt.Errorf("record failure: %w", err)
	}
	logger.Info("Queue item left for retry", "retry_count", item.RetryCount+1, "attempts", len(attempts))
	return OutcomeRetry, nil
}

// terminalFailure returns the last failure when every candidate failed in a
// way no retry can fix. A single transient failure keeps the item retryable.
func terminalFailure(attempts []attempt) (*failure.Error, bool) {
	var last *failure.Error
	for _, a := range attempts {
		fe, ok := failure.As(a.err)
		if !ok || !fe.Terminal() {
			return nil, false
		}
		last = fe
	}
	return last, last != nil
}

// persist stores the raw file, writes the workout document, marks the item
// processed and announces it. Every write is keyed by the workout id, so a
// repeated invocation overwrites rather than duplicates.
func (p *Processor) persist(ctx context.Context, adapter providers.Provider, collection string, cred *types.Credential, item *types.QueueItem, data []byte, logger *slog.Logger) error {
	kind := adapter.Kind()
	object := infrastorage.WorkoutObjectPath(kind, cred.UserID, item.WorkoutID)
	if err := p.blobs.Write(ctx, p.cfg.Bucket, object, data); err != nil {
		return fmt.Errorf("store workout file: %w", err)
	}

	now := p.now()
	workout := &types.Workout{
		ID:         types.WorkoutDocID(kind, item.WorkoutID),
		UserID:     cred.UserID,
		Provider:   kind,
		WorkoutID:  item.WorkoutID,
		FileURI:    infrastorage.URI(p.cfg.Bucket, object),
		IngestedAt: now,
	}
	if summary, err := fit_parser.Summarize(data); err != nil {
		logger.Warn("Workout file could not be summarized", "error", err)
	} else {
		workout.Sport = summary.Sport
		workout.StartTime = summary.StartTime
		workout.TotalElapsedTime = summary.TotalElapsedTime
		workout.TotalDistance = summary.TotalDistance
	}

	if err := p.store.SetWorkout(ctx, workout); err != nil {
		return fmt.Errorf("save workout: %w", err)
	}
	if err := p.store.MarkQueueItemProcessed(ctx, collection, item.ID, now); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	logger.Info("Workout ingested", "workout_doc", workout.ID, "sport", workout.Sport)

	p.announce(ctx, workout, item, logger)
	return nil
}

// IngestedEvent is the payload of the workout-ingested CloudEvent.
type IngestedEvent struct {
	UserID      string `json:"user_id"`
	Provider    string `json:"provider"`
	WorkoutID   string `json:"workout_id"`
	FileURI     string `json:"file_uri"`
	QueueItemID string `json:"queue_item_id"`
}

func (p *Processor) announce(ctx context.Context, w *types.Workout, item *types.QueueItem, logger *slog.Logger) {
	if p.pub == nil {
		return
	}
	e, err := pubsub.NewCloudEvent(pubsub.SourceQueueProcessor, pubsub.EventTypeWorkoutIngested, IngestedEvent{
		UserID:      w.UserID,
		Provider:    string(w.Provider),
		WorkoutID:   w.WorkoutID,
		FileURI:     w.FileURI,
		QueueItemID: item.ID,
	})
	if err != nil {
		logger.Error("Failed to build ingested event", "error", err)
		return
	}
	e.SetSubject(w.ID)
	if _, err := p.pub.PublishCloudEvent(ctx, shared.TopicWorkoutIngested, e); err != nil {
		logger.Error("Failed to publish ingested event", "error", err)
	}
}
