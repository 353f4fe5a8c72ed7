// Package deadletter moves queue items that can no longer succeed into the
// uniform failed-jobs store.
package deadletter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fitglue/ingest/pkg/failure"
	storage "github.com/fitglue/ingest/pkg/storage/firestore"
	"github.com/fitglue/ingest/pkg/types"
)

const maxErrorLength = 1000

// Store is the subset of shared.Database the migrator writes through.
// MoveToFailedJobs must write the record and delete the source atomically.
type Store interface {
	MoveToFailedJobs(ctx context.Context, collection, id string, job *types.FailedJob) error
}

// Reporter forwards dead-lettered items to error tracking.
type Reporter interface {
	Report(err error, context map[string]interface{})
}

type Migrator struct {
	store    Store
	reporter Reporter
	logger   *slog.Logger
	now      func() time.Time
}

func NewMigrator(store Store, reporter Reporter, logger *slog.Logger) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{store: store, reporter: reporter, logger: logger, now: time.Now}
}

// Migrate dead-letters item. An empty contextCode is derived from cause.
func (m *Migrator) Migrate(ctx context.Context, collection string, item *types.QueueItem, cause error, contextCode string) error {
	if contextCode == "" {
		contextCode = ContextCode(cause)
	}
	job := &types.FailedJob{
		ID:               collection + "_" + item.ID,
		Provider:         item.Provider,
		OriginCollection: collection,
		OriginID:         item.ID,
		OriginalPayload:  storage.QueueItemToFirestore(item),
		Context:          contextCode,
		Error:            NormalizeError(cause),
		FailedAt:         m.now(),
	}

	logger := m.logger.With("collection", collection, "item_id", item.ID, "provider", item.Provider, "context", contextCode)
	if err := m.store.MoveToFailedJobs(ctx, collection, item.ID, job); err != nil {
		logger.Error("Failed to dead-letter item", "error", err)
		return fmt.Errorf("move %s/%s to failed jobs: %w", collection, item.ID, err)
	}

	logger.Warn("Item dead-lettered", "retry_count", item.RetryCount, "error", job.Error)
	if m.reporter != nil {
		m.reporter.Report(fmt.Errorf("dead-lettered %s/%s: %s", collection, item.ID, job.Error), map[string]interface{}{
			"collection": collection,
			"item_id":    item.ID,
			"provider":   string(item.Provider),
			"context":    contextCode,
		})
	}
	return nil
}

// ContextCode picks the classification stored on a failed job: the provider's
// own code when there is one, otherwise the failure kind.
func ContextCode(err error) string {
	fe, ok := failure.As(err)
	if !ok {
		return string(failure.KindInternal)
	}
	if fe.Kind == failure.KindProviderError && fe.ProviderCode != "" {
		return fe.ProviderCode
	}
	return string(fe.Kind)
}

// NormalizeError renders err as a single trimmed line of bounded length.
func NormalizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.Join(strings.Fields(err.Error()), " ")
	if len(msg) > maxErrorLength {
		cut := maxErrorLength
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut]
	}
	return msg
}
