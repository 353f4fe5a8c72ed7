package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	shared "github.com/fitglue/ingest/pkg"
	storage "github.com/fitglue/ingest/pkg/storage/firestore"
	"github.com/fitglue/ingest/pkg/types"
)

// FirestoreAdapter provides database operations using Firestore
// It wraps our typed storage client
type FirestoreAdapter struct {
	Client  *firestore.Client
	storage *storage.Client // internal typed wrapper
}

func NewFirestoreAdapter(client *firestore.Client) *FirestoreAdapter {
	return &FirestoreAdapter{
		Client:  client,
		storage: storage.NewClient(client),
	}
}

var _ shared.Database = (*FirestoreAdapter)(nil)

// FailedJobID is the dead-letter document id for a source item. Using a
// deterministic id makes a repeated migration overwrite instead of duplicate.
func FailedJobID(collection, id string) string {
	return collection + "_" + id
}

// --- Credentials ---

func sortCredentials(creds []*types.Credential) []*types.Credential {
	sort.SliceStable(creds, func(i, j int) bool {
		if !creds[i].DateCreated.Equal(creds[j].DateCreated) {
			return creds[i].DateCreated.Before(creds[j].DateCreated)
		}
		return creds[i].ID < creds[j].ID
	})
	return creds
}

func (a *FirestoreAdapter) ListCredentials(ctx context.Context, userID string, provider types.ProviderKind) ([]*types.Credential, error) {
	coll := a.storage.Credentials(userID)
	creds, err := coll.All(ctx, coll.Ref.Where("provider", "==", string(provider)))
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	for _, c := range creds {
		if c.UserID == "" {
			c.UserID = userID
		}
	}
	return sortCredentials(creds), nil
}

func (a *FirestoreAdapter) ListCredentialsByExternalUser(ctx context.Context, provider types.ProviderKind, externalUserID string) ([]*types.Credential, error) {
	q := a.storage.AllCredentials().
		Where("provider", "==", string(provider)).
		Where("external_user_id", "==", externalUserID)
	creds, err := storage.Documents(ctx, q, storage.FirestoreToCredential)
	if err != nil {
		return nil, fmt.Errorf("list credentials by external user: %w", err)
	}
	return sortCredentials(creds), nil
}

func (a *FirestoreAdapter) ListExpiringCredentials(ctx context.Context, provider types.ProviderKind, before time.Time) ([]*types.Credential, error) {
	q := a.storage.AllCredentials().
		Where("provider", "==", string(provider)).
		Where("expires_at", "<", before.UnixMilli())
	creds, err := storage.Documents(ctx, q, storage.FirestoreToCredential)
	if err != nil {
		return nil, fmt.Errorf("list expiring credentials: %w", err)
	}
	return sortCredentials(creds), nil
}

func (a *FirestoreAdapter) UpdateCredential(ctx context.Context, userID, credentialID string, data map[string]interface{}) error {
	return a.storage.Credentials(userID).Doc(credentialID).Update(ctx, data)
}

func (a *FirestoreAdapter) DeleteCredential(ctx context.Context, userID, credentialID string) error {
	return a.storage.Credentials(userID).Doc(credentialID).Delete(ctx)
}

// --- Queues ---

func (a *FirestoreAdapter) GetQueueItem(ctx context.Context, collection, id string) (*types.QueueItem, error) {
	return a.storage.Queue(collection).Doc(id).Get(ctx)
}

func (a *FirestoreAdapter) CreateQueueItem(ctx context.Context, collection string, item *types.QueueItem) (bool, error) {
	return a.storage.Queue(collection).Doc(item.ID).Create(ctx, item)
}

func queueQuery(ref *firestore.CollectionRef, q types.QueueQuery) firestore.Query {
	query := ref.Where("processed", "==", q.Processed)
	if q.MinRetryCount > 0 {
		query = query.Where("retry_count", ">=", q.MinRetryCount)
	}
	if q.MaxRetryCount > 0 {
		query = query.Where("retry_count", "<", q.MaxRetryCount)
	}
	if !q.ProcessedSince.IsZero() {
		query = query.Where("processed_at", ">=", q.ProcessedSince)
	}
	if q.OldestFirst {
		query = query.OrderBy("date_created", firestore.Asc)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	return query
}

func (a *FirestoreAdapter) ListQueueItems(ctx context.Context, collection string, q types.QueueQuery) ([]*types.QueueItem, error) {
	coll := a.storage.Queue(collection)
	items, err := coll.All(ctx, queueQuery(coll.Ref, q))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	return items, nil
}

func (a *FirestoreAdapter) CountQueueItems(ctx context.Context, collection string, q types.QueueQuery) (int64, error) {
	q.Limit = 0
	q.OldestFirst = false
	n, err := storage.Count(ctx, queueQuery(a.storage.Queue(collection).Ref, q))
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	return n, nil
}

// RecordQueueFailure increments retry_count and appends the error entry in one
// document write.
func (a *FirestoreAdapter) RecordQueueFailure(ctx context.Context, collection, id string, entry types.QueueError) error {
	return a.storage.Queue(collection).Doc(id).UpdatePaths(ctx, []firestore.Update{
		{Path: "retry_count", Value: firestore.Increment(1)},
		{Path: "errors", Value: firestore.ArrayUnion(storage.QueueErrorToFirestore(entry))},
	})
}

func (a *FirestoreAdapter) MarkQueueItemProcessed(ctx context.Context, collection, id string, at time.Time) error {
	return a.storage.Queue(collection).Doc(id).UpdatePaths(ctx, []firestore.Update{
		{Path: "processed", Value: true},
		{Path: "processed_at", Value: at},
	})
}

// --- Dead letter ---

// MoveToFailedJobs writes the failed job and deletes the source item in one
// transaction. A missing source item means an earlier migration already won.
func (a *FirestoreAdapter) MoveToFailedJobs(ctx context.Context, collection, id string, job *types.FailedJob) error {
	srcRef := a.storage.Queue(collection).Doc(id).Ref
	failed := a.storage.FailedJobs().Doc(FailedJobID(collection, id))

	return a.Client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(srcRef)
		if status.Code(err) == codes.NotFound {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s/%s: %w", collection, id, err)
		}

		record := *job
		if record.OriginalPayload == nil {
			record.OriginalPayload = snap.Data()
		}
		if err := tx.Set(failed.Ref, failed.ToFirestore(&record)); err != nil {
			return err
		}
		return tx.Delete(srcRef)
	})
}

func (a *FirestoreAdapter) failedJobsQuery(provider types.ProviderKind) firestore.Query {
	ref := a.storage.FailedJobs().Ref
	if provider == "" {
		return ref.Query
	}
	return ref.Where("provider", "==", string(provider))
}

func (a *FirestoreAdapter) ListFailedJobs(ctx context.Context, provider types.ProviderKind, limit int) ([]*types.FailedJob, error) {
	q := a.failedJobsQuery(provider)
	if limit > 0 {
		q = q.Limit(limit)
	}
	return a.storage.FailedJobs().All(ctx, q)
}

func (a *FirestoreAdapter) CountFailedJobs(ctx context.Context, provider types.ProviderKind) (int64, error) {
	return storage.Count(ctx, a.failedJobsQuery(provider))
}

// --- Backfill ---

// GetBackfillState returns nil without error when no import was ever recorded.
func (a *FirestoreAdapter) GetBackfillState(ctx context.Context, userID string, provider types.ProviderKind) (*types.BackfillState, error) {
	state, err := a.storage.BackfillStates(userID).Doc(string(provider)).Get(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	state.UserID = userID
	state.Provider = provider
	return state, nil
}

func (a *FirestoreAdapter) SetBackfillState(ctx context.Context, state *types.BackfillState) error {
	return a.storage.BackfillStates(state.UserID).Doc(string(state.Provider)).Set(ctx, state)
}

// --- Workouts ---

func (a *FirestoreAdapter) SetWorkout(ctx context.Context, workout *types.Workout) error {
	return a.storage.Workouts(workout.UserID).Doc(workout.ID).Set(ctx, workout)
}

// --- Users ---

func (a *FirestoreAdapter) GetUserFCMTokens(ctx context.Context, userID string) ([]string, error) {
	snap, err := a.storage.Users().Doc(userID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	raw, _ := snap.Data()[shared.FieldFCMTokens].([]interface{})
	tokens := make([]string, 0, len(raw))
	for _, t := range raw {
		if s, ok := t.(string); ok && s != "" {
			tokens = append(tokens, s)
		}
	}
	return tokens, nil
}

// RemoveUserFCMTokens drops tokens the messaging service reported as unregistered.
func (a *FirestoreAdapter) RemoveUserFCMTokens(ctx context.Context, userID string, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	values := make([]interface{}, len(tokens))
	for i, t := range tokens {
		values[i] = t
	}
	_, err := a.storage.Users().Doc(userID).Update(ctx, []firestore.Update{
		{Path: shared.FieldFCMTokens, Value: firestore.ArrayRemove(values...)},
	})
	return err
}
