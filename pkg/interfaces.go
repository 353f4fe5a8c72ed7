package shared

import (
	"context"
	"time"

	"github.com/cloudevents/sdk-go/v2/event"

	"github.com/fitglue/ingest/pkg/types"
)

// --- Persistence Interfaces ---

type Database interface {
	// Credentials (users/{uid}/credentials), ordered by creation
	ListCredentials(ctx context.Context, userID string, provider types.ProviderKind) ([]*types.Credential, error)
	ListCredentialsByExternalUser(ctx context.Context, provider types.ProviderKind, externalUserID string) ([]*types.Credential, error)
	ListExpiringCredentials(ctx context.Context, provider types.ProviderKind, before time.Time) ([]*types.Credential, error)
	UpdateCredential(ctx context.Context, userID, credentialID string, data map[string]interface{}) error
	DeleteCredential(ctx context.Context, userID, credentialID string) error

	// Provider queues
	GetQueueItem(ctx context.Context, collection, id string) (*types.QueueItem, error)
	CreateQueueItem(ctx context.Context, collection string, item *types.QueueItem) (bool, error)
	ListQueueItems(ctx context.Context, collection string, q types.QueueQuery) ([]*types.QueueItem, error)
	CountQueueItems(ctx context.Context, collection string, q types.QueueQuery) (int64, error)
	RecordQueueFailure(ctx context.Context, collection, id string, entry types.QueueError) error
	MarkQueueItemProcessed(ctx context.Context, collection, id string, at time.Time) error

	// Dead letter
	MoveToFailedJobs(ctx context.Context, collection, id string, job *types.FailedJob) error
	ListFailedJobs(ctx context.Context, provider types.ProviderKind, limit int) ([]*types.FailedJob, error)
	CountFailedJobs(ctx context.Context, provider types.ProviderKind) (int64, error)

	// Backfill state (users/{uid}/backfill/{provider})
	GetBackfillState(ctx context.Context, userID string, provider types.ProviderKind) (*types.BackfillState, error)
	SetBackfillState(ctx context.Context, state *types.BackfillState) error

	// Workouts (users/{uid}/workouts)
	SetWorkout(ctx context.Context, workout *types.Workout) error

	// FCM tokens registered on the user document
	GetUserFCMTokens(ctx context.Context, userID string) ([]string, error)
}

// --- Messaging Interfaces ---

type Publisher interface {
	PublishCloudEvent(ctx context.Context, topic string, e event.Event) (string, error)
}

// --- Storage Interfaces ---

type BlobStore interface {
	Write(ctx context.Context, bucket, object string, data []byte) error
	Read(ctx context.Context, bucket, object string) ([]byte, error)
}

// --- Notification Interfaces ---

type NotificationService interface {
	SendPushNotification(ctx context.Context, userID string, title, body string, tokens []string, data map[string]string) error
}

// --- Auth Interfaces ---

// IDTokenVerifier resolves a caller's bearer token to a user id.
type IDTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (string, error)
}
