package firestore

import (
	"cloud.google.com/go/firestore"

	shared "github.com/fitglue/ingest/pkg"
	"github.com/fitglue/ingest/pkg/types"
)

type Client struct {
	fs *firestore.Client
}

func NewClient(client *firestore.Client) *Client {
	return &Client{fs: client}
}

func (c *Client) Close() error {
	return c.fs.Close()
}

// Raw exposes the underlying client for transactions and collection-group queries.
func (c *Client) Raw() *firestore.Client {
	return c.fs
}

func (c *Client) Users() *firestore.CollectionRef {
	return c.fs.Collection(shared.CollectionUsers)
}

// Credentials are sub-collections of Users: users/{uid}/credentials/{id}
func (c *Client) Credentials(userId string) *Collection[types.Credential] {
	return &Collection[types.Credential]{
		Ref:           c.Users().Doc(userId).Collection(shared.CollectionCredentials),
		ToFirestore:   CredentialToFirestore,
		FromFirestore: FirestoreToCredential,
	}
}

// AllCredentials queries credentials across every user.
func (c *Client) AllCredentials() *firestore.CollectionGroupRef {
	return c.fs.CollectionGroup(shared.CollectionCredentials)
}

// Queue is a top-level provider queue: garminQueue/{id}, suuntoQueue/{id}, corosQueue/{id}
func (c *Client) Queue(collection string) *Collection[types.QueueItem] {
	return &Collection[types.QueueItem]{
		Ref:           c.fs.Collection(collection),
		ToFirestore:   QueueItemToFirestore,
		FromFirestore: FirestoreToQueueItem,
	}
}

// FailedJobs is the uniform dead-letter collection: failedJobs/{collection}_{id}
func (c *Client) FailedJobs() *Collection[types.FailedJob] {
	return &Collection[types.FailedJob]{
		Ref:           c.fs.Collection(shared.CollectionFailedJobs),
		ToFirestore:   FailedJobToFirestore,
		FromFirestore: FirestoreToFailedJob,
	}
}

// BackfillStates are sub-collections of Users: users/{uid}/backfill/{provider}
func (c *Client) BackfillStates(userId string) *Collection[types.BackfillState] {
	return &Collection[types.BackfillState]{
		Ref:           c.Users().Doc(userId).Collection(shared.CollectionBackfillState),
		ToFirestore:   BackfillStateToFirestore,
		FromFirestore: FirestoreToBackfillState,
	}
}

// Workouts are sub-collections of Users: users/{uid}/workouts/{provider}:{workoutId}
func (c *Client) Workouts(userId string) *Collection[types.Workout] {
	return &Collection[types.Workout]{
		Ref:           c.Users().Doc(userId).Collection(shared.CollectionWorkouts),
		ToFirestore:   WorkoutToFirestore,
		FromFirestore: FirestoreToWorkout,
	}
}
