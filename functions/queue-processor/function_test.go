package queueprocessor

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitglue/ingest/pkg/bootstrap"
	"github.com/fitglue/ingest/pkg/failure"
	"github.com/fitglue/ingest/pkg/providers"
	"github.com/fitglue/ingest/pkg/testing/mocks"
	"github.com/fitglue/ingest/pkg/types"
)

func setup(t *testing.T) (*mocks.MemoryDatabase, *mocks.FakeProvider) {
	t.Helper()
	db := mocks.NewMemoryDatabase()
	fake := mocks.NewFakeProvider(types.ProviderGarmin)

	// Inject into the global service
	svc = bootstrap.Wire(&bootstrap.Config{
		GCSArtifactBucket: "test-bucket",
		MaxRetry:          10,
		DrainBatchSize:    50,
		DrainConcurrency:  2,
	}, bootstrap.Infrastructure{
		DB:       db,
		Store:    &mocks.MockBlobStore{},
		Pub:      &mocks.MockPublisher{},
		Registry: providers.NewRegistry(fake),
	}, slog.Default())
	t.Cleanup(func() { svc = nil })

	db.PutCredential(&types.Credential{
		ID:             "cred-1",
		UserID:         "user-1",
		Provider:       types.ProviderGarmin,
		ExternalUserID: "garmin-1",
		AccessToken:    "access",
		RefreshToken:   "refresh",
		ExpiresAt:      time.Now().Add(time.Hour).UnixMilli(),
	})
	return db, fake
}

func drainEvent(t *testing.T, payload string) event.Event {
	t.Helper()
	var msg types.PubSubMessage
	msg.Message.Data = []byte(payload)

	e := event.New()
	e.SetID("evt-drain")
	e.SetType("google.cloud.pubsub.topic.v1.messagePublished")
	e.SetSource("//pubsub")
	require.NoError(t, e.SetData(event.ApplicationJSON, msg))
	return e
}

func TestProcessQueue_Drain(t *testing.T) {
	db, fake := setup(t)
	for _, id := range []string{"q1", "q2"} {
		db.PutQueueItem("garminQueue", &types.QueueItem{
			ID:             id,
			Provider:       types.ProviderGarmin,
			ExternalUserID: "garmin-1",
			WorkoutID:      "w-" + id,
			DateCreated:    time.Now().Add(-time.Minute),
		})
	}

	err := ProcessQueue(context.Background(), drainEvent(t, `{"provider":"garmin"}`))
	require.NoError(t, err)

	assert.True(t, db.QueueItem("garminQueue", "q1").Processed)
	assert.True(t, db.QueueItem("garminQueue", "q2").Processed)
	assert.Len(t, fake.CallsTo("FetchActivity"), 2)
}

func TestProcessQueue_SingleItem(t *testing.T) {
	db, fake := setup(t)
	db.PutQueueItem("garminQueue", &types.QueueItem{ID: "q1", Provider: types.ProviderGarmin, ExternalUserID: "garmin-1", WorkoutID: "w-1"})
	db.PutQueueItem("garminQueue", &types.QueueItem{ID: "q2", Provider: types.ProviderGarmin, ExternalUserID: "garmin-1", WorkoutID: "w-2"})

	err := ProcessQueue(context.Background(), drainEvent(t, `{"provider":"garmin","itemId":"q2"}`))
	require.NoError(t, err)

	assert.False(t, db.QueueItem("garminQueue", "q1").Processed)
	assert.True(t, db.QueueItem("garminQueue", "q2").Processed)
	assert.Len(t, fake.CallsTo("FetchActivity"), 1)
}

func TestProcessQueue_RejectsBadPayload(t *testing.T) {
	setup(t)

	tests := map[string]string{
		"unknown provider":      `{"provider":"strava"}`,
		"item without provider": `{"itemId":"q1"}`,
	}
	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			err := ProcessQueue(context.Background(), drainEvent(t, payload))
			assert.True(t, failure.Is(err, failure.KindInvalidRequest), "got %v", err)
		})
	}
}

func TestProcessQueue_EmptyPayloadDrainsEveryProvider(t *testing.T) {
	db, _ := setup(t)
	db.PutQueueItem("garminQueue", &types.QueueItem{ID: "q1", Provider: types.ProviderGarmin, ExternalUserID: "garmin-1", WorkoutID: "w-1"})

	require.NoError(t, ProcessQueue(context.Background(), drainEvent(t, "")))
	assert.True(t, db.QueueItem("garminQueue", "q1").Processed)
}
