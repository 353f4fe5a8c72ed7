package tokenrefreshsweep

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/fitglue/ingest/pkg/bootstrap"
	"github.com/fitglue/ingest/pkg/providers"
	"github.com/fitglue/ingest/pkg/testing/mocks"
	"github.com/fitglue/ingest/pkg/types"
)

func sweepEvent(t *testing.T, payload string) event.Event {
	t.Helper()
	var msg types.PubSubMessage
	msg.Message.Data = []byte(payload)

	e := event.New()
	e.SetID("evt-sweep")
	e.SetType("google.cloud.pubsub.topic.v1.messagePublished")
	e.SetSource("//pubsub")
	require.NoError(t, e.SetData(event.ApplicationJSON, msg))
	return e
}

func TestSweepTokens(t *testing.T) {
	db := mocks.NewMemoryDatabase()
	fake := mocks.NewFakeProvider(types.ProviderSuunto)
	fake.RefreshTokenFunc = func(ctx context.Context, cred *types.Credential) (*oauth2.Token, error) {
		if cred.ID == "revoked" {
			return nil, errors.New("invalid_grant")
		}
		return &oauth2.Token{AccessToken: "new-" + cred.ID, RefreshToken: "r", Expiry: time.Now().Add(time.Hour)}, nil
	}

	svc = bootstrap.Wire(&bootstrap.Config{MaxRetry: 10, TokenSweepHorizon: time.Hour}, bootstrap.Infrastructure{
		DB:       db,
		Registry: providers.NewRegistry(fake),
	}, slog.Default())
	t.Cleanup(func() { svc = nil })

	for id, expiresIn := range map[string]time.Duration{
		"soon":    10 * time.Minute,
		"revoked": 20 * time.Minute,
		"later":   6 * time.Hour,
	} {
		db.PutCredential(&types.Credential{
			ID:           id,
			UserID:       "user-" + id,
			Provider:     types.ProviderSuunto,
			AccessToken:  "old-" + id,
			RefreshToken: "refresh-" + id,
			ExpiresAt:    time.Now().Add(expiresIn).UnixMilli(),
		})
	}

	err := SweepTokens(context.Background(), sweepEvent(t, `{"provider":"suunto"}`))
	require.NoError(t, err)

	assert.Equal(t, "new-soon", db.Credential("soon").AccessToken)
	assert.Equal(t, "old-revoked", db.Credential("revoked").AccessToken, "failed refresh keeps the stored token")
	assert.Equal(t, "old-later", db.Credential("later").AccessToken)
	assert.Len(t, fake.CallsTo("RefreshToken"), 2)
}
