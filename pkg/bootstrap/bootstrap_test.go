package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	shared "github.com/fitglue/ingest/pkg"
	"github.com/fitglue/ingest/pkg/providers"
	"github.com/fitglue/ingest/pkg/testing/mocks"
	"github.com/fitglue/ingest/pkg/types"
)

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := parseConfig(env.Options{Environment: map[string]string{}})
	require.NoError(t, err)

	assert.Equal(t, shared.ProjectID, cfg.ProjectID)
	assert.False(t, cfg.EnablePublish)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10, cfg.MaxRetry)
	assert.Equal(t, 200, cfg.DrainBatchSize)
	assert.Equal(t, 10, cfg.DrainConcurrency)
	assert.Equal(t, 5*time.Minute, cfg.BackfillTimeout)
	assert.Equal(t, time.Hour, cfg.TokenSweepHorizon)
}

func TestParseConfig_Overrides(t *testing.T) {
	cfg, err := parseConfig(env.Options{Environment: map[string]string{
		"GOOGLE_CLOUD_PROJECT":    "fitglue-prod",
		"ENABLE_PUBLISH":          "true",
		"QUEUE_MAX_RETRY":         "5",
		"TOKEN_SWEEP_HORIZON":     "90m",
		"GARMIN_CLIENT_ID":        "garmin-id",
		"GARMIN_CLIENT_SECRET":    "garmin-secret",
		"SUUNTO_SUBSCRIPTION_KEY": "suunto-key",
	}})
	require.NoError(t, err)

	assert.Equal(t, "fitglue-prod", cfg.ProjectID)
	assert.True(t, cfg.EnablePublish)
	assert.Equal(t, 5, cfg.MaxRetry)
	assert.Equal(t, 90*time.Minute, cfg.TokenSweepHorizon)

	secrets := cfg.ProviderSecrets()
	assert.Equal(t, providers.Secrets{ClientID: "garmin-id", ClientSecret: "garmin-secret"}, secrets[types.ProviderGarmin])
	assert.Equal(t, "suunto-key", secrets[types.ProviderSuunto].SubscriptionKey)
	assert.Empty(t, secrets[types.ProviderCoros].ClientID)
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := map[string]map[string]string{
		"non-numeric retry":  {"QUEUE_MAX_RETRY": "ten"},
		"zero retry":         {"QUEUE_MAX_RETRY": "0"},
		"zero concurrency":   {"QUEUE_DRAIN_CONCURRENCY": "0"},
		"malformed duration": {"BACKFILL_TIMEOUT": "five minutes"},
	}
	for name, vars := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := parseConfig(env.Options{Environment: vars})
			assert.Error(t, err)
		})
	}
}

func TestComponentHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(&ComponentHandler{Handler: slog.NewJSONHandler(&buf, GetSlogHandlerOptions(slog.LevelInfo))})

	logger.With("component", "queue").Info("Item processed", "item_id", "q1")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "[queue] Item processed", line["message"])
	assert.Equal(t, "INFO", line["severity"])
	assert.Equal(t, "queue", line["component"])
	assert.Equal(t, "q1", line["item_id"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestWire(t *testing.T) {
	cfg, err := parseConfig(env.Options{Environment: map[string]string{"GCS_ARTIFACT_BUCKET": "artifacts"}})
	require.NoError(t, err)

	db := mocks.NewMemoryDatabase()
	svc := Wire(cfg, Infrastructure{
		DB:       db,
		Store:    &mocks.MockBlobStore{},
		Pub:      &mocks.MockPublisher{},
		Notifier: &mocks.MockNotificationService{},
	}, slog.Default())

	require.NotNil(t, svc.Processor)
	require.NotNil(t, svc.Backfill)
	require.NotNil(t, svc.Tokens)
	assert.Equal(t, types.AllProviders, svc.Registry.Kinds())

	report, err := svc.Stats.Report(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Providers, len(types.AllProviders))
}
