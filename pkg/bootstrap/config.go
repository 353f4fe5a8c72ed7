package bootstrap

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	shared "github.com/fitglue/ingest/pkg"
	"github.com/fitglue/ingest/pkg/providers"
	"github.com/fitglue/ingest/pkg/types"
)

// ProviderSecrets are read from <PROVIDER>_CLIENT_ID and friends.
type ProviderSecrets struct {
	ClientID        string `env:"CLIENT_ID"`
	ClientSecret    string `env:"CLIENT_SECRET"`
	SubscriptionKey string `env:"SUBSCRIPTION_KEY"`
}

// Config holds standard configuration for all services. It is parsed once at
// cold start and passed into constructors.
type Config struct {
	ProjectID         string `env:"GOOGLE_CLOUD_PROJECT"`
	EnablePublish     bool   `env:"ENABLE_PUBLISH"`
	GCSArtifactBucket string `env:"GCS_ARTIFACT_BUCKET"`
	LogLevel          string `env:"LOG_LEVEL" envDefault:"info"`
	SentryDSN         string `env:"SENTRY_DSN"`
	Environment       string `env:"ENVIRONMENT" envDefault:"development"`
	Release           string `env:"RELEASE"`

	// AdminUserIDs may read the operational stats of services/api-admin.
	AdminUserIDs []string `env:"ADMIN_USER_IDS" envSeparator:","`

	MaxRetry          int           `env:"QUEUE_MAX_RETRY" envDefault:"10"`
	DrainBatchSize    int           `env:"QUEUE_DRAIN_BATCH_SIZE" envDefault:"200"`
	DrainConcurrency  int           `env:"QUEUE_DRAIN_CONCURRENCY" envDefault:"10"`
	StatsSampleSize   int           `env:"STATS_SAMPLE_SIZE" envDefault:"1000"`
	BackfillTimeout   time.Duration `env:"BACKFILL_TIMEOUT" envDefault:"5m"`
	TokenSweepHorizon time.Duration `env:"TOKEN_SWEEP_HORIZON" envDefault:"1h"`

	Garmin ProviderSecrets `envPrefix:"GARMIN_"`
	Suunto ProviderSecrets `envPrefix:"SUUNTO_"`
	Coros  ProviderSecrets `envPrefix:"COROS_"`
}

// LoadConfig reads configuration from environment variables
func LoadConfig() (*Config, error) {
	return parseConfig(env.Options{})
}

func parseConfig(opts env.Options) (*Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](opts)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.ProjectID == "" {
		cfg.ProjectID = shared.ProjectID
	}
	if cfg.MaxRetry <= 0 {
		return nil, fmt.Errorf("QUEUE_MAX_RETRY must be positive, got %d", cfg.MaxRetry)
	}
	if cfg.DrainConcurrency <= 0 {
		return nil, fmt.Errorf("QUEUE_DRAIN_CONCURRENCY must be positive, got %d", cfg.DrainConcurrency)
	}
	return &cfg, nil
}

// ProviderSecrets returns the OAuth client settings keyed by provider.
func (c *Config) ProviderSecrets() map[types.ProviderKind]providers.Secrets {
	convert := func(s ProviderSecrets) providers.Secrets {
		return providers.Secrets{ClientID: s.ClientID, ClientSecret: s.ClientSecret, SubscriptionKey: s.SubscriptionKey}
	}
	return map[types.ProviderKind]providers.Secrets{
		types.ProviderGarmin: convert(c.Garmin),
		types.ProviderSuunto: convert(c.Suunto),
		types.ProviderCoros:  convert(c.Coros),
	}
}
