// Package providers binds each supported provider kind to a fixed configuration
// record and a common capability interface.
package providers

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	shared "github.com/fitglue/ingest/pkg"
	httputil "github.com/fitglue/ingest/pkg/infrastructure/http"
	"github.com/fitglue/ingest/pkg/types"
)

// Secrets are the client credentials issued by a provider.
type Secrets struct {
	ClientID        string
	ClientSecret    string
	SubscriptionKey string
}

// Config is the immutable per-provider configuration record.
type Config struct {
	Kind            types.ProviderKind
	QueueCollection string

	APIBaseURL  string
	AuthBaseURL string
	TokenPath   string
	AuthStyle   oauth2.AuthStyle

	// MaxWindowSpan is kept strictly below the provider's documented limit.
	MaxWindowSpan       time.Duration
	RequiredPermissions []string
	Cooldown            CooldownPolicy

	RequestTimeout    time.Duration
	RequestsPerSecond float64
	Burst             int
}

// TokenURL returns the absolute token endpoint.
func (c Config) TokenURL() string {
	return c.AuthBaseURL + c.TokenPath
}

// NewHTTPClient builds the rate-limited fetch wrapper for this provider.
func (c Config) NewHTTPClient() *httputil.Client {
	return httputil.NewClient(string(c.Kind), c.RequestTimeout, c.RequestsPerSecond, c.Burst)
}

// BackfillWorkout is a workout discovered by a pull-based backfill window.
type BackfillWorkout struct {
	WorkoutID string
	FileURL   string
}

// Provider is the capability set every provider adapter implements.
type Provider interface {
	Kind() types.ProviderKind
	Config() Config

	// RefreshToken exchanges the credential's refresh token for a new token set.
	RefreshToken(ctx context.Context, cred *types.Credential) (*oauth2.Token, error)
	ResolveUserID(ctx context.Context, cred *types.Credential) (string, error)
	FetchPermissions(ctx context.Context, cred *types.Credential) ([]string, error)
	Deauthorize(ctx context.Context, cred *types.Credential) error

	// FetchActivity downloads the workout file described by the queue item.
	FetchActivity(ctx context.Context, cred *types.Credential, item *types.QueueItem) ([]byte, error)

	// RequestBackfill asks the provider for one window of history. Push-based
	// providers return no workouts; pull-based providers return the window's workouts.
	RequestBackfill(ctx context.Context, cred *types.Credential, window types.Window) ([]BackfillWorkout, error)
}

// Registry resolves a provider kind to its adapter.
type Registry struct {
	providers map[types.ProviderKind]Provider
}

// NewRegistry builds a registry from adapters. Registering a kind twice panics.
func NewRegistry(adapters ...Provider) *Registry {
	r := &Registry{providers: make(map[types.ProviderKind]Provider, len(adapters))}
	for _, p := range adapters {
		if _, exists := r.providers[p.Kind()]; exists {
			panic(fmt.Sprintf("provider already registered: %s", p.Kind()))
		}
		r.providers[p.Kind()] = p
	}
	return r
}

// NewDefaultRegistry wires the production adapters with their default configs.
func NewDefaultRegistry(secrets map[types.ProviderKind]Secrets) *Registry {
	return NewRegistry(
		NewGarmin(DefaultGarminConfig(), secrets[types.ProviderGarmin]),
		NewSuunto(DefaultSuuntoConfig(), secrets[types.ProviderSuunto]),
		NewCoros(DefaultCorosConfig(), secrets[types.ProviderCoros]),
	)
}

// Get returns the adapter for kind.
func (r *Registry) Get(kind types.ProviderKind) (Provider, error) {
	p, ok := r.providers[kind]
	if !ok {
		return nil, fmt.Errorf("provider not registered: %s", kind)
	}
	return p, nil
}

// Kinds returns the registered kinds in the canonical order.
func (r *Registry) Kinds() []types.ProviderKind {
	var kinds []types.ProviderKind
	for _, k := range types.AllProviders {
		if _, ok := r.providers[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// QueueCollection returns the queue collection name for kind.
func QueueCollection(kind types.ProviderKind) string {
	switch kind {
	case types.ProviderGarmin:
		return shared.CollectionGarminQueue
	case types.ProviderSuunto:
		return shared.CollectionSuuntoQueue
	case types.ProviderCoros:
		return shared.CollectionCorosQueue
	}
	return string(kind) + "Queue"
}

func bearer(token string) string {
	return "Bearer " + token
}

// Select resolves a provider name from a trigger payload. An empty name
// selects every registered provider.
func (r *Registry) Select(name string) ([]types.ProviderKind, error) {
	if name == "" {
		return r.Kinds(), nil
	}
	kind, err := types.ParseProviderKind(name)
	if err != nil {
		return nil, err
	}
	if _, err := r.Get(kind); err != nil {
		return nil, err
	}
	return []types.ProviderKind{kind}, nil
}
