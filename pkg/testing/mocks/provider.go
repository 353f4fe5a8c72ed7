package mocks

import (
	"context"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/fitglue/ingest/pkg/providers"
	"github.com/fitglue/ingest/pkg/types"
)

// FakeProvider is a providers.Provider driven by func fields. Every call is
// recorded as "<Method>:<argument>" in Calls.
type FakeProvider struct {
	KindValue   types.ProviderKind
	ConfigValue providers.Config

	RefreshTokenFunc     func(ctx context.Context, cred *types.Credential) (*oauth2.Token, error)
	ResolveUserIDFunc    func(ctx context.Context, cred *types.Credential) (string, error)
	FetchPermissionsFunc func(ctx context.Context, cred *types.Credential) ([]string, error)
	DeauthorizeFunc      func(ctx context.Context, cred *types.Credential) error
	FetchActivityFunc    func(ctx context.Context, cred *types.Credential, item *types.QueueItem) ([]byte, error)
	RequestBackfillFunc  func(ctx context.Context, cred *types.Credential, window types.Window) ([]providers.BackfillWorkout, error)

	mu    sync.Mutex
	calls []string
}

// NewFakeProvider returns a fake using the production config of kind.
func NewFakeProvider(kind types.ProviderKind) *FakeProvider {
	var cfg providers.Config
	switch kind {
	case types.ProviderGarmin:
		cfg = providers.DefaultGarminConfig()
	case types.ProviderSuunto:
		cfg = providers.DefaultSuuntoConfig()
	case types.ProviderCoros:
		cfg = providers.DefaultCorosConfig()
	}
	return &FakeProvider{KindValue: kind, ConfigValue: cfg}
}

func (f *FakeProvider) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

// Calls returns the recorded calls in order.
func (f *FakeProvider) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallsTo returns the recorded calls of one method.
func (f *FakeProvider) CallsTo(method string) []string {
	var out []string
	for _, c := range f.Calls() {
		if len(c) > len(method) && c[:len(method)+1] == method+":" {
			out = append(out, c[len(method)+1:])
		}
	}
	return out
}

func (f *FakeProvider) Kind() types.ProviderKind { return f.KindValue }
func (f *FakeProvider) Config() providers.Config { return f.ConfigValue }

func (f *FakeProvider) RefreshToken(ctx context.Context, cred *types.Credential) (*oauth2.Token, error) {
	f.record("RefreshToken:" + cred.ID)
	if f.RefreshTokenFunc != nil {
		return f.RefreshTokenFunc(ctx, cred)
	}
	return &oauth2.Token{
		AccessToken:  "refreshed-" + cred.ID,
		RefreshToken: cred.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour),
	}, nil
}

func (f *FakeProvider) ResolveUserID(ctx context.Context, cred *types.Credential) (string, error) {
	f.record("ResolveUserID:" + cred.ID)
	if f.ResolveUserIDFunc != nil {
		return f.ResolveUserIDFunc(ctx, cred)
	}
	return "ext-" + cred.UserID, nil
}

func (f *FakeProvider) FetchPermissions(ctx context.Context, cred *types.Credential) ([]string, error) {
	f.record("FetchPermissions:" + cred.ID)
	if f.FetchPermissionsFunc != nil {
		return f.FetchPermissionsFunc(ctx, cred)
	}
	return append([]string{}, f.ConfigValue.RequiredPermissions...), nil
}

func (f *FakeProvider) Deauthorize(ctx context.Context, cred *types.Credential) error {
	f.record("Deauthorize:" + cred.ID)
	if f.DeauthorizeFunc != nil {
		return f.DeauthorizeFunc(ctx, cred)
	}
	return nil
}

func (f *FakeProvider) FetchActivity(ctx context.Context, cred *types.Credential, item *types.QueueItem) ([]byte, error) {
	f.record("FetchActivity:" + cred.ID)
	if f.FetchActivityFunc != nil {
		return f.FetchActivityFunc(ctx, cred, item)
	}
	return []byte("fit-bytes"), nil
}

func (f *FakeProvider) RequestBackfill(ctx context.Context, cred *types.Credential, window types.Window) ([]providers.BackfillWorkout, error) {
	f.record("RequestBackfill:" + window.Start.UTC().Format("2006-01-02") + "/" + window.End.UTC().Format("2006-01-02"))
	if f.RequestBackfillFunc != nil {
		return f.RequestBackfillFunc(ctx, cred, window)
	}
	return nil, nil
}
