// Package oauth keeps provider credentials valid: proactive refresh on expiry,
// ordered fallback across a user's credentials, a refresh sweep and deauthorization.
package oauth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	shared "github.com/fitglue/ingest/pkg"
	"github.com/fitglue/ingest/pkg/failure"
	"github.com/fitglue/ingest/pkg/providers"
	"github.com/fitglue/ingest/pkg/types"
)

// defaultTokenLifetime applies when a token endpoint omits expires_in.
const defaultTokenLifetime = time.Hour

// CredentialStore is the subset of shared.Database the engine needs.
type CredentialStore interface {
	ListCredentials(ctx context.Context, userID string, provider types.ProviderKind) ([]*types.Credential, error)
	ListExpiringCredentials(ctx context.Context, provider types.ProviderKind, before time.Time) ([]*types.Credential, error)
	UpdateCredential(ctx context.Context, userID, credentialID string, data map[string]interface{}) error
	DeleteCredential(ctx context.Context, userID, credentialID string) error
}

// ProviderLookup resolves a provider adapter.
type ProviderLookup interface {
	Get(kind types.ProviderKind) (providers.Provider, error)
}

// Engine is the token refresh engine.
type Engine struct {
	store     CredentialStore
	providers ProviderLookup
	logger    *slog.Logger
	now       func() time.Time
}

func NewEngine(store CredentialStore, registry ProviderLookup, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, providers: registry, logger: logger, now: time.Now}
}

// Resolve returns a usable credential. Without force, an unexpired credential
// is returned unchanged and no network call is made.
//
// On refresh failure the stored credential is kept and returned as-is together
// with a TOKEN_REFRESH_FAILED error, so callers holding other credentials can
// move on while callers that need a fresh token treat the error as fatal.
func (e *Engine) Resolve(ctx context.Context, cred *types.Credential, force bool) (*types.Credential, error) {
	now := e.now()
	if !force && !cred.Expired(now) {
		return cred, nil
	}

	provider, err := e.providers.Get(cred.Provider)
	if err != nil {
		return cred, failure.Wrap(failure.KindInternal, err, "unsupported provider")
	}

	logger := e.logger.With("user_id", cred.UserID, "provider", cred.Provider, "credential_id", cred.ID)
	tok, err := provider.RefreshToken(ctx, cred)
	if err != nil {
		fe := asRefreshFailure(err)
		logger.Warn("Token refresh failed", "error", fe.Error(), "status", fe.HTTPStatus, "provider_code", fe.ProviderCode)
		return cred, fe
	}

	refreshed := e.apply(cred, tok, now)
	if refreshed.ExternalUserID == "" {
		if id, err := provider.ResolveUserID(ctx, refreshed); err == nil {
			refreshed.ExternalUserID = id
		} else {
			logger.Warn("Could not resolve provider user id", "error", err)
		}
	}

	if err := e.store.UpdateCredential(ctx, cred.UserID, cred.ID, persistFields(cred, refreshed)); err != nil {
		logger.Error("Failed to persist refreshed token", "error", err)
		return cred, failure.Wrap(failure.KindTokenRefreshFailed, err, "failed to persist refreshed token")
	}

	logger.Info("Token refreshed", "expires_at", refreshed.ExpiryTime().UTC().Format(time.RFC3339))
	return refreshed, nil
}

func (e *Engine) apply(cred *types.Credential, tok *oauth2.Token, now time.Time) *types.Credential {
	out := *cred
	out.AccessToken = tok.AccessToken
	// Providers that do not rotate refresh tokens return none; keep the stored one.
	if tok.RefreshToken != "" {
		out.RefreshToken = tok.RefreshToken
	}
	if tok.TokenType != "" {
		out.TokenType = tok.TokenType
	}
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		out.Scope = scope
	}
	if id := providers.ExternalUserIDFromToken(tok); id != "" {
		out.ExternalUserID = id
	}

	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = now.Add(defaultTokenLifetime)
	}
	out.ExpiresAt = expiry.Add(-shared.TokenExpiryBuffer).UnixMilli()
	out.DateRefreshed = now
	return &out
}

// persistFields is the single update written per successful refresh.
func persistFields(before, after *types.Credential) map[string]interface{} {
	data := map[string]interface{}{
		"access_token":   after.AccessToken,
		"token_type":     after.TokenType,
		"scope":          after.Scope,
		"expires_at":     after.ExpiresAt,
		"date_refreshed": after.DateRefreshed,
	}
	if after.RefreshToken != "" && after.RefreshToken != before.RefreshToken {
		data["refresh_token"] = after.RefreshToken
	}
	if after.ExternalUserID != "" {
		data["external_user_id"] = after.ExternalUserID
	}
	return data
}

func asRefreshFailure(err error) *failure.Error {
	fe, ok := failure.As(err)
	if !ok {
		return failure.Wrap(failure.KindTokenRefreshFailed, err, "token refresh failed")
	}
	if fe.Kind == failure.KindTokenRefreshFailed {
		return fe
	}
	out := *fe
	out.Kind = failure.KindTokenRefreshFailed
	out.Message = "token refresh failed"
	out.Cause = fe
	return &out
}

// RequireFresh walks creds in order and returns the first that resolves.
// Credentials after the first success are never touched.
func (e *Engine) RequireFresh(ctx context.Context, creds []*types.Credential) (*types.Credential, error) {
	if len(creds) == 0 {
		return nil, failure.New(failure.KindNoTokenFound, "no credential found")
	}
	var lastErr error
	for _, cred := range creds {
		resolved, err := e.Resolve(ctx, cred, false)
		if err == nil {
			return resolved, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// ResolveForUser loads the user's credentials for provider and requires one to be fresh.
func (e *Engine) ResolveForUser(ctx context.Context, userID string, provider types.ProviderKind) (*types.Credential, error) {
	creds, err := e.store.ListCredentials(ctx, userID, provider)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	if len(creds) == 0 {
		return nil, failure.New(failure.KindNoTokenFound, "no %s credential found", provider)
	}
	return e.RequireFresh(ctx, creds)
}

// SweepResult summarizes one refresh sweep.
type SweepResult struct {
	Provider  types.ProviderKind `json:"provider"`
	Checked   int                `json:"checked"`
	Refreshed int                `json:"refreshed"`
	Failed    int                `json:"failed"`
}

// Sweep force-refreshes every credential of provider expiring within horizon.
// Individual failures are logged and counted, never returned.
func (e *Engine) Sweep(ctx context.Context, provider types.ProviderKind, horizon time.Duration) (SweepResult, error) {
	result := SweepResult{Provider: provider}
	creds, err := e.store.ListExpiringCredentials(ctx, provider, e.now().Add(horizon))
	if err != nil {
		return result, fmt.Errorf("list expiring %s credentials: %w", provider, err)
	}

	for _, cred := range creds {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.Checked++
		if _, err := e.Resolve(ctx, cred, true); err != nil {
			result.Failed++
			continue
		}
		result.Refreshed++
	}
	return result, nil
}

// Deauthorize revokes every credential the user holds for provider and deletes
// them. Revocation is best effort; deletion is not.
func (e *Engine) Deauthorize(ctx context.Context, userID string, provider types.ProviderKind) (int, error) {
	adapter, err := e.providers.Get(provider)
	if err != nil {
		return 0, failure.Wrap(failure.KindInternal, err, "unsupported provider")
	}
	creds, err := e.store.ListCredentials(ctx, userID, provider)
	if err != nil {
		return 0, fmt.Errorf("list credentials: %w", err)
	}
	if len(creds) == 0 {
		return 0, failure.New(failure.KindNoTokenFound, "no %s credential found", provider)
	}

	deleted := 0
	for _, cred := range creds {
		logger := e.logger.With("user_id", userID, "provider", provider, "credential_id", cred.ID)
		live, err := e.Resolve(ctx, cred, false)
		if err != nil {
			logger.Warn("Revoking with stale token", "error", err)
		}
		if err := adapter.Deauthorize(ctx, live); err != nil {
			logger.Warn("Provider deauthorization failed", "error", err)
		}
		if err := e.store.DeleteCredential(ctx, userID, cred.ID); err != nil {
			return deleted, fmt.Errorf("delete credential %s: %w", cred.ID, err)
		}
		deleted++
	}
	logger := e.logger.With("user_id", userID, "provider", provider)
	logger.Info("Credentials deauthorized", "count", deleted)
	return deleted, nil
}
