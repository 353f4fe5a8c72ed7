package providers

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/fitglue/ingest/pkg/failure"
	httputil "github.com/fitglue/ingest/pkg/infrastructure/http"
	"github.com/fitglue/ingest/pkg/types"
)

// refreshWithOAuth2 runs a standard refresh_token grant against cfg's token endpoint.
func refreshWithOAuth2(ctx context.Context, client *httputil.Client, cfg Config, secrets Secrets, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, failure.New(failure.KindTokenRefreshFailed, "missing refresh token for %s", cfg.Kind)
	}
	if err := client.Wait(ctx); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.RequestTimeout)
		defer cancel()
	}

	oc := &oauth2.Config{
		ClientID:     secrets.ClientID,
		ClientSecret: secrets.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  cfg.TokenURL(),
			AuthStyle: cfg.AuthStyle,
		},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, client.Underlying())

	// An empty access token is never valid, so the source always hits the endpoint.
	tok, err := oc.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, refreshFailure(cfg.Kind, err)
	}
	return tok, nil
}

func refreshFailure(kind types.ProviderKind, err error) *failure.Error {
	fe := &failure.Error{
		Kind:    failure.KindTokenRefreshFailed,
		Message: fmt.Sprintf("%s token refresh failed", kind),
		Cause:   err,
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.Response != nil {
			fe.HTTPStatus = re.Response.StatusCode
		}
		fe.ProviderCode = re.ErrorCode
		fe.ProviderMessage = re.ErrorDescription
	}
	if errors.Is(err, context.DeadlineExceeded) {
		fe.Kind = failure.KindTimeout
	}
	return fe
}

// ExternalUserIDFromToken returns the provider user id some token endpoints
// include next to the tokens.
func ExternalUserIDFromToken(tok *oauth2.Token) string {
	for _, key := range []string{"user", "openId", "userId", "user_id"} {
		switch v := tok.Extra(key).(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}
