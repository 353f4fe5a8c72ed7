package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/fitglue/ingest/pkg/failure"
	httputil "github.com/fitglue/ingest/pkg/infrastructure/http"
	"github.com/fitglue/ingest/pkg/types"
)

// PermissionHistoricalDataExport is the Garmin permission backfill requires.
const PermissionHistoricalDataExport = "HISTORICAL_DATA_EXPORT"

func DefaultGarminConfig() Config {
	return Config{
		Kind:                types.ProviderGarmin,
		QueueCollection:     QueueCollection(types.ProviderGarmin),
		APIBaseURL:          "https://apis.garmin.com",
		AuthBaseURL:         "https://diauth.garmin.com",
		TokenPath:           "/di-oauth2-service/oauth/token",
		AuthStyle:           oauth2.AuthStyleInParams,
		MaxWindowSpan:       89 * day,
		RequiredPermissions: []string{PermissionHistoricalDataExport},
		Cooldown:            FixedCooldown{Days: 30},
		RequestTimeout:      30 * time.Second,
		RequestsPerSecond:   5,
		Burst:               5,
	}
}

// Garmin talks to the Garmin Health/Activity API.
type Garmin struct {
	cfg     Config
	secrets Secrets
	client  *httputil.Client
}

func NewGarmin(cfg Config, secrets Secrets) *Garmin {
	return &Garmin{cfg: cfg, secrets: secrets, client: cfg.NewHTTPClient()}
}

func (g *Garmin) Kind() types.ProviderKind { return types.ProviderGarmin }
func (g *Garmin) Config() Config { return g.cfg }

func (g *Garmin) RefreshToken(ctx context.Context, cred *types.Credential) (*oauth2.Token, error) {
	return refreshWithOAuth2(ctx, g.client, g.cfg, g.secrets, cred.RefreshToken)
}

func (g *Garmin) authHeader(cred *types.Credential) http.Header {
	h := http.Header{}
	h.Set("Authorization", bearer(cred.AccessToken))
	return h
}

func (g *Garmin) ResolveUserID(ctx context.Context, cred *types.Credential) (string, error) {
	body, err := g.client.Get(ctx, g.cfg.APIBaseURL+"/wellness-api/rest/user/id", g.authHeader(cred))
	if err != nil {
		return "", err
	}
	var resp struct {
		UserID string `json:"userId"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode garmin user id: %w", err)
	}
	return resp.UserID, nil
}

func (g *Garmin) FetchPermissions(ctx context.Context, cred *types.Credential) ([]string, error) {
	body, err := g.client.Get(ctx, g.cfg.APIBaseURL+"/wellness-api/rest/user/permissions", g.authHeader(cred))
	if err != nil {
		return nil, err
	}
	var perms []string
	if err := json.Unmarshal(body, &perms); err != nil {
		return nil, fmt.Errorf("decode garmin permissions: %w", err)
	}
	return perms, nil
}

func (g *Garmin) Deauthorize(ctx context.Context, cred *types.Credential) error {
	_, err := g.client.Delete(ctx, g.cfg.APIBaseURL+"/wellness-api/rest/user/registration", g.authHeader(cred))
	return err
}

func (g *Garmin) FetchActivity(ctx context.Context, cred *types.Credential, item *types.QueueItem) ([]byte, error) {
	target := item.FileURL
	if target == "" {
		target = g.cfg.APIBaseURL + "/wellness-api/rest/activityFile?id=" + url.QueryEscape(item.WorkoutID)
	}
	return g.client.Get(ctx, target, g.authHeader(cred))
}

// RequestBackfill asks Garmin to push the window's activities. Workouts arrive
// later through the ping/push trigger, so no workouts are returned.
func (g *Garmin) RequestBackfill(ctx context.Context, cred *types.Credential, window types.Window) ([]BackfillWorkout, error) {
	q := url.Values{}
	q.Set("summaryStartTimeInSeconds", fmt.Sprint(window.Start.Unix()))
	q.Set("summaryEndTimeInSeconds", fmt.Sprint(window.End.Unix()))
	target := g.cfg.APIBaseURL + "/wellness-api/rest/backfill/activityDetails?" + q.Encode()

	_, err := g.client.Get(ctx, target, g.authHeader(cred))
	if err != nil {
		return nil, classifyBackfillError(err)
	}
	return nil, nil
}

// classifyBackfillError maps a provider failure from a backfill request onto
// the orchestrator's kinds: conflict, range-too-early, or generic provider error.
func classifyBackfillError(err error) error {
	fe, ok := failure.As(err)
	if !ok || fe.Kind != failure.KindProviderError {
		return err
	}
	switch {
	case fe.HTTPStatus == http.StatusConflict:
		fe.Kind = failure.KindDuplicateBackfill
		fe.Message = "a backfill for this range is already in progress"
	case fe.HTTPStatus == http.StatusBadRequest && predatesMinimum(fe):
		fe.Kind = failure.KindRangePredatesMinimum
		fe.Message = "backfill range predates the earliest allowed start time"
	}
	return fe
}

func predatesMinimum(fe *failure.Error) bool {
	text := strings.ToLower(fe.ProviderMessage)
	if he, ok := fe.Cause.(*httputil.HTTPError); ok {
		text += " " + strings.ToLower(he.Body)
	}
	return strings.Contains(text, "min start time") || strings.Contains(text, "start time before")
}
