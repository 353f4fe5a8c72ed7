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

func DefaultSuuntoConfig() Config {
	return Config{
		Kind:              types.ProviderSuunto,
		QueueCollection:   QueueCollection(types.ProviderSuunto),
		APIBaseURL:        "https://cloudapi.suunto.com",
		AuthBaseURL:       "https://cloudapi-oauth.suunto.com",
		TokenPath:         "/oauth/token",
		AuthStyle:         oauth2.AuthStyleInHeader,
		MaxWindowSpan:     179 * day,
		Cooldown:          VolumeCooldown{BaseDays: 1, WorkoutsPerDay: 500},
		RequestTimeout:    30 * time.Second,
		RequestsPerSecond: 10,
		Burst:             10,
	}
}

// Suunto talks to the Suunto cloud API. Every request carries the APIM
// subscription key next to the bearer token.
type Suunto struct {
	cfg     Config
	secrets Secrets
	client  *httputil.Client
}

func NewSuunto(cfg Config, secrets Secrets) *Suunto {
	return &Suunto{cfg: cfg, secrets: secrets, client: cfg.NewHTTPClient()}
}

func (s *Suunto) Kind() types.ProviderKind { return types.ProviderSuunto }
func (s *Suunto) Config() Config { return s.cfg }

func (s *Suunto) RefreshToken(ctx context.Context, cred *types.Credential) (*oauth2.Token, error) {
	return refreshWithOAuth2(ctx, s.client, s.cfg, s.secrets, cred.RefreshToken)
}

func (s *Suunto) header(cred *types.Credential) http.Header {
	h := http.Header{}
	h.Set("Authorization", bearer(cred.AccessToken))
	h.Set("Ocp-Apim-Subscription-Key", s.secrets.SubscriptionKey)
	return h
}

// ResolveUserID returns the Suunto username. Suunto only reports it as the
// "user" field of a token response, which the engine stores as the external
// id. There is no lookup endpoint.
func (s *Suunto) ResolveUserID(_ context.Context, cred *types.Credential) (string, error) {
	if cred.ExternalUserID == "" {
		return "", failure.New(failure.KindProviderError, "suunto token response carried no user")
	}
	return cred.ExternalUserID, nil
}

// FetchPermissions derives permissions from the granted scope; Suunto has no
// permission endpoint.
func (s *Suunto) FetchPermissions(_ context.Context, cred *types.Credential) ([]string, error) {
	if cred.Scope == "" {
		return []string{}, nil
	}
	return strings.Fields(strings.ReplaceAll(cred.Scope, ",", " ")), nil
}

func (s *Suunto) Deauthorize(ctx context.Context, cred *types.Credential) error {
	target := s.cfg.AuthBaseURL + "/oauth/deauthorize?client_id=" + url.QueryEscape(s.secrets.ClientID)
	_, err := s.client.Get(ctx, target, s.header(cred))
	return err
}

func (s *Suunto) FetchActivity(ctx context.Context, cred *types.Credential, item *types.QueueItem) ([]byte, error) {
	target := item.FileURL
	if target == "" {
		target = s.cfg.APIBaseURL + "/v2/workout/exportFit/" + url.PathEscape(item.WorkoutID)
	}
	return s.client.Get(ctx, target, s.header(cred))
}

type suuntoWorkoutList struct {
	Error   interface{} `json:"error"`
	Payload []struct {
		WorkoutKey string `json:"workoutKey"`
	} `json:"payload"`
}

// RequestBackfill lists the window's workouts.
func (s *Suunto) RequestBackfill(ctx context.Context, cred *types.Credential, window types.Window) ([]BackfillWorkout, error) {
	q := url.Values{}
	q.Set("since", fmt.Sprint(window.Start.UnixMilli()))
	q.Set("until", fmt.Sprint(window.End.UnixMilli()))
	body, err := s.client.Get(ctx, s.cfg.APIBaseURL+"/v2/workouts?"+q.Encode(), s.header(cred))
	if err != nil {
		return nil, classifyBackfillError(err)
	}

	var list suuntoWorkoutList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("decode suunto workouts: %w", err)
	}
	workouts := make([]BackfillWorkout, 0, len(list.Payload))
	for _, w := range list.Payload {
		if w.WorkoutKey == "" {
			continue
		}
		workouts = append(workouts, BackfillWorkout{WorkoutID: w.WorkoutKey})
	}
	return workouts, nil
}
