package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/fitglue/ingest/pkg/failure"
	httputil "github.com/fitglue/ingest/pkg/infrastructure/http"
	"github.com/fitglue/ingest/pkg/types"
)

const (
	corosResultOK = "0000"
	// A COROS refresh does not rotate the access token; it extends its validity.
	corosTokenValidity = 30 * day
)

func DefaultCorosConfig() Config {
	return Config{
		Kind:              types.ProviderCoros,
		QueueCollection:   QueueCollection(types.ProviderCoros),
		APIBaseURL:        "https://open.coros.com",
		AuthBaseURL:       "https://open.coros.com",
		TokenPath:         "/oauth2/refresh-token",
		MaxWindowSpan:     29 * day,
		Cooldown:          FixedCooldown{Days: 30},
		RequestTimeout:    30 * time.Second,
		RequestsPerSecond: 5,
		Burst:             5,
	}
}

// Coros talks to the COROS open API. Errors are reported through a non-0000
// result code, usually with HTTP 200.
type Coros struct {
	cfg     Config
	secrets Secrets
	client  *httputil.Client
	now     func() time.Time
}

func NewCoros(cfg Config, secrets Secrets) *Coros {
	return &Coros{cfg: cfg, secrets: secrets, client: cfg.NewHTTPClient(), now: time.Now}
}

func (c *Coros) Kind() types.ProviderKind { return types.ProviderCoros }
func (c *Coros) Config() Config { return c.cfg }

type corosEnvelope struct {
	Result  string          `json:"result"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Coros) decode(body []byte, what string) (*corosEnvelope, error) {
	var env corosEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode coros %s: %w", what, err)
	}
	if env.Result != "" && env.Result != corosResultOK {
		return nil, &failure.Error{
			Kind:            failure.KindProviderError,
			Message:         fmt.Sprintf("coros %s failed", what),
			ProviderCode:    "COROS_" + env.Result,
			ProviderMessage: env.Message,
		}
	}
	return &env, nil
}

func (c *Coros) RefreshToken(ctx context.Context, cred *types.Credential) (*oauth2.Token, error) {
	if cred.RefreshToken == "" {
		return nil, failure.New(failure.KindTokenRefreshFailed, "missing refresh token for coros")
	}
	form := url.Values{}
	form.Set("client_id", c.secrets.ClientID)
	form.Set("client_secret", c.secrets.ClientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", cred.RefreshToken)

	body, err := c.client.PostForm(ctx, c.cfg.TokenURL(), form, nil)
	if err == nil {
		_, err = c.decode(body, "token refresh")
	}
	if err != nil {
		fe, ok := failure.As(err)
		if !ok {
			return nil, failure.Wrap(failure.KindTokenRefreshFailed, err, "coros token refresh failed")
		}
		if fe.Kind == failure.KindProviderError {
			fe.Kind = failure.KindTokenRefreshFailed
			fe.Message = "coros token refresh failed"
		}
		return nil, fe
	}

	tok := &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		TokenType:    cred.TokenType,
		Expiry:       c.now().Add(corosTokenValidity),
	}
	return tok, nil
}

// ResolveUserID returns the COROS openId captured at authorization time.
func (c *Coros) ResolveUserID(_ context.Context, cred *types.Credential) (string, error) {
	if cred.ExternalUserID == "" {
		return "", failure.New(failure.KindNoTokenFound, "coros credential has no openId")
	}
	return cred.ExternalUserID, nil
}

// FetchPermissions returns an empty list; COROS grants are all-or-nothing.
func (c *Coros) FetchPermissions(context.Context, *types.Credential) ([]string, error) {
	return []string{}, nil
}

func (c *Coros) Deauthorize(ctx context.Context, cred *types.Credential) error {
	body, err := c.client.PostForm(ctx, c.cfg.APIBaseURL+"/oauth2/deauthorize", url.Values{"token": {cred.AccessToken}}, nil)
	if err != nil {
		return err
	}
	_, err = c.decode(body, "deauthorize")
	return err
}

func (c *Coros) query(cred *types.Credential) url.Values {
	q := url.Values{}
	q.Set("token", cred.AccessToken)
	q.Set("openId", cred.ExternalUserID)
	return q
}

func (c *Coros) FetchActivity(ctx context.Context, cred *types.Credential, item *types.QueueItem) ([]byte, error) {
	fileURL := item.FileURL
	if fileURL == "" {
		q := c.query(cred)
		q.Set("labelId", item.WorkoutID)
		body, err := c.client.Get(ctx, c.cfg.APIBaseURL+"/v2/coros/sport/detail/fit?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}
		env, err := c.decode(body, "workout detail")
		if err != nil {
			return nil, err
		}
		var data struct {
			FileURL string `json:"fileUrl"`
		}
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, fmt.Errorf("decode coros workout detail: %w", err)
		}
		if data.FileURL == "" {
			return nil, &failure.Error{
				Kind:         failure.KindProviderError,
				Message:      "coros workout has no file",
				HTTPStatus:   http.StatusNotFound,
				ProviderCode: "COROS_NO_FILE",
			}
		}
		fileURL = data.FileURL
	}
	return c.client.Get(ctx, fileURL, nil)
}

// RequestBackfill lists the window's workouts. Dates are whole days.
func (c *Coros) RequestBackfill(ctx context.Context, cred *types.Credential, window types.Window) ([]BackfillWorkout, error) {
	q := c.query(cred)
	q.Set("startDate", window.Start.UTC().Format("20060102"))
	q.Set("endDate", window.End.UTC().Format("20060102"))
	body, err := c.client.Get(ctx, c.cfg.APIBaseURL+"/v2/coros/sport/list?"+q.Encode(), nil)
	if err != nil {
		return nil, classifyBackfillError(err)
	}
	env, err := c.decode(body, "workout list")
	if err != nil {
		return nil, err
	}

	var data []struct {
		LabelID string `json:"labelId"`
		FitURL  string `json:"fitUrl"`
	}
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, fmt.Errorf("decode coros workout list: %w", err)
		}
	}
	workouts := make([]BackfillWorkout, 0, len(data))
	for _, w := range data {
		if w.LabelID == "" {
			continue
		}
		workouts = append(workouts, BackfillWorkout{WorkoutID: w.LabelID, FileURL: w.FitURL})
	}
	return workouts, nil
}
