package framework

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitglue/ingest/pkg/bootstrap"
	"github.com/fitglue/ingest/pkg/failure"
	"github.com/fitglue/ingest/pkg/testing/mocks"
	"github.com/fitglue/ingest/pkg/types"
)

func newService() *bootstrap.Service {
	return &bootstrap.Service{
		Config: &bootstrap.Config{},
		Logger: slog.Default(),
		DB:     mocks.NewMemoryDatabase(),
		Auth:   mocks.StaticVerifier{"good-token": "user-1"},
	}
}

func pubsubEvent(t *testing.T, payload string) event.Event {
	t.Helper()
	var msg types.PubSubMessage
	msg.Message.Data = []byte(payload)
	e := event.New()
	e.SetID("evt-1")
	e.SetType("google.cloud.pubsub.topic.v1.messagePublished")
	e.SetSource("//pubsub.googleapis.com/projects/p/topics/topic-queue-drain")
	require.NoError(t, e.SetData(event.ApplicationJSON, msg))
	return e
}

func TestWrapCloudEvent(t *testing.T) {
	svc := newService()

	var seen *FrameworkContext
	handler := func(ctx context.Context, e event.Event, fwCtx *FrameworkContext) (interface{}, error) {
		seen = fwCtx
		req, err := DecodeDrainRequest(e)
		if err != nil {
			return nil, err
		}
		return map[string]string{"provider": req.Provider}, nil
	}

	err := WrapCloudEvent("queue-processor", svc, handler)(context.Background(), pubsubEvent(t, `{"provider":"garmin"}`))
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.NotEmpty(t, seen.ExecutionID)
	assert.Same(t, svc, seen.Service)
}

func TestWrapCloudEvent_PropagatesError(t *testing.T) {
	boom := errors.New("firestore unavailable")
	handler := func(ctx context.Context, e event.Event, fwCtx *FrameworkContext) (interface{}, error) {
		return nil, boom
	}

	err := WrapCloudEvent("queue-processor", newService(), handler)(context.Background(), pubsubEvent(t, `{}`))
	assert.ErrorIs(t, err, boom)
}

func TestDecodeDrainRequest(t *testing.T) {
	req, err := DecodeDrainRequest(pubsubEvent(t, `{"provider":"suunto"}`))
	require.NoError(t, err)
	assert.Equal(t, "suunto", req.Provider)

	req, err = DecodeDrainRequest(pubsubEvent(t, ""))
	require.NoError(t, err)
	assert.Empty(t, req.Provider)

	_, err = DecodeDrainRequest(pubsubEvent(t, "not json"))
	assert.True(t, failure.Is(err, failure.KindInvalidRequest))
}

func TestExtractProvider(t *testing.T) {
	assert.Equal(t, "coros", extractProvider(pubsubEvent(t, `{"provider":"coros"}`)))

	direct := event.New()
	require.NoError(t, direct.SetData(event.ApplicationJSON, map[string]string{"provider": "garmin"}))
	assert.Equal(t, "garmin", extractProvider(direct))
}

func doRequest(t *testing.T, h http.HandlerFunc, method, token, body string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h(rec, req)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestWrapAuthenticatedHTTP(t *testing.T) {
	svc := newService()
	echo := func(r *http.Request, fwCtx *FrameworkContext) (interface{}, error) {
		var body struct {
			Provider string `json:"provider"`
		}
		if err := DecodeJSON(r, &body); err != nil {
			return nil, err
		}
		switch body.Provider {
		case "cooldown":
			return nil, failure.New(failure.KindCooldownActive, "Next import available on 2024-07-01")
		case "broken":
			return nil, errors.New("token=secret leaked into error")
		}
		return map[string]string{"user": fwCtx.UserID}, nil
	}
	h := WrapAuthenticatedHTTP("backfill-handler", svc, echo)

	tests := []struct {
		name       string
		method     string
		token      string
		body       string
		wantStatus int
		wantCode   string
		wantError  string
	}{
		{"success", http.MethodPost, "good-token", `{"provider":"garmin"}`, http.StatusOK, "", ""},
		{"wrong method", http.MethodGet, "good-token", "", http.StatusMethodNotAllowed, "", "Method not allowed"},
		{"missing token", http.MethodPost, "", `{}`, http.StatusUnauthorized, failure.CodeUnauthenticated, "Authorization header is required"},
		{"bad token", http.MethodPost, "stale", `{}`, http.StatusUnauthorized, failure.CodeUnauthenticated, "Unauthorized"},
		{"malformed body", http.MethodPost, "good-token", `{`, http.StatusBadRequest, failure.CodeInvalidArgument, "Invalid request body"},
		{"classified failure", http.MethodPost, "good-token", `{"provider":"cooldown"}`, http.StatusForbidden, failure.CodePermissionDenied, "Next import available on 2024-07-01"},
		{"internal failure", http.MethodPost, "good-token", `{"provider":"broken"}`, http.StatusInternalServerError, failure.CodeInternal, "Internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := doRequest(t, h, tt.method, tt.token, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.Equal(t, tt.wantError, resp.Error)
			assert.Equal(t, tt.wantStatus == http.StatusOK, resp.Success)
			assert.NotContains(t, rec.Body.String(), "secret")
		})
	}
}

func TestWrapAuthenticatedHTTP_PassesUser(t *testing.T) {
	h := WrapAuthenticatedHTTP("backfill-handler", newService(), func(r *http.Request, fwCtx *FrameworkContext) (interface{}, error) {
		return map[string]string{"user": fwCtx.UserID}, nil
	})

	_, resp := doRequest(t, h, http.MethodPost, "good-token", `{}`)
	assert.Equal(t, map[string]interface{}{"user": "user-1"}, resp.Result)
}
