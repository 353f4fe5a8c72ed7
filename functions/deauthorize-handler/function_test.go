package deauthorizehandler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitglue/ingest/pkg/bootstrap"
	"github.com/fitglue/ingest/pkg/failure"
	"github.com/fitglue/ingest/pkg/framework"
	"github.com/fitglue/ingest/pkg/providers"
	"github.com/fitglue/ingest/pkg/testing/mocks"
	"github.com/fitglue/ingest/pkg/types"
)

func TestDeauthorize(t *testing.T) {
	db := mocks.NewMemoryDatabase()
	fake := mocks.NewFakeProvider(types.ProviderCoros)
	svc = bootstrap.Wire(&bootstrap.Config{MaxRetry: 10}, bootstrap.Infrastructure{
		DB:       db,
		Auth:     mocks.StaticVerifier{"id-token": "user-1"},
		Registry: providers.NewRegistry(fake),
	}, slog.Default())
	t.Cleanup(func() { svc = nil })

	db.PutCredential(&types.Credential{
		ID:          "cred-1",
		UserID:      "user-1",
		Provider:    types.ProviderCoros,
		AccessToken: "access",
		ExpiresAt:   time.Now().Add(time.Hour).UnixMilli(),
	})

	call := func(body string) (*httptest.ResponseRecorder, framework.Response) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer id-token")
		rec := httptest.NewRecorder()
		Deauthorize(rec, req)
		var resp framework.Response
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return rec, resp
	}

	rec, resp := call(`{"provider":"coros"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, map[string]interface{}{"provider": "coros", "credentialsRemoved": float64(1)}, resp.Result)
	assert.Nil(t, db.Credential("cred-1"))
	assert.Len(t, fake.CallsTo("Deauthorize"), 1)

	// Nothing left to remove.
	rec, resp = call(`{"provider":"coros"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, failure.CodeUnauthenticated, resp.Code)

	rec, _ = call(`{"provider":"fitbit"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
