package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitglue/ingest/pkg/stats"
	"github.com/fitglue/ingest/pkg/testing/mocks"
	"github.com/fitglue/ingest/pkg/types"
)

type fakeStats struct {
	err error
}

func (f fakeStats) Report(ctx context.Context) (*stats.Report, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &stats.Report{Total: &stats.ProviderStats{Pending: 7}}, nil
}

func (f fakeStats) ForProvider(ctx context.Context, kind types.ProviderKind) (*stats.ProviderStats, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &stats.ProviderStats{Provider: kind, Stuck: 2}, nil
}

func serve(t *testing.T, h http.Handler, path, token string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec, body
}

func TestRouter(t *testing.T) {
	verifier := mocks.StaticVerifier{"admin-token": "admin-1", "user-token": "user-1"}
	h := NewRouter(fakeStats{}, verifier, []string{"admin-1"}, slog.Default())

	tests := []struct {
		name       string
		path       string
		token      string
		wantStatus int
		check      func(t *testing.T, body map[string]interface{})
	}{
		{"health without auth", "/healthz", "", http.StatusOK, func(t *testing.T, body map[string]interface{}) {
			assert.Equal(t, "ok", body["status"])
		}},
		{"stats without auth", "/stats", "", http.StatusUnauthorized, nil},
		{"stats with bad token", "/stats", "forged", http.StatusUnauthorized, nil},
		{"stats as non-admin", "/stats", "user-token", http.StatusForbidden, func(t *testing.T, body map[string]interface{}) {
			assert.Equal(t, "permission-denied", body["code"])
		}},
		{"stats as admin", "/stats", "admin-token", http.StatusOK, func(t *testing.T, body map[string]interface{}) {
			total := body["total"].(map[string]interface{})
			assert.Equal(t, float64(7), total["pending"])
		}},
		{"provider stats", "/stats/Suunto", "admin-token", http.StatusOK, func(t *testing.T, body map[string]interface{}) {
			assert.Equal(t, "suunto", body["provider"])
			assert.Equal(t, float64(2), body["stuck"])
		}},
		{"unknown provider", "/stats/strava", "admin-token", http.StatusBadRequest, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := serve(t, h, tt.path, tt.token)
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.check != nil {
				tt.check(t, body)
			}
		})
	}
}

func TestRouter_StoreFailureIsInternal(t *testing.T) {
	h := NewRouter(fakeStats{err: errors.New("firestore: deadline exceeded")}, mocks.StaticVerifier{"t": "admin"}, []string{"admin"}, slog.Default())

	rec, body := serve(t, h, "/stats", "t")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal error", body["error"])
}
