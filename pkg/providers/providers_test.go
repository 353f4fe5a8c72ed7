package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitglue/ingest/pkg/failure"
	"github.com/fitglue/ingest/pkg/types"
)

func testConfig(cfg Config, baseURL string) Config {
	cfg.APIBaseURL = baseURL
	cfg.AuthBaseURL = baseURL
	cfg.RequestsPerSecond = 0
	cfg.RequestTimeout = 2 * time.Second
	return cfg
}

func TestGarmin_RefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/di-oauth2-service/oauth/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "old-refresh", r.PostForm.Get("refresh_token"))
		assert.Equal(t, "garmin-client", r.PostForm.Get("client_id"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "new-access",
			"refresh_token": "new-refresh",
			"token_type":    "bearer",
			"expires_in":    86400,
			"scope":         "PARTNER_READ",
		})
	}))
	defer srv.Close()

	g := NewGarmin(testConfig(DefaultGarminConfig(), srv.URL), Secrets{ClientID: "garmin-client", ClientSecret: "s"})
	tok, err := g.RefreshToken(context.Background(), &types.Credential{RefreshToken: "old-refresh"})
	require.NoError(t, err)
	assert.Equal(t, "new-access", tok.AccessToken)
	assert.Equal(t, "new-refresh", tok.RefreshToken)
	assert.Equal(t, "PARTNER_READ", tok.Extra("scope"))
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), tok.Expiry, time.Minute)
}

func TestGarmin_RefreshToken_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"refresh token revoked"}`))
	}))
	defer srv.Close()

	g := NewGarmin(testConfig(DefaultGarminConfig(), srv.URL), Secrets{ClientID: "c"})
	_, err := g.RefreshToken(context.Background(), &types.Credential{RefreshToken: "rt"})
	require.Error(t, err)

	fe, ok := failure.As(err)
	require.True(t, ok)
	assert.Equal(t, failure.KindTokenRefreshFailed, fe.Kind)
	assert.Equal(t, http.StatusBadRequest, fe.HTTPStatus)
	assert.Equal(t, "invalid_grant", fe.ProviderCode)
}

func TestGarmin_RefreshToken_MissingRefreshToken(t *testing.T) {
	g := NewGarmin(DefaultGarminConfig(), Secrets{})
	_, err := g.RefreshToken(context.Background(), &types.Credential{})
	assert.True(t, failure.Is(err, failure.KindTokenRefreshFailed))
}

func TestGarmin_RequestBackfill(t *testing.T) {
	window := types.Window{
		Start: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2023, 3, 31, 0, 0, 0, 0, time.UTC),
	}

	tests := []struct {
		name     string
		status   int
		body     string
		wantKind failure.Kind
	}{
		{name: "accepted", status: http.StatusAccepted},
		{name: "duplicate", status: http.StatusConflict, body: `{"errorMessage":"Duplicate backfill"}`, wantKind: failure.KindDuplicateBackfill},
		{name: "predates minimum", status: http.StatusBadRequest, body: `{"errorMessage":"start time is before min start time of 2023-02-01"}`, wantKind: failure.KindRangePredatesMinimum},
		{name: "other bad request", status: http.StatusBadRequest, body: `{"errorMessage":"bad params"}`, wantKind: failure.KindProviderError},
		{name: "server error", status: http.StatusBadGateway, body: "upstream down", wantKind: failure.KindProviderError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/wellness-api/rest/backfill/activityDetails", r.URL.Path)
				assert.Equal(t, "1672531200", r.URL.Query().Get("summaryStartTimeInSeconds"))
				assert.Equal(t, "Bearer access", r.Header.Get("Authorization"))
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			g := NewGarmin(testConfig(DefaultGarminConfig(), srv.URL), Secrets{})
			workouts, err := g.RequestBackfill(context.Background(), &types.Credential{AccessToken: "access"}, window)
			assert.Empty(t, workouts)
			if tt.wantKind == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, failure.KindOf(err))
			fe, _ := failure.As(err)
			assert.Equal(t, tt.status, fe.HTTPStatus)
		})
	}
}

func TestGarmin_FetchPermissions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/wellness-api/rest/user/permissions", r.URL.Path)
		_, _ = w.Write([]byte(`["ACTIVITY_EXPORT","HISTORICAL_DATA_EXPORT"]`))
	}))
	defer srv.Close()

	g := NewGarmin(testConfig(DefaultGarminConfig(), srv.URL), Secrets{})
	perms, err := g.FetchPermissions(context.Background(), &types.Credential{AccessToken: "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ACTIVITY_EXPORT", PermissionHistoricalDataExport}, perms)
}

func TestGarmin_FetchActivity_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "w-1", r.URL.Query().Get("id"))
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	g := NewGarmin(testConfig(DefaultGarminConfig(), srv.URL), Secrets{})
	_, err := g.FetchActivity(context.Background(), &types.Credential{AccessToken: "a"}, &types.QueueItem{WorkoutID: "w-1"})
	fe, ok := failure.As(err)
	require.True(t, ok)
	assert.True(t, fe.Terminal())
	assert.Equal(t, "GARMIN_HTTP_404", fe.ProviderCode)
}

func TestSuunto_RequestBackfill(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/workouts", r.URL.Path)
		assert.Equal(t, "sub-key", r.Header.Get("Ocp-Apim-Subscription-Key"))
		assert.NotEmpty(t, r.URL.Query().Get("since"))
		_, _ = w.Write([]byte(`{"error":null,"payload":[{"workoutKey":"k1"},{"workoutKey":""},{"workoutKey":"k2"}]}`))
	}))
	defer srv.Close()

	s := NewSuunto(testConfig(DefaultSuuntoConfig(), srv.URL), Secrets{SubscriptionKey: "sub-key"})
	workouts, err := s.RequestBackfill(context.Background(), &types.Credential{AccessToken: "a"}, types.Window{
		Start: time.Now().Add(-48 * time.Hour),
		End:   time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, []BackfillWorkout{{WorkoutID: "k1"}, {WorkoutID: "k2"}}, workouts)
}

func TestSuunto_FetchPermissionsFromScope(t *testing.T) {
	s := NewSuunto(DefaultSuuntoConfig(), Secrets{})
	perms, err := s.FetchPermissions(context.Background(), &types.Credential{Scope: "workout, profile"})
	require.NoError(t, err)
	assert.Equal(t, []string{"workout", "profile"}, perms)
}

func TestCoros_RefreshToken(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("extends validity without rotating", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "rt", r.PostForm.Get("refresh_token"))
			_, _ = w.Write([]byte(`{"result":"0000","message":"OK"}`))
		}))
		defer srv.Close()

		c := NewCoros(testConfig(DefaultCorosConfig(), srv.URL), Secrets{ClientID: "id"})
		c.now = func() time.Time { return fixed }
		tok, err := c.RefreshToken(context.Background(), &types.Credential{AccessToken: "at", RefreshToken: "rt"})
		require.NoError(t, err)
		assert.Equal(t, "at", tok.AccessToken)
		assert.Equal(t, fixed.Add(30*24*time.Hour), tok.Expiry)
	})

	t.Run("non-zero result is a refresh failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"result":"5001","message":"refresh token invalid"}`))
		}))
		defer srv.Close()

		c := NewCoros(testConfig(DefaultCorosConfig(), srv.URL), Secrets{})
		_, err := c.RefreshToken(context.Background(), &types.Credential{AccessToken: "at", RefreshToken: "rt"})
		fe, ok := failure.As(err)
		require.True(t, ok)
		assert.Equal(t, failure.KindTokenRefreshFailed, fe.Kind)
		assert.Equal(t, "COROS_5001", fe.ProviderCode)
	})
}

func TestCoros_RequestBackfill(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/coros/sport/list", r.URL.Path)
		assert.Equal(t, "20230101", r.URL.Query().Get("startDate"))
		assert.Equal(t, "20230129", r.URL.Query().Get("endDate"))
		assert.Equal(t, "open-1", r.URL.Query().Get("openId"))
		_, _ = w.Write([]byte(`{"result":"0000","data":[{"labelId":"L1","fitUrl":"https://files/L1.fit"}]}`))
	}))
	defer srv.Close()

	c := NewCoros(testConfig(DefaultCorosConfig(), srv.URL), Secrets{})
	workouts, err := c.RequestBackfill(context.Background(), &types.Credential{AccessToken: "a", ExternalUserID: "open-1"}, types.Window{
		Start: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2023, 1, 29, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, []BackfillWorkout{{WorkoutID: "L1", FileURL: "https://files/L1.fit"}}, workouts)
}

func TestCooldownPolicies(t *testing.T) {
	last := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		policy CooldownPolicy
		state  *types.BackfillState
		want   time.Time
	}{
		{name: "no state", policy: FixedCooldown{Days: 30}, state: nil, want: time.Time{}},
		{name: "never imported", policy: FixedCooldown{Days: 30}, state: &types.BackfillState{}, want: time.Time{}},
		{name: "fixed", policy: FixedCooldown{Days: 30}, state: &types.BackfillState{LastImport: last}, want: last.AddDate(0, 0, 30)},
		{name: "volume empty", policy: VolumeCooldown{BaseDays: 1, WorkoutsPerDay: 500}, state: &types.BackfillState{LastImport: last}, want: last.AddDate(0, 0, 1)},
		{name: "volume partial block", policy: VolumeCooldown{BaseDays: 1, WorkoutsPerDay: 500}, state: &types.BackfillState{LastImport: last, ProcessedCount: 501}, want: last.AddDate(0, 0, 3)},
		{name: "volume exact block", policy: VolumeCooldown{BaseDays: 1, WorkoutsPerDay: 500}, state: &types.BackfillState{LastImport: last, ProcessedCount: 500}, want: last.AddDate(0, 0, 2)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.NextAvailable(tt.state))
		})
	}
}

func TestRegistry(t *testing.T) {
	r := NewDefaultRegistry(nil)
	assert.Equal(t, types.AllProviders, r.Kinds())

	p, err := r.Get(types.ProviderSuunto)
	require.NoError(t, err)
	assert.Equal(t, "suuntoQueue", p.Config().QueueCollection)

	_, err = r.Get("strava")
	assert.Error(t, err)

	for _, k := range types.AllProviders {
		p, _ := r.Get(k)
		assert.Less(t, p.Config().MaxWindowSpan, 180*24*time.Hour)
	}

	assert.Panics(t, func() {
		NewRegistry(NewGarmin(DefaultGarminConfig(), Secrets{}), NewGarmin(DefaultGarminConfig(), Secrets{}))
	})
}

func TestRegistry_Select(t *testing.T) {
	r := NewRegistry(NewCoros(DefaultCorosConfig(), Secrets{}))

	all, err := r.Select("")
	require.NoError(t, err)
	assert.Equal(t, []types.ProviderKind{types.ProviderCoros}, all)

	one, err := r.Select("COROS")
	require.NoError(t, err)
	assert.Equal(t, []types.ProviderKind{types.ProviderCoros}, one)

	_, err = r.Select("garmin")
	assert.Error(t, err, "known but unregistered")

	_, err = r.Select("strava")
	assert.Error(t, err)
}
