package main

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	shared "github.com/fitglue/ingest/pkg"
	"github.com/fitglue/ingest/pkg/failure"
	"github.com/fitglue/ingest/pkg/framework"
	"github.com/fitglue/ingest/pkg/stats"
	"github.com/fitglue/ingest/pkg/types"
)

// StatsSource is the read side served by the admin API.
type StatsSource interface {
	Report(ctx context.Context) (*stats.Report, error)
	ForProvider(ctx context.Context, kind types.ProviderKind) (*stats.ProviderStats, error)
}

type api struct {
	stats  StatsSource
	logger *slog.Logger
}

// NewRouter serves the queue statistics to operators. Everything except the
// health check requires an ID token of an allowlisted admin.
func NewRouter(src StatsSource, verifier shared.IDTokenVerifier, admins []string, logger *slog.Logger) http.Handler {
	a := &api{stats: src, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		framework.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(requireAdmin(verifier, admins, logger))
		r.Get("/stats", a.report)
		r.Get("/stats/{provider}", a.providerStats)
	})
	return r
}

func (a *api) report(w http.ResponseWriter, r *http.Request) {
	report, err := a.stats.Report(r.Context())
	if err != nil {
		a.logger.Error("Failed to compute stats", "error", err)
		framework.WriteError(w, err)
		return
	}
	framework.WriteJSON(w, http.StatusOK, report)
}

func (a *api) providerStats(w http.ResponseWriter, r *http.Request) {
	kind, err := types.ParseProviderKind(chi.URLParam(r, "provider"))
	if err != nil {
		framework.WriteError(w, failure.Wrap(failure.KindInvalidRequest, err, "Unknown provider"))
		return
	}
	s, err := a.stats.ForProvider(r.Context(), kind)
	if err != nil {
		a.logger.Error("Failed to compute stats", "provider", kind, "error", err)
		framework.WriteError(w, err)
		return
	}
	framework.WriteJSON(w, http.StatusOK, s)
}

func requireAdmin(verifier shared.IDTokenVerifier, admins []string, logger *slog.Logger) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(admins))
	for _, id := range admins {
		allowed[strings.TrimSpace(id)] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				framework.WriteError(w, failure.New(failure.KindUnauthenticated, "Authorization header is required"))
				return
			}
			uid, err := verifier.VerifyIDToken(r.Context(), token)
			if err != nil {
				logger.Warn("Token verification failed", "error", err)
				framework.WriteError(w, failure.New(failure.KindUnauthenticated, "Unauthorized"))
				return
			}
			if !allowed[uid] {
				logger.Warn("Non-admin stats access", "user_id", uid)
				framework.WriteError(w, failure.New(failure.KindForbidden, "Admin access required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
