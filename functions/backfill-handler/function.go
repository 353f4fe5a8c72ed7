package backfillhandler

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/fitglue/ingest/pkg/backfill"
	"github.com/fitglue/ingest/pkg/bootstrap"
	"github.com/fitglue/ingest/pkg/failure"
	"github.com/fitglue/ingest/pkg/framework"
	"github.com/fitglue/ingest/pkg/types"
)

var (
	svc     *bootstrap.Service
	svcOnce sync.Once
	svcErr  error
)

func init() {
	functions.HTTP("RequestBackfill", RequestBackfill)
}

func initService(ctx context.Context) (*bootstrap.Service, error) {
	if svc != nil {
		return svc, nil
	}
	svcOnce.Do(func() {
		baseSvc, err := bootstrap.NewService(ctx, "backfill-handler")
		if err != nil {
			slog.Error("Failed to initialize service", "error", err)
			svcErr = err
			return
		}
		svc = baseSvc
	})
	return svc, svcErr
}

// BackfillRequest is the expected request body
type BackfillRequest struct {
	Provider  string `json:"provider"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

// RequestBackfill is the HTTP entry point for a user-initiated history import.
func RequestBackfill(w http.ResponseWriter, r *http.Request) {
	svc, err := initService(r.Context())
	if err != nil {
		slog.Error("Service init failed", "error", err)
		framework.WriteError(w, err)
		return
	}
	framework.WrapAuthenticatedHTTP("backfill-handler", svc, backfillHandler)(w, r)
}

func backfillHandler(r *http.Request, fwCtx *framework.FrameworkContext) (interface{}, error) {
	var body BackfillRequest
	if err := framework.DecodeJSON(r, &body); err != nil {
		return nil, err
	}

	req, err := parseRequest(fwCtx.UserID, body)
	if err != nil {
		return nil, err
	}

	fwCtx.Logger.Info("Backfill requested", "provider", req.Provider,
		"start", body.StartDate, "end", body.EndDate)

	return fwCtx.Service.Backfill.Backfill(r.Context(), req)
}

func parseRequest(userID string, body BackfillRequest) (backfill.Request, error) {
	kind, err := types.ParseProviderKind(body.Provider)
	if err != nil {
		return backfill.Request{}, failure.New(failure.KindInvalidRequest, "Unsupported provider %q", body.Provider)
	}
	start, err := parseDate(body.StartDate)
	if err != nil {
		return backfill.Request{}, failure.New(failure.KindInvalidRange, "Invalid start date %q", body.StartDate)
	}
	end, err := parseDate(body.EndDate)
	if err != nil {
		return backfill.Request{}, failure.New(failure.KindInvalidRange, "Invalid end date %q", body.EndDate)
	}
	return backfill.Request{UserID: userID, Provider: kind, Start: start, End: end}, nil
}

// parseDate accepts a calendar date or a full RFC 3339 timestamp.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
