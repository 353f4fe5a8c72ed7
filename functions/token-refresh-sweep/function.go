package tokenrefreshsweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/cloudevents/sdk-go/v2/event"

	shared "github.com/fitglue/ingest/pkg"
	"github.com/fitglue/ingest/pkg/bootstrap"
	"github.com/fitglue/ingest/pkg/failure"
	"github.com/fitglue/ingest/pkg/framework"
	"github.com/fitglue/ingest/pkg/infrastructure/oauth"
)

var (
	svc     *bootstrap.Service
	svcOnce sync.Once
	svcErr  error
)

func init() {
	functions.CloudEvent("SweepTokens", SweepTokens)
}

func initService(ctx context.Context) (*bootstrap.Service, error) {
	if svc != nil {
		return svc, nil
	}
	svcOnce.Do(func() {
		baseSvc, err := bootstrap.NewService(ctx, "token-refresh-sweep")
		if err != nil {
			slog.Error("Failed to initialize service", "error", err)
			svcErr = err
			return
		}
		svc = baseSvc
	})
	return svc, svcErr
}

// SweepTokens is the entry point, triggered by the scheduler through topic-token-sweep.
func SweepTokens(ctx context.Context, e event.Event) error {
	svc, err := initService(ctx)
	if err != nil {
		return fmt.Errorf("service init failed: %v", err)
	}
	return framework.WrapCloudEvent("token-refresh-sweep", svc, sweepHandler)(ctx, e)
}

// sweepHandler refreshes every credential expiring within the configured
// horizon so that queue processing rarely has to refresh inline.
func sweepHandler(ctx context.Context, e event.Event, fwCtx *framework.FrameworkContext) (interface{}, error) {
	req, err := framework.DecodeDrainRequest(e)
	if err != nil {
		return nil, err
	}
	kinds, err := fwCtx.Service.Registry.Select(req.Provider)
	if err != nil {
		return nil, failure.Wrap(failure.KindInvalidRequest, err, "unknown provider")
	}

	horizon := fwCtx.Service.Config.TokenSweepHorizon
	if horizon <= 0 {
		horizon = shared.DefaultTokenSweepHorizon
	}
	results := make([]oauth.SweepResult, 0, len(kinds))
	var errs []error
	for _, kind := range kinds {
		result, err := fwCtx.Service.Tokens.Sweep(ctx, kind, horizon)
		if err != nil {
			fwCtx.Logger.Error("Token sweep failed", "provider", kind, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
			continue
		}
		fwCtx.Logger.Info("Token sweep complete", "provider", kind,
			"checked", result.Checked, "refreshed", result.Refreshed, "failed", result.Failed)
		results = append(results, result)
	}
	return results, errors.Join(errs...)
}
