package queueprocessor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/cloudevents/sdk-go/v2/event"

	"github.com/fitglue/ingest/pkg/bootstrap"
	"github.com/fitglue/ingest/pkg/failure"
	"github.com/fitglue/ingest/pkg/framework"
	"github.com/fitglue/ingest/pkg/queue"
)

var (
	svc     *bootstrap.Service
	svcOnce sync.Once
	svcErr  error
)

func init() {
	functions.CloudEvent("ProcessQueue", ProcessQueue)
}

func initService(ctx context.Context) (*bootstrap.Service, error) {
	if svc != nil {
		return svc, nil
	}
	svcOnce.Do(func() {
		baseSvc, err := bootstrap.NewService(ctx, "queue-processor")
		if err != nil {
			slog.Error("Failed to initialize service", "error", err)
			svcErr = err
			return
		}
		svc = baseSvc
	})
	return svc, svcErr
}

// ProcessQueue is the entry point, triggered by the scheduler through topic-queue-drain.
func ProcessQueue(ctx context.Context, e event.Event) error {
	svc, err := initService(ctx)
	if err != nil {
		return fmt.Errorf("service init failed: %v", err)
	}
	return framework.WrapCloudEvent("queue-processor", svc, processHandler)(ctx, e)
}

// processHandler drains one batch per selected provider, or processes a single
// item when the payload names one.
func processHandler(ctx context.Context, e event.Event, fwCtx *framework.FrameworkContext) (interface{}, error) {
	req, err := framework.DecodeDrainRequest(e)
	if err != nil {
		return nil, err
	}
	kinds, err := fwCtx.Service.Registry.Select(req.Provider)
	if err != nil {
		return nil, failure.Wrap(failure.KindInvalidRequest, err, "unknown provider")
	}

	if req.ItemID != "" {
		if len(kinds) != 1 {
			return nil, failure.New(failure.KindInvalidRequest, "itemId requires a provider")
		}
		outcome, err := fwCtx.Service.Processor.ProcessByID(ctx, kinds[0], req.ItemID)
		if err != nil {
			return nil, err
		}
		fwCtx.Logger.Info("Processed queue item", "item_id", req.ItemID, "outcome", outcome)
		return map[string]interface{}{"itemId": req.ItemID, "outcome": outcome}, nil
	}

	results := make([]queue.DrainResult, 0, len(kinds))
	var errs []error
	for _, kind := range kinds {
		result, err := fwCtx.Service.Processor.Drain(ctx, kind)
		if err != nil {
			// Keep draining the remaining providers.
			fwCtx.Logger.Error("Drain failed", "provider", kind, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
			continue
		}
		results = append(results, result)
	}
	return results, errors.Join(errs...)
}
