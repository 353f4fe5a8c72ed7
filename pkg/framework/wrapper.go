package framework

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/google/uuid"

	"github.com/fitglue/ingest/pkg/bootstrap"
	"github.com/fitglue/ingest/pkg/failure"
	"github.com/fitglue/ingest/pkg/infrastructure/sentry"
	"github.com/fitglue/ingest/pkg/types"
)

// FrameworkContext contains dependencies injected by the framework
type FrameworkContext struct {
	Service     *bootstrap.Service
	Logger      *slog.Logger
	ExecutionID string
	// UserID is the verified caller on HTTP triggers.
	UserID string
}

// HandlerFunc is the signature for a cloud function handler
type HandlerFunc func(ctx context.Context, e event.Event, fwCtx *FrameworkContext) (interface{}, error)

// WrapCloudEvent wraps a Pub/Sub triggered handler with execution logging
// and error reporting.
func WrapCloudEvent(serviceName string, svc *bootstrap.Service, handler HandlerFunc) func(context.Context, event.Event) error {
	return func(ctx context.Context, e event.Event) error {
		execID := uuid.NewString()
		logger := svc.Logger.With("service", serviceName, "execution_id", execID)
		if provider := extractProvider(e); provider != "" {
			logger = logger.With("provider", provider)
		}
		defer sentry.RecoverAndCapture(logger)

		fwCtx := &FrameworkContext{
			Service:     svc,
			Logger:      logger,
			ExecutionID: execID,
		}

		start := time.Now()
		logger.Info("Function started", "event_id", e.ID(), "event_type", e.Type())

		outputs, err := handler(ctx, e, fwCtx)
		if err != nil {
			logger.Error("Function failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
			report(err, serviceName, execID, logger)
			return err
		}

		logger.Info("Function completed successfully", "duration_ms", time.Since(start).Milliseconds(), "outputs", outputs)
		return nil
	}
}

// report sends unexpected failures to Sentry. Classified failures that map to
// a caller-facing code other than internal are expected and not reported.
func report(err error, serviceName, execID string, logger *slog.Logger) {
	if failure.Code(err) != failure.CodeInternal {
		return
	}
	sentry.CaptureException(err, map[string]interface{}{
		"service":      serviceName,
		"execution_id": execID,
		"kind":         string(failure.KindOf(err)),
	}, logger)
}

// extractProvider reads the provider of a scheduler payload, either wrapped
// in a Pub/Sub message or delivered directly.
func extractProvider(e event.Event) string {
	var req types.DrainRequest
	var msg types.PubSubMessage
	if err := e.DataAs(&msg); err == nil && len(msg.Message.Data) > 0 {
		if err := json.Unmarshal(msg.Message.Data, &req); err == nil {
			return req.Provider
		}
		return ""
	}
	if err := json.Unmarshal(e.Data(), &req); err == nil {
		return req.Provider
	}
	return ""
}

// DecodeDrainRequest extracts the scheduler payload from a Pub/Sub CloudEvent.
// A missing body selects every provider.
func DecodeDrainRequest(e event.Event) (types.DrainRequest, error) {
	var req types.DrainRequest
	var msg types.PubSubMessage
	if err := e.DataAs(&msg); err != nil {
		return req, failure.Wrap(failure.KindInvalidRequest, err, "malformed Pub/Sub message")
	}
	if len(msg.Message.Data) == 0 {
		return req, nil
	}
	if err := json.Unmarshal(msg.Message.Data, &req); err != nil {
		return req, failure.Wrap(failure.KindInvalidRequest, err, "malformed drain request")
	}
	return req, nil
}
