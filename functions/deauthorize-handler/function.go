package deauthorizehandler

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

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
	functions.HTTP("Deauthorize", Deauthorize)
}

func initService(ctx context.Context) (*bootstrap.Service, error) {
	if svc != nil {
		return svc, nil
	}
	svcOnce.Do(func() {
		baseSvc, err := bootstrap.NewService(ctx, "deauthorize-handler")
		if err != nil {
			slog.Error("Failed to initialize service", "error", err)
			svcErr = err
			return
		}
		svc = baseSvc
	})
	return svc, svcErr
}

// DeauthorizeRequest is the expected request body
type DeauthorizeRequest struct {
	Provider string `json:"provider"`
}

// Deauthorize is the HTTP entry point for disconnecting a provider.
func Deauthorize(w http.ResponseWriter, r *http.Request) {
	svc, err := initService(r.Context())
	if err != nil {
		slog.Error("Service init failed", "error", err)
		framework.WriteError(w, err)
		return
	}
	framework.WrapAuthenticatedHTTP("deauthorize-handler", svc, deauthorizeHandler)(w, r)
}

func deauthorizeHandler(r *http.Request, fwCtx *framework.FrameworkContext) (interface{}, error) {
	var body DeauthorizeRequest
	if err := framework.DecodeJSON(r, &body); err != nil {
		return nil, err
	}
	kind, err := types.ParseProviderKind(body.Provider)
	if err != nil {
		return nil, failure.New(failure.KindInvalidRequest, "Unsupported provider %q", body.Provider)
	}

	removed, err := fwCtx.Service.Tokens.Deauthorize(r.Context(), fwCtx.UserID, kind)
	if err != nil {
		return nil, err
	}
	fwCtx.Logger.Info("Provider disconnected", "provider", kind, "credentials_removed", removed)
	return map[string]interface{}{"provider": kind, "credentialsRemoved": removed}, nil
}
