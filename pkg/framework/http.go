package framework

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fitglue/ingest/pkg/bootstrap"
	"github.com/fitglue/ingest/pkg/failure"
	"github.com/fitglue/ingest/pkg/infrastructure/sentry"
)

const bearerPrefix = "Bearer "

// HTTPHandlerFunc handles an authenticated request. The returned value is
// encoded as the result of a successful response.
type HTTPHandlerFunc func(r *http.Request, fwCtx *FrameworkContext) (interface{}, error)

// Response is the JSON envelope of every HTTP function.
type Response struct {
	Success bool        `json:"success"`
	Code    string      `json:"code,omitempty"`
	Error   string      `json:"error,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// WrapAuthenticatedHTTP accepts POST requests carrying a Firebase ID token and
// hands the verified user id to the handler.
func WrapAuthenticatedHTTP(serviceName string, svc *bootstrap.Service, handler HTTPHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		execID := uuid.NewString()
		logger := svc.Logger.With("service", serviceName, "execution_id", execID)
		defer sentry.RecoverAndCapture(logger)

		if r.Method != http.MethodPost {
			WriteJSON(w, http.StatusMethodNotAllowed, Response{Error: "Method not allowed"})
			return
		}

		idToken, ok := bearerToken(r)
		if !ok {
			WriteError(w, failure.New(failure.KindUnauthenticated, "Authorization header is required"))
			return
		}
		userID, err := svc.Auth.VerifyIDToken(r.Context(), idToken)
		if err != nil {
			logger.Warn("Token verification failed", "error", err)
			WriteError(w, failure.New(failure.KindUnauthenticated, "Unauthorized"))
			return
		}

		logger = logger.With("user_id", userID)
		fwCtx := &FrameworkContext{
			Service:     svc,
			Logger:      logger,
			ExecutionID: execID,
			UserID:      userID,
		}

		start := time.Now()
		logger.Info("Request started")

		result, err := handler(r, fwCtx)
		if err != nil {
			logger.Warn("Request failed", "error", err, "code", failure.Code(err), "duration_ms", time.Since(start).Milliseconds())
			report(err, serviceName, execID, logger)
			WriteError(w, err)
			return
		}

		logger.Info("Request completed", "duration_ms", time.Since(start).Milliseconds())
		WriteJSON(w, http.StatusOK, Response{Success: true, Result: result})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	return token, token != ""
}

// DecodeJSON reads a request body into v, classifying malformed input.
func DecodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return failure.Wrap(failure.KindInvalidRequest, err, "Invalid request body")
	}
	return nil
}

// WriteError maps err to its caller-facing code and status. Internal causes
// are never written to the response.
func WriteError(w http.ResponseWriter, err error) {
	code := failure.Code(err)
	WriteJSON(w, failure.HTTPStatus(code), Response{
		Success: false,
		Code:    code,
		Error:   failure.PublicMessage(err),
	})
}

func WriteJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
