package sentry

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/fitglue/ingest/pkg/failure"
)

type Config struct {
	DSN              string
	Environment      string
	Release          string
	ServerName       string
	TracesSampleRate float64
}

// Init initializes Sentry for Go Cloud Functions.
// A missing DSN disables error tracking without failing startup.
func Init(cfg Config, logger *slog.Logger) error {
	if cfg.DSN == "" {
		if logger != nil {
			logger.Warn("Sentry DSN not configured - error tracking disabled")
		}
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          cfg.Release,
		ServerName:       cfg.ServerName,
		TracesSampleRate: cfg.TracesSampleRate,
		BeforeSend:       scrub,
	})
	if err != nil {
		if logger != nil {
			logger.Error("Failed to initialize Sentry", "error", err)
		}
		return fmt.Errorf("sentry init: %w", err)
	}

	if logger != nil {
		logger.Info("Sentry initialized", "environment", cfg.Environment, "release", cfg.Release)
	}
	return nil
}

// scrub drops credentials from outgoing events. Provider tokens travel in
// Authorization headers and, for COROS, in the query string.
func scrub(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
	if event.Request != nil {
		if event.Request.Headers != nil {
			delete(event.Request.Headers, "Authorization")
			delete(event.Request.Headers, "Cookie")
			delete(event.Request.Headers, "Ocp-Apim-Subscription-Key")
		}
		event.Request.QueryString = ""
		event.Request.Data = ""
	}
	return event
}

// fingerprint groups classified failures by kind and provider code instead
// of by message, which carries item ids and window dates.
func fingerprint(err error) []string {
	fe, ok := failure.As(err)
	if !ok {
		return nil
	}
	fp := []string{"failure", string(fe.Kind)}
	if fe.ProviderCode != "" {
		fp = append(fp, fe.ProviderCode)
	}
	return fp
}

// CaptureException captures an exception in Sentry with additional context.
// String values become tags; anything else is attached as structured context.
func CaptureException(err error, context map[string]interface{}, logger *slog.Logger) {
	if err == nil {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		for key, value := range context {
			if s, ok := value.(string); ok {
				scope.SetTag(key, s)
				continue
			}
			scope.SetContext(key, sentry.Context{"value": value})
		}
		scope.SetTag("failure_kind", string(failure.KindOf(err)))
		if fp := fingerprint(err); fp != nil {
			scope.SetFingerprint(fp)
		}
		sentry.CaptureException(err)
	})

	if logger != nil {
		logger.Debug("Exception captured in Sentry", "error", err.Error())
	}
}

// Reporter adapts CaptureException to the error-reporting interfaces of
// the ingest components.
type Reporter struct {
	Logger *slog.Logger
}

func (r Reporter) Report(err error, context map[string]interface{}) {
	CaptureException(err, context, r.Logger)
}

// Flush waits for all events to be sent to Sentry.
// Call this before function termination to ensure events are sent.
func Flush(timeout time.Duration) bool {
	return sentry.Flush(timeout)
}

// RecoverAndCapture recovers from a panic, captures it and re-panics.
func RecoverAndCapture(logger *slog.Logger) {
	if r := recover(); r != nil {
		err, ok := r.(error)
		if !ok {
			err = fmt.Errorf("panic: %v", r)
		}
		CaptureException(err, nil, logger)
		Flush(2 * time.Second)
		panic(r)
	}
}
