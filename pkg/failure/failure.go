// Package failure defines the structured error used across the ingest core.
//
// An Error is produced once, where a condition is first classified (the HTTP
// boundary, a provider adapter, or a component decision) and is matched by Kind
// everywhere after that.
package failure

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a machine-parseable classification. Kinds double as dead-letter context codes.
type Kind string

const (
	KindNoTokenFound         Kind = "NO_TOKEN_FOUND"
	KindMaxRetryReached      Kind = "MAX_RETRY_REACHED"
	KindTokenRefreshFailed   Kind = "TOKEN_REFRESH_FAILED"
	KindMissingPermissions   Kind = "MISSING_PERMISSIONS"
	KindCooldownActive       Kind = "COOLDOWN_ACTIVE"
	KindDuplicateBackfill    Kind = "DUPLICATE_BACKFILL"
	KindRangePredatesMinimum Kind = "RANGE_PREDATES_MINIMUM"
	KindProviderError        Kind = "PROVIDER_ERROR"
	KindInvalidRange         Kind = "INVALID_RANGE"
	KindInvalidRequest       Kind = "INVALID_REQUEST"
	KindUnauthenticated      Kind = "UNAUTHENTICATED"
	KindForbidden            Kind = "FORBIDDEN"
	KindTimeout              Kind = "TIMEOUT"
	KindInternal             Kind = "INTERNAL"
)

// Caller-facing codes.
const (
	CodeUnauthenticated  = "unauthenticated"
	CodePermissionDenied = "permission-denied"
	CodeAlreadyExists    = "already-exists"
	CodeInvalidArgument  = "invalid-argument"
	CodeInternal         = "internal"
)

// Error is the single structured error type of the ingest core.
type Error struct {
	Kind Kind
	// Message is human readable and safe to return to callers.
	Message string
	// HTTPStatus is the upstream status when the failure came from a provider call.
	HTTPStatus int
	// ProviderCode is the provider's own error code, passed through verbatim.
	ProviderCode    string
	ProviderMessage string
	Cause           error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an Error with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error around a cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// As extracts the first *Error in the chain.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// KindOf returns the Kind of the first *Error in the chain, or KindInternal.
func KindOf(err error) Kind {
	if fe, ok := As(err); ok {
		return fe.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	fe, ok := As(err)
	return ok && fe.Kind == kind
}

// Terminal reports whether a fetch failure can never succeed for this work item,
// e.g. the workout was deleted upstream.
func (e *Error) Terminal() bool {
	return e.Kind == KindProviderError && (e.HTTPStatus == http.StatusNotFound || e.HTTPStatus == http.StatusGone)
}

// Code maps an error to the coarse caller-facing classification.
func Code(err error) string {
	switch KindOf(err) {
	case KindNoTokenFound, KindTokenRefreshFailed, KindUnauthenticated:
		return CodeUnauthenticated
	case KindCooldownActive, KindMissingPermissions, KindForbidden:
		return CodePermissionDenied
	case KindDuplicateBackfill:
		return CodeAlreadyExists
	case KindInvalidRange, KindInvalidRequest:
		return CodeInvalidArgument
	default:
		return CodeInternal
	}
}

// HTTPStatus maps a caller-facing code to the HTTP status returned by the functions.
func HTTPStatus(code string) int {
	switch code {
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodePermissionDenied:
		return http.StatusForbidden
	case CodeAlreadyExists:
		return http.StatusConflict
	case CodeInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message that may be shown to callers. Causes never
// leak; of the internal kinds only provider errors show their message, which
// names the failing call or window.
func PublicMessage(err error) string {
	fe, ok := As(err)
	if !ok || (Code(err) == CodeInternal && fe.Kind != KindProviderError) {
		return "Internal error"
	}
	if fe.Message != "" {
		return fe.Message
	}
	return string(fe.Kind)
}
