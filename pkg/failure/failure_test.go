package failure

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCode(t *testing.T) {
	tests := []struct {
		kind     Kind
		expected string
	}{
		{KindNoTokenFound, CodeUnauthenticated},
		{KindTokenRefreshFailed, CodeUnauthenticated},
		{KindCooldownActive, CodePermissionDenied},
		{KindMissingPermissions, CodePermissionDenied},
		{KindDuplicateBackfill, CodeAlreadyExists},
		{KindInvalidRange, CodeInvalidArgument},
		{KindInvalidRequest, CodeInvalidArgument},
		{KindUnauthenticated, CodeUnauthenticated},
		{KindForbidden, CodePermissionDenied},
		{KindProviderError, CodeInternal},
		{KindTimeout, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := fmt.Errorf("wrapped: %w", New(tt.kind, "boom"))
			assert.Equal(t, tt.expected, Code(err))
		})
	}
}

func TestCode_PlainError(t *testing.T) {
	assert.Equal(t, CodeInternal, Code(errors.New("plain")))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(CodeUnauthenticated))
	assert.Equal(t, http.StatusForbidden, HTTPStatus(CodePermissionDenied))
	assert.Equal(t, http.StatusConflict, HTTPStatus(CodeAlreadyExists))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(CodeInvalidArgument))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(CodeInternal))
}

func TestTerminal(t *testing.T) {
	assert.True(t, (&Error{Kind: KindProviderError, HTTPStatus: 404}).Terminal())
	assert.True(t, (&Error{Kind: KindProviderError, HTTPStatus: 410}).Terminal())
	assert.False(t, (&Error{Kind: KindProviderError, HTTPStatus: 500}).Terminal())
	assert.False(t, (&Error{Kind: KindTimeout, HTTPStatus: 404}).Terminal())
}

func TestErrorString(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"kind only", &Error{Kind: KindProviderError}, "PROVIDER_ERROR"},
		{"kind and cause", &Error{Kind: KindProviderError, Cause: errors.New("eof")}, "PROVIDER_ERROR: eof"},
		{"message", New(KindInvalidRange, "start after end"), "INVALID_RANGE: start after end"},
		{"message and cause", Wrap(KindTimeout, errors.New("deadline"), "slow"), "TIMEOUT: slow: deadline"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestPublicMessage(t *testing.T) {
	assert.Equal(t, "next backfill available on 2024-02-01", PublicMessage(New(KindCooldownActive, "next backfill available on %s", "2024-02-01")))
	assert.Equal(t, "Provider error for window 2024-01-01 to 2024-03-30", PublicMessage(Wrap(KindProviderError, errors.New("secret upstream body"), "Provider error for window 2024-01-01 to 2024-03-30")))
	assert.Equal(t, "Internal error", PublicMessage(Wrap(KindInternal, errors.New("firestore unavailable"), "save failed")))
	assert.Equal(t, "Internal error", PublicMessage(errors.New("raw")))
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("root")
	err := Wrap(KindTimeout, cause, "slow")
	assert.ErrorIs(t, err, cause)
	assert.True(t, Is(fmt.Errorf("outer: %w", err), KindTimeout))
}
