// Package httputil provides the rate limited provider HTTP client and its error mapping.
package httputil

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// MaxErrorBodySize caps how much of a provider error body is kept.
const MaxErrorBodySize = 500

// HTTPError is a non-2xx provider response. URL never carries the query string.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
	URL        string
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("%s (status %d)", e.Status, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// redactQuery drops the query string: COROS passes its access token there.
func redactQuery(u *url.URL) string {
	clean := *u
	clean.RawQuery = ""
	return clean.String()
}

// ParseErrorResponse returns an *HTTPError for 4xx/5xx responses and nil
// otherwise. The body is re-wrapped so the caller can still read it.
func ParseErrorResponse(resp *http.Response) error {
	if resp.StatusCode < http.StatusBadRequest {
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(data))

	httpErr := &HTTPError{
		StatusCode: resp.StatusCode,
		Status:     http.StatusText(resp.StatusCode),
	}
	if err == nil {
		httpErr.Body = truncate(string(data), MaxErrorBodySize)
	}
	if resp.Request != nil && resp.Request.URL != nil {
		httpErr.URL = redactQuery(resp.Request.URL)
	}
	return httpErr
}
