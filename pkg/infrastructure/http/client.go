package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/fitglue/ingest/pkg/failure"
)

// Client is the HTTP fetch wrapper shared by the provider adapters.
// Every call is rate limited, bounded by Timeout, and non-2xx responses are
// converted into *failure.Error exactly once.
type Client struct {
	// Name prefixes provider error codes, e.g. "GARMIN" -> GARMIN_HTTP_404.
	Name    string
	HTTP    *http.Client
	Limiter *rate.Limiter
	Timeout time.Duration
}

// NewClient creates a Client allowing requestsPerSecond with the given burst.
func NewClient(name string, timeout time.Duration, requestsPerSecond float64, burst int) *Client {
	var limiter *rate.Limiter
	if requestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
	return &Client{
		Name:    strings.ToUpper(name),
		HTTP:    &http.Client{},
		Limiter: limiter,
		Timeout: timeout,
	}
}

// Underlying returns the *http.Client used for requests.
func (c *Client) Underlying() *http.Client {
	if c.HTTP == nil {
		return http.DefaultClient
	}
	return c.HTTP
}

// Wait blocks until the rate limiter admits one more request.
func (c *Client) Wait(ctx context.Context) error {
	if c.Limiter == nil {
		return nil
	}
	if err := c.Limiter.Wait(ctx); err != nil {
		return c.transportError(err)
	}
	return nil
}

// Get performs a GET and returns the response body.
func (c *Client) Get(ctx context.Context, rawURL string, header http.Header) ([]byte, error) {
	return c.request(ctx, http.MethodGet, rawURL, header, nil)
}

// Delete performs a DELETE and returns the response body.
func (c *Client) Delete(ctx context.Context, rawURL string, header http.Header) ([]byte, error) {
	return c.request(ctx, http.MethodDelete, rawURL, header, nil)
}

// PostForm posts an urlencoded form and returns the response body.
func (c *Client) PostForm(ctx context.Context, rawURL string, form url.Values, header http.Header) ([]byte, error) {
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.request(ctx, http.MethodPost, rawURL, header, strings.NewReader(form.Encode()))
}

func (c *Client) request(ctx context.Context, method, rawURL string, header http.Header, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = append([]string(nil), v...)
	}
	return c.Do(req)
}

// Do executes the request and returns the full response body on 2xx.
func (c *Client) Do(req *http.Request) ([]byte, error) {
	ctx := req.Context()
	if err := c.Wait(ctx); err != nil {
		return nil, err
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
		req = req.WithContext(ctx)
	}

	resp, err := c.Underlying().Do(req)
	if err != nil {
		return nil, c.transportError(err)
	}
	defer resp.Body.Close()

	if err := ParseErrorResponse(resp); err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			return nil, c.AsFailure(httpErr)
		}
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.transportError(err)
	}
	return data, nil
}

// AsFailure converts an HTTPError into the structured failure, extracting the
// provider's own code and message from a JSON body where present.
func (c *Client) AsFailure(httpErr *HTTPError) *failure.Error {
	code, msg := extractProviderError(httpErr.Body)
	if code == "" {
		code = fmt.Sprintf("HTTP_%d", httpErr.StatusCode)
	}
	if c.Name != "" {
		code = c.Name + "_" + code
	}
	if msg == "" {
		msg = httpErr.Body
	}
	return &failure.Error{
		Kind:            failure.KindProviderError,
		Message:         fmt.Sprintf("%s request failed with status %d", strings.ToLower(c.Name), httpErr.StatusCode),
		HTTPStatus:      httpErr.StatusCode,
		ProviderCode:    code,
		ProviderMessage: msg,
		Cause:           httpErr,
	}
}

func (c *Client) transportError(err error) *failure.Error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return failure.Wrap(failure.KindTimeout, err, strings.ToLower(c.Name)+" request timed out")
	}
	return failure.Wrap(failure.KindProviderError, err, strings.ToLower(c.Name)+" request failed")
}

// extractProviderError digs the provider's error code and message out of the
// differently shaped JSON error bodies, including {"error": {"errorMessage": ...}}.
func extractProviderError(body string) (code, message string) {
	if body == "" || !strings.HasPrefix(strings.TrimSpace(body), "{") {
		return "", ""
	}
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return "", ""
	}
	if nested, ok := payload["error"].(map[string]interface{}); ok {
		for k, v := range nested {
			payload[k] = v
		}
	}
	for _, key := range []string{"errorCode", "code", "result", "error"} {
		if s := stringish(payload[key]); s != "" {
			code = s
			break
		}
	}
	for _, key := range []string{"errorMessage", "message", "error_description"} {
		if s := stringish(payload[key]); s != "" {
			message = s
			break
		}
	}
	return code, message
}

func stringish(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%.0f", t)
	}
	return ""
}
