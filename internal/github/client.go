// Package github is a minimal client for the pieces of the GitHub REST
// API the sync engine depends on: the repository contents API, the OAuth
// code exchange, and the authenticated-user lookup. Responses are mapped
// onto the apperr taxonomy at this boundary so callers never inspect
// status codes.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/alexjbarnes/gitnotes/internal/apperr"
	"github.com/tidwall/gjson"
)

// TransientError wraps an error that is likely temporary and safe to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or any error in its chain) is a
// TransientError, meaning the caller may retry after a backoff.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

const (
	apiBaseURL  = "https://api.github.com"
	authBaseURL = "https://github.com"

	// apiVersion pins the REST API revision per GitHub's versioning scheme.
	apiVersion = "2022-11-28"

	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// httpClientTimeout is the timeout for the default HTTP client used
	// when no custom client is provided.
	httpClientTimeout = 30 * time.Second

	// maxAPIResponseBytes caps response body reads. File payloads arrive
	// base64-encoded, so this bounds note files at roughly 3MB, well above
	// anything the contents API itself will serve.
	maxAPIResponseBytes = 4 * 1024 * 1024
)

// Client talks to the GitHub REST API on behalf of one access token.
type Client struct {
	httpClient *http.Client
	baseURL    string
	authURL    string
	token      string
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host. This prevents the bearer token from
// leaking to third-party domains.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewClient creates an API client with the given http.Client and token.
// If httpClient is nil, a client with a 30-second timeout and same-host
// redirect policy is created. An empty token is valid for the endpoints
// that do not require authentication (code exchange, ping).
func NewClient(httpClient *http.Client, token string) *Client {
	return NewClientAt(apiBaseURL, authBaseURL, httpClient, token)
}

// NewClientAt creates an API client against explicit API and OAuth base
// URLs. Useful for tests that target a local stub server.
func NewClientAt(baseURL, authURL string, httpClient *http.Client, token string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:       httpClientTimeout,
			CheckRedirect: sameHostRedirectPolicy,
		}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		authURL:    authURL,
		token:      token,
	}
}

// WithToken returns a copy of the client authenticated as token. The
// underlying HTTP client is shared.
func (c *Client) WithToken(token string) *Client {
	clone := *c
	clone.token = token

	return &clone
}

// do sends a JSON request to the API host and decodes the response into
// result. Non-2xx responses come back mapped onto the apperr taxonomy.
func (c *Client) do(ctx context.Context, method, endpoint string, body, result interface{}) error {
	var reqBody io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshalling request body: %w", err)
		}

		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Transport failures (timeouts, connection refused, DNS) mean the
		// store is unreachable, not that the operation itself failed.
		wrapped := fmt.Errorf("sending %s %s: %w: %w", method, endpoint, apperr.ErrNetworkUnavailable, err)
		return &TransientError{Err: wrapped}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		wrapped := fmt.Errorf("reading response from %s: %w: %w", endpoint, apperr.ErrNetworkUnavailable, err)
		return &TransientError{Err: wrapped}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return statusError(method, endpoint, resp.StatusCode, respBody)
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response from %s: %w", endpoint, err)
		}
	}

	return nil
}

// statusError maps a non-2xx response onto the shared error taxonomy.
// GitHub error bodies carry a human-readable "message" field.
func statusError(method, endpoint string, status int, body []byte) error {
	msg := gjson.GetBytes(body, "message").String()
	if msg == "" {
		msg = sanitizeResponseBody(body)
	}

	err := fmt.Errorf("%s %s returned %d: %s", method, endpoint, status, msg)

	switch status {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %w", apperr.ErrUnauthorized, err)

	case http.StatusForbidden:
		// Rate limiting also arrives as 403. Those are worth retrying;
		// everything else under 403 is a credentials problem.
		if isRateLimitMessage(msg) {
			return &TransientError{Err: err}
		}

		return fmt.Errorf("%w: %w", apperr.ErrUnauthorized, err)

	case http.StatusNotFound:
		return fmt.Errorf("%w: %w", apperr.ErrNotFound, err)

	case http.StatusConflict, http.StatusUnprocessableEntity:
		// The contents API reports compare-and-swap failures as 409 or 422
		// depending on the endpoint and the age of the mismatch.
		return fmt.Errorf("%w: %w", apperr.ErrConflict, err)
	}

	if isTransientStatus(status) {
		return &TransientError{Err: err}
	}

	return err
}

// isTransientStatus returns true for HTTP status codes that indicate a
// temporary server-side problem worth retrying.
func isTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}

	return false
}

// isRateLimitMessage checks whether a 403 body is a rate-limit rejection
// rather than a permissions failure.
func isRateLimitMessage(msg string) bool {
	lower := strings.ToLower(msg)

	return strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "abuse detection") ||
		strings.Contains(lower, "secondary rate")
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}

// Ping issues the cheapest authenticated-optional request the API offers.
// The connectivity monitor uses it as its reachability probe.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.do(ctx, http.MethodGet, "/zen", nil, nil); err != nil {
		return fmt.Errorf("pinging API: %w", err)
	}

	return nil
}
