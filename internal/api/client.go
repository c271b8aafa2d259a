// Package api provides typed HTTP clients for the remote pupil roster
// service and the reverse-geocoding service.
//
// Both clients translate non-2xx responses into *StatusError values so
// callers can branch on the status code (validation error, not found, server
// error) without touching net/http directly. Transport failures are returned
// as wrapped errors.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds every request round trip unless the config says
// otherwise.
const DefaultTimeout = 30 * time.Second

// StatusError is returned for any response outside the 2xx range.
type StatusError struct {
	// Code is the HTTP status code of the response.
	Code int
	// Detail is taken from the response problem document when present,
	// otherwise from the raw body.
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("server returned %d", e.Code)
	}
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Detail)
}

// IsStatus reports whether err carries the given HTTP status code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

// IsNotFound reports whether err is an HTTP 404.
func IsNotFound(err error) bool {
	return IsStatus(err, http.StatusNotFound)
}

// IsValidation reports whether err is an HTTP 400.
func IsValidation(err error) bool {
	return IsStatus(err, http.StatusBadRequest)
}

// ProblemDetails is the RFC 7807 error document the roster service returns.
type ProblemDetails struct {
	Type     string `json:"type,omitempty"`
	Title    string `json:"title,omitempty"`
	Status   int    `json:"status,omitempty"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// Config holds the settings shared by requests to the roster service.
type Config struct {
	// BaseURL is the service root, e.g. "https://api.example.com/v1".
	BaseURL string
	// RequestID is sent as the X-Request-ID header on every request.
	RequestID string
	// UserAgent identifies this client to the server.
	UserAgent string
	// Timeout bounds one request round trip. Zero means DefaultTimeout.
	Timeout time.Duration
}

// Client is the typed roster service client.
type Client struct {
	baseURL   string
	requestID string
	userAgent string
	http      *http.Client
}

// NewClient creates a roster client from the given config.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		requestID: cfg.RequestID,
		userAgent: cfg.UserAgent,
		http:      &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the configured service root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// do issues one request and decodes the JSON response into out (when out is
// non-nil). Non-2xx responses become *StatusError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.requestID != "" {
		req.Header.Set("X-Request-ID", c.requestID)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("roster request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// statusError builds a *StatusError from a non-2xx response, preferring the
// problem document's detail when the body parses as one.
func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	detail := strings.TrimSpace(string(raw))
	var problem ProblemDetails
	if err := json.Unmarshal(raw, &problem); err == nil {
		if problem.Detail != "" {
			detail = problem.Detail
		} else if problem.Title != "" {
			detail = problem.Title
		}
	}

	return &StatusError{Code: resp.StatusCode, Detail: detail}
}
