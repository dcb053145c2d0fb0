// Package rest is the JSON-over-HTTP client shared by the online logger backends.
package rest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"resty.dev/v3"
)

// ErrStatus is wrapped by every StatusError.
var ErrStatus = errors.New("rest: unexpected status")

// StatusError is returned for 4xx and 5xx responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: %d: %s", e.Method, e.Path, e.Code, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrStatus }

// IsNotFound reports whether err is a 404 StatusError.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == 404
}

// DefaultTimeout bounds each request.
const DefaultTimeout = 30 * time.Second

// Option configures a Client.
type Option func(*resty.Client)

// WithBearer sends "Authorization: Bearer <token>" on every request.
func WithBearer(token string) Option {
	return func(c *resty.Client) { c.SetAuthToken(token) }
}

// WithHeader sends a fixed header on every request.
func WithHeader(key, value string) Option {
	return func(c *resty.Client) { c.SetHeader(key, value) }
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *resty.Client) { c.SetTimeout(d) }
}

// Client sends JSON requests relative to a base URL.
type Client struct {
	c *resty.Client
}

// New returns a client for baseURL. It does not connect.
func New(baseURL string, opts ...Option) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json").
		SetTimeout(DefaultTimeout)
	for _, opt := range opts {
		opt(c)
	}
	return &Client{c: c}
}

// Get sends a GET with query parameters and decodes a JSON response into result (may be nil).
func (c *Client) Get(ctx context.Context, path string, query map[string]string, result any) error {
	req := c.c.R().SetContext(ctx).SetExpectResponseContentType("application/json")
	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	if result != nil {
		req.SetResult(result)
	}
	resp, err := req.Get(path)
	return check("GET", path, resp, err)
}

// Post sends body as JSON and decodes a JSON response into result (may be nil).
func (c *Client) Post(ctx context.Context, path string, body, result any) error {
	req := c.c.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetExpectResponseContentType("application/json").
		SetBody(body)
	if result != nil {
		req.SetResult(result)
	}
	resp, err := req.Post(path)
	return check("POST", path, resp, err)
}

// Close releases idle connections.
func (c *Client) Close() error {
	return c.c.Close()
}

func check(method, path string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode(), Body: resp.String()}
	}
	return nil
}
