// Package planeapi executes registry methods against the project-management REST API.
package planeapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/actionflow/internal/registry"
)

const defaultTimeout = 30 * time.Second

// ErrTransport marks failures worth retrying: network errors, 429 and 5xx.
var ErrTransport = errors.New("api transport error")

// Client is an HTTP registry.MethodExecutor.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the API key sent as X-API-Key.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.http.Timeout = timeout
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client for baseURL (e.g. "https://api.example.com/api/v1").
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Execute implements registry.MethodExecutor.
func (c *Client) Execute(ctx context.Context, category registry.Category, method string, args map[string]interface{}) (registry.MethodResult, error) {
	r, ok := routes[category][method]
	if !ok {
		return registry.MethodResult{Error: fmt.Sprintf("no API route for %s.%s", category, method)}, nil
	}
	path, body, err := r.expand(args)
	if err != nil {
		return registry.MethodResult{Error: err.Error()}, nil
	}

	var reader io.Reader
	if r.verb != http.MethodGet && r.verb != http.MethodDelete {
		raw, err := json.Marshal(body)
		if err != nil {
			return registry.MethodResult{Error: fmt.Sprintf("marshal body: %v", err)}, nil
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, r.verb, c.baseURL+path, reader)
	if err != nil {
		return registry.MethodResult{}, fmt.Errorf("%w: create request: %v", ErrTransport, err)
	}
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("X-API-Key", c.token)
	}

	c.logger.Debug("api request", "method", r.verb, "path", path)
	resp, err := c.http.Do(req)
	if err != nil {
		return registry.MethodResult{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return registry.MethodResult{}, fmt.Errorf("%w: read response: %v", ErrTransport, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return registry.MethodResult{}, fmt.Errorf("%w: HTTP %d: %s", ErrTransport, resp.StatusCode, truncate(string(respBody), 200))
	case resp.StatusCode >= 400:
		return registry.MethodResult{Error: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(string(respBody), 200))}, nil
	}

	return registry.MethodResult{Success: true, Data: decodeData(respBody)}, nil
}

// decodeData returns objects as-is and wraps arrays under "results".
func decodeData(body []byte) map[string]interface{} {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	var parsed interface{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return map[string]interface{}{"raw": string(body)}
	}
	switch v := parsed.(type) {
	case map[string]interface{}:
		return v
	case []interface{}:
		return map[string]interface{}{"results": v}
	}
	return map[string]interface{}{"value": parsed}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

var _ registry.MethodExecutor = (*Client)(nil)
