// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gradient

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

	"go.uber.org/zap"

	"github.com/jeranaias/gradchat/internal/headers"
)

// Configuration constants for the Gradient chat API.
const (
	// DefaultBaseURL is the base URL of the chat service API.
	DefaultBaseURL = "https://chat.gradient.network/api"

	// DefaultTimeout bounds a whole generate round-trip.
	DefaultTimeout = 120 * time.Second

	// MaxResponseSize is the maximum allowed response body size.
	// SECURITY: Response size limit prevents memory exhaustion.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB limit

	// maxErrorBody caps the body excerpt kept in a TransportError.
	maxErrorBody = 512
)

// ErrResponseTooLarge is returned when a body exceeds MaxResponseSize.
var ErrResponseTooLarge = fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)

// TransportError reports a failed HTTP exchange: either the request never
// got a response (Err is set) or the service answered with a non-2xx status.
type TransportError struct {
	Op         string
	StatusCode int
	Status     string
	Body       string
	Err        error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		msg := fmt.Sprintf("gradient %s failed (HTTP %d %s)", e.Op, e.StatusCode, e.Status)
		if e.Body != "" {
			msg += ": " + e.Body
		}
		return msg
	}
	return fmt.Sprintf("gradient %s request failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying network error, if any.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the chat service over HTTP. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	headers    headers.Provider
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the round-trip timeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			hc := *c.httpClient
			hc.Timeout = d
			c.httpClient = &hc
		}
	}
}

// WithHeaders sets the header provider applied to every request.
func WithHeaders(p headers.Provider) Option {
	return func(c *Client) {
		if p != nil {
			c.headers = p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a client for the default endpoint with a random browser
// header profile.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		// PERFORMANCE: one client per process keeps connections pooled
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
			Timeout: DefaultTimeout,
		},
		headers: headers.NewBrowser(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// setHeaders applies the browser profile followed by the JSON content type.
func (c *Client) setHeaders(req *http.Request) {
	for k, v := range c.headers.Headers() {
		req.Header.Set(k, v)
	}
	if req.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
}

// Post sends payload to /generate and returns the raw response body.
// Non-2xx answers and network failures are returned as *TransportError.
func (c *Client) Post(ctx context.Context, payload Payload) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.do(req)
	if err != nil {
		return "", &TransportError{Op: "generate", Err: err}
	}
	defer resp.Body.Close()

	data, err := readResponse(resp)
	if err != nil {
		return "", &TransportError{Op: "generate", StatusCode: resp.StatusCode, Status: statusText(resp), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &TransportError{
			Op:         "generate",
			StatusCode: resp.StatusCode,
			Status:     statusText(resp),
			Body:       excerpt(data),
		}
	}

	return string(data), nil
}

// ModelInfo fetches the list of model names the service currently offers.
func (c *Client) ModelInfo(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/model_info", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.do(req)
	if err != nil {
		return nil, &TransportError{Op: "model_info", Err: err}
	}
	defer resp.Body.Close()

	data, err := readResponse(resp)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{
			Op:         "model_info",
			StatusCode: resp.StatusCode,
			Status:     statusText(resp),
			Body:       excerpt(data),
		}
	}

	var info modelInfoResponse
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse model info: %w", err)
	}

	names := make([]string, 0, len(info.Data.AvailableModels))
	for _, m := range info.Data.AvailableModels {
		if m.Name != "" {
			names = append(names, m.Name)
		}
	}
	return names, nil
}

// ListModels is the best-effort form of ModelInfo: any failure is logged and
// yields an empty slice.
func (c *Client) ListModels(ctx context.Context) []string {
	names, err := c.ModelInfo(ctx)
	if err != nil {
		c.logger.Warn("failed to fetch model list", zap.Error(err))
		return []string{}
	}
	return names
}

// do performs the request and logs method, path, status and duration. Bodies
// are never logged here.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("api request failed",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return nil, err
	}
	c.logger.Debug("api response",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))
	return resp, nil
}

// readResponse reads the response body with a size limit.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(body) > MaxResponseSize {
		return nil, ErrResponseTooLarge
	}
	return body, nil
}

func statusText(resp *http.Response) string {
	if text := http.StatusText(resp.StatusCode); text != "" {
		return text
	}
	return strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprint(resp.StatusCode)))
}

func excerpt(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody] + "..."
	}
	return s
}

// IsTransportError reports whether err is or wraps a *TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
