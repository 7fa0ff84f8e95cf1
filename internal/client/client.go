package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/inercia/analyst/internal/logging"
)

// DefaultBaseURL is the address of a locally running backend.
const DefaultBaseURL = "http://localhost:8000"

// maxErrorBody caps how much of a failed response is read for the message.
const maxErrorBody = 64 << 10

// Client provides HTTP methods for the assistant REST API.
// It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithTimeout sets the HTTP client timeout. Analysis turns can take
// minutes, so the default is generous.
func WithTimeout(d time.Duration) Option {
	return func(client *Client) {
		client.httpClient.Timeout = d
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *slog.Logger) Option {
	return func(client *Client) {
		client.logger = l
	}
}

// New creates a new client.
// baseURL should be the backend address (e.g., "http://localhost:8000").
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.Client()
	}
	return c
}

// BaseURL returns the base URL of the client.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ImageBaseURL returns the image-serving endpoint.
func (c *Client) ImageBaseURL() string {
	return c.baseURL + "/image"
}

func (c *Client) url(path string) string {
	return c.baseURL + path
}

func sessionPath(sessionID, suffix string) string {
	return "/api/sessions/" + url.PathEscape(sessionID) + suffix
}

// Chat sends one user turn.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var resp ChatResponse
	if err := c.doJSON(ctx, "chat", http.MethodPost, "/api/chat", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Continue asks the server for more output on an existing session.
func (c *Client) Continue(ctx context.Context, req ContinueRequest) (*ChatResponse, error) {
	if req.SessionID == "" {
		return nil, &APIError{Op: "continue", Message: "session id required"}
	}
	var resp ChatResponse
	if err := c.doJSON(ctx, "continue", http.MethodPost, "/api/chat/continue", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SessionInfo returns information about a session.
func (c *Client) SessionInfo(ctx context.Context, sessionID string) (*SessionInfo, error) {
	var info SessionInfo
	if err := c.doJSON(ctx, "session info", http.MethodGet, sessionPath(sessionID, "/info"), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// SessionTools returns the tool descriptions available to a session.
// Tools are returned as raw JSON objects; their shape is backend-defined.
func (c *Client) SessionTools(ctx context.Context, sessionID string) ([]json.RawMessage, error) {
	var body struct {
		Tools []json.RawMessage `json:"tools"`
	}
	if err := c.doJSON(ctx, "session tools", http.MethodGet, sessionPath(sessionID, "/tools"), nil, &body); err != nil {
		return nil, err
	}
	return body.Tools, nil
}

// SessionHistory returns the server-side message history of a session.
func (c *Client) SessionHistory(ctx context.Context, sessionID string) ([]json.RawMessage, error) {
	var body struct {
		Messages []json.RawMessage `json:"messages"`
	}
	if err := c.doJSON(ctx, "session history", http.MethodGet, sessionPath(sessionID, "/history"), nil, &body); err != nil {
		return nil, err
	}
	return body.Messages, nil
}

// DeleteSession deletes a session.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.doJSON(ctx, "delete session", http.MethodDelete, sessionPath(sessionID, ""), nil, nil)
}

// Health checks that the backend is up.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.doJSON(ctx, "health", http.MethodGet, "/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// FetchImage downloads /image/{filename} into w and returns the number of
// bytes written and the content type.
func (c *Client) FetchImage(ctx context.Context, filename string, w io.Writer) (int64, string, error) {
	const op = "fetch image"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/image/"+url.PathEscape(filename)), nil)
	if err != nil {
		return 0, "", &APIError{Op: op, Err: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", &APIError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return 0, "", statusError(op, resp.StatusCode, body)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, "", &APIError{Op: op, Err: err}
	}
	return n, resp.Header.Get("Content-Type"), nil
}

// doJSON performs a request with an optional JSON body and decodes a JSON
// response into out (skipped when out is nil).
func (c *Client) doJSON(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: marshal: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return &APIError{Op: op, Err: err}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "op", op, "method", method, "path", path, "error", err)
		return &APIError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("request done",
		"op", op,
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return statusError(op, resp.StatusCode, respBody)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &APIError{Op: op, Message: "decode response", Err: err}
	}
	return nil
}
