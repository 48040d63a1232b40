// Package client talks to a workflow execution backend: running workflows,
// fetching execution status, submitting user input, and requesting
// AI-assisted edits and naming.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tcmartin/flowcomposer/pkg/logging"
)

// Errors returned by the client
var (
	// ErrUnauthorized indicates the backend rejected the credentials or token
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = errors.New("not found")

	// ErrNoCredentials indicates a token refresh was needed but no
	// username/password pair is held
	ErrNoCredentials = errors.New("no credentials for token refresh")
)

// Default endpoint paths on the backend
const (
	DefaultSuggestPath   = "/api/ai/suggest"
	DefaultIdentifyPath  = "/api/ai/identify"
	DefaultAssistantPath = "/api/ai/assistant"
	loginPath            = "/api/auth/login"
)

// Client is an HTTP client for one workflow backend
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     logging.Logger

	suggestPath   string
	identifyPath  string
	assistantPath string

	mu       sync.Mutex
	token    string
	username string
	password string
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithToken sets the bearer token sent with authenticated requests
func WithToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

// WithCredentials stores a username/password pair used to log in and to
// refresh an expired token
func WithCredentials(username, password string) ClientOption {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// WithHTTPClient overrides the underlying HTTP client
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets the per-request timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithAssistPaths overrides the AI endpoint paths
func WithAssistPaths(suggest, identify string) ClientOption {
	return func(c *Client) {
		if suggest != "" {
			c.suggestPath = suggest
		}
		if identify != "" {
			c.identifyPath = identify
		}
	}
}

// WithClientLogger sets the client's logger
func WithClientLogger(logger logging.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a client for the backend at baseURL
func New(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		suggestPath:   DefaultSuggestPath,
		identifyPath:  DefaultIdentifyPath,
		assistantPath: DefaultAssistantPath,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.Default()
	}
	return c
}

// BaseURL returns the backend base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Token returns the current bearer token
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// SetToken replaces the bearer token
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// loginResponse is the login endpoint's reply
type loginResponse struct {
	Token string `json:"token"`
}

// Login exchanges the credentials for a bearer token and stores both for
// later refreshes
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var resp loginResponse
	err := c.doJSON(ctx, http.MethodPost, loginPath, map[string]string{
		"username": username,
		"password": password,
	}, &resp, false)
	if err != nil {
		return "", fmt.Errorf("login failed: %w", err)
	}

	c.mu.Lock()
	c.token = resp.Token
	c.username = username
	c.password = password
	c.mu.Unlock()

	return resp.Token, nil
}

// ensureToken refreshes the bearer token when its exp claim has passed.
// The token is only inspected, never verified; the backend remains the
// authority on validity.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.token
	username := c.username
	password := c.password
	c.mu.Unlock()

	if token == "" || !tokenExpired(token) {
		return token, nil
	}

	if username == "" {
		return "", ErrNoCredentials
	}

	c.logger.Debug("bearer token expired, refreshing")
	refreshed, err := c.Login(ctx, username, password)
	if err != nil {
		return "", fmt.Errorf("token refresh failed: %w", err)
	}
	return refreshed, nil
}

// tokenExpired reports whether the JWT's exp claim is in the past. Tokens
// that do not parse as JWTs (opaque API keys) never count as expired.
func tokenExpired(token string) bool {
	parser := jwt.NewParser()
	parsed, _, err := parser.ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return false
	}
	expires, err := parsed.Claims.GetExpirationTime()
	if err != nil || expires == nil {
		return false
	}
	return expires.Before(time.Now())
}

// doJSON sends one JSON request and decodes the JSON response into out.
// A nil out discards the response body.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}, authenticated bool) error {
	data, err := c.doRaw(ctx, method, path, body, authenticated)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// doRaw sends one JSON request and returns the raw response body, for
// endpoints whose replies are not guaranteed to be bare JSON
func (c *Client) doRaw(ctx context.Context, method, path string, body interface{}, authenticated bool) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authenticated {
		token, err := c.ensureToken(ctx)
		if err != nil {
			return nil, err
		}
		if token != "" {
			req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp.StatusCode, data)
	}
	return data, nil
}

// statusError maps an HTTP failure onto the client's error taxonomy
func statusError(code int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	default:
		return fmt.Errorf("backend error (status %d): %s", code, msg)
	}
}
