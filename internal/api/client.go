// Package api implements the HTTP client for the remote media manager's
// REST surface: session auth, reference data and the five watch-entity
// collections.
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

	"github.com/rs/zerolog"

	"github.com/driftwatch/driftwatch/internal/watch"
)

const defaultTimeout = 30 * time.Second

// ErrUnauthorized matches any HTTP 401 response via errors.Is.
var ErrUnauthorized = errors.New("unauthorized")

// HTTPError is returned for any non-2xx response.
type HTTPError struct {
	Status int
	Body   string
}

// Error implements error.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}

// Is reports 401 responses as ErrUnauthorized.
func (e *HTTPError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

// TokenProvider supplies the current bearer credential. An empty token means
// the request is sent unauthenticated.
type TokenProvider interface {
	Token() string
}

// Client provides HTTP communication with the media manager server.
type Client struct {
	baseURL    string
	tokens     TokenProvider
	httpClient *http.Client
	logger     zerolog.Logger
}

// ClientConfig contains configuration for creating a new Client.
type ClientConfig struct {
	URL     string
	Tokens  TokenProvider
	Timeout time.Duration
	Logger  zerolog.Logger
}

// NewClient creates a new API client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("server URL is required")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token provider is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.URL, "/"),
		tokens:  cfg.Tokens,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: cfg.Logger.With().Str("component", "api-client").Logger(),
	}, nil
}

// BaseURL returns the configured server URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// do executes an HTTP request with the token auth header and decodes any
// error status into an HTTPError.
func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if token := c.tokens.Token(); token != "" {
		req.Header.Set("Authorization", "Token "+token)
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Msg("executing request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return data, nil
}

// Login exchanges credentials for an API token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	params := map[string]string{"username": username, "password": password}

	data, err := c.do(ctx, http.MethodPost, "/api/auth/", params)
	if err != nil {
		return "", fmt.Errorf("login failed: %w", err)
	}

	var auth authResponse
	if err := json.Unmarshal(data, &auth); err != nil {
		return "", fmt.Errorf("failed to decode auth response: %w", err)
	}
	if auth.Token == "" {
		return "", fmt.Errorf("auth response contained no token")
	}
	return auth.Token, nil
}

// FetchUser returns the current user, or nil when the server reports no
// user for the session. A 401 surfaces as ErrUnauthorized.
func (c *Client) FetchUser(ctx context.Context) (*User, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/user/", nil)
	if err != nil {
		return nil, err
	}

	var users []User
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("failed to decode user response: %w", err)
	}
	if len(users) == 0 {
		return nil, nil
	}
	return &users[0], nil
}

// FetchSettings returns the settings singleton, or nil when the server has
// none yet.
func (c *Client) FetchSettings(ctx context.Context) (*Settings, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/settings/", nil)
	if err != nil {
		return nil, err
	}

	var settings []Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("failed to decode settings response: %w", err)
	}
	if len(settings) == 0 {
		return nil, nil
	}
	return &settings[0], nil
}

// UpdateSettings patches the settings singleton and returns the updated
// record.
func (c *Client) UpdateSettings(ctx context.Context, id int64, params map[string]any) (*Settings, error) {
	data, err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/settings/%d/", id), params)
	if err != nil {
		return nil, err
	}

	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("failed to decode settings response: %w", err)
	}
	return &settings, nil
}

// FetchQualityProfiles returns the configured quality profile names.
func (c *Client) FetchQualityProfiles(ctx context.Context) ([]string, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/quality-profiles/", nil)
	if err != nil {
		return nil, err
	}

	var resp qualityProfilesResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode quality profiles: %w", err)
	}
	return resp.Profiles, nil
}

// FetchMediaCategories returns the configured media category names.
func (c *Client) FetchMediaCategories(ctx context.Context) ([]string, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/media-categories/", nil)
	if err != nil {
		return nil, err
	}

	var resp mediaCategoriesResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode media categories: %w", err)
	}
	return resp.Categories, nil
}

// FetchWatch lists one watch collection. A nil since requests the full
// unfiltered listing (replace mode); otherwise only records updated at or
// after the cursor are returned (merge mode). The selected mode is part of
// the result so callers cannot mismatch filter and merge semantics.
func (c *Client) FetchWatch(ctx context.Context, kind watch.Kind, since *time.Time) (json.RawMessage, watch.Mode, error) {
	path := kind.APIPath()
	mode := watch.Replace
	if since != nil {
		query := url.Values{}
		query.Set("date_updated__gte", since.UTC().Format(time.RFC3339))
		path += "?" + query.Encode()
		mode = watch.Merge
	}

	data, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, mode, err
	}
	return json.RawMessage(data), mode, nil
}

// CreateWatch posts a new watch record and returns the server's copy.
func (c *Client) CreateWatch(ctx context.Context, kind watch.Kind, params map[string]any) (json.RawMessage, error) {
	data, err := c.do(ctx, http.MethodPost, kind.APIPath(), params)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// UpdateWatch patches an existing watch record and returns the server's
// copy.
func (c *Client) UpdateWatch(ctx context.Context, kind watch.Kind, id int64, params map[string]any) (json.RawMessage, error) {
	data, err := c.do(ctx, http.MethodPatch, fmt.Sprintf("%s%d/", kind.APIPath(), id), params)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// RemoveWatch deletes a watch record on the server.
func (c *Client) RemoveWatch(ctx context.Context, kind watch.Kind, id int64) error {
	_, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("%s%d/", kind.APIPath(), id), nil)
	return err
}

// BlacklistRetry blacklists the current torrent for a watch record and asks
// the server to retry with another result; the refreshed record comes back.
func (c *Client) BlacklistRetry(ctx context.Context, kind watch.Kind, id int64) (json.RawMessage, error) {
	data, err := c.do(ctx, http.MethodPost, fmt.Sprintf("%s%d/blacklist-auto-retry/", kind.APIPath(), id), nil)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}
