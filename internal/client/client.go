// Package client provides an HTTP client for the keygate server, used by
// keygatectl for both client validation and admin operations.
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
	"time"

	"github.com/keygate/keygate/internal/license"
	"github.com/keygate/keygate/internal/updates"
)

// DefaultTimeout is the default HTTP client timeout.
const DefaultTimeout = 30 * time.Second

// ErrUnauthorized is returned when the server rejects the admin session.
var ErrUnauthorized = errors.New("unauthorized: run keygatectl login")

// APIError is a non-success response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Client is an HTTP client for the keygate server.
type Client struct {
	serverURL  string
	token      string
	httpClient *http.Client
}

// New creates a client. token is the admin session token and may be empty
// for client-only calls.
func New(serverURL, token string) *Client {
	return &Client{
		serverURL: strings.TrimRight(serverURL, "/"),
		token:     token,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// Validate asks the server to validate a key for this device.
func (c *Client) Validate(ctx context.Context, key, hwid string) (license.Status, error) {
	var resp struct {
		Status license.Status `json:"status"`
	}
	req := map[string]string{"key": key, "hwid": hwid}
	if err := c.do(ctx, http.MethodPost, "/validate", req, &resp); err != nil {
		return "", fmt.Errorf("validate: %w", err)
	}
	return resp.Status, nil
}

// LoginResult is a new admin session.
type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login starts an admin session and adopts its token.
func (c *Client) Login(ctx context.Context, password string) (*LoginResult, error) {
	var result LoginResult
	if err := c.do(ctx, http.MethodPost, "/admin/login", map[string]string{"password": password}, &result); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	c.token = result.Token
	return &result, nil
}

// Logout ends the current admin session.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/admin/logout", nil, nil); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	c.token = ""
	return nil
}

// CreatedLicense describes a newly created license. Key is set only when the
// server generated it.
type CreatedLicense struct {
	License license.View `json:"license"`
	Key     string       `json:"key,omitempty"`
}

// CreateLicense creates a license. An empty key asks the server to generate one.
func (c *Client) CreateLicense(ctx context.Context, key, label string) (*CreatedLicense, error) {
	var result CreatedLicense
	req := map[string]string{"key": key, "label": label}
	if err := c.do(ctx, http.MethodPost, "/admin/licenses", req, &result); err != nil {
		return nil, fmt.Errorf("create license: %w", err)
	}
	return &result, nil
}

// BanLicense deactivates a license.
func (c *Client) BanLicense(ctx context.Context, key string) error {
	return c.mutate(ctx, "ban", key)
}

// UnbanLicense reactivates a license and clears its binding.
func (c *Client) UnbanLicense(ctx context.Context, key string) error {
	return c.mutate(ctx, "unban", key)
}

// DeleteLicense removes a license.
func (c *Client) DeleteLicense(ctx context.Context, key string) error {
	return c.mutate(ctx, "delete", key)
}

func (c *Client) mutate(ctx context.Context, op, key string) error {
	if err := c.do(ctx, http.MethodPost, "/admin/licenses/"+op, map[string]string{"key": key}, nil); err != nil {
		return fmt.Errorf("%s license: %w", op, err)
	}
	return nil
}

// ListLicenses returns every license and the online count.
func (c *Client) ListLicenses(ctx context.Context) (*license.Listing, error) {
	var listing license.Listing
	if err := c.do(ctx, http.MethodGet, "/admin/licenses", nil, &listing); err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	return &listing, nil
}

// Stats returns aggregate license counts.
func (c *Client) Stats(ctx context.Context) (*license.Stats, error) {
	var stats license.Stats
	if err := c.do(ctx, http.MethodGet, "/admin/stats", nil, &stats); err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}
	return &stats, nil
}

// UpdateInfo is the client update check result.
type UpdateInfo struct {
	Update  bool   `json:"update"`
	Version string `json:"version,omitempty"`
	URL     string `json:"url,omitempty"`
	SHA256  string `json:"sha256,omitempty"`
}

// LatestUpdate reports the latest published update.
func (c *Client) LatestUpdate(ctx context.Context) (*UpdateInfo, error) {
	var info UpdateInfo
	if err := c.do(ctx, http.MethodGet, "/update", nil, &info); err != nil {
		return nil, fmt.Errorf("check update: %w", err)
	}
	return &info, nil
}

// PublishUpdate publishes a new update pointer.
func (c *Client) PublishUpdate(ctx context.Context, version, url, sha256 string) (*updates.Pointer, error) {
	var p updates.Pointer
	req := map[string]string{"version": version, "url": url, "sha256": sha256}
	if err := c.do(ctx, http.MethodPost, "/admin/updates", req, &p); err != nil {
		return nil, fmt.Errorf("publish update: %w", err)
	}
	return &p, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, result any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return responseError(resp.StatusCode, data)
	}

	if result != nil {
		return json.Unmarshal(data, result)
	}
	return nil
}

func responseError(status int, body []byte) error {
	switch status {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		return license.ErrNotFound
	case http.StatusConflict:
		return license.ErrConflict
	}

	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	return &APIError{StatusCode: status, Message: msg}
}
