// Package search talks to the backend knowledge API: bearer-token login,
// entity search and info-point card dispatch.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"companion/internal/config"
	"companion/internal/logging"
)

const (
	loginEndpoint  = "/v2/auth/login-password"
	searchEndpoint = "/ia/search"
)

// Client is an authenticated client for the backend knowledge API.
type Client struct {
	baseURL          string
	infoPointBaseURL string
	username         string
	password         string
	refreshThreshold time.Duration
	httpClient       *http.Client

	mu             sync.Mutex
	accessToken    string
	expirationTime time.Time
}

// NewClient builds a Client from configuration.
func NewClient(cfg config.SearchConfig, timeout time.Duration) *Client {
	return &Client{
		baseURL:          cfg.BaseURL,
		infoPointBaseURL: cfg.InfoPointBaseURL,
		username:         cfg.Username,
		password:         cfg.Password,
		refreshThreshold: time.Duration(cfg.RefreshThreshold) * time.Second,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// login authenticates and returns the issued tokens.
func (c *Client) login(ctx context.Context) (*loginResponse, error) {
	body, err := json.Marshal(loginRequest{
		PreferredUsername: c.username,
		Password:          c.password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+loginEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("login request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read login response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("login failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var loginResp loginResponse
	if err := json.Unmarshal(respBody, &loginResp); err != nil {
		return nil, fmt.Errorf("failed to parse login response: %w", err)
	}
	if loginResp.AuthenticationResult.AccessToken == "" {
		return nil, fmt.Errorf("login response missing access token")
	}
	return &loginResp, nil
}

// ensureToken returns a valid access token, renewing it when it is missing
// or its remaining lifetime falls below the refresh threshold.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Until(c.expirationTime) > c.refreshThreshold {
		return c.accessToken, nil
	}

	logging.Get(logging.CategorySearch).Debug("Access token missing or near expiry, renewing")

	loginResp, err := c.login(ctx)
	if err != nil {
		return "", err
	}

	c.accessToken = loginResp.AuthenticationResult.AccessToken
	c.expirationTime = time.Now().Add(time.Duration(loginResp.AuthenticationResult.ExpiresIn) * time.Second)

	logging.Get(logging.CategorySearch).Info("Access token renewed, expires in %ds",
		loginResp.AuthenticationResult.ExpiresIn)
	return c.accessToken, nil
}

// Search runs an entity search with the given parameters and returns the
// raw response body for downstream formatting.
func (c *Client) Search(ctx context.Context, params Params) (json.RawMessage, error) {
	timer := logging.StartTimer(logging.CategorySearch, "Search")
	defer timer.StopWithThreshold(5 * time.Second)

	token, err := c.ensureToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}

	params.Normalize()

	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search params: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+searchEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// SendProjectCard delivers the detail card of a project.
func (c *Client) SendProjectCard(ctx context.Context, to string, projectID interface{}) error {
	return c.DispatchInfoPoint(ctx, to, "project", map[string]interface{}{"project_id": projectID})
}

// SendUnitCard delivers the detail card of a unit.
func (c *Client) SendUnitCard(ctx context.Context, to string, unitID interface{}) error {
	return c.DispatchInfoPoint(ctx, to, "unit", map[string]interface{}{"unit_id": unitID})
}

// DispatchInfoPoint posts an info-point card request (project or unit) to
// the chatbot delivery endpoint. The card is delivered out-of-band, so the
// caller only needs success or failure.
func (c *Client) DispatchInfoPoint(ctx context.Context, to, infoPointType string, params map[string]interface{}) error {
	base := c.infoPointBaseURL
	if base == "" {
		base = c.baseURL
	}

	payload := map[string]interface{}{"to": "+" + to}
	for k, v := range params {
		payload[k] = v
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal info point payload: %w", err)
	}

	url := fmt.Sprintf("%s/chatbot/whatsapp/%s", base, infoPointType)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create info point request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("info point request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("info point dispatch failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	logging.Get(logging.CategorySearch).Info("Info point %s dispatched to %s", infoPointType, to)
	return nil
}
