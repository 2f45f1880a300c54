// Package apiclient delivers finished execution results to the
// integration backend.
package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"carscout/httputil"
	"carscout/models"
)

type Config struct {
	BaseURL  string
	Username string
	Password string
}

func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("integration api url is not set")
	}
	if c.Username == "" {
		return fmt.Errorf("integration api username is not set")
	}
	if c.Password == "" {
		return fmt.Errorf("integration api password is not set")
	}
	return nil
}

// Client is a thin bearer-token client over the backend's two endpoints:
// login and result upload. Authenticate must succeed before SendResults.
type Client struct {
	cfg       Config
	requester *httputil.Requester
	token     string
}

func New(cfg Config, httpClient *http.Client) *Client {
	return &Client{cfg: cfg, requester: httputil.NewRequester(httpClient)}
}

type loginResponse struct {
	Data struct {
		Token        string `json:"token"`
		RefreshToken string `json:"refreshToken"`
	} `json:"data"`
}

func (c *Client) Authenticate(ctx context.Context) error {
	raw, err := c.requester.Post(ctx, c.endpoint("auth/login"), map[string]string{
		"username": c.cfg.Username,
		"password": c.cfg.Password,
	}, nil)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	var resp loginResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("decode login response: %w", err)
	}
	if resp.Data.Token == "" {
		return fmt.Errorf("login returned no token")
	}
	c.token = resp.Data.Token
	return nil
}

// SendResults uploads the per-market rows for one execution.
func (c *Client) SendResults(ctx context.Context, executionID int, results []models.ExecutionResult) error {
	if c.token == "" {
		return fmt.Errorf("not authenticated")
	}

	payload := map[string]any{
		"executionId": executionID,
		"results":     results,
	}
	headers := map[string]string{
		"Authorization": "Bearer " + c.token,
	}

	if _, err := c.requester.Post(ctx, c.endpoint("scraper-processing/upload-execution-results"), payload, headers); err != nil {
		return fmt.Errorf("upload execution results: %w", err)
	}
	return nil
}

func (c *Client) endpoint(path string) string {
	return strings.TrimSuffix(c.cfg.BaseURL, "/") + "/" + path
}
