// Package arena provides a client for the Agent Arena competition API.
//
// Every method is a single round trip. The client keeps no state between calls:
// it does not retry and it does not deduplicate submissions. Duplicate
// submissions are collapsed by the arena through the Idempotency-Key header.
package arena

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/arena-agent/internal/config"
	"github.com/aristath/arena-agent/internal/domain"
)

// IdempotencyHeader carries the deterministic submission key
const IdempotencyHeader = "Idempotency-Key"

// Client is the Agent Arena API client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a new arena client.
func NewClient(cfg config.ArenaConfig, log zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log.With().Str("client", "arena").Logger(),
	}
}

// IdempotencyKey derives the submission key for an agent and interval.
// It depends only on its arguments so a re-run of the same interval yields the same key.
func IdempotencyKey(agentID, intervalStart string) string {
	return agentID + ":" + intervalStart
}

// CheckVersion fetches the API schema version and fails with a
// *domain.CompatibilityError if it differs from domain.SchemaVersion.
func (c *Client) CheckVersion(ctx context.Context) (*domain.VersionResponse, error) {
	var version domain.VersionResponse
	if err := c.do(ctx, http.MethodGet, "/v1/version", nil, nil, &version); err != nil {
		return nil, err
	}

	if version.SchemaVersion != domain.SchemaVersion {
		return nil, &domain.CompatibilityError{
			Expected: domain.SchemaVersion,
			Got:      version.SchemaVersion,
		}
	}

	return &version, nil
}

// GetClock fetches the current game interval.
func (c *Client) GetClock(ctx context.Context) (*domain.Clock, error) {
	var clock domain.Clock
	if err := c.do(ctx, http.MethodGet, "/v1/game/clock", nil, nil, &clock); err != nil {
		return nil, err
	}
	return &clock, nil
}

// GetPortfolio fetches the agent's current balances and NAV.
func (c *Client) GetPortfolio(ctx context.Context, agentID string) (*domain.Portfolio, error) {
	var portfolio domain.Portfolio
	if err := c.do(ctx, http.MethodGet, agentPath(agentID, "portfolio"), nil, nil, &portfolio); err != nil {
		return nil, err
	}
	return &portfolio, nil
}

// GetAssets fetches the list of tradeable assets.
func (c *Client) GetAssets(ctx context.Context) ([]domain.AssetInfo, error) {
	var assets []domain.AssetInfo
	if err := c.do(ctx, http.MethodGet, "/v1/game/assets", nil, nil, &assets); err != nil {
		return nil, err
	}
	return assets, nil
}

// ValidateDecision asks the arena to check a decision without recording it.
func (c *Client) ValidateDecision(ctx context.Context, agentID string, decision *domain.Decision) (*domain.ValidationResult, error) {
	var result domain.ValidationResult
	if err := c.do(ctx, http.MethodPost, agentPath(agentID, "validate"), decision, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SubmitDecision submits a decision for the interval starting at intervalStart.
func (c *Client) SubmitDecision(ctx context.Context, agentID string, decision *domain.Decision, intervalStart string) (*domain.SubmissionResult, error) {
	headers := map[string]string{
		IdempotencyHeader: IdempotencyKey(agentID, intervalStart),
	}

	var result domain.SubmissionResult
	if err := c.do(ctx, http.MethodPost, agentPath(agentID, "submissions"), decision, headers, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func agentPath(agentID, resource string) string {
	return "/v1/agents/" + url.PathEscape(agentID) + "/" + resource
}

// do performs one request and decodes a JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, headers map[string]string, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	c.log.Debug().Str("method", method).Str("path", path).Msg("Arena request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("API %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return &domain.TransportError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       string(bodyBytes),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}

	return nil
}
