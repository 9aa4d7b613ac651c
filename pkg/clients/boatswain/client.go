package boatswain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"clipworks/api_orchestrator/pkg/clients"
	"clipworks/api_orchestrator/pkg/logging"
)

// Client is an HTTP client for the Publishing Service (Boatswain).
// It drives the publish pipeline: optimal scheduling of queued clips
// and immediate analyze-and-publish for high scoring clips.
type Client struct {
	baseURL      string
	serviceToken string
	httpClient   *http.Client
	logger       logging.Logger
	retryConfig  clients.RetryConfig
}

// Config holds Boatswain client configuration
type Config struct {
	BaseURL              string
	ServiceToken         string
	Timeout              time.Duration
	Logger               logging.Logger
	RetryConfig          *clients.RetryConfig
	CircuitBreakerConfig *clients.CircuitBreakerConfig
}

// NewClient creates a new Boatswain client
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	retryConfig := clients.DefaultRetryConfig()
	if cfg.RetryConfig != nil {
		retryConfig = *cfg.RetryConfig
	}

	if cfg.CircuitBreakerConfig != nil {
		cbConfig := *cfg.CircuitBreakerConfig
		if cbConfig.Name == "" {
			cbConfig.Name = "boatswain"
		}
		if cbConfig.Logger == nil {
			cbConfig.Logger = cfg.Logger
		}
		retryConfig.CircuitBreaker = clients.NewCircuitBreaker(cbConfig)
	}

	return &Client{
		baseURL:      cfg.BaseURL,
		serviceToken: cfg.ServiceToken,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		logger:       cfg.Logger,
		retryConfig:  retryConfig,
	}
}

// ScheduleResult is the response from a scheduling call
type ScheduleResult struct {
	ClipID      string     `json:"clip_id"`
	Platform    string     `json:"platform,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	Status      string     `json:"status"`
}

// PublishResult is the response from an analyze-and-publish call
type PublishResult struct {
	ClipID         string `json:"clip_id"`
	Platform       string `json:"platform,omitempty"`
	ExternalPostID string `json:"external_post_id,omitempty"`
	Status         string `json:"status"`
}

// ScheduleOptimalPublish asks the publishing service to place the clip in
// the best open publish window across connected platforms.
func (c *Client) ScheduleOptimalPublish(ctx context.Context, clipID string) (*ScheduleResult, error) {
	body := map[string]string{"clip_id": clipID}

	var result ScheduleResult
	if err := c.doJSON(ctx, http.MethodPost, "/publish/schedule-optimal", body, &result); err != nil {
		return nil, fmt.Errorf("schedule optimal publish for clip %s: %w", clipID, err)
	}

	if c.logger != nil {
		c.logger.WithFields(logging.Fields{
			"clip_id":  clipID,
			"platform": result.Platform,
			"status":   result.Status,
		}).Info("Scheduled clip for optimal publish")
	}

	return &result, nil
}

// AnalyzeAndPublish asks the publishing service to analyze the clip and
// publish it immediately on the best matching platform.
func (c *Client) AnalyzeAndPublish(ctx context.Context, clipID string) (*PublishResult, error) {
	body := map[string]string{"clip_id": clipID}

	var result PublishResult
	if err := c.doJSON(ctx, http.MethodPost, "/publish/analyze", body, &result); err != nil {
		return nil, fmt.Errorf("analyze and publish clip %s: %w", clipID, err)
	}

	if c.logger != nil {
		c.logger.WithFields(logging.Fields{
			"clip_id":  clipID,
			"platform": result.Platform,
			"status":   result.Status,
		}).Info("Submitted clip for analyze-and-publish")
	}

	return &result, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, reqBody, respBody interface{}) error {
	var bodyReader io.Reader
	if reqBody != nil {
		payload, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.serviceToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.serviceToken)
	}

	resp, err := clients.DoWithRetry(ctx, c.httpClient, req, c.retryConfig)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(data))
	}

	if respBody != nil {
		if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}
