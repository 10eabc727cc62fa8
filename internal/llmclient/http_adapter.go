package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// HTTPConfig configures an HTTPClient.
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Model   string

	// RequestsPerSecond and Burst bound the outbound call rate so a
	// misbehaving specialist can't hammer the provider past its own
	// rate limit. Defaults: 2 rps, burst 2.
	RequestsPerSecond float64
	Burst             int

	// MaxRetries bounds retry attempts on a RateLimited classification.
	MaxRetries int

	HTTPClient *http.Client
}

// HTTPClient is a reference Client implementation that calls an
// OpenAI-compatible completion endpoint over HTTP, backing off on
// ErrorClassRateLimited with a token-bucket limiter plus exponential
// wait, the way the teacher's FailoverBrain backs off a tripped
// circuit breaker. Never imported by the Coordinator core.
type HTTPClient struct {
	cfg     HTTPConfig
	limiter *rate.Limiter
	client  *http.Client
}

// NewHTTPClient constructs an HTTPClient from cfg, applying defaults.
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 2
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPClient{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		client:  cfg.HTTPClient,
	}
}

type completionRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type completionResponse struct {
	Text string `json:"text"`
}

// Complete implements Client, retrying on RateLimited up to
// cfg.MaxRetries times with the limiter's own wait as backoff.
func (c *HTTPClient) Complete(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("llmclient: rate limiter wait: %w", err)
		}

		text, err := c.doRequest(ctx, prompt)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if ClassifyError(err) != ErrorClassRateLimited {
			return "", err
		}
	}
	return "", fmt.Errorf("llmclient: exhausted retries: %w", lastErr)
}

func (c *HTTPClient) doRequest(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(completionRequest{Model: c.cfg.Model, Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("llmclient: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llmclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("llmclient: transport: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("llmclient: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	var out completionResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("llmclient: decode response: %w", err)
	}
	return out.Text, nil
}
