// Package captcha implements the submit/poll client for the external image
// solving provider. The login flow is its only consumer.
package captcha

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/api/schemas"
	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/internal/config"
	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/internal/retry"
)

// ErrSolveTimeout is returned when the provider does not produce an answer
// within the configured wait budget.
var ErrSolveTimeout = errors.New("captcha solve timed out")

// ErrProviderRejected is returned when the provider reports a task error.
var ErrProviderRejected = errors.New("captcha provider rejected task")

// Client talks to the solving provider over its JSON HTTP API.
type Client struct {
	cfg        config.CaptchaConfig
	httpClient *http.Client
	logger     *zap.Logger
}

var _ schemas.CaptchaSolver = (*Client)(nil)

// NewClient builds a solver client from configuration.
func NewClient(cfg config.CaptchaConfig, logger *zap.Logger) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.Named("captcha"),
	}
}

type submitRequest struct {
	APIKey string `json:"api_key"`
	Image  string `json:"image"`
}

type submitResponse struct {
	TaskID string `json:"task_id"`
	Error  string `json:"error,omitempty"`
}

type resultResponse struct {
	Status string `json:"status"` // "pending", "ready" or "error"
	Answer string `json:"answer,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Solve submits the challenge image and polls until the provider produces
// an answer, the wait budget runs out, or ctx is cancelled.
func (c *Client) Solve(ctx context.Context, imageBase64 string) (string, error) {
	taskID, err := c.submit(ctx, imageBase64)
	if err != nil {
		return "", err
	}
	c.logger.Debug("Captcha task submitted", zap.String("task_id", taskID))

	maxAttempts := int(c.cfg.MaxWait / c.cfg.PollInterval)
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var answer string
	err = retry.Poll(ctx, maxAttempts, c.cfg.PollInterval, func(ctx context.Context) (bool, error) {
		res, err := c.poll(ctx, taskID)
		if err != nil {
			return false, err
		}
		switch res.Status {
		case "ready":
			answer = res.Answer
			return true, nil
		case "error":
			return false, fmt.Errorf("%w: %s", ErrProviderRejected, res.Error)
		default:
			return false, nil
		}
	})
	if err != nil {
		if errors.Is(err, retry.ErrConditionNotMet) {
			return "", ErrSolveTimeout
		}
		return "", err
	}

	c.logger.Debug("Captcha answer received", zap.String("task_id", taskID))
	return answer, nil
}

func (c *Client) submit(ctx context.Context, imageBase64 string) (string, error) {
	body, err := json.Marshal(submitRequest{APIKey: c.cfg.APIKey, Image: imageBase64})
	if err != nil {
		return "", fmt.Errorf("failed to marshal submit request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+"/submit", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("captcha submit failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("captcha submit returned status %d", resp.StatusCode)
	}

	var sr submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", fmt.Errorf("failed to decode submit response: %w", err)
	}
	if sr.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrProviderRejected, sr.Error)
	}
	if sr.TaskID == "" {
		return "", errors.New("captcha provider returned empty task id")
	}
	return sr.TaskID, nil
}

func (c *Client) poll(ctx context.Context, taskID string) (*resultResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint+"/result?id="+taskID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build result request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("captcha poll failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("captcha poll returned status %d", resp.StatusCode)
	}

	var rr resultResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, fmt.Errorf("failed to decode result response: %w", err)
	}
	return &rr, nil
}
