package buttonclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/AddisonGoolsbee/thebutton/clients"
)

// Terminal and retryable submission failures. A batch that draws
// ErrBadRequest or ErrBotRejected is dropped; ErrRateLimited and transport
// errors mean try again later with the same clicks.
var (
	ErrBadRequest  = errors.New("batch rejected as invalid")
	ErrBotRejected = errors.New("verification rejected")
	ErrRateLimited = errors.New("rate limited")
)

// APIClient talks to the button server.
type APIClient struct {
	base *clients.BaseClient
}

func NewAPIClient(baseURL string) *APIClient {
	base := clients.NewBaseClient(baseURL)
	base.SetHeader("Content-Type", "application/json")
	base.SetTimeout(10 * time.Second)
	return &APIClient{base: base}
}

// FetchCount reads the current shared total.
func (c *APIClient) FetchCount(ctx context.Context) (uint64, error) {
	status, body, err := c.base.Get(ctx, "/count")
	if err != nil {
		return 0, fmt.Errorf("fetch count: %w", err)
	}
	if status != http.StatusOK {
		return 0, fmt.Errorf("fetch count: unexpected status %d", status)
	}

	var resp struct {
		Total uint64 `json:"total"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("decode count: %w", err)
	}
	return resp.Total, nil
}

// SubmitBatch sends count clicks with the given verification token and
// returns the post-acceptance total.
func (c *APIClient) SubmitBatch(ctx context.Context, count int, token string) (uint64, error) {
	payload, err := json.Marshal(map[string]any{"count": count, "token": token})
	if err != nil {
		return 0, fmt.Errorf("encode batch: %w", err)
	}

	status, body, err := c.base.Post(ctx, "/click", bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("submit batch: %w", err)
	}

	switch status {
	case http.StatusOK:
		var resp struct {
			OK    bool   `json:"ok"`
			Total uint64 `json:"total"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return 0, fmt.Errorf("decode submit response: %w", err)
		}
		return resp.Total, nil
	case http.StatusBadRequest:
		return 0, fmt.Errorf("%w: %s", ErrBadRequest, apiError(body))
	case http.StatusForbidden:
		return 0, fmt.Errorf("%w: %s", ErrBotRejected, apiError(body))
	case http.StatusTooManyRequests:
		return 0, fmt.Errorf("%w: %s", ErrRateLimited, apiError(body))
	default:
		return 0, fmt.Errorf("submit batch: unexpected status %d", status)
	}
}

func apiError(body []byte) string {
	var resp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Error == "" {
		return "no detail"
	}
	return resp.Error
}
