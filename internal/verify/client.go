package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client posts challenge tokens to the provider's siteverify endpoint.
// Callers treat every error as "not verified"; a provider outage must never
// open the gate.
type Client struct {
	endpoint string
	secret   string
	client   *http.Client
}

func NewClient(endpoint, secret string, timeout time.Duration) *Client {
	return &Client{
		endpoint: endpoint,
		secret:   secret,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) Verify(ctx context.Context, token, remoteIP string) (Result, error) {
	form := url.Values{}
	form.Set("secret", c.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("siteverify request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("siteverify returned status code: %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read response body: %w", err)
	}

	var parsed struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Result{}, fmt.Errorf("decode siteverify response: %w", err)
	}

	return Result{Success: parsed.Success, Raw: raw}, nil
}
