// Package ai is a thin client for the text transformation gateway.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) IsConfigured() bool {
	return c.baseURL != ""
}

// Transform rewrites text according to an action such as "summarize",
// "correct" or "prompt".
func (c *Client) Transform(ctx context.Context, text, action string) (string, error) {
	return c.call(ctx, "/transform", map[string]string{"text": text, "action": action})
}

// Translate renders text into the given language.
func (c *Client) Translate(ctx context.Context, text, language string) (string, error) {
	return c.call(ctx, "/translate", map[string]string{"text": text, "language": language})
}

func (c *Client) call(ctx context.Context, path string, payload map[string]string) (string, error) {
	if !c.IsConfigured() {
		return "", fmt.Errorf("ai gateway not configured")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode ai request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build ai request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("ai request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ai request: status %d", resp.StatusCode)
	}
	var out struct {
		Answer string `json:"answer"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode ai response: %w", err)
	}
	return out.Answer, nil
}
