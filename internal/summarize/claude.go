package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const claudeDefaultURL = "https://api.anthropic.com/v1/messages"

type claudeClient struct {
	apiKey  string
	model   string
	client  *http.Client
	baseURL string
}

type claudeRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	Messages  []claudeMessage `json:"messages"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

func (c *claudeClient) Summarize(ctx context.Context, sreq Request) (string, error) {
	body, _ := json.Marshal(claudeRequest{
		Model:     c.model,
		MaxTokens: 256,
		Messages:  []claudeMessage{{Role: "user", Content: buildPrompt(sreq)}},
	})

	url := c.baseURL
	if url == "" {
		url = claudeDefaultURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("claude API error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", &APIError{Provider: "claude", StatusCode: resp.StatusCode, Body: string(b)}
	}

	var cr claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", err
	}
	if len(cr.Content) == 0 || cleanSummary(cr.Content[0].Text) == "" {
		return "", fmt.Errorf("empty claude response")
	}
	return cleanSummary(cr.Content[0].Text), nil
}
