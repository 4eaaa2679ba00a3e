// Package summarize turns articles into short summaries through a rate-limited
// external text-generation API, with retries, fallbacks, and write-through to
// the summary cache.
package summarize

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Request is the summarization API boundary: one call per cache-miss article.
type Request struct {
	Title    string
	Excerpt  string
	MaxWords int
}

// Client is a single provider-backed text-completion call.
type Client interface {
	Summarize(ctx context.Context, req Request) (string, error)
}

// APIError is a non-2xx provider response.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Retryable reports whether the status indicates a transient condition.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= 500
}

// NewClient creates a provider client.
func NewClient(provider, model, apiKey string, timeout time.Duration) (Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("summarizer not configured: missing API key")
	}

	client := &http.Client{Timeout: timeout}

	switch provider {
	case "claude":
		if model == "" {
			model = "claude-haiku-4-5-20251001"
		}
		return &claudeClient{apiKey: apiKey, model: model, client: client}, nil
	case "openai":
		if model == "" {
			model = "gpt-4o-mini"
		}
		return &openaiClient{apiKey: apiKey, model: model, client: client}, nil
	default:
		return nil, fmt.Errorf("unknown summarizer provider: %q (valid: claude, openai)", provider)
	}
}

const summarizePrompt = `Summarize this news article in at most %d words. One or two plain factual sentences covering the main finding or announcement. No hype, no speculation, no preamble.

Title: %s
Excerpt: %s`

const summarizeTitlePrompt = `Summarize this news article in at most %d words based on its headline alone. One plain factual sentence. No hype, no speculation, no preamble.

Title: %s`

func buildPrompt(req Request) string {
	if req.Excerpt == "" {
		return fmt.Sprintf(summarizeTitlePrompt, req.MaxWords, req.Title)
	}
	return fmt.Sprintf(summarizePrompt, req.MaxWords, req.Title, req.Excerpt)
}

func cleanSummary(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
