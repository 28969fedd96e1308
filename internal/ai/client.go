// Package ai calls an OpenAI-compatible chat completion endpoint.
package ai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/JakeFAU/sitecore/internal/upstream"
)

// Client implements domain.TextGenerator.
type Client struct {
	api         *upstream.Client
	model       string
	maxTokens   int
	temperature float64
}

// Config holds client configuration.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	Limiter     upstream.Limiter
	HTTPClient  *http.Client
}

// New builds a Client.
func New(cfg Config) *Client {
	return &Client{
		api: upstream.New(upstream.Config{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Timeout:    cfg.Timeout,
			Limiter:    cfg.Limiter,
			HTTPClient: cfg.HTTPClient,
		}),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

type completionResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

// Generate sends prompt as a single user message and returns the reply text.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	req := completionRequest{
		Model:       c.model,
		Messages:    []message{{Role: "user", Content: prompt}},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}
	var resp completionResponse
	if err := c.api.DoJSON(ctx, http.MethodPost, "chat/completions", req, &resp); err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("generate: model returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
