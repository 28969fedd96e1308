// Package firecrawl is the remote crawl provider client.
package firecrawl

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/JakeFAU/sitecore/internal/domain"
	"github.com/JakeFAU/sitecore/internal/upstream"
)

// Client implements domain.CrawlProvider against the Firecrawl v1 API.
type Client struct {
	api *upstream.Client
}

// Config holds client configuration.
type Config struct {
	BaseURL    string
	APIKey     string
	Limiter    upstream.Limiter
	HTTPClient *http.Client
}

// New builds a Client.
func New(cfg Config) *Client {
	return &Client{api: upstream.New(upstream.Config{
		BaseURL:    cfg.BaseURL,
		APIKey:     cfg.APIKey,
		Limiter:    cfg.Limiter,
		HTTPClient: cfg.HTTPClient,
	})}
}

type jsonFormat struct {
	Type   string         `json:"type"`
	Schema map[string]any `json:"schema,omitempty"`
	Prompt string         `json:"prompt,omitempty"`
}

type scrapeOptions struct {
	Formats         []any `json:"formats"`
	OnlyMainContent bool  `json:"onlyMainContent"`
}

type crawlRequest struct {
	URL           string        `json:"url"`
	Limit         int           `json:"limit"`
	ScrapeOptions scrapeOptions `json:"scrapeOptions"`
}

type crawlResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
	Error   string `json:"error,omitempty"`
}

// Submit starts a crawl job and returns its id.
func (c *Client) Submit(ctx context.Context, req domain.CrawlRequest) (string, error) {
	formats := []any{"markdown"}
	if req.Schema != nil || req.Prompt != "" {
		formats = append(formats, jsonFormat{Type: "json", Schema: req.Schema, Prompt: req.Prompt})
	}
	body := crawlRequest{
		URL:   req.URL,
		Limit: req.Limit,
		ScrapeOptions: scrapeOptions{
			Formats:         formats,
			OnlyMainContent: true,
		},
	}

	var resp crawlResponse
	if err := c.api.DoJSON(ctx, http.MethodPost, "v1/crawl", body, &resp); err != nil {
		return "", fmt.Errorf("submit crawl: %w", err)
	}
	if !resp.Success || resp.ID == "" {
		detail := resp.Error
		if detail == "" {
			detail = "provider did not accept the job"
		}
		return "", fmt.Errorf("submit crawl: %s", detail)
	}
	return resp.ID, nil
}

// Status fetches the current state of a crawl job.
func (c *Client) Status(ctx context.Context, jobID string) (domain.CrawlStatus, error) {
	var status domain.CrawlStatus
	if err := c.api.DoJSON(ctx, http.MethodGet, "v1/crawl/"+url.PathEscape(jobID), nil, &status); err != nil {
		return domain.CrawlStatus{}, fmt.Errorf("crawl status %s: %w", jobID, err)
	}
	return status, nil
}
