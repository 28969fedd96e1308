// Package resend talks to the transactional email provider: it fetches inbound
// message content and sends replies.
package resend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/JakeFAU/sitecore/internal/domain"
	"github.com/JakeFAU/sitecore/internal/upstream"
)

// Client implements domain.MessageFetcher and domain.MessageSender.
type Client struct {
	api  *upstream.Client
	from string
}

// Config holds client configuration.
type Config struct {
	BaseURL     string
	APIKey      string
	FromAddress string
	Limiter     upstream.Limiter
	HTTPClient  *http.Client
}

// New builds a Client.
func New(cfg Config) *Client {
	return &Client{
		api: upstream.New(upstream.Config{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Limiter:    cfg.Limiter,
			HTTPClient: cfg.HTTPClient,
		}),
		from: cfg.FromAddress,
	}
}

// GetReceivedEmail fetches the full content of an inbound message.
func (c *Client) GetReceivedEmail(ctx context.Context, id string) (domain.InboundMessage, error) {
	if strings.TrimSpace(id) == "" {
		return domain.InboundMessage{}, fmt.Errorf("email id is required")
	}
	var msg domain.InboundMessage
	if err := c.api.DoJSON(ctx, http.MethodGet, "emails/receiving/"+url.PathEscape(id), nil, &msg); err != nil {
		return domain.InboundMessage{}, fmt.Errorf("fetch received email %s: %w", id, err)
	}
	return msg, nil
}

type sendRequest struct {
	From    string            `json:"from"`
	To      []string          `json:"to"`
	Subject string            `json:"subject"`
	HTML    string            `json:"html"`
	Headers map[string]string `json:"headers,omitempty"`
}

type sendResponse struct {
	ID string `json:"id"`
}

// Send delivers msg and returns the provider message id.
func (c *Client) Send(ctx context.Context, msg domain.OutboundEmail) (string, error) {
	if c.from == "" {
		return "", fmt.Errorf("email_provider.from_address is not configured")
	}
	req := sendRequest{
		From:    c.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTML,
	}
	if msg.InReplyTo != "" {
		req.Headers = map[string]string{"In-Reply-To": msg.InReplyTo}
		if msg.References != "" {
			req.Headers["References"] = msg.References
		}
	}

	var resp sendResponse
	if err := c.api.DoJSON(ctx, http.MethodPost, "emails", req, &resp); err != nil {
		return "", fmt.Errorf("send email: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("send email: provider returned no id")
	}
	return resp.ID, nil
}
