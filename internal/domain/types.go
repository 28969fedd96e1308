// Package domain defines core types shared across subsystems.
package domain

import (
	"encoding/json"
	"time"
)

// EmailDirection records whether a message was received or sent by the business.
type EmailDirection string

// Email direction values persisted in the email store.
const (
	DirectionInbound  EmailDirection = "inbound"
	DirectionOutbound EmailDirection = "outbound"
)

// EmailStatus represents the inbox state of an email.
type EmailStatus string

// Email status values persisted in the email store.
const (
	StatusUnread  EmailStatus = "unread"
	StatusRead    EmailStatus = "read"
	StatusReplied EmailStatus = "replied"
	StatusSent    EmailStatus = "sent"
)

// Valid reports whether s is one of the known statuses.
func (s EmailStatus) Valid() bool {
	switch s {
	case StatusUnread, StatusRead, StatusReplied, StatusSent:
		return true
	}
	return false
}

// Email is a single inbound or outbound message.
type Email struct {
	ID          string         `json:"id"`
	MessageID   string         `json:"message_id"`
	FromAddress string         `json:"from_address"`
	FromName    string         `json:"from_name,omitempty"`
	ToAddress   string         `json:"to_address"`
	Subject     string         `json:"subject"`
	HTML        string         `json:"html,omitempty"`
	Text        string         `json:"text,omitempty"`
	ThreadID    string         `json:"thread_id"`
	InReplyTo   *string        `json:"in_reply_to,omitempty"`
	Direction   EmailDirection `json:"direction"`
	Status      EmailStatus    `json:"status"`
	LeadID      *string        `json:"lead_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// EmailFilter narrows inbox listings. Zero values mean "any".
type EmailFilter struct {
	Status    EmailStatus
	Direction EmailDirection
	Limit     int
	Offset    int
}

// Lead is a contact-form submission. It is owned elsewhere and only read here.
type Lead struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Insights is the generative-model summary attached to a competitor.
type Insights struct {
	Keywords        []string `json:"keywords"`
	Tone            string   `json:"tone"`
	SellingPoints   []string `json:"selling_points"`
	Gaps            []string `json:"gaps"`
	GeographicFocus []string `json:"geographic_focus"`
	Fallback        bool     `json:"fallback,omitempty"`
	FallbackReason  string   `json:"fallback_reason,omitempty"`
}

// StructuredData is the union of crawler-side JSON extraction across pages.
type StructuredData struct {
	Services            []string       `json:"services"`
	LocationsServed     []string       `json:"locations_served"`
	UniqueSellingPoints []string       `json:"unique_selling_points"`
	ContactInfo         map[string]any `json:"contact_info"`
}

// Competitor is one analyzed competitor website.
type Competitor struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	URL            string         `json:"url"`
	Insights       Insights       `json:"insights"`
	StructuredData StructuredData `json:"structured_data"`
	ContentHash    string         `json:"content_hash,omitempty"`
	SnapshotURI    string         `json:"snapshot_uri,omitempty"`
	PagesCrawled   int            `json:"pages_crawled"`
	CrawledAt      time.Time      `json:"crawled_at"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// CompetitorCrawl holds the mutable fields rewritten by a refresh.
type CompetitorCrawl struct {
	Insights       Insights
	StructuredData StructuredData
	ContentHash    string
	SnapshotURI    string
	PagesCrawled   int
	CrawledAt      time.Time
	UpdatedAt      time.Time
}

// PageMetadata is the per-page metadata returned by a crawl provider.
type PageMetadata struct {
	Title      string `json:"title,omitempty"`
	SourceURL  string `json:"sourceURL,omitempty"`
	URL        string `json:"url,omitempty"`
	StatusCode int    `json:"statusCode,omitempty"`
}

// Page is a single crawled page with free text and structured extraction.
type Page struct {
	Markdown string          `json:"markdown,omitempty"`
	JSON     json.RawMessage `json:"json,omitempty"`
	Metadata PageMetadata    `json:"metadata"`
}

// Location returns the best available URL for the page.
func (p Page) Location() string {
	if p.Metadata.SourceURL != "" {
		return p.Metadata.SourceURL
	}
	return p.Metadata.URL
}

// CrawlJobStatus is the provider-reported status of a crawl job.
type CrawlJobStatus string

// Provider job statuses the orchestrator reacts to. Anything else means "keep polling".
const (
	CrawlJobCompleted CrawlJobStatus = "completed"
	CrawlJobFailed    CrawlJobStatus = "failed"
	CrawlJobScraping  CrawlJobStatus = "scraping"
)

// CrawlRequest describes a crawl job submission.
type CrawlRequest struct {
	URL    string
	Limit  int
	Schema map[string]any
	Prompt string
}

// CrawlStatus is a single poll response from a crawl provider.
type CrawlStatus struct {
	Status    CrawlJobStatus `json:"status"`
	Total     int            `json:"total,omitempty"`
	Completed int            `json:"completed,omitempty"`
	Next      string         `json:"next,omitempty"`
	Error     string         `json:"error,omitempty"`
	Data      []Page         `json:"data"`
}

// InboundMessage is the full content of a received email as served by the provider.
type InboundMessage struct {
	From      string `json:"from"`
	FromName  string `json:"from_name"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	HTML      string `json:"html"`
	Text      string `json:"text"`
	MessageID string `json:"message_id"`
	InReplyTo string `json:"in_reply_to"`
}

// OutboundEmail is a message handed to the email provider for delivery.
type OutboundEmail struct {
	To         string
	Subject    string
	HTML       string
	InReplyTo  string
	References string
}

// Event is a domain notification fanned out to downstream consumers.
type Event struct {
	Type       string            `json:"type"`
	OccurredAt time.Time         `json:"occurred_at"`
	Attributes map[string]string `json:"attributes"`
}

// Domain event types.
const (
	EventEmailReceived       = "email.received"
	EventCompetitorAnalyzed  = "competitor.analyzed"
	EventCompetitorRefreshed = "competitor.refreshed"
)
