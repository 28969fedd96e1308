package domain

import (
	"context"
	"io"
	"time"
)

// EmailStore persists email rows. Insert returns ErrDuplicateEmail when the
// provider message id already exists.
type EmailStore interface {
	InsertEmail(ctx context.Context, email Email) error
	GetEmail(ctx context.Context, id string) (Email, error)
	ListEmails(ctx context.Context, filter EmailFilter) ([]Email, error)
	ListThread(ctx context.Context, threadID string) ([]Email, error)
	UpdateEmailStatus(ctx context.Context, id string, status EmailStatus) error
}

// LeadStore looks up leads by address. Returns ErrNotFound when nothing matches.
type LeadStore interface {
	FindLeadIDByEmail(ctx context.Context, email string) (string, error)
}

// CompetitorStore persists competitor rows.
type CompetitorStore interface {
	InsertCompetitor(ctx context.Context, c Competitor) error
	GetCompetitor(ctx context.Context, id string) (Competitor, error)
	FindCompetitorByURL(ctx context.Context, url string) (Competitor, error)
	ListCompetitors(ctx context.Context) ([]Competitor, error)
	UpdateCompetitorCrawl(ctx context.Context, id string, crawl CompetitorCrawl) error
	DeleteCompetitor(ctx context.Context, id string) error
}

// CrawlProvider runs asynchronous multi-page crawl jobs.
type CrawlProvider interface {
	Submit(ctx context.Context, req CrawlRequest) (string, error)
	Status(ctx context.Context, jobID string) (CrawlStatus, error)
}

// MessageFetcher retrieves full inbound message content by provider id.
type MessageFetcher interface {
	GetReceivedEmail(ctx context.Context, id string) (InboundMessage, error)
}

// MessageSender delivers outbound email and returns the provider message id.
type MessageSender interface {
	Send(ctx context.Context, msg OutboundEmail) (string, error)
}

// TextGenerator runs a single-prompt generative model call.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes domain events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
