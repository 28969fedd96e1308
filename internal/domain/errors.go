package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by stores, services, and the HTTP layer.
var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEmail = errors.New("duplicate email message id")
	ErrInvalidURL     = errors.New("invalid url")
	ErrValidation     = errors.New("validation failed")
	ErrNoContent      = errors.New("crawl returned no content")
	ErrUnavailable    = errors.New("datastore unavailable")
	ErrCrawlFailed    = errors.New("crawl failed")
)

// ConflictError reports an existing competitor for the requested URL.
type ConflictError struct {
	ExistingID string
	URL        string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("competitor for %s already exists (id %s); use refresh", e.URL, e.ExistingID)
}

// CrawlError carries the provider's failure detail. It matches ErrCrawlFailed.
type CrawlError struct {
	Detail string
	Err    error
}

func (e *CrawlError) Error() string {
	switch {
	case e.Err != nil && e.Detail != "":
		return fmt.Sprintf("crawl failed: %s: %v", e.Detail, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("crawl failed: %v", e.Err)
	default:
		return "crawl failed: " + e.Detail
	}
}

// Unwrap exposes the underlying cause.
func (e *CrawlError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrCrawlFailed) match any CrawlError.
func (e *CrawlError) Is(target error) bool {
	return target == ErrCrawlFailed
}

// Unavailable wraps a storage-layer failure so callers see ErrUnavailable.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
