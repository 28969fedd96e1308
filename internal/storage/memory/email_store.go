package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/sitecore/internal/domain"
)

// EmailStore is an in-memory domain.EmailStore. The message id index plays the
// role of the unique constraint.
type EmailStore struct {
	mu        sync.RWMutex
	emails    map[string]domain.Email
	byMessage map[string]string
}

// NewEmailStore constructs an EmailStore.
func NewEmailStore() *EmailStore {
	return &EmailStore{
		emails:    make(map[string]domain.Email),
		byMessage: make(map[string]string),
	}
}

// InsertEmail stores email unless its message id already exists.
func (s *EmailStore) InsertEmail(_ context.Context, email domain.Email) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byMessage[email.MessageID]; exists {
		return domain.ErrDuplicateEmail
	}
	s.emails[email.ID] = email
	s.byMessage[email.MessageID] = email.ID
	return nil
}

// GetEmail fetches an email by id.
func (s *EmailStore) GetEmail(_ context.Context, id string) (domain.Email, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	email, ok := s.emails[id]
	if !ok {
		return domain.Email{}, domain.ErrNotFound
	}
	return email, nil
}

// ListEmails returns matching emails, newest first.
func (s *EmailStore) ListEmails(_ context.Context, filter domain.EmailFilter) ([]domain.Email, error) {
	s.mu.RLock()
	out := make([]domain.Email, 0, len(s.emails))
	for _, email := range s.emails {
		if filter.Status != "" && email.Status != filter.Status {
			continue
		}
		if filter.Direction != "" && email.Direction != filter.Direction {
			continue
		}
		out = append(out, email)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []domain.Email{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ListThread returns the emails of a thread, oldest first.
func (s *EmailStore) ListThread(_ context.Context, threadID string) ([]domain.Email, error) {
	s.mu.RLock()
	out := []domain.Email{}
	for _, email := range s.emails {
		if email.ThreadID == threadID {
			out = append(out, email)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateEmailStatus changes the status of an email.
func (s *EmailStore) UpdateEmailStatus(_ context.Context, id string, status domain.EmailStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email, ok := s.emails[id]
	if !ok {
		return domain.ErrNotFound
	}
	email.Status = status
	s.emails[id] = email
	return nil
}

// LeadStore is an in-memory domain.LeadStore keyed by lowercase email.
type LeadStore struct {
	mu    sync.RWMutex
	leads map[string]domain.Lead
}

// NewLeadStore constructs a LeadStore seeded with leads.
func NewLeadStore(leads ...domain.Lead) *LeadStore {
	s := &LeadStore{leads: make(map[string]domain.Lead)}
	for _, lead := range leads {
		s.Add(lead)
	}
	return s
}

// Add registers a lead.
func (s *LeadStore) Add(lead domain.Lead) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads[strings.ToLower(lead.Email)] = lead
}

// FindLeadIDByEmail returns the id of the lead with the given address.
func (s *LeadStore) FindLeadIDByEmail(_ context.Context, email string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lead, ok := s.leads[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return "", domain.ErrNotFound
	}
	return lead.ID, nil
}
