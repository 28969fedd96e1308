package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/sitecore/internal/domain"
)

// CompetitorStore is an in-memory domain.CompetitorStore.
type CompetitorStore struct {
	mu          sync.RWMutex
	competitors map[string]domain.Competitor
}

// NewCompetitorStore constructs a CompetitorStore.
func NewCompetitorStore() *CompetitorStore {
	return &CompetitorStore{competitors: make(map[string]domain.Competitor)}
}

// InsertCompetitor stores a new competitor. URL uniqueness is the caller's check.
func (s *CompetitorStore) InsertCompetitor(_ context.Context, c domain.Competitor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.competitors[c.ID] = c
	return nil
}

// GetCompetitor fetches a competitor by id.
func (s *CompetitorStore) GetCompetitor(_ context.Context, id string) (domain.Competitor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.competitors[id]
	if !ok {
		return domain.Competitor{}, domain.ErrNotFound
	}
	return c, nil
}

// FindCompetitorByURL returns the oldest competitor with the exact url.
func (s *CompetitorStore) FindCompetitorByURL(ctx context.Context, url string) (domain.Competitor, error) {
	all, _ := s.ListCompetitors(ctx)
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].URL == url {
			return all[i], nil
		}
	}
	return domain.Competitor{}, domain.ErrNotFound
}

// ListCompetitors returns competitors, newest first.
func (s *CompetitorStore) ListCompetitors(_ context.Context) ([]domain.Competitor, error) {
	s.mu.RLock()
	out := make([]domain.Competitor, 0, len(s.competitors))
	for _, c := range s.competitors {
		out = append(out, c)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateCompetitorCrawl rewrites the crawl-derived fields of a competitor.
func (s *CompetitorStore) UpdateCompetitorCrawl(_ context.Context, id string, crawl domain.CompetitorCrawl) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.competitors[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.Insights = crawl.Insights
	c.StructuredData = crawl.StructuredData
	c.ContentHash = crawl.ContentHash
	c.SnapshotURI = crawl.SnapshotURI
	c.PagesCrawled = crawl.PagesCrawled
	c.CrawledAt = crawl.CrawledAt
	c.UpdatedAt = crawl.UpdatedAt
	s.competitors[id] = c
	return nil
}

// DeleteCompetitor removes a competitor.
func (s *CompetitorStore) DeleteCompetitor(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.competitors[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.competitors, id)
	return nil
}
