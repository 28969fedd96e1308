package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/sitecore/internal/domain"
)

var competitorColumns = []string{
	"id", "name", "url", "insights", "structured_data", "content_hash", "snapshot_uri",
	"pages_crawled", "crawled_at", "created_at", "updated_at",
}

// CompetitorStore implements domain.CompetitorStore. Insights and structured
// data are stored as JSONB documents.
type CompetitorStore struct {
	pool dbPool
}

// NewCompetitorStore constructs a CompetitorStore over pool.
func NewCompetitorStore(pool dbPool) *CompetitorStore {
	return &CompetitorStore{pool: pool}
}

// InsertCompetitor stores a new competitor row.
func (s *CompetitorStore) InsertCompetitor(ctx context.Context, c domain.Competitor) error {
	insights, structured, err := encodeAnalysis(c.Insights, c.StructuredData)
	if err != nil {
		return err
	}
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("competitors").Cols(competitorColumns...).Values(
		c.ID, c.Name, c.URL, insights, structured, c.ContentHash, c.SnapshotURI,
		c.PagesCrawled, c.CrawledAt, c.CreatedAt, c.UpdatedAt,
	)
	query, args := ib.Build()
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return domain.Unavailable("insert competitor", err)
	}
	return nil
}

// GetCompetitor fetches a competitor by id.
func (s *CompetitorStore) GetCompetitor(ctx context.Context, id string) (domain.Competitor, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(competitorColumns...).From("competitors").Where(sb.Equal("id", id))
	query, args := sb.Build()
	c, err := scanCompetitor(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return domain.Competitor{}, translate("get competitor", err)
	}
	return c, nil
}

// FindCompetitorByURL returns the oldest competitor with the exact url.
func (s *CompetitorStore) FindCompetitorByURL(ctx context.Context, url string) (domain.Competitor, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(competitorColumns...).From("competitors").Where(sb.Equal("url", url)).OrderBy("created_at ASC", "id ASC")
	query, args := sb.Build()
	c, err := scanCompetitor(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return domain.Competitor{}, translate("find competitor", err)
	}
	return c, nil
}

// ListCompetitors returns competitors, newest first.
func (s *CompetitorStore) ListCompetitors(ctx context.Context) ([]domain.Competitor, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(competitorColumns...).From("competitors").OrderBy("created_at DESC", "id DESC")
	query, args := sb.Build()

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, domain.Unavailable("list competitors", err)
	}
	defer rows.Close()

	out := []domain.Competitor{}
	for rows.Next() {
		c, err := scanCompetitor(rows)
		if err != nil {
			return nil, domain.Unavailable("list competitors", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailable("list competitors", err)
	}
	return out, nil
}

// UpdateCompetitorCrawl rewrites the crawl-derived fields of a competitor.
func (s *CompetitorStore) UpdateCompetitorCrawl(ctx context.Context, id string, crawl domain.CompetitorCrawl) error {
	insights, structured, err := encodeAnalysis(crawl.Insights, crawl.StructuredData)
	if err != nil {
		return err
	}
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("competitors").Set(
		ub.Assign("insights", insights),
		ub.Assign("structured_data", structured),
		ub.Assign("content_hash", crawl.ContentHash),
		ub.Assign("snapshot_uri", crawl.SnapshotURI),
		ub.Assign("pages_crawled", crawl.PagesCrawled),
		ub.Assign("crawled_at", crawl.CrawledAt),
		ub.Assign("updated_at", crawl.UpdatedAt),
	).Where(ub.Equal("id", id))
	query, args := ub.Build()

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return domain.Unavailable("update competitor", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteCompetitor removes a competitor.
func (s *CompetitorStore) DeleteCompetitor(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM competitors WHERE id = $1`, id)
	if err != nil {
		return domain.Unavailable("delete competitor", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func encodeAnalysis(insights domain.Insights, structured domain.StructuredData) ([]byte, []byte, error) {
	ib, err := json.Marshal(insights)
	if err != nil {
		return nil, nil, fmt.Errorf("encode insights: %w", err)
	}
	sb, err := json.Marshal(structured)
	if err != nil {
		return nil, nil, fmt.Errorf("encode structured data: %w", err)
	}
	return ib, sb, nil
}

func scanCompetitor(row pgx.Row) (domain.Competitor, error) {
	var (
		c                    domain.Competitor
		insights, structured []byte
	)
	if err := row.Scan(
		&c.ID, &c.Name, &c.URL, &insights, &structured, &c.ContentHash, &c.SnapshotURI,
		&c.PagesCrawled, &c.CrawledAt, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return domain.Competitor{}, fmt.Errorf("scan competitor: %w", err)
	}
	if err := json.Unmarshal(insights, &c.Insights); err != nil {
		return domain.Competitor{}, fmt.Errorf("decode insights: %w", err)
	}
	if len(structured) > 0 {
		if err := json.Unmarshal(structured, &c.StructuredData); err != nil {
			return domain.Competitor{}, fmt.Errorf("decode structured data: %w", err)
		}
	}
	return c, nil
}
