package intelligence

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecore/internal/domain"
	"github.com/JakeFAU/sitecore/internal/metrics"
	"github.com/JakeFAU/sitecore/internal/telemetry"
)

// Config tunes the Service.
type Config struct {
	DefaultPageLimit int
	MaxPageLimit     int
	MaxMarkdownChars int
	SnapshotPrefix   string
	Topic            string
}

// Deps bundles Service collaborators. Blobs and Publisher are optional.
type Deps struct {
	Store     domain.CompetitorStore
	Poller    *Poller
	Generator domain.TextGenerator
	Blobs     domain.BlobStore
	Publisher domain.Publisher
	Hasher    domain.Hasher
	Clock     domain.Clock
	IDs       domain.IDGenerator
	Logger    *zap.Logger
}

// Service analyzes and refreshes competitors.
type Service struct {
	cfg Config
	Deps
	logger *zap.Logger
}

// Outcome is the result of Analyze or Refresh.
type Outcome struct {
	Competitor domain.Competitor `json:"competitor"`
	Partial    bool              `json:"partial"`
	HasMore    bool              `json:"has_more"`
	// ContentChanged is set by Refresh when the combined markdown digest differs.
	ContentChanged bool `json:"content_changed"`
}

// NewService builds a Service.
func NewService(cfg Config, deps Deps) *Service {
	if cfg.DefaultPageLimit <= 0 {
		cfg.DefaultPageLimit = 10
	}
	if cfg.MaxPageLimit < cfg.DefaultPageLimit {
		cfg.MaxPageLimit = cfg.DefaultPageLimit
	}
	if cfg.MaxMarkdownChars <= 0 {
		cfg.MaxMarkdownChars = 30000
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{cfg: cfg, Deps: deps, logger: logger.Named("intelligence")}
}

// analysis is everything derived from one crawl.
type analysis struct {
	crawl      CrawlResult
	markdown   string
	structured domain.StructuredData
	insights   InsightsResult
	hash       string
}

// Analyze crawls a new competitor URL and stores the result.
func (s *Service) Analyze(ctx context.Context, rawURL string, pageLimit int) (Outcome, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "intelligence.Analyze")
	defer span.End()

	siteURL, host, err := ValidateURL(rawURL)
	if err != nil {
		return Outcome{}, err
	}
	span.SetAttributes(attribute.String("competitor.url", siteURL))

	existing, err := s.Store.FindCompetitorByURL(ctx, siteURL)
	switch {
	case err == nil:
		return Outcome{}, &domain.ConflictError{ExistingID: existing.ID, URL: siteURL}
	case !errors.Is(err, domain.ErrNotFound):
		return Outcome{}, fail(span, err)
	}

	a, err := s.crawlAndAnalyze(ctx, siteURL, s.clampLimit(pageLimit))
	if err != nil {
		return Outcome{}, fail(span, err)
	}

	id, err := s.IDs.NewID()
	if err != nil {
		return Outcome{}, fail(span, fmt.Errorf("generate competitor id: %w", err))
	}
	now := s.Clock.Now().UTC()
	competitor := domain.Competitor{
		ID:             id,
		Name:           DisplayName(host),
		URL:            siteURL,
		Insights:       a.insights.Insights,
		StructuredData: a.structured,
		ContentHash:    a.hash,
		SnapshotURI:    s.archive(ctx, id, now.Unix(), a.markdown),
		PagesCrawled:   len(a.crawl.Pages),
		CrawledAt:      now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.Store.InsertCompetitor(ctx, competitor); err != nil {
		return Outcome{}, fail(span, err)
	}

	s.logger.Info("Competitor analyzed",
		zap.String("competitor_id", id),
		zap.String("url", siteURL),
		zap.Int("pages", competitor.PagesCrawled),
		zap.Bool("partial", a.crawl.Partial),
		zap.String("insights", a.insights.Kind.String()),
	)
	s.publish(ctx, domain.EventCompetitorAnalyzed, competitor, false)
	return Outcome{Competitor: competitor, Partial: a.crawl.Partial, HasMore: a.crawl.HasMore, ContentChanged: true}, nil
}

// Refresh re-crawls an existing competitor and rewrites its crawl-derived fields.
func (s *Service) Refresh(ctx context.Context, id string, pageLimit int) (Outcome, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "intelligence.Refresh", trace.WithAttributes(attribute.String("competitor.id", id)))
	defer span.End()

	competitor, err := s.Store.GetCompetitor(ctx, id)
	if err != nil {
		return Outcome{}, fail(span, err)
	}

	a, err := s.crawlAndAnalyze(ctx, competitor.URL, s.clampLimit(pageLimit))
	if err != nil {
		return Outcome{}, fail(span, err)
	}

	now := s.Clock.Now().UTC()
	changed := competitor.ContentHash == "" || competitor.ContentHash != a.hash
	update := domain.CompetitorCrawl{
		Insights:       a.insights.Insights,
		StructuredData: a.structured,
		ContentHash:    a.hash,
		SnapshotURI:    competitor.SnapshotURI,
		PagesCrawled:   len(a.crawl.Pages),
		CrawledAt:      now,
		UpdatedAt:      now,
	}
	if uri := s.archive(ctx, id, now.Unix(), a.markdown); uri != "" {
		update.SnapshotURI = uri
	}
	if err := s.Store.UpdateCompetitorCrawl(ctx, id, update); err != nil {
		return Outcome{}, fail(span, err)
	}

	competitor.Insights = update.Insights
	competitor.StructuredData = update.StructuredData
	competitor.ContentHash = update.ContentHash
	competitor.SnapshotURI = update.SnapshotURI
	competitor.PagesCrawled = update.PagesCrawled
	competitor.CrawledAt = update.CrawledAt
	competitor.UpdatedAt = update.UpdatedAt

	s.logger.Info("Competitor refreshed",
		zap.String("competitor_id", id),
		zap.Int("pages", competitor.PagesCrawled),
		zap.Bool("content_changed", changed),
		zap.String("insights", a.insights.Kind.String()),
	)
	s.publish(ctx, domain.EventCompetitorRefreshed, competitor, changed)
	return Outcome{Competitor: competitor, Partial: a.crawl.Partial, HasMore: a.crawl.HasMore, ContentChanged: changed}, nil
}

// List returns all competitors.
func (s *Service) List(ctx context.Context) ([]domain.Competitor, error) {
	return s.Store.ListCompetitors(ctx)
}

// Get returns one competitor.
func (s *Service) Get(ctx context.Context, id string) (domain.Competitor, error) {
	return s.Store.GetCompetitor(ctx, id)
}

// Delete removes a competitor.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.Store.DeleteCompetitor(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Competitor deleted", zap.String("competitor_id", id))
	return nil
}

func (s *Service) crawlAndAnalyze(ctx context.Context, siteURL string, limit int) (analysis, error) {
	crawl, err := s.Poller.CrawlAndWait(ctx, siteURL, limit)
	if err != nil {
		return analysis{}, err
	}
	if len(crawl.Pages) == 0 {
		return analysis{}, domain.ErrNoContent
	}

	a := analysis{
		crawl:      crawl,
		markdown:   CombineMarkdown(crawl.Pages, s.cfg.MaxMarkdownChars),
		structured: CombineStructuredData(crawl.Pages),
	}
	if s.Hasher != nil {
		if a.hash, err = s.Hasher.Hash([]byte(a.markdown)); err != nil {
			s.logger.Warn("Failed to hash crawl content", zap.Error(err))
		}
	}
	a.insights = s.generateInsights(ctx, siteURL, a.structured, a.markdown)
	return a, nil
}

func (s *Service) generateInsights(ctx context.Context, siteURL string, data domain.StructuredData, markdown string) InsightsResult {
	raw, err := s.Generator.Generate(ctx, BuildPrompt(siteURL, data, markdown))
	var result InsightsResult
	if err != nil {
		s.logger.Error("Insights generation failed; using fallback", zap.String("url", siteURL), zap.Error(err))
		result = Fallback("model call failed")
	} else {
		result = ParseInsights(raw)
	}
	if result.Kind == InsightsFallback {
		s.logger.Warn("Using fallback insights", zap.String("url", siteURL), zap.String("reason", result.Reason))
	}
	metrics.ObserveInsights(result.Kind.String())
	return result
}

// archive stores the combined markdown; failures only cost the snapshot link.
func (s *Service) archive(ctx context.Context, id string, unix int64, markdown string) string {
	if s.Blobs == nil || markdown == "" {
		return ""
	}
	key := path.Join(s.cfg.SnapshotPrefix, "competitors", id, strconv.FormatInt(unix, 10)+".md")
	uri, err := s.Blobs.PutObject(ctx, key, "text/markdown; charset=utf-8", strings.NewReader(markdown))
	if err != nil {
		s.logger.Warn("Failed to archive crawl snapshot", zap.String("competitor_id", id), zap.Error(err))
		return ""
	}
	return uri
}

func (s *Service) publish(ctx context.Context, eventType string, c domain.Competitor, changed bool) {
	if s.Publisher == nil {
		return
	}
	event := domain.Event{
		Type:       eventType,
		OccurredAt: c.UpdatedAt,
		Attributes: map[string]string{
			"competitor_id":   c.ID,
			"url":             c.URL,
			"pages_crawled":   strconv.Itoa(c.PagesCrawled),
			"content_changed": strconv.FormatBool(changed),
			"fallback":        strconv.FormatBool(c.Insights.Fallback),
		},
	}
	if _, err := s.Publisher.Publish(ctx, s.cfg.Topic, event); err != nil {
		s.logger.Warn("Failed to publish competitor event", zap.String("competitor_id", c.ID), zap.Error(err))
	}
}

func (s *Service) clampLimit(limit int) int {
	if limit <= 0 {
		return s.cfg.DefaultPageLimit
	}
	if limit > s.cfg.MaxPageLimit {
		return s.cfg.MaxPageLimit
	}
	return limit
}

// ValidateURL requires an absolute http(s) URL and returns it trimmed along with its host.
func ValidateURL(raw string) (string, string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return "", "", fmt.Errorf("%w: %q must be an absolute http(s) URL", domain.ErrInvalidURL, raw)
	}
	return raw, u.Hostname(), nil
}

// DisplayName is the lowercase hostname without a leading "www.".
func DisplayName(host string) string {
	return strings.TrimPrefix(strings.ToLower(host), "www.")
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
