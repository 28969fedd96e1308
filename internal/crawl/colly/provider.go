// Package colly runs crawl jobs in-process with gocolly, behind the same
// submit/poll contract as the remote crawl provider.
package colly

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecore/internal/domain"
)

const finishedJobTTL = 10 * time.Minute

// Config controls collector behavior.
type Config struct {
	UserAgent string
	MaxDepth  int
	// JobTimeout bounds a single crawl job.
	JobTimeout time.Duration
	Delay      time.Duration

	// RespectRobots makes the collector honor robots.txt disallow rules.
	RespectRobots bool
}

// Provider implements domain.CrawlProvider with a local collector per job.
type Provider struct {
	cfg    Config
	ids    domain.IDGenerator
	logger *zap.Logger

	mu   sync.Mutex
	jobs map[string]*job
}

type job struct {
	mu         sync.Mutex
	pages      []domain.Page
	err        error
	done       bool
	finishedAt time.Time
}

// New builds a Provider.
func New(cfg Config, ids domain.IDGenerator, logger *zap.Logger) *Provider {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 2
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{cfg: cfg, ids: ids, logger: logger, jobs: make(map[string]*job)}
}

// Submit starts a background crawl of req.URL limited to req.Limit pages on the same host.
func (p *Provider) Submit(_ context.Context, req domain.CrawlRequest) (string, error) {
	target, err := url.Parse(req.URL)
	if err != nil || target.Hostname() == "" {
		return "", fmt.Errorf("submit crawl: invalid url %q", req.URL)
	}
	id, err := p.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("submit crawl: generate id: %w", err)
	}

	j := &job{}
	p.mu.Lock()
	p.pruneLocked(time.Now())
	p.jobs[id] = j
	p.mu.Unlock()

	limit := req.Limit
	if limit <= 0 {
		limit = 1
	}
	go p.run(id, j, target, limit)
	return id, nil
}

// Status reports the job's progress. Finished jobs report completed, or failed
// when nothing was collected.
func (p *Provider) Status(_ context.Context, jobID string) (domain.CrawlStatus, error) {
	p.mu.Lock()
	j, ok := p.jobs[jobID]
	p.mu.Unlock()
	if !ok {
		return domain.CrawlStatus{}, fmt.Errorf("crawl status %s: %w", jobID, domain.ErrNotFound)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	pages := append([]domain.Page(nil), j.pages...)
	status := domain.CrawlStatus{
		Status:    domain.CrawlJobScraping,
		Completed: len(pages),
		Total:     len(pages),
		Data:      pages,
	}
	if !j.done {
		return status, nil
	}
	if len(pages) == 0 && j.err != nil {
		status.Status = domain.CrawlJobFailed
		status.Error = j.err.Error()
		return status, nil
	}
	status.Status = domain.CrawlJobCompleted
	return status, nil
}

func (p *Provider) pruneLocked(now time.Time) {
	for id, j := range p.jobs {
		j.mu.Lock()
		expired := j.done && now.Sub(j.finishedAt) > finishedJobTTL
		j.mu.Unlock()
		if expired {
			delete(p.jobs, id)
		}
	}
}

func (p *Provider) run(id string, j *job, target *url.URL, limit int) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.JobTimeout)
	defer cancel()

	logger := p.logger.With(zap.String("job_id", id), zap.String("url", target.String()))
	collector := p.newCollector(ctx, target)

	var (
		visitMu sync.Mutex
		visited int
	)
	collector.OnRequest(func(r *colly.Request) {
		visitMu.Lock()
		defer visitMu.Unlock()
		if visited >= limit {
			r.Abort()
			return
		}
		visited++
	})

	collector.OnHTML("html", func(e *colly.HTMLElement) {
		page := extractPage(e)
		j.mu.Lock()
		if len(j.pages) < limit {
			j.pages = append(j.pages, page)
		}
		j.mu.Unlock()
	})

	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if strings.HasPrefix(link, "http://") || strings.HasPrefix(link, "https://") {
			_ = e.Request.Visit(link)
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		logger.Warn("Crawl request failed",
			zap.String("page", r.Request.URL.String()),
			zap.Int("status_code", r.StatusCode),
			zap.Error(err),
		)
		j.mu.Lock()
		if j.err == nil {
			j.err = err
		}
		j.mu.Unlock()
	})

	if err := collector.Visit(target.String()); err != nil {
		j.mu.Lock()
		j.err = err
		j.mu.Unlock()
	}
	collector.Wait()

	j.mu.Lock()
	j.done = true
	j.finishedAt = time.Now()
	pages := len(j.pages)
	j.mu.Unlock()
	logger.Info("Local crawl finished", zap.Int("pages", pages))
}

func (p *Provider) newCollector(ctx context.Context, target *url.URL) *colly.Collector {
	opts := []colly.CollectorOption{
		colly.AllowedDomains(target.Hostname()),
		colly.MaxDepth(p.cfg.MaxDepth),
		colly.Async(true),
		colly.StdlibContext(ctx),
	}
	if p.cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(p.cfg.UserAgent))
	}
	collector := colly.NewCollector(opts...)
	collector.AllowURLRevisit = false
	collector.IgnoreRobotsTxt = !p.cfg.RespectRobots
	_ = collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 2,
		Delay:       p.cfg.Delay,
	})
	return collector
}

// extractPage renders the visible headings, paragraphs and list items as
// markdown and pulls mailto/tel links into contact_info.
func extractPage(e *colly.HTMLElement) domain.Page {
	var b strings.Builder
	e.ForEach("h1, h2, h3, p, li", func(_ int, el *colly.HTMLElement) {
		text := strings.Join(strings.Fields(el.Text), " ")
		if text == "" {
			return
		}
		switch el.Name {
		case "h1":
			b.WriteString("# ")
		case "h2":
			b.WriteString("## ")
		case "h3":
			b.WriteString("### ")
		case "li":
			b.WriteString("- ")
		}
		b.WriteString(text)
		b.WriteString("\n\n")
	})

	contact := map[string]any{}
	e.ForEach("a[href]", func(_ int, el *colly.HTMLElement) {
		href := strings.TrimSpace(el.Attr("href"))
		switch {
		case strings.HasPrefix(href, "mailto:"):
			if _, ok := contact["email"]; !ok {
				contact["email"] = strings.SplitN(strings.TrimPrefix(href, "mailto:"), "?", 2)[0]
			}
		case strings.HasPrefix(href, "tel:"):
			if _, ok := contact["phone"]; !ok {
				contact["phone"] = strings.TrimPrefix(href, "tel:")
			}
		}
	})

	page := domain.Page{
		Markdown: strings.TrimSpace(b.String()),
		Metadata: domain.PageMetadata{
			Title:      strings.TrimSpace(e.ChildText("title")),
			SourceURL:  e.Request.URL.String(),
			StatusCode: e.Response.StatusCode,
		},
	}
	if len(contact) > 0 {
		if raw, err := json.Marshal(map[string]any{"contact_info": contact}); err == nil {
			page.JSON = raw
		}
	}
	return page
}
