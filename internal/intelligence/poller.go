// Package intelligence crawls competitor sites, combines the crawl output and
// turns it into stored insights.
package intelligence

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecore/internal/domain"
	"github.com/JakeFAU/sitecore/internal/metrics"
	"github.com/JakeFAU/sitecore/internal/telemetry"
)

// State is a crawl attempt's position in the poll state machine.
type State string

// Crawl attempt states. The last four are terminal.
const (
	StateStarted             State = "STARTED"
	StatePolling             State = "POLLING"
	StateCompleted           State = "COMPLETED"
	StateFailed              State = "FAILED"
	StateTimedOutWithPartial State = "TIMED_OUT_WITH_PARTIAL"
	StateTimedOutEmpty       State = "TIMED_OUT_EMPTY"
)

// Terminal reports whether s ends a crawl attempt.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateTimedOutWithPartial, StateTimedOutEmpty:
		return true
	}
	return false
}

// PollConfig bounds a crawl attempt.
type PollConfig struct {
	WarmupDelay  time.Duration
	PollInterval time.Duration
	MaxWait      time.Duration
}

// CrawlResult is the outcome of a successful crawl attempt.
type CrawlResult struct {
	JobID   string
	State   State
	Pages   []domain.Page
	Total   int
	Partial bool
	// HasMore is set when the provider paginated results; only the first page is used.
	HasMore bool
}

// Poller submits crawl jobs and polls them to a terminal state.
type Poller struct {
	provider domain.CrawlProvider
	cfg      PollConfig
	clock    domain.Clock
	logger   *zap.Logger
}

// NewPoller builds a Poller.
func NewPoller(provider domain.CrawlProvider, cfg PollConfig, clock domain.Clock, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Poller{provider: provider, cfg: cfg, clock: clock, logger: logger.Named("crawl")}
}

// attempt carries the mutable state of one CrawlAndWait call.
type attempt struct {
	url      string
	limit    int
	jobID    string
	started  time.Time
	deadline time.Time
	logger   *zap.Logger
}

// CrawlAndWait runs one crawl attempt. Failures are *domain.CrawlError values;
// the returned result carries the terminal state either way.
func (p *Poller) CrawlAndWait(ctx context.Context, url string, limit int) (CrawlResult, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "intelligence.CrawlAndWait")
	defer span.End()

	a := &attempt{url: url, limit: limit, started: p.clock.Now(), logger: p.logger.With(zap.String("url", url))}
	result, err := p.run(ctx, a)

	span.SetAttributes(
		attribute.String("crawl.job_id", a.jobID),
		attribute.String("crawl.state", string(result.State)),
		attribute.Int("crawl.pages", len(result.Pages)),
	)
	if err != nil {
		span.RecordError(err)
	}
	metrics.ObserveCrawl(url, string(result.State), p.clock.Now().Sub(a.started))
	return result, err
}

func (p *Poller) run(ctx context.Context, a *attempt) (CrawlResult, error) {
	state := StateStarted
	var (
		result CrawlResult
		err    error
	)
	for !state.Terminal() {
		a.logger.Debug("Crawl state", zap.String("state", string(state)), zap.String("job_id", a.jobID))
		switch state {
		case StateStarted:
			state, err = p.start(ctx, a)
		case StatePolling:
			state, result, err = p.poll(ctx, a)
		default:
			return CrawlResult{State: StateFailed}, fmt.Errorf("unexpected crawl state %q", state)
		}
	}
	result.JobID = a.jobID
	result.State = state
	a.logger.Info("Crawl finished",
		zap.String("job_id", a.jobID),
		zap.String("state", string(state)),
		zap.Int("pages", len(result.Pages)),
		zap.Bool("has_more", result.HasMore),
		zap.Error(err),
	)
	return result, err
}

// start submits the job and waits out the warm-up delay.
func (p *Poller) start(ctx context.Context, a *attempt) (State, error) {
	jobID, err := p.provider.Submit(ctx, domain.CrawlRequest{
		URL:    a.url,
		Limit:  a.limit,
		Schema: ExtractionSchema(),
		Prompt: extractionPrompt,
	})
	if err != nil {
		return StateFailed, &domain.CrawlError{Detail: "submission rejected", Err: err}
	}
	a.jobID = jobID
	a.deadline = a.started.Add(p.cfg.MaxWait)
	a.logger = a.logger.With(zap.String("job_id", jobID))
	a.logger.Info("Crawl submitted", zap.Int("limit", a.limit))

	if err := p.sleep(ctx, a, p.cfg.WarmupDelay); err != nil {
		return StateFailed, err
	}
	return StatePolling, nil
}

// poll checks status until a terminal provider status or the deadline.
func (p *Poller) poll(ctx context.Context, a *attempt) (State, CrawlResult, error) {
	if !p.clock.Now().Before(a.deadline) {
		return p.finalFetch(ctx, a)
	}

	status, err := p.provider.Status(ctx, a.jobID)
	switch {
	case err != nil:
		if ctx.Err() != nil {
			return StateFailed, CrawlResult{}, &domain.CrawlError{Detail: "canceled", Err: ctx.Err()}
		}
		a.logger.Warn("Crawl status check failed; will retry", zap.Error(err))
	case status.Status == domain.CrawlJobCompleted:
		return StateCompleted, p.collect(a, status, false), nil
	case status.Status == domain.CrawlJobFailed:
		detail := status.Error
		if detail == "" {
			detail = "provider reported failure"
		}
		return StateFailed, CrawlResult{}, &domain.CrawlError{Detail: detail}
	default:
		a.logger.Debug("Crawl in progress",
			zap.String("status", string(status.Status)),
			zap.Int("completed", status.Completed),
			zap.Int("total", status.Total),
		)
	}

	if err := p.sleep(ctx, a, p.cfg.PollInterval); err != nil {
		return StateFailed, CrawlResult{}, err
	}
	return StatePolling, CrawlResult{}, nil
}

// finalFetch makes one last status request after the budget is spent.
func (p *Poller) finalFetch(ctx context.Context, a *attempt) (State, CrawlResult, error) {
	a.logger.Warn("Crawl budget exhausted; fetching final status", zap.Duration("max_wait", p.cfg.MaxWait))
	status, err := p.provider.Status(ctx, a.jobID)
	if err != nil {
		return StateTimedOutEmpty, CrawlResult{}, &domain.CrawlError{Detail: "timed out", Err: err}
	}
	if status.Status == domain.CrawlJobCompleted {
		return StateCompleted, p.collect(a, status, false), nil
	}
	if len(status.Data) > 0 {
		return StateTimedOutWithPartial, p.collect(a, status, true), nil
	}
	if status.Error != "" {
		return StateTimedOutEmpty, CrawlResult{}, &domain.CrawlError{Detail: status.Error}
	}
	return StateTimedOutEmpty, CrawlResult{}, &domain.CrawlError{
		Detail: fmt.Sprintf("timed out after %s with no pages", p.cfg.MaxWait),
	}
}

func (p *Poller) collect(a *attempt, status domain.CrawlStatus, partial bool) CrawlResult {
	total := status.Total
	if total < len(status.Data) {
		total = len(status.Data)
	}
	res := CrawlResult{
		Pages:   status.Data,
		Total:   total,
		Partial: partial,
		HasMore: status.Next != "",
	}
	if res.HasMore {
		a.logger.Warn("Crawl results are paginated; using the first page only",
			zap.Int("pages", len(status.Data)), zap.Int("total", total))
	}
	return res
}

// sleep waits d, clipped to the deadline once polling has started.
func (p *Poller) sleep(ctx context.Context, a *attempt, d time.Duration) error {
	if !a.deadline.IsZero() {
		if remaining := a.deadline.Sub(p.clock.Now()); remaining < d {
			d = remaining
		}
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return &domain.CrawlError{Detail: "canceled", Err: ctx.Err()}
	case <-timer.C:
		return nil
	}
}

const extractionPrompt = "Extract the services offered, the locations or regions served, " +
	"the unique selling points, and any contact information (email, phone, address) from this page."

// ExtractionSchema is the structured JSON shape requested from the crawl provider.
func ExtractionSchema() map[string]any {
	stringList := map[string]any{"type": "array", "items": map[string]any{"type": "string"}}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"services":              stringList,
			"locations_served":      stringList,
			"unique_selling_points": stringList,
			"contact_info": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"email":   map[string]any{"type": "string"},
					"phone":   map[string]any{"type": "string"},
					"address": map[string]any{"type": "string"},
				},
			},
		},
	}
}
