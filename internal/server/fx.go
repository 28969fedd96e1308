// Package server provides the application composition root and lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecore/internal/ai"
	"github.com/JakeFAU/sitecore/internal/api"
	"github.com/JakeFAU/sitecore/internal/clock/system"
	"github.com/JakeFAU/sitecore/internal/config"
	collyprovider "github.com/JakeFAU/sitecore/internal/crawl/colly"
	"github.com/JakeFAU/sitecore/internal/domain"
	"github.com/JakeFAU/sitecore/internal/firecrawl"
	"github.com/JakeFAU/sitecore/internal/hash/sha256"
	"github.com/JakeFAU/sitecore/internal/id/uuid"
	"github.com/JakeFAU/sitecore/internal/inbox"
	"github.com/JakeFAU/sitecore/internal/intelligence"
	"github.com/JakeFAU/sitecore/internal/logging"
	"github.com/JakeFAU/sitecore/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/sitecore/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/sitecore/internal/publisher/pubsub"
	"github.com/JakeFAU/sitecore/internal/resend"
	gcsstorage "github.com/JakeFAU/sitecore/internal/storage/gcs"
	localstorage "github.com/JakeFAU/sitecore/internal/storage/local"
	memorystorage "github.com/JakeFAU/sitecore/internal/storage/memory"
	pgstore "github.com/JakeFAU/sitecore/internal/storage/postgres"
	"github.com/JakeFAU/sitecore/internal/telemetry"
	"github.com/JakeFAU/sitecore/internal/upstream"
	"github.com/JakeFAU/sitecore/internal/webhook"
)

// App contains the application's dependencies.
type App struct {
	cfg             *config.Config
	logger          *zap.Logger
	apiServer       *api.Server
	competitors     *intelligence.Service
	pool            *pgxpool.Pool
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	storage         *storage.Client
	tracerShutdown  func(context.Context) error
}

type stores struct {
	emails      domain.EmailStore
	leads       domain.LeadStore
	competitors domain.CompetitorStore
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Competitors exposes the orchestrator for one-shot CLI commands.
func (a *App) Competitors() *intelligence.Service {
	return a.competitors
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves HTTP until the context is canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
		close(serveErr)
	}()

	<-ctx.Done()
	a.logger.Info("Shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("Server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)
	if err := <-serveErr; err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return closeErr
}

// Close releases infrastructure clients and flushes telemetry.
func (a *App) Close(ctx context.Context) error {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("Pub/Sub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("GCS client close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("Tracer shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
	return nil
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, zap.String("service", cfg.Telemetry.ServiceName))
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	app := &App{cfg: cfg, logger: logger}

	logger.Info("Building application",
		zap.Int("port", cfg.Server.Port),
		zap.String("crawl_provider", cfg.Crawl.Provider),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("database", cfg.Database.DSN != ""),
		logging.Redact("webhook_secret", cfg.Webhook.Secret),
		logging.Redact("admin_api_key", cfg.Auth.APIKey),
	)

	tp, err := telemetry.InitTracerProvider(ctx, cfg.Telemetry.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown

	if err := app.assemble(ctx); err != nil {
		_ = app.Close(ctx)
		return nil, err
	}
	return app, nil
}

func (a *App) assemble(ctx context.Context) error {
	cfg := a.cfg
	clock := system.New()
	ids := uuid.NewUUIDGenerator()

	st, err := a.setupDatabase(ctx)
	if err != nil {
		return err
	}
	blobs, err := a.setupBlobStore(ctx)
	if err != nil {
		return err
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}
	limiter := a.setupLimiter()

	mail := resend.New(resend.Config{
		BaseURL:     cfg.EmailProvider.BaseURL,
		APIKey:      cfg.EmailProvider.APIKey,
		FromAddress: cfg.EmailProvider.FromAddress,
		Limiter:     limiter,
	})
	generator := ai.New(ai.Config{
		BaseURL:     cfg.AI.BaseURL,
		APIKey:      cfg.AI.APIKey,
		Model:       cfg.AI.Model,
		MaxTokens:   cfg.AI.MaxTokens,
		Temperature: cfg.AI.Temperature,
		Timeout:     time.Duration(cfg.AI.TimeoutSeconds) * time.Second,
		Limiter:     limiter,
	})

	warmup, interval, maxWait := cfg.CrawlBudget()
	poller := intelligence.NewPoller(a.setupCrawlProvider(ids, limiter, maxWait), intelligence.PollConfig{
		WarmupDelay:  warmup,
		PollInterval: interval,
		MaxWait:      maxWait,
	}, clock, a.logger)

	a.competitors = intelligence.NewService(intelligence.Config{
		DefaultPageLimit: cfg.Crawl.DefaultPageLimit,
		MaxPageLimit:     cfg.Crawl.MaxPageLimit,
		MaxMarkdownChars: cfg.Intelligence.MaxMarkdownChars,
		SnapshotPrefix:   cfg.Storage.Prefix,
		Topic:            cfg.PubSub.TopicName,
	}, intelligence.Deps{
		Store:     st.competitors,
		Poller:    poller,
		Generator: generator,
		Blobs:     blobs,
		Publisher: publisher,
		Hasher:    sha256.NewContentHasher(),
		Clock:     clock,
		IDs:       ids,
		Logger:    a.logger,
	})

	processor := webhook.NewProcessor(webhook.Deps{
		Fetcher:   mail,
		Emails:    st.emails,
		Leads:     st.leads,
		Publisher: publisher,
		Topic:     cfg.PubSub.TopicName,
		Clock:     clock,
		IDs:       ids,
		Logger:    a.logger,
	})

	deps := api.Deps{
		Competitors: a.competitors,
		Inbox:       inbox.NewService(st.emails, mail, a.cfg.EmailProvider.FromAddress, clock, ids, a.logger),
		Processor:   processor,
		Logger:      a.logger,
	}
	if cfg.Webhook.Secret == "" {
		a.logger.Warn("No webhook secret configured; every inbound delivery will be rejected")
	} else {
		verifier, err := webhook.NewVerifier(cfg.Webhook.Secret, cfg.WebhookTolerance(), clock)
		if err != nil {
			return fmt.Errorf("webhook verifier init failed: %w", err)
		}
		deps.Verifier = verifier
	}
	if a.pool != nil {
		deps.Ready = a.pool.Ping
	}
	if cfg.Auth.APIKey == "" {
		a.logger.Warn("No admin API key configured; admin routes are locked")
	}

	a.apiServer = api.NewServer(api.Config{
		APIKey:         cfg.Auth.APIKey,
		RequestTimeout: cfg.RequestTimeout(),
	}, deps)
	return nil
}

func (a *App) setupDatabase(ctx context.Context) (stores, error) {
	dbCfg := a.cfg.Database
	if dbCfg.DSN == "" {
		a.logger.Warn("No DSN specified for database, using in-memory stores")
		return stores{
			emails:      memorystorage.NewEmailStore(),
			leads:       memorystorage.NewLeadStore(),
			competitors: memorystorage.NewCompetitorStore(),
		}, nil
	}
	if dbCfg.AutoMigrate {
		if err := pgstore.Migrate(dbCfg.DSN, a.logger.Named("migrate")); err != nil {
			return stores{}, fmt.Errorf("auto-migrate failed: %w", err)
		}
	}
	pool, err := pgstore.Connect(ctx, pgstore.Config{
		DSN:             dbCfg.DSN,
		MaxConns:        dbCfg.MaxConns,
		MinConns:        dbCfg.MinConns,
		MaxConnLifetime: dbCfg.MaxConnLifetime,
	})
	if err != nil {
		return stores{}, fmt.Errorf("database init failed: %w", err)
	}
	a.pool = pool
	a.logger.Info("Postgres stores initialized", zap.Int32("max_conns", dbCfg.MaxConns))
	return stores{
		emails:      pgstore.NewEmailStore(pool),
		leads:       pgstore.NewLeadStore(pool),
		competitors: pgstore.NewCompetitorStore(pool),
	}, nil
}

func (a *App) setupBlobStore(ctx context.Context) (domain.BlobStore, error) {
	storageCfg := a.cfg.Storage
	switch storageCfg.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storage = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: storageCfg.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		if err := blobs.CheckBucket(ctx); err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("Using GCS snapshot storage", zap.String("bucket", storageCfg.Bucket))
		return blobs, nil
	case "local":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: storageCfg.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("Using local snapshot storage", zap.String("path", storageCfg.Local.BaseDir))
		return blobs, nil
	default:
		a.logger.Info("Using in-memory snapshot storage")
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (domain.Publisher, error) {
	psCfg := a.cfg.PubSub
	if psCfg.TopicName == "" || psCfg.ProjectID == "" {
		a.logger.Warn("No Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, psCfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.pubsubPublisher = client.Publisher(psCfg.TopicName)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", psCfg.ProjectID),
		zap.String("topic", psCfg.TopicName),
	)
	return gcppublisher.New(a.pubsubPublisher), nil
}

func (a *App) setupLimiter() upstream.Limiter {
	rl := a.cfg.RateLimit
	if !rl.Enabled {
		a.logger.Info("Outbound rate limiting disabled")
		return nil
	}
	a.logger.Info("Outbound rate limiter enabled",
		zap.Float64("default_rps", rl.DefaultRPS),
		zap.Int("default_burst", rl.DefaultBurst),
	)
	return ratelimit.New(ratelimit.Config{DefaultRPS: rl.DefaultRPS, DefaultBurst: rl.DefaultBurst})
}

func (a *App) setupCrawlProvider(ids domain.IDGenerator, limiter upstream.Limiter, maxWait time.Duration) domain.CrawlProvider {
	crawlCfg := a.cfg.Crawl
	if crawlCfg.Provider == "colly" {
		a.logger.Info("Using in-process colly crawl provider", zap.String("user_agent", crawlCfg.UserAgent))
		return collyprovider.New(collyprovider.Config{
			UserAgent:     crawlCfg.UserAgent,
			MaxDepth:      crawlCfg.MaxDepth,
			JobTimeout:    maxWait,
			RespectRobots: crawlCfg.RespectRobots,
		}, ids, a.logger.Named("colly"))
	}
	a.logger.Info("Using remote crawl provider", zap.String("base_url", crawlCfg.BaseURL))
	return firecrawl.New(firecrawl.Config{
		BaseURL: crawlCfg.BaseURL,
		APIKey:  crawlCfg.APIKey,
		Limiter: limiter,
	})
}
