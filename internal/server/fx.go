// Package server assembles the discovery engine: configuration in,
// wired App out. All cross-cutting construction (stores, fetchers,
// scorers, orchestrator, HTTP surface) lives here so the binary stays
// a thin shell.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/patchwork-dev/patchcrawl/internal/api"
	"github.com/patchwork-dev/patchcrawl/internal/blocklist"
	"github.com/patchwork-dev/patchcrawl/internal/clock/system"
	"github.com/patchwork-dev/patchcrawl/internal/config"
	"github.com/patchwork-dev/patchcrawl/internal/crawl"
	"github.com/patchwork-dev/patchcrawl/internal/dedup"
	"github.com/patchwork-dev/patchcrawl/internal/extract"
	collyfetcher "github.com/patchwork-dev/patchcrawl/internal/fetcher/colly"
	"github.com/patchwork-dev/patchcrawl/internal/fetcher/detector"
	headlessfetcher "github.com/patchwork-dev/patchcrawl/internal/fetcher/headless"
	"github.com/patchwork-dev/patchcrawl/internal/id/uuid"
	"github.com/patchwork-dev/patchcrawl/internal/logging"
	"github.com/patchwork-dev/patchcrawl/internal/metrics"
	"github.com/patchwork-dev/patchcrawl/internal/orchestrator"
	gcppublisher "github.com/patchwork-dev/patchcrawl/internal/publisher/pubsub"
	"github.com/patchwork-dev/patchcrawl/internal/ratelimit"
	"github.com/patchwork-dev/patchcrawl/internal/save"
	"github.com/patchwork-dev/patchcrawl/internal/score"
	"github.com/patchwork-dev/patchcrawl/internal/source"
	gcsstorage "github.com/patchwork-dev/patchcrawl/internal/storage/gcs"
	localstorage "github.com/patchwork-dev/patchcrawl/internal/storage/local"
	memorystorage "github.com/patchwork-dev/patchcrawl/internal/storage/memory"
	pgstore "github.com/patchwork-dev/patchcrawl/internal/storage/postgres"
	"github.com/patchwork-dev/patchcrawl/internal/store"
	"github.com/patchwork-dev/patchcrawl/internal/wiki"
)

// App holds the wired service and the clients it must close on the way
// down.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	apiServer *api.Server
	orch      *orchestrator.Orchestrator

	pool         *pgxpool.Pool
	pubsubClient *pubsub.Client
	publisher    *gcppublisher.Publisher
	gcsClient    *storage.Client
}

// Build creates the application's dependency graph from configuration.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}

	contents, runs, wikiRepo, err := setupStores(ctx, app)
	if err != nil {
		return nil, err
	}
	blobs, err := setupBlobStore(ctx, app)
	if err != nil {
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}

	clk := system.New()
	ids := uuid.New()

	saver := save.New(contents, publisher, blobs, ids, clk, save.Config{
		HeroImageTopic:   cfg.PubSub.HeroImageTopic,
		AgentMemoryTopic: cfg.PubSub.AgentMemoryTopic,
		ArchiveRawHTML:   blobs != nil,
	}, logger.Named("save"))

	seen, err := dedup.NewSeenSet(cfg.SeenTTL())
	if err != nil {
		return nil, fmt.Errorf("seen set init failed: %w", err)
	}

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:       cfg.Crawler.UserAgent,
		Timeout:         cfg.FetchTimeout(),
		MaxRetries:      cfg.Fetch.MaxRetries,
		BackoffBase:     time.Duration(cfg.Fetch.BackoffInitialMs) * time.Millisecond,
		BackoffCap:      time.Duration(cfg.Fetch.BackoffMaxMs) * time.Millisecond,
		MaxBodyBytes:    cfg.Fetch.MaxBodyBytes,
		GetFirstDomains: cfg.Fetch.GetFirstDomains,
	})
	logger.Info("standard fetcher ready", zap.String("user_agent", cfg.Crawler.UserAgent))

	var headless crawl.Fetcher
	if cfg.Headless.Enabled {
		hf, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgents:        []string{cfg.Crawler.UserAgent},
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			// The standard branch still works without rendering.
			logger.Warn("headless fetcher init failed", zap.Error(err))
		} else {
			headless = hf
			logger.Info("headless fetcher ready", zap.Int("max_parallel", cfg.Headless.MaxParallel))
		}
	}

	engine := score.NewEngine(
		score.NewLLMScorer(score.LLMConfig{
			Endpoint: cfg.Scoring.LLMEndpoint,
			APIKey:   cfg.Scoring.LLMAPIKey,
			Model:    cfg.Scoring.LLMModel,
			Timeout:  time.Duration(cfg.Scoring.LLMTimeoutSec) * time.Second,
		}),
		&score.HeuristicScorer{ExtraTerms: cfg.Scoring.ExtraTopicTerms},
		score.Thresholds{
			RelevanceFloor:    cfg.Scoring.RelevanceFloor,
			SecondaryLowFloor: cfg.Scoring.SecondaryLow,
		},
		logger.Named("score"),
	)

	block := blocklist.New(append(append([]string{}, blocklist.LowValueDomains...), cfg.Blocklist...))

	app.orch = orchestrator.New(orchestrator.Deps{
		Pipeline: orchestrator.PipelineDeps{
			Fetcher:  fetcher,
			Headless: headless,
			Detector: detector.NewHeuristic(cfg.Headless.PromotionThresh, cfg.Headless.JSRequiredDomains),
			Limiter: ratelimit.New(ratelimit.Config{
				DefaultRPS:             cfg.RateLimit.RequestsPerSecond,
				DefaultBurst:           cfg.RateLimit.Burst,
				MaxConcurrentPerDomain: cfg.RateLimit.MaxConcurrentPerDomain,
			}),
			Seen:     seen,
			NearDups: dedup.NewNearDupIndex(cfg.Dedup.NearDupWindow, cfg.Dedup.HammingThreshold),
			Engine:   engine,
			Saver:    saver,
			Logger:   logger.Named("pipeline"),
		},
		Runs:     runs,
		WikiRepo: wikiRepo,
		Sources:  setupSources(app),
		IDs:      ids,
		Clock:    clk,
		Logger:   logger.Named("orchestrator"),
	}, orchestrator.Config{
		MaxLiveRunsPerPatch: cfg.Crawler.MaxLiveRunsPerPatch,
		DefaultMaxDepth:     cfg.Crawler.MaxDepthDefault,
		Runner: orchestrator.RunnerConfig{
			Workers:           cfg.Crawler.Workers,
			HeartbeatInterval: time.Duration(cfg.Crawler.HeartbeatSeconds) * time.Second,
			StaleAfter:        time.Duration(cfg.Crawler.StaleAfterSeconds) * time.Second,
			SuspendAfter:      time.Duration(cfg.Crawler.SuspendAfterSeconds) * time.Second,
			Blocklist:         block,
		},
		Wiki: wiki.Config{
			MaxDepth:            cfg.Wiki.MaxDepth,
			MaxCitationsPerScan: cfg.Wiki.MaxCitationsPerScan,
			MaxSubpagesPerScan:  cfg.Wiki.MaxSubpagesPerScan,
			FollowSubpages:      cfg.Wiki.FollowSubpages,
			Blocklist:           block,
		},
		Validator: extract.ValidatorConfig{
			MinTextLength:    cfg.Scoring.MinTextLength,
			MinArticleLength: cfg.Scoring.MinArticleLength,
			MinScoringLength: cfg.Scoring.MinScoringLength,
		},
	})

	app.apiServer = api.NewServer(app.orch, contents, api.Config{
		APIKey:         cfg.Server.APIKey,
		RequestTimeout: time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
	}, logger.Named("api"))

	return app, nil
}

// Run starts the HTTP listener and blocks until a signal or context
// cancellation, then shuts the service down in dependency order.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return a.Close(shutdownCtx)
}

// Close stops live runs and releases external clients. Runs stop first
// so nothing writes through a closed pool.
func (a *App) Close(ctx context.Context) error {
	if err := a.orch.Shutdown(ctx); err != nil {
		a.logger.Warn("orchestrator shutdown incomplete", zap.Error(err))
	}
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	_ = a.logger.Sync()
	a.logger.Info("shutdown complete")
	return nil
}

// setupStores selects Postgres when a DSN is configured and the
// in-memory stores otherwise.
func setupStores(ctx context.Context, app *App) (store.ContentRepository, store.RunRepository, store.WikiRepository, error) {
	if app.cfg.DB.DSN == "" {
		app.logger.Warn("no database DSN configured, using in-memory stores")
		return memorystorage.NewContentStore(), memorystorage.NewRunStore(), memorystorage.NewWikiStore(), nil
	}

	pool, err := pgstore.NewPool(ctx, pgstore.PoolConfig{
		DSN:             app.cfg.DB.DSN,
		MaxConns:        int32(app.cfg.DB.MaxConns),
		MinConns:        int32(app.cfg.DB.MinConns),
		MaxConnLifetime: time.Duration(app.cfg.DB.ConnLifetimeMin) * time.Minute,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("database pool init failed: %w", err)
	}
	app.pool = pool

	contents, err := pgstore.NewContentStore(pool)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("content store init failed: %w", err)
	}
	runs, err := pgstore.NewRunStore(pool)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("run store init failed: %w", err)
	}
	wikiRepo, err := pgstore.NewWikiStore(pool)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("wiki store init failed: %w", err)
	}
	app.logger.Info("postgres stores initialized", zap.Int("max_conns", app.cfg.DB.MaxConns))
	return contents, runs, wikiRepo, nil
}

// setupBlobStore picks the raw-HTML archive backend: GCS when a bucket
// is configured, local disk as the development fallback, nil to disable
// archiving entirely.
func setupBlobStore(ctx context.Context, app *App) (crawl.BlobStore, error) {
	switch {
	case app.cfg.Storage.GCSBucket != "":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.gcsClient = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: app.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Info("archiving raw pages to GCS", zap.String("bucket", app.cfg.Storage.GCSBucket))
		return blobs, nil
	case app.cfg.Storage.LocalPath != "":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.LocalPath})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Info("archiving raw pages locally", zap.String("path", app.cfg.Storage.LocalPath))
		return blobs, nil
	default:
		app.logger.Info("raw page archiving disabled")
		return nil, nil
	}
}

// setupPublisher wires the enrichment trigger publisher; without a
// project ID the triggers are skipped.
func setupPublisher(ctx context.Context, app *App) (crawl.Publisher, error) {
	if app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("no Pub/Sub project configured, enrichment triggers disabled")
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = client
	publisher, err := gcppublisher.New(client)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.publisher = publisher
	app.logger.Info("Pub/Sub publisher initialized", zap.String("project", app.cfg.PubSub.ProjectID))
	return publisher, nil
}

// setupSources lists the discovery sources offered to runs. The web
// source is always present; search discovery needs an endpoint.
func setupSources(app *App) []source.Source {
	sources := []source.Source{source.WebSource{}}
	if app.cfg.Search.Endpoint != "" {
		sources = append(sources, source.NewSearchAPISource(source.SearchAPIConfig{
			Endpoint:   app.cfg.Search.Endpoint,
			APIKey:     app.cfg.Search.APIKey,
			MaxResults: app.cfg.Search.MaxResults,
		}))
		app.logger.Info("search discovery enabled", zap.String("endpoint", app.cfg.Search.Endpoint))
	}
	return sources
}
