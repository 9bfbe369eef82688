// Package server builds the application's dependency graph and runs the HTTP service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitesearch/internal/api"
	"github.com/JakeFAU/sitesearch/internal/clock/system"
	"github.com/JakeFAU/sitesearch/internal/config"
	"github.com/JakeFAU/sitesearch/internal/coordinator"
	"github.com/JakeFAU/sitesearch/internal/crawler"
	"github.com/JakeFAU/sitesearch/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/sitesearch/internal/fetcher/colly"
	"github.com/JakeFAU/sitesearch/internal/hash/sha256"
	"github.com/JakeFAU/sitesearch/internal/id/uuid"
	"github.com/JakeFAU/sitesearch/internal/indexer"
	"github.com/JakeFAU/sitesearch/internal/lemma"
	"github.com/JakeFAU/sitesearch/internal/policy/ratelimit"
	"github.com/JakeFAU/sitesearch/internal/publisher"
	memorypublisher "github.com/JakeFAU/sitesearch/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/sitesearch/internal/publisher/pubsub"
	"github.com/JakeFAU/sitesearch/internal/search"
	"github.com/JakeFAU/sitesearch/internal/snippet"
	badgerstore "github.com/JakeFAU/sitesearch/internal/storage/badger"
	gcsstorage "github.com/JakeFAU/sitesearch/internal/storage/gcs"
	localstorage "github.com/JakeFAU/sitesearch/internal/storage/local"
	memorystorage "github.com/JakeFAU/sitesearch/internal/storage/memory"
	pgstore "github.com/JakeFAU/sitesearch/internal/storage/postgres"
	"github.com/JakeFAU/sitesearch/internal/store"
)

type closablePublisher interface {
	publisher.Publisher
	Close() error
}

// App contains the application's dependencies.
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	repo        store.Repository
	ready       func(ctx context.Context) error
	blobs       *gcsstorage.BlobStore
	publisher   closablePublisher
	pool        *dispatcher.Pool
	coordinator *coordinator.Coordinator
	search      *search.Engine
	apiServer   *api.Server
}

// Build creates the application's dependencies. The caller owns Close.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			if closeErr := app.Close(context.Background()); closeErr != nil {
				logger.Warn("cleanup after failed build", zap.Error(closeErr))
			}
		}
	}()

	app.logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("archive", cfg.Archive.Backend),
		zap.Int("sites", len(cfg.Sites)),
	)

	if err = app.setupRepository(ctx); err != nil {
		return nil, err
	}
	archive, err := app.setupArchive(ctx)
	if err != nil {
		return nil, err
	}
	if err = app.setupPublisher(ctx); err != nil {
		return nil, err
	}

	analyzer, err := lemma.NewSnowball(cfg.Lemmatizer.Language)
	if err != nil {
		return nil, fmt.Errorf("lemmatizer init failed: %w", err)
	}
	lemmatizer := lemma.New(analyzer)

	var handlers []indexer.PageHandler
	if archive != nil {
		handlers = append(handlers, indexer.NewArchiver(
			archive,
			sha256.New(),
			cfg.Archive.Prefix,
			cfg.Archive.ContentType,
			logger.Named("archive"),
		))
	}
	pages := indexer.New(app.repo, lemmatizer, logger.Named("indexer"), handlers...)

	app.pool, err = dispatcher.New(cfg.Crawler.Concurrency, logger.Named("dispatcher"))
	if err != nil {
		return nil, err
	}

	var limiter crawler.Limiter
	if cfg.Crawler.RateLimitRPS > 0 {
		limiter = ratelimit.New(ratelimit.Config{
			RPS:   cfg.Crawler.RateLimitRPS,
			Burst: cfg.Crawler.RateLimitBurst,
		})
		app.logger.Info("rate limiter enabled",
			zap.Float64("rps", cfg.Crawler.RateLimitRPS),
			zap.Int("burst", cfg.Crawler.RateLimitBurst),
		)
	}

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		Referrer:      cfg.Crawler.Referrer,
		RespectRobots: cfg.Crawler.RespectRobots,
		Timeout:       cfg.FetchTimeout(),
	})
	clock := system.New()
	crawl := crawler.New(
		crawler.Config{
			Delay:            cfg.Delay(),
			ExcludedSuffixes: cfg.Crawler.ExcludedSuffixes,
		},
		fetcher,
		pages,
		app.repo,
		app.pool,
		limiter,
		clock,
		logger.Named("crawler"),
	)

	app.coordinator = coordinator.New(
		coordinator.Config{Sites: cfg.Sites, Topic: cfg.PubSub.TopicName},
		crawl,
		app.repo,
		app.publisher,
		uuid.New(),
		clock,
		logger.Named("coordinator"),
	)

	app.search = search.New(app.repo, lemmatizer, snippet.New(lemmatizer), logger.Named("search")).
		WithDefaultLimit(cfg.Search.DefaultLimit)

	apiKey := ""
	if cfg.Auth.Enabled {
		apiKey = cfg.Auth.APIKey
	}
	app.apiServer = api.NewServer(app.coordinator, app.search, api.Options{
		APIKey:         apiKey,
		RequestTimeout: cfg.RequestTimeout(),
		Ready:          app.ready,
	}, logger.Named("api"))

	return app, nil
}

func (a *App) setupRepository(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case config.StoragePostgres:
		pg, err := pgstore.Open(ctx, pgstore.Config{
			DSN:      a.cfg.Storage.DSN,
			MaxConns: a.cfg.Storage.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		a.repo = pg
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		a.ready = pg.Ping
		a.logger.Info("using postgres index store", zap.Int32("max_conns", a.cfg.Storage.MaxConns))
	case config.StorageBadger:
		bs, err := badgerstore.Open(badgerstore.Config{
			Path:     a.cfg.Storage.BadgerPath,
			InMemory: a.cfg.Storage.BadgerInMemory,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("badger store init failed: %w", err)
		}
		a.repo = bs
		a.logger.Info("using badger index store",
			zap.String("path", a.cfg.Storage.BadgerPath),
			zap.Bool("in_memory", a.cfg.Storage.BadgerInMemory),
		)
	default:
		a.repo = memorystorage.NewIndexStore()
		a.logger.Info("using in-memory index store")
	}
	return nil
}

func (a *App) setupArchive(ctx context.Context) (indexer.BlobStore, error) {
	switch a.cfg.Archive.Backend {
	case config.ArchiveGCS:
		blobs, err := gcsstorage.Dial(ctx, gcsstorage.Config{Bucket: a.cfg.Archive.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.blobs = blobs
		a.logger.Info("archiving pages to gcs", zap.String("bucket", a.cfg.Archive.GCSBucket))
		return blobs, nil
	case config.ArchiveLocal:
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("archiving pages locally", zap.String("path", a.cfg.Archive.BaseDir))
		return blobs, nil
	case config.ArchiveMemory:
		a.logger.Info("archiving pages in memory")
		return memorystorage.NewBlobStore(), nil
	default:
		a.logger.Debug("page archiving disabled")
		return nil, nil
	}
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("No Pub/Sub project configured, using in-memory publisher")
		a.publisher = memorypublisher.New()
		return nil
	}
	pub, err := gcppublisher.Dial(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.publisher = pub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return nil
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Coordinator exposes the indexing lifecycle for CLI commands.
func (a *App) Coordinator() *coordinator.Coordinator {
	return a.coordinator
}

// Search exposes the query engine for CLI commands.
func (a *App) Search() *search.Engine {
	return a.search
}

// Run serves HTTP until ctx is canceled, then drains indexing and shuts down.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		runErr = fmt.Errorf("http server: %w", err)
	}
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return errors.Join(runErr, a.Close(shutdownCtx))
}

// Close stops any indexing run and releases every backend.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.coordinator != nil {
		if err := a.coordinator.StopIndexing(); err != nil && !errors.Is(err, coordinator.ErrNotRunning) {
			errs = append(errs, err)
		}
		if err := a.coordinator.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("wait for indexing: %w", err))
		}
	}
	if a.pool != nil {
		a.pool.Release()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
	}
	if a.blobs != nil {
		if err := a.blobs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close gcs client: %w", err))
		}
	}
	if a.repo != nil {
		if err := a.repo.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close index store: %w", err))
		}
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

// Sites lists the stored sites and their status.
func (a *App) Sites(ctx context.Context) ([]store.Site, error) {
	sites, err := a.repo.ListSites(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	return sites, nil
}
