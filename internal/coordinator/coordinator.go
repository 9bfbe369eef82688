// Package coordinator owns the indexing lifecycle: one run at a time over the
// configured sites, cooperative stop, and single-page indexing.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitesearch/internal/store"
)

// Lifecycle errors.
var (
	ErrAlreadyRunning   = errors.New("indexing is already running")
	ErrNotRunning       = errors.New("indexing is not running")
	ErrPageOutsideSites = errors.New("page is outside the configured sites")
	ErrInvalidURL       = errors.New("invalid page url")
)

// SiteConfig is one configured crawl target.
type SiteConfig struct {
	URL  string `mapstructure:"url"`
	Name string `mapstructure:"name"`
}

// Crawler crawls whole sites or single pages.
type Crawler interface {
	Crawl(ctx context.Context, site store.Site) store.SiteStatus
	IndexURL(ctx context.Context, site store.Site, rawURL string) (store.Page, error)
}

// Store is the subset of the repository the coordinator manages sites with.
type Store interface {
	CreateSite(ctx context.Context, site store.Site) (store.Site, error)
	GetSite(ctx context.Context, id int64) (store.Site, error)
	FindSiteByURL(ctx context.Context, url string) (store.Site, error)
	DeleteSite(ctx context.Context, id int64) error
	UpdateSiteStatus(ctx context.Context, id int64, status store.SiteStatus, lastError string, at time.Time) error
	CountPages(ctx context.Context, siteID int64) (int, error)
	CountLemmas(ctx context.Context, siteID int64) (int, error)
}

// Publisher receives site lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Clock abstracts time.
type Clock interface {
	Now() time.Time
}

// Config wires a Coordinator.
type Config struct {
	Sites []SiteConfig
	// Topic receives SiteEvent messages. Empty uses the publisher default.
	Topic string
}

// SiteEvent is published when a site finishes crawling.
type SiteEvent struct {
	RunID      string           `json:"run_id"`
	SiteURL    string           `json:"site_url"`
	SiteName   string           `json:"site_name"`
	Status     store.SiteStatus `json:"status"`
	Error      string           `json:"error,omitempty"`
	Pages      int              `json:"pages"`
	Lemmas     int              `json:"lemmas"`
	FinishedAt time.Time        `json:"finished_at"`
}

// Coordinator serializes indexing runs.
type Coordinator struct {
	cfg       Config
	crawler   Crawler
	store     Store
	publisher Publisher
	ids       IDGenerator
	clock     Clock
	logger    *zap.Logger

	mu       sync.Mutex
	running  bool
	stopping bool
	runID    string
	cancel   context.CancelFunc
	done     chan struct{}
}

// New constructs a Coordinator. publisher may be nil.
func New(
	cfg Config,
	crawler Crawler,
	s Store,
	publisher Publisher,
	ids IDGenerator,
	clock Clock,
	logger *zap.Logger,
) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	done := make(chan struct{})
	close(done)
	return &Coordinator{
		cfg:       cfg,
		crawler:   crawler,
		store:     s,
		publisher: publisher,
		ids:       ids,
		clock:     clock,
		logger:    logger,
		done:      done,
	}
}

// StartIndexing recreates every configured site in INDEXING state and crawls
// them concurrently in the background. It returns the run ID.
func (c *Coordinator) StartIndexing(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return "", ErrAlreadyRunning
	}

	sites := make([]store.Site, 0, len(c.cfg.Sites))
	for _, sc := range c.cfg.Sites {
		site, err := c.resetSite(ctx, sc)
		if err != nil {
			return "", err
		}
		sites = append(sites, site)
	}

	runID, err := c.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("run id: %w", err)
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.running = true
	c.stopping = false
	c.runID = runID
	c.cancel = cancel
	c.done = make(chan struct{})

	c.logger.Info("indexing started", zap.String("run_id", runID), zap.Int("sites", len(sites)))
	go c.run(runCtx, runID, sites, c.done)
	return runID, nil
}

func (c *Coordinator) resetSite(ctx context.Context, sc SiteConfig) (store.Site, error) {
	siteURL := store.NormalizeSiteURL(sc.URL)
	existing, err := c.store.FindSiteByURL(ctx, siteURL)
	switch {
	case err == nil:
		if err := c.store.DeleteSite(ctx, existing.ID); err != nil {
			return store.Site{}, fmt.Errorf("delete site %s: %w", siteURL, err)
		}
	case !errors.Is(err, store.ErrNotFound):
		return store.Site{}, fmt.Errorf("find site %s: %w", siteURL, err)
	}
	site, err := c.store.CreateSite(ctx, store.Site{
		URL:        siteURL,
		Name:       sc.Name,
		Status:     store.StatusIndexing,
		StatusTime: c.clock.Now(),
	})
	if err != nil {
		return store.Site{}, fmt.Errorf("create site %s: %w", siteURL, err)
	}
	return site, nil
}

func (c *Coordinator) run(ctx context.Context, runID string, sites []store.Site, done chan struct{}) {
	logger := c.logger.With(zap.String("run_id", runID))
	var wg sync.WaitGroup
	for _, site := range sites {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status := c.crawler.Crawl(ctx, site)
			c.publishFinished(ctx, runID, site, status)
		}()
	}
	wg.Wait()

	c.mu.Lock()
	c.cancel()
	c.running = false
	c.stopping = false
	c.cancel = nil
	close(done)
	c.mu.Unlock()
	logger.Info("indexing finished")
}

func (c *Coordinator) publishFinished(ctx context.Context, runID string, site store.Site, status store.SiteStatus) {
	ctx = context.WithoutCancel(ctx)
	event := SiteEvent{
		RunID:      runID,
		SiteURL:    site.URL,
		SiteName:   site.Name,
		Status:     status,
		FinishedAt: c.clock.Now().UTC(),
	}
	if stored, err := c.store.GetSite(ctx, site.ID); err == nil {
		event.Error = stored.LastError
	}
	if n, err := c.store.CountPages(ctx, site.ID); err == nil {
		event.Pages = n
	}
	if n, err := c.store.CountLemmas(ctx, site.ID); err == nil {
		event.Lemmas = n
	}
	c.logger.Info("site finished",
		zap.String("run_id", runID),
		zap.String("site", site.URL),
		zap.String("status", string(status)),
		zap.Int("pages", event.Pages),
		zap.Int("lemmas", event.Lemmas),
	)
	if c.publisher == nil {
		return
	}
	if _, err := c.publisher.Publish(ctx, c.cfg.Topic, event); err != nil {
		c.logger.Warn("publish site event failed", zap.String("site", site.URL), zap.Error(err))
	}
}

// StopIndexing cancels the active run. Crawl tasks observe the cancellation
// cooperatively and their sites finish FAILED.
func (c *Coordinator) StopIndexing() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running || c.stopping {
		return ErrNotRunning
	}
	c.stopping = true
	c.cancel()
	c.logger.Info("indexing stop requested", zap.String("run_id", c.runID))
	return nil
}

// IsIndexing reports whether a run is active or draining.
func (c *Coordinator) IsIndexing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Wait blocks until the current run, if any, has fully drained.
func (c *Coordinator) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for indexing: %w", ctx.Err())
	}
}

// IndexPage fetches and indexes one page of a configured site.
func (c *Coordinator) IndexPage(ctx context.Context, rawURL string) (store.Page, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return store.Page{}, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	sc, ok := c.siteFor(u)
	if !ok {
		return store.Page{}, fmt.Errorf("%w: %s", ErrPageOutsideSites, rawURL)
	}

	// A live run owns site status; only standalone indexing moves it.
	manageStatus := !c.IsIndexing()
	site, err := c.ensureSite(ctx, sc, manageStatus)
	if err != nil {
		return store.Page{}, err
	}
	logger := c.logger.With(zap.String("site", site.URL), zap.String("url", u.String()))

	page, err := c.crawler.IndexURL(ctx, site, u.String())
	if err != nil {
		logger.Warn("single page indexing failed", zap.Error(err))
		if manageStatus {
			c.setStatus(ctx, site, store.StatusFailed, err.Error())
		}
		return store.Page{}, err
	}
	if manageStatus {
		c.setStatus(ctx, site, store.StatusIndexed, "")
	}
	logger.Info("page indexed", zap.Int64("page_id", page.ID), zap.Int("status_code", page.StatusCode))
	return page, nil
}

func (c *Coordinator) siteFor(u *url.URL) (SiteConfig, bool) {
	host := strings.ToLower(u.Hostname())
	for _, sc := range c.cfg.Sites {
		parsed, err := url.Parse(sc.URL)
		if err != nil {
			continue
		}
		if strings.ToLower(parsed.Hostname()) == host {
			return sc, true
		}
	}
	return SiteConfig{}, false
}

func (c *Coordinator) ensureSite(ctx context.Context, sc SiteConfig, manageStatus bool) (store.Site, error) {
	siteURL := store.NormalizeSiteURL(sc.URL)
	site, err := c.store.FindSiteByURL(ctx, siteURL)
	if err == nil {
		if manageStatus {
			c.setStatus(ctx, site, store.StatusIndexing, "")
		}
		return site, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.Site{}, fmt.Errorf("find site %s: %w", siteURL, err)
	}
	site, err = c.store.CreateSite(ctx, store.Site{
		URL:        siteURL,
		Name:       sc.Name,
		Status:     store.StatusIndexing,
		StatusTime: c.clock.Now(),
	})
	if err != nil {
		return store.Site{}, fmt.Errorf("create site %s: %w", siteURL, err)
	}
	return site, nil
}

func (c *Coordinator) setStatus(ctx context.Context, site store.Site, status store.SiteStatus, lastError string) {
	err := c.store.UpdateSiteStatus(context.WithoutCancel(ctx), site.ID, status, lastError, c.clock.Now())
	if err != nil {
		c.logger.Warn("update site status failed", zap.String("site", site.URL), zap.Error(err))
	}
}
