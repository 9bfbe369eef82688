package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitesearch/internal/markup"
	"github.com/JakeFAU/sitesearch/internal/metrics"
	"github.com/JakeFAU/sitesearch/internal/store"
)

// DefaultDelay is the politeness pause applied before each batch of child links.
const DefaultDelay = 45 * time.Millisecond

// Config tunes the crawl.
type Config struct {
	// Delay is applied once per link batch before children are scheduled.
	Delay time.Duration
	// ExcludedSuffixes are file extensions that are never followed.
	ExcludedSuffixes []string
	// Headers are sent with every fetch.
	Headers map[string]string
}

// Crawler walks sites and writes every fetched page through a PageWriter.
type Crawler struct {
	cfg       Config
	fetcher   Fetcher
	pages     PageWriter
	sites     SiteStatusStore
	scheduler Scheduler
	limiter   Limiter
	clock     Clock
	pause     pauseController
	logger    *zap.Logger
}

// New constructs a Crawler. limiter may be nil.
func New(
	cfg Config,
	fetcher Fetcher,
	pages PageWriter,
	sites SiteStatusStore,
	scheduler Scheduler,
	limiter Limiter,
	clock Clock,
	logger *zap.Logger,
) *Crawler {
	if cfg.ExcludedSuffixes == nil {
		cfg.ExcludedSuffixes = DefaultExcludedSuffixes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{
		cfg:       cfg,
		fetcher:   fetcher,
		pages:     pages,
		sites:     sites,
		scheduler: scheduler,
		limiter:   limiter,
		clock:     clock,
		pause:     &timerPauseController{},
		logger:    logger,
	}
}

// siteRun is the state shared by all tasks of one site crawl.
type siteRun struct {
	site     store.Site
	filter   *linkFilter
	visited  visitTracker
	inflight sync.WaitGroup
	failed   atomic.Bool

	mu        sync.Mutex
	lastError string
}

func (r *siteRun) add() {
	r.inflight.Add(1)
	metrics.IncInflightTasks()
}

func (r *siteRun) done() {
	metrics.DecInflightTasks()
	r.inflight.Done()
}

// Crawl walks site starting at its URL and blocks until every task of the
// tree has finished. It records and returns the final site status.
func (c *Crawler) Crawl(ctx context.Context, site store.Site) store.SiteStatus {
	logger := c.logger.With(zap.String("site", site.URL))
	filter, err := newLinkFilter(site.URL, c.cfg.ExcludedSuffixes)
	if err != nil {
		run := &siteRun{site: site}
		c.markFailed(ctx, run, err)
		return c.finish(ctx, run)
	}
	run := &siteRun{
		site:    site,
		filter:  filter,
		visited: newConcurrentVisitTracker(),
	}
	start := site.URL
	if key, err := NormalizeURL(start); err == nil {
		run.visited.MarkIfNew(key)
	}

	logger.Info("site crawl started")
	run.add()
	c.scheduler.Go(func() { c.visit(ctx, run, start, true) })
	run.inflight.Wait()

	status := c.finish(ctx, run)
	logger.Info("site crawl finished", zap.String("status", string(status)))
	return status
}

// IndexURL fetches a single URL of site and writes it, without following links.
func (c *Crawler) IndexURL(ctx context.Context, site store.Site, rawURL string) (store.Page, error) {
	page, err := c.fetchPage(ctx, site, rawURL)
	if err != nil {
		return store.Page{}, err
	}
	stored, err := c.pages.WritePage(ctx, site, page)
	if err != nil {
		return store.Page{}, fmt.Errorf("write page: %w", err)
	}
	return stored, nil
}

func (c *Crawler) visit(ctx context.Context, run *siteRun, rawURL string, root bool) {
	defer run.done()
	logger := c.logger.With(zap.String("site", run.site.URL), zap.String("url", rawURL))

	if ctx.Err() != nil {
		c.markFailed(ctx, run, ErrStopped)
		return
	}
	c.touch(ctx, run)

	page, err := c.fetchPage(ctx, run.site, rawURL)
	if ctx.Err() != nil {
		c.markFailed(ctx, run, ErrStopped)
		return
	}
	if err != nil {
		logger.Warn("fetch failed", zap.Error(err))
		if root {
			c.markFailed(ctx, run, err)
		}
		return
	}

	stored, err := c.pages.WritePage(ctx, run.site, page)
	if err != nil {
		logger.Error("write page failed", zap.Error(err))
		if root {
			c.markFailed(ctx, run, err)
		}
		return
	}
	if stored.StatusCode >= 400 {
		logger.Debug("page not expanded", zap.Int("status_code", stored.StatusCode))
		if root {
			c.markFailed(ctx, run, ErrSiteUnavailable)
		}
		return
	}
	if ctx.Err() != nil {
		c.markFailed(ctx, run, ErrStopped)
		return
	}

	next := c.unseenLinks(run, stored)
	if len(next) == 0 {
		return
	}
	c.pause.Pause(ctx, c.cfg.Delay)
	if ctx.Err() != nil {
		c.markFailed(ctx, run, ErrStopped)
		return
	}
	logger.Debug("expanding links", zap.Int("links", len(next)))
	for _, link := range next {
		run.add()
		c.scheduler.Go(func() { c.visit(ctx, run, link, false) })
	}
}

func (c *Crawler) unseenLinks(run *siteRun, page store.Page) []string {
	var next []string
	for _, link := range markup.Links(page.Content, page.URL) {
		if !run.filter.Allow(link) {
			continue
		}
		key, err := NormalizeURL(link)
		if err != nil {
			continue
		}
		if run.visited.MarkIfNew(key) {
			next = append(next, link)
		}
	}
	return next
}

func (c *Crawler) fetchPage(ctx context.Context, site store.Site, rawURL string) (store.Page, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, rawURL); err != nil {
			return store.Page{}, err
		}
	}
	req := FetchRequest{URL: rawURL}
	if len(c.cfg.Headers) > 0 {
		req.Headers = make(http.Header, len(c.cfg.Headers))
		for k, v := range c.cfg.Headers {
			req.Headers.Set(k, v)
		}
	}
	// In-flight fetches are not aborted by cancellation; the caller drops the result.
	resp, err := c.fetcher.Fetch(context.WithoutCancel(ctx), req)
	if err != nil {
		metrics.ObserveFetch(rawURL, 0, 0)
		return store.Page{}, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	metrics.ObserveFetch(rawURL, resp.StatusCode, len(resp.Body))
	finalURL := resp.URL
	if finalURL == "" {
		finalURL = rawURL
	}
	return store.Page{
		SiteID:     site.ID,
		Path:       PagePath(finalURL),
		URL:        finalURL,
		StatusCode: resp.StatusCode,
		Content:    string(resp.Body),
	}, nil
}

func (c *Crawler) touch(ctx context.Context, run *siteRun) {
	if err := c.sites.TouchSite(context.WithoutCancel(ctx), run.site.ID, c.clock.Now()); err != nil {
		c.logger.Warn("touch site failed", zap.String("site", run.site.URL), zap.Error(err))
	}
}

// markFailed records the first failure of the run; later ones are ignored.
func (c *Crawler) markFailed(ctx context.Context, run *siteRun, cause error) {
	if !run.failed.CompareAndSwap(false, true) {
		return
	}
	msg := cause.Error()
	run.mu.Lock()
	run.lastError = msg
	run.mu.Unlock()
	err := c.sites.UpdateSiteStatus(context.WithoutCancel(ctx), run.site.ID, store.StatusFailed, msg, c.clock.Now())
	if err != nil {
		c.logger.Error("mark site failed", zap.String("site", run.site.URL), zap.Error(err))
	}
	if errors.Is(cause, ErrStopped) {
		c.logger.Info("site crawl stopped", zap.String("site", run.site.URL))
	}
}

func (c *Crawler) finish(ctx context.Context, run *siteRun) store.SiteStatus {
	status := store.StatusIndexed
	if run.failed.Load() {
		status = store.StatusFailed
		metrics.ObserveSiteFinished(string(status))
		return status
	}
	err := c.sites.UpdateSiteStatus(context.WithoutCancel(ctx), run.site.ID, status, "", c.clock.Now())
	if err != nil {
		c.logger.Error("mark site indexed", zap.String("site", run.site.URL), zap.Error(err))
	}
	metrics.ObserveSiteFinished(string(status))
	return status
}
