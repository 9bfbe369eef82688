package crawler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/JakeFAU/sitesearch/internal/store"
)

// Terminal site errors recorded in Site.LastError.
var (
	ErrStopped         = errors.New("indexing stopped by user")
	ErrSiteUnavailable = errors.New("site is unavailable")
)

// FetchRequest describes a single fetch.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the raw result of a fetch. Redirects are not followed, so
// URL is the requested URL and 3xx statuses are returned as data.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Fetcher retrieves documents. HTTP error statuses are results, not errors;
// an error means the transport failed.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error)
}

// PageWriter stores a fetched page and indexes it.
type PageWriter interface {
	WritePage(ctx context.Context, site store.Site, page store.Page) (store.Page, error)
}

// SiteStatusStore records site status transitions.
type SiteStatusStore interface {
	UpdateSiteStatus(ctx context.Context, id int64, status store.SiteStatus, lastError string, at time.Time) error
	TouchSite(ctx context.Context, id int64, at time.Time) error
}

// Scheduler runs tasks asynchronously. Go must not block on the task.
type Scheduler interface {
	Go(task func())
}

// Limiter throttles fetches per host.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Clock abstracts time for status timestamps.
type Clock interface {
	Now() time.Time
}
