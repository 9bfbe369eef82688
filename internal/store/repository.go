package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrConflict signals a uniqueness violation, such as a second page for the same (site, path).
var ErrConflict = errors.New("record already exists")

// SiteRepository persists sites. DeleteSite cascades to the site's pages, lemmas and indices.
type SiteRepository interface {
	CreateSite(ctx context.Context, site Site) (Site, error)
	GetSite(ctx context.Context, id int64) (Site, error)
	// FindSiteByURL matches case-insensitively, ignoring trailing slashes.
	FindSiteByURL(ctx context.Context, url string) (Site, error)
	ListSites(ctx context.Context) ([]Site, error)
	DeleteSite(ctx context.Context, id int64) error
	UpdateSiteStatus(ctx context.Context, id int64, status SiteStatus, lastError string, at time.Time) error
	// TouchSite refreshes the status time only.
	TouchSite(ctx context.Context, id int64, at time.Time) error
}

// PageRepository persists pages. DeletePage cascades to the page's Index rows.
type PageRepository interface {
	CreatePage(ctx context.Context, page Page) (Page, error)
	GetPage(ctx context.Context, id int64) (Page, error)
	FindPage(ctx context.Context, siteID int64, path string) (Page, error)
	DeletePage(ctx context.Context, id int64) error
	CountPages(ctx context.Context, siteID int64) (int, error)
}

// LemmaRepository persists lemmas. DeleteLemmas cascades to their Index rows.
type LemmaRepository interface {
	FindLemma(ctx context.Context, siteID int64, text string) (Lemma, error)
	FindLemmasByText(ctx context.Context, text string) ([]Lemma, error)
	GetLemma(ctx context.Context, id int64) (Lemma, error)
	// SaveLemmas inserts rows with a zero ID and updates the rest, returning rows with IDs set.
	SaveLemmas(ctx context.Context, lemmas []Lemma) ([]Lemma, error)
	DeleteLemmas(ctx context.Context, ids []int64) error
	CountLemmas(ctx context.Context, siteID int64) (int, error)
}

// IndexRepository persists page/lemma associations.
type IndexRepository interface {
	CreateIndices(ctx context.Context, rows []Index) error
	IndicesByPage(ctx context.Context, pageID int64) ([]Index, error)
	IndicesByLemma(ctx context.Context, lemmaID int64) ([]Index, error)
}

// Repository is the full index store.
type Repository interface {
	SiteRepository
	PageRepository
	LemmaRepository
	IndexRepository
	Close() error
}
