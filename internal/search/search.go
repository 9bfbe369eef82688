// Package search answers ranked full-text queries over the lemma index.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitesearch/internal/markup"
	"github.com/JakeFAU/sitesearch/internal/metrics"
	"github.com/JakeFAU/sitesearch/internal/store"
)

// DefaultLimit applies when a request leaves Limit unset.
const DefaultLimit = 20

// Errors returned by Search.
var (
	ErrEmptyQuery   = errors.New("empty search query")
	ErrSiteNotFound = errors.New("site not found")
)

// Store is the read side of the index used by queries.
type Store interface {
	GetSite(ctx context.Context, id int64) (store.Site, error)
	FindSiteByURL(ctx context.Context, url string) (store.Site, error)
	ListSites(ctx context.Context) ([]store.Site, error)
	GetPage(ctx context.Context, id int64) (store.Page, error)
	CountPages(ctx context.Context, siteID int64) (int, error)
	FindLemma(ctx context.Context, siteID int64, text string) (store.Lemma, error)
	FindLemmasByText(ctx context.Context, text string) ([]store.Lemma, error)
	IndicesByLemma(ctx context.Context, lemmaID int64) ([]store.Index, error)
}

// Lemmatizer reduces query text to distinct lemmas.
type Lemmatizer interface {
	Lemmas(text string) []string
}

// Snippeter builds highlighted excerpts.
type Snippeter interface {
	Extract(content, query string) string
}

// Request is one search call. Site is optional.
type Request struct {
	Query  string
	Site   string
	Offset int
	Limit  int
}

// Result is one ranked page.
type Result struct {
	Site      string  `json:"site"`
	SiteName  string  `json:"siteName"`
	URI       string  `json:"uri"`
	Title     string  `json:"title"`
	Snippet   string  `json:"snippet"`
	Relevance float64 `json:"relevance"`
}

// Response carries the full match count and the requested window.
type Response struct {
	Count   int
	Results []Result
}

// Engine runs queries.
type Engine struct {
	store      Store
	lemmatizer Lemmatizer
	snippets   Snippeter
	limit      int
	logger     *zap.Logger
}

// New constructs an Engine.
func New(s Store, lemmatizer Lemmatizer, snippets Snippeter, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: s, lemmatizer: lemmatizer, snippets: snippets, limit: DefaultLimit, logger: logger}
}

// WithDefaultLimit overrides the page size used when a request leaves Limit unset.
func (e *Engine) WithDefaultLimit(limit int) *Engine {
	if limit > 0 {
		e.limit = limit
	}
	return e
}

// term is one site's row for a query lemma with its document-frequency percentage.
type term struct {
	text    string
	percent float64
	row     store.Lemma
}

type scored struct {
	pageID    int64
	relevance float64
}

// Search ranks pages matching req.Query.
func (e *Engine) Search(ctx context.Context, req Request) (resp Response, err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveSearch(outcome(err), time.Since(start))
	}()

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return Response{}, ErrEmptyQuery
	}
	sites, err := e.scope(ctx, req.Site)
	if err != nil {
		return Response{}, err
	}

	terms, err := e.terms(ctx, e.lemmatizer.Lemmas(query), sites)
	if err != nil {
		return Response{}, err
	}
	terms = selective(terms)
	if len(terms) == 0 {
		return Response{Results: []Result{}}, nil
	}

	ranked, err := e.rank(ctx, terms)
	if err != nil {
		return Response{}, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = e.limit
	}
	window := paginate(ranked, req.Offset, limit)
	results, err := e.render(ctx, window, query, sites)
	if err != nil {
		return Response{}, err
	}
	e.logger.Debug("search served",
		zap.String("query", query),
		zap.Int("terms", len(terms)),
		zap.Int("count", len(ranked)),
	)
	return Response{Count: len(ranked), Results: results}, nil
}

// scope resolves the sites a query runs over, keyed by ID.
func (e *Engine) scope(ctx context.Context, siteURL string) (map[int64]store.Site, error) {
	if strings.TrimSpace(siteURL) != "" {
		site, err := e.store.FindSiteByURL(ctx, store.NormalizeSiteURL(siteURL))
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSiteNotFound, siteURL)
		}
		if err != nil {
			return nil, fmt.Errorf("find site: %w", err)
		}
		return map[int64]store.Site{site.ID: site}, nil
	}
	all, err := e.store.ListSites(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	sites := make(map[int64]store.Site, len(all))
	for _, site := range all {
		sites[site.ID] = site
	}
	return sites, nil
}

// terms computes the page percentage of every site row of every lemma.
// Rows of sites without pages are dropped.
func (e *Engine) terms(ctx context.Context, lemmas []string, sites map[int64]store.Site) ([]term, error) {
	pageCounts := make(map[int64]int, len(sites))
	for id := range sites {
		n, err := e.store.CountPages(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("count pages: %w", err)
		}
		pageCounts[id] = n
	}

	terms := make([]term, 0, len(lemmas))
	for _, text := range lemmas {
		rows, err := e.lemmaRows(ctx, text, sites)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			pages := pageCounts[row.SiteID]
			if pages == 0 {
				continue
			}
			terms = append(terms, term{
				text:    text,
				percent: float64(row.Frequency) / float64(pages) * 100,
				row:     row,
			})
		}
	}
	return terms, nil
}

func (e *Engine) lemmaRows(ctx context.Context, text string, sites map[int64]store.Site) ([]store.Lemma, error) {
	if len(sites) == 1 {
		for id := range sites {
			row, err := e.store.FindLemma(ctx, id, text)
			if errors.Is(err, store.ErrNotFound) {
				return nil, nil
			}
			if err != nil {
				return nil, fmt.Errorf("find lemma: %w", err)
			}
			return []store.Lemma{row}, nil
		}
	}
	rows, err := e.store.FindLemmasByText(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("find lemmas: %w", err)
	}
	out := rows[:0]
	for _, row := range rows {
		if _, ok := sites[row.SiteID]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

// selective drops site rows that are too common to discriminate and orders
// the rest from rarest to most common. With two or more distinct percentages
// the most common rows are dropped; otherwise only rows on every page are.
func selective(terms []term) []term {
	threshold := 100.0
	if len(terms) >= 2 {
		maxPercent, allEqual := terms[0].percent, true
		for _, t := range terms[1:] {
			if t.percent != terms[0].percent {
				allEqual = false
			}
			if t.percent > maxPercent {
				maxPercent = t.percent
			}
		}
		if !allEqual {
			threshold = maxPercent
		}
	}

	kept := make([]term, 0, len(terms))
	for _, t := range terms {
		if t.percent < threshold {
			kept = append(kept, t)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].percent < kept[j].percent
	})
	return kept
}

// rank intersects the page sets of the query lemmas, rarest first, and
// scores each surviving page by the sum of its index ranks. terms must be
// ordered by percentage.
func (e *Engine) rank(ctx context.Context, terms []term) ([]scored, error) {
	var order []string
	rows := make(map[string][]store.Lemma)
	for _, t := range terms {
		if _, ok := rows[t.text]; !ok {
			order = append(order, t.text)
		}
		rows[t.text] = append(rows[t.text], t.row)
	}

	var scores map[int64]float64
	for _, text := range order {
		pages, err := e.pagesFor(ctx, text, rows[text])
		if err != nil {
			return nil, err
		}
		if scores == nil {
			scores = pages
		} else {
			for id, score := range scores {
				rank, ok := pages[id]
				if !ok {
					delete(scores, id)
					continue
				}
				scores[id] = score + rank
			}
		}
		if len(scores) == 0 {
			return nil, nil
		}
	}

	var best float64
	for _, score := range scores {
		best = max(best, score)
	}
	ranked := make([]scored, 0, len(scores))
	for id, score := range scores {
		relevance := 0.0
		if best > 0 {
			relevance = score / best
		}
		ranked = append(ranked, scored{pageID: id, relevance: relevance})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].relevance != ranked[j].relevance {
			return ranked[i].relevance > ranked[j].relevance
		}
		return ranked[i].pageID < ranked[j].pageID
	})
	return ranked, nil
}

func (e *Engine) pagesFor(ctx context.Context, text string, rows []store.Lemma) (map[int64]float64, error) {
	pages := make(map[int64]float64)
	for _, row := range rows {
		indices, err := e.store.IndicesByLemma(ctx, row.ID)
		if err != nil {
			return nil, fmt.Errorf("indices for %q: %w", text, err)
		}
		for _, idx := range indices {
			pages[idx.PageID] += idx.Rank
		}
	}
	return pages, nil
}

func paginate(ranked []scored, offset, limit int) []scored {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if offset >= len(ranked) {
		return nil
	}
	end := min(offset+limit, len(ranked))
	return ranked[offset:end]
}

func (e *Engine) render(ctx context.Context, window []scored, query string, sites map[int64]store.Site) ([]Result, error) {
	results := make([]Result, 0, len(window))
	for _, hit := range window {
		page, err := e.store.GetPage(ctx, hit.pageID)
		if err != nil {
			return nil, fmt.Errorf("get page %d: %w", hit.pageID, err)
		}
		site, ok := sites[page.SiteID]
		if !ok {
			site, err = e.store.GetSite(ctx, page.SiteID)
			if err != nil {
				return nil, fmt.Errorf("get site %d: %w", page.SiteID, err)
			}
		}
		results = append(results, Result{
			Site:      strings.TrimRight(site.URL, "/"),
			SiteName:  site.Name,
			URI:       page.Path,
			Title:     markup.Title(page.Content),
			Snippet:   e.snippets.Extract(page.Content, query),
			Relevance: hit.relevance,
		})
	}
	return results, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrEmptyQuery):
		return "invalid"
	case errors.Is(err, ErrSiteNotFound):
		return "not_found"
	default:
		return "error"
	}
}
